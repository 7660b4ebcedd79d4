package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dreamecho/internal/bootstrap"
	"dreamecho/internal/dispatch"
	"dreamecho/internal/infra"
	"dreamecho/internal/pipeline"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)
	if cfg.DispatchDriver != "amqp" {
		logger.Fatal().Str("dispatch", cfg.DispatchDriver).Msg("worker: DISPATCH_DRIVER=amqp is required, the api runs dreams itself otherwise")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to open runtime")
	}
	defer rt.Close()
	if err := rt.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to migrate dream store")
	}

	p, err := rt.Pipeline(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure pipeline")
	}

	conn, err := rt.DialAMQP()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to connect broker")
	}
	consumer, err := dispatch.NewConsumer(conn, p.Orchestrator, dispatch.ConsumerOptions{
		Exchange: cfg.AMQPExchange,
		Queue:    cfg.AMQPQueue,
		Workers:  cfg.MaxConcurrentJobs,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure consumer")
	}
	defer consumer.Close()

	// The sweeper republishes dreams whose original message was lost.
	publisher, err := dispatch.NewPublisher(conn, cfg.AMQPExchange)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure publisher")
	}
	defer publisher.Close()
	sweeper := pipeline.NewSweeper(rt.Dreams, publisher, pipeline.SweeperOptions{
		StaleAfter: cfg.StaleJobAfter,
		Logger:     &logger,
	})
	go sweeper.Run(ctx)

	if err := consumer.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: consumer stopped")
		return
	}
	logger.Info().Msg("worker: stopped")
}
