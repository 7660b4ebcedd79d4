package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dreamecho/internal/bootstrap"
	"dreamecho/internal/dispatch"
	"dreamecho/internal/http/handlers"
	httpapi "dreamecho/internal/http/httpapi"
	"dreamecho/internal/infra"
	"dreamecho/internal/infra/geoip"
	"dreamecho/internal/middleware"
	"dreamecho/internal/pipeline"
)

func main() {
	// Load .env when present
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open runtime")
	}
	defer rt.Close()
	if err := rt.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate dream store")
	}

	p, err := rt.Pipeline(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure pipeline")
	}

	// Dispatch: in-process pool, or publish to the broker for cmd/worker.
	var (
		dispatcher pipeline.Dispatcher
		pool       *dispatch.Pool
	)
	switch cfg.DispatchDriver {
	case "amqp":
		conn, err := rt.DialAMQP()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect broker")
		}
		publisher, err := dispatch.NewPublisher(conn, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure publisher")
		}
		defer publisher.Close()
		dispatcher = publisher
	default:
		pool = dispatch.NewPool(p.Orchestrator, dispatch.PoolOptions{
			Workers:  cfg.MaxConcurrentJobs,
			QueueLen: cfg.MaxQueuedJobs,
			Logger:   &logger,
		})
		pool.Start(ctx)
		dispatcher = pool

		sweeper := pipeline.NewSweeper(rt.Dreams, pool, pipeline.SweeperOptions{
			StaleAfter: cfg.StaleJobAfter,
			Logger:     &logger,
		})
		go sweeper.Run(ctx)
	}
	go rt.PruneProgress(ctx, time.Minute)

	var lookup middleware.CountryLookup
	if cfg.GeoIPDBPath != "" {
		resolver, err := geoip.Open(cfg.GeoIPDBPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.GeoIPDBPath).Msg("geoip disabled")
		} else {
			defer resolver.Close()
			lookup = resolver.Lookup()
		}
	}

	svc := pipeline.NewService(pipeline.ServiceDeps{
		Dreams:     rt.Dreams,
		Tracker:    rt.Tracker,
		Dispatcher: dispatcher,
		Metrics:    rt.Metrics,
		Logger:     &logger,
	})
	reader, readable := rt.ArtifactReader()
	app := handlers.NewApp(handlers.AppDeps{
		Dreams:          svc,
		DeepSeek:        p.DeepSeek,
		Tripo:           p.Tripo,
		Metrics:         rt.Metrics,
		Artifacts:       reader,
		ArtifactBaseURL: cfg.StorageBaseURL,
		EventInterval:   cfg.SSEInterval,
		Logger:          &logger,
	})
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		DefaultLocale:  "en",
		CountryLookup:  lookup,
		RateLimit:      cfg.RateLimitPerMin,
		RequestTimeout: cfg.HTTPWriteTimeout,
		ServeArtifacts: readable,
		Logger:         &logger,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Str("dispatch", cfg.DispatchDriver).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if pool != nil {
		if err := pool.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Int("pending", pool.Pending()).Msg("dreams left unfinished, the sweeper will resume them")
		}
	}
	logger.Info().Msg("server stopped")
}
