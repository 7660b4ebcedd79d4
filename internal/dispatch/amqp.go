package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
)

// RoutingKey is the topic used for submitted dreams.
const RoutingKey = "dream.submitted"

// jobMessage is the body of a dispatch message.
type jobMessage struct {
	DreamID int64 `json:"dream_id"`
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher dispatches dreams by publishing them to a topic exchange.
type Publisher struct {
	mu       sync.Mutex
	ch       publishChannel
	exchange string
}

// NewPublisher opens a channel on conn and declares the exchange.
func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("dispatch: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatch: declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// Admit always accepts; the broker buffers.
func (p *Publisher) Admit() error { return nil }

// Durable reports that published dreams survive a restart of this process.
func (p *Publisher) Durable() bool { return true }

func (p *Publisher) Dispatch(ctx context.Context, dreamID int64) error {
	body, err := json.Marshal(jobMessage{DreamID: dreamID})
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("dispatch: publish dream %d: %w", dreamID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Exchange string
	Queue    string
	Workers  int
	Logger   *infra.Logger
}

// Consumer runs the pipeline for every dream delivered on its queue.
type Consumer struct {
	ch      *amqp.Channel
	queue   string
	workers int
	runner  Runner
	logger  *infra.Logger
}

// NewConsumer declares and binds a durable queue and limits unacknowledged
// deliveries to the number of workers.
func NewConsumer(conn *amqp.Connection, runner Runner, opts ConsumerOptions) (*Consumer, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("dispatch: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatch: declare exchange %s: %w", opts.Exchange, err)
	}
	if _, err := ch.QueueDeclare(opts.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatch: declare queue %s: %w", opts.Queue, err)
	}
	if err := ch.QueueBind(opts.Queue, RoutingKey, opts.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatch: bind queue %s: %w", opts.Queue, err)
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatch: set qos: %w", err)
	}
	return &Consumer{ch: ch, queue: opts.Queue, workers: workers, runner: runner, logger: logger}, nil
}

// Start consumes until ctx ends or the channel closes. In-flight dreams
// are allowed to finish before it returns.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("dispatch: consume %s: %w", c.queue, err)
	}
	c.logger.Info().Str("queue", c.queue).Int("workers", c.workers).Msg("dispatch: consumer started")

	runCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					handleDelivery(runCtx, c.runner, msg, c.logger)
				}
			}
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("dispatch: delivery channel closed")
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}

// handleDelivery runs one delivery and settles it. Undecodable messages and
// unknown dreams are dropped; claim failures are requeued.
func handleDelivery(ctx context.Context, runner Runner, msg amqp.Delivery, logger *infra.Logger) {
	var job jobMessage
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.DreamID <= 0 {
		logger.Warn().Str("message_id", msg.MessageId).Str("body", strconv.Quote(string(msg.Body))).Msg("dispatch: dropping malformed message")
		_ = msg.Nack(false, false)
		return
	}
	err := runner.Run(ctx, job.DreamID)
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn().Int64("dream_id", job.DreamID).Msg("dispatch: dream no longer exists")
		_ = msg.Ack(false)
	default:
		logger.Error().Err(err).Int64("dream_id", job.DreamID).Bool("redelivered", msg.Redelivered).Msg("dispatch: run failed, requeueing")
		_ = msg.Nack(false, !msg.Redelivered)
	}
}
