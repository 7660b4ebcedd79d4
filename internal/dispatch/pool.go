// Package dispatch moves submitted dream ids to the goroutines that run the
// pipeline, either in process or through a message broker.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
)

// ErrStopped is returned by Dispatch after Stop.
var ErrStopped = errors.New("dispatch: pool stopped")

// Runner processes one dream. pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, dreamID int64) error
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers  int
	QueueLen int
	Logger   *infra.Logger
}

// Pool is a fixed set of workers fed by a bounded queue. When the queue is
// full new dreams are refused with domain.ErrAtCapacity.
type Pool struct {
	runner  Runner
	workers int
	queue   chan int64
	logger  *infra.Logger

	mu      sync.RWMutex
	held    map[int64]struct{} // queued or running
	started bool
	stopped bool
	quit    chan struct{}
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(runner Runner, opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queueLen := opts.QueueLen
	if queueLen < 1 {
		queueLen = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Pool{
		runner:  runner,
		workers: workers,
		queue:   make(chan int64, queueLen),
		logger:  logger,
		held:    make(map[int64]struct{}),
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. Runs use a context detached from ctx's
// cancellation so Stop can let them finish; ctx still supplies values.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.logger.Info().Int("workers", p.workers).Int("queue", cap(p.queue)).Msg("dispatch: pool started")
}

// Admit reports whether Dispatch would currently accept a dream.
func (p *Pool) Admit() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	if len(p.queue) >= cap(p.queue) {
		return domain.ErrAtCapacity
	}
	return nil
}

// Dispatch queues dreamID without blocking. A dream that is already queued
// or running is accepted without being queued twice.
func (p *Pool) Dispatch(ctx context.Context, dreamID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if _, ok := p.held[dreamID]; ok {
		return nil
	}
	select {
	case p.queue <- dreamID:
		p.held[dreamID] = struct{}{}
		return nil
	default:
		return domain.ErrAtCapacity
	}
}

// Holds reports whether dreamID is queued or running in this pool.
func (p *Pool) Holds(dreamID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.held[dreamID]
	return ok
}

// Stop refuses new work and waits for running dreams. Queued dreams that
// never started stay pending in the store. If ctx ends first the running
// dreams are cancelled and Stop waits for them to record the interruption.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Pending reports how many dreams are waiting for a worker.
func (p *Pool) Pending() int {
	return len(p.queue)
}

func (p *Pool) work(worker int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		default:
		}
		select {
		case <-p.quit:
			return
		case id := <-p.queue:
			p.run(worker, id)
		}
	}
}

func (p *Pool) run(worker int, dreamID int64) {
	defer func() {
		p.mu.Lock()
		delete(p.held, dreamID)
		p.mu.Unlock()
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Int64("dream_id", dreamID).Msg("dispatch: worker recovered")
		}
	}()
	if err := p.runner.Run(p.runCtx, dreamID); err != nil {
		p.logger.Error().Err(err).Int("worker", worker).Int64("dream_id", dreamID).Msg("dispatch: run failed")
	}
}
