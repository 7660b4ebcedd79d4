package pipeline

import (
	"context"
	"errors"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/messages"
)

const sweepBatch = 100

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	// PendingGrace is how long a pending dream may wait before it is
	// dispatched again.
	PendingGrace time.Duration
	// StaleAfter is how long a processing dream may go without an update
	// before it is failed.
	StaleAfter time.Duration
	Interval   time.Duration
	Logger     *infra.Logger
	Now        func() time.Time
}

// holder is implemented by dispatchers that can tell whether a dream is
// still waiting in or running from their own queue.
type holder interface {
	Holds(dreamID int64) bool
}

// durable is implemented by dispatchers whose queue outlives this process.
type durable interface {
	Durable() bool
}

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Redispatched int
	Interrupted  int
}

// Sweeper recovers dreams stranded by a restart or a lost dispatch.
type Sweeper struct {
	dreams     domain.DreamRepository
	dispatcher Dispatcher
	grace      time.Duration
	stale      time.Duration
	interval   time.Duration
	logger     *infra.Logger
	now        func() time.Time
}

func NewSweeper(dreams domain.DreamRepository, dispatcher Dispatcher, opts SweeperOptions) *Sweeper {
	s := &Sweeper{
		dreams:     dreams,
		dispatcher: dispatcher,
		grace:      opts.PendingGrace,
		stale:      opts.StaleAfter,
		interval:   opts.Interval,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.grace <= 0 {
		s.grace = 30 * time.Second
	}
	if s.stale <= 0 {
		s.stale = 45 * time.Minute
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.logger == nil {
		s.logger = infra.NopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run sweeps immediately and then on every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep fails stale processing dreams and re-dispatches old pending ones.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	stale, err := s.dreams.ListByStatus(ctx, domain.DreamStatusProcessing, now.Add(-s.stale), sweepBatch)
	if err != nil {
		return report, err
	}
	for _, d := range stale {
		if err := s.dreams.Fail(ctx, d.ID, messages.Interrupted); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return report, err
		}
		report.Interrupted++
		s.logger.Warn().Int64("dream_id", d.ID).Time("updated_at", d.UpdatedAt).Msg("stale dream marked failed")
	}

	if s.dispatcher == nil {
		return report, nil
	}
	pending, err := s.dreams.ListByStatus(ctx, domain.DreamStatusPending, now.Add(-s.grace), sweepBatch)
	if err != nil {
		return report, err
	}
	for _, d := range pending {
		if s.dispatched(d) {
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, d.ID); err != nil {
			if errors.Is(err, domain.ErrAtCapacity) {
				break
			}
			return report, err
		}
		if err := s.dreams.MarkDispatched(ctx, d.ID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.Warn().Err(err).Int64("dream_id", d.ID).Msg("dispatch not recorded")
		}
		report.Redispatched++
	}
	if report.Redispatched > 0 || report.Interrupted > 0 {
		s.logger.Info().
			Int("redispatched", report.Redispatched).
			Int("interrupted", report.Interrupted).
			Msg("sweep recovered dreams")
	}
	return report, nil
}

// dispatched reports whether the dispatcher still owns a pending dream, so
// sending it again would only queue a duplicate.
func (s *Sweeper) dispatched(d domain.Dream) bool {
	if h, ok := s.dispatcher.(holder); ok && h.Holds(d.ID) {
		return true
	}
	if b, ok := s.dispatcher.(durable); ok && b.Durable() {
		return !d.DispatchedAt.IsZero()
	}
	return false
}
