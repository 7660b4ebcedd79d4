package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/progress"
)

// Dispatcher hands a dream id to whatever runs the orchestrator.
type Dispatcher interface {
	// Admit reports domain.ErrAtCapacity when a new dream would be refused.
	Admit() error
	Dispatch(ctx context.Context, dreamID int64) error
}

// Service is the entry point used by handlers and the CLI.
type Service struct {
	dreams     domain.DreamRepository
	tracker    progress.Tracker
	dispatcher Dispatcher
	metrics    *Metrics
	logger     *infra.Logger
	now        func() time.Time
}

// ServiceDeps wires a Service.
type ServiceDeps struct {
	Dreams     domain.DreamRepository
	Tracker    progress.Tracker
	Dispatcher Dispatcher
	Metrics    *Metrics
	Logger     *infra.Logger
	Now        func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		dreams:     deps.Dreams,
		tracker:    deps.Tracker,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        now,
	}
}

// Submit records a new pending dream and schedules it. It returns as soon as
// the dream is stored; processing happens elsewhere. When the dispatcher is
// full nothing is stored and domain.ErrAtCapacity is returned.
func (s *Service) Submit(ctx context.Context, ownerID int64, title, text string) (*domain.Dream, error) {
	if ownerID <= 0 {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrInvalidInput)
	}
	text, err := domain.NormalizeDreamText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: dream text must be 1-%d characters", domain.ErrInvalidInput, domain.MaxDreamTextRunes)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultTitle(text)
	}
	if err := s.dispatcher.Admit(); err != nil {
		s.metrics.IncRejected()
		return nil, err
	}

	dream, err := s.dreams.Create(ctx, ownerID, title, text)
	if err != nil {
		return nil, fmt.Errorf("create dream: %w", err)
	}
	s.metrics.IncSubmitted()
	log := s.logger.With().Int64("dream_id", dream.ID).Int64("owner_id", ownerID).Logger()

	if s.tracker != nil {
		entry := progress.Fallback(domain.DreamStatusPending, "")
		entry.UpdatedAt = s.now().UTC()
		if err := s.tracker.Update(ctx, dream.ID, entry); err != nil {
			log.Warn().Err(err).Msg("seed progress entry")
		}
	}
	if err := s.dispatcher.Dispatch(ctx, dream.ID); err != nil {
		// The dream stays pending and the sweeper dispatches it later.
		log.Warn().Err(err).Msg("dispatch deferred")
		return dream, nil
	}
	switch err := s.dreams.MarkDispatched(ctx, dream.ID); {
	case err == nil:
		dream.DispatchedAt = s.now()
	case errors.Is(err, domain.ErrInvalidTransition):
		// A worker already picked it up.
	default:
		log.Warn().Err(err).Msg("dispatch not recorded")
	}
	log.Info().Msg("dream submitted")
	return dream, nil
}

// Get returns a dream owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, dreamID int64) (*domain.Dream, error) {
	dream, err := s.dreams.GetByID(ctx, dreamID)
	if err != nil {
		return nil, err
	}
	if dream.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return dream, nil
}

// List returns an owner's dreams, newest first.
func (s *Service) List(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Dream, error) {
	return s.dreams.ListByOwner(ctx, ownerID, limit, offset)
}

// Progress returns the best available progress for a dream. A tracker read
// failure degrades to the persisted status.
func (s *Service) Progress(ctx context.Context, dreamID int64) (progress.Snapshot, error) {
	dream, err := s.dreams.GetByID(ctx, dreamID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	var (
		entry progress.Entry
		ok    bool
	)
	if s.tracker != nil {
		entry, ok, err = s.tracker.Read(ctx, dreamID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("dream_id", dreamID).Msg("progress read failed, using stored status")
			ok = false
		}
	}
	return progress.Resolve(dream, entry, ok), nil
}
