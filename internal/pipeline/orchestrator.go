package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/messages"
	"dreamecho/internal/progress"
	"dreamecho/internal/providers/upstream"
)

const (
	finalizeTimeout  = 30 * time.Second
	defaultHeartbeat = time.Minute
)

// Analyzer produces the structured analysis for a dream text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*domain.Analysis, error)
}

// Generator turns a prompt into a stored artifact key.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Download(ctx context.Context, ownerID int64, modelURL string) (string, error)
}

// OrchestratorDeps wires an Orchestrator.
type OrchestratorDeps struct {
	Dreams    domain.DreamRepository
	Tracker   progress.Tracker
	Health    HealthChecker
	Analyzer  Analyzer
	Generator Generator
	Metrics   *Metrics
	Logger    *infra.Logger
	Now       func() time.Time
	// Heartbeat is how often a processing dream's updated_at is refreshed
	// while a stage runs. Defaults to one minute.
	Heartbeat time.Duration
}

// Orchestrator drives one dream from pending to a terminal state.
type Orchestrator struct {
	dreams    domain.DreamRepository
	tracker   progress.Tracker
	health    HealthChecker
	analyzer  Analyzer
	generator Generator
	metrics   *Metrics
	logger    *infra.Logger
	now       func() time.Time
	beat      time.Duration
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	beat := deps.Heartbeat
	if beat <= 0 {
		beat = defaultHeartbeat
	}
	return &Orchestrator{
		dreams:    deps.Dreams,
		tracker:   deps.Tracker,
		health:    deps.Health,
		analyzer:  deps.Analyzer,
		generator: deps.Generator,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       now,
		beat:      beat,
	}
}

// stageError carries the message persisted when a stage fails.
type stageError struct {
	message string
	err     error
}

func (e *stageError) Error() string {
	if e.err == nil {
		return e.message
	}
	return e.message + ": " + e.err.Error()
}

func (e *stageError) Unwrap() error { return e.err }

func failStage(message string, err error) error {
	return &stageError{message: message, err: err}
}

// Run processes dreamID. Dreams that are no longer pending are skipped, so
// redelivery is harmless. A returned error means the dream could not be
// claimed; pipeline failures are persisted on the dream and return nil.
func (o *Orchestrator) Run(ctx context.Context, dreamID int64) error {
	log := o.logger.With().Int64("dream_id", dreamID).Logger()

	dream, err := o.dreams.GetByID(ctx, dreamID)
	if err != nil {
		return fmt.Errorf("load dream %d: %w", dreamID, err)
	}
	if dream.Status != domain.DreamStatusPending {
		log.Debug().Str("status", string(dream.Status)).Msg("dream already claimed, skipping")
		return nil
	}
	if err := o.dreams.MarkProcessing(ctx, dreamID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Debug().Msg("dream claimed concurrently, skipping")
			return nil
		}
		return fmt.Errorf("claim dream %d: %w", dreamID, err)
	}

	o.metrics.Started()
	defer o.metrics.Finished()

	rep := &reporter{tracker: o.tracker, dreamID: dreamID, logger: &log, now: o.now, touch: o.touch}
	started := o.now()
	log.Info().Int64("owner_id", dream.OwnerID).Msg("dream processing started")

	stopBeat := o.heartbeat(ctx, dreamID, &log)
	result, err := o.process(ctx, dream, rep)
	stopBeat()
	if err != nil {
		o.fail(ctx, dreamID, rep, err, &log)
		return nil
	}

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := o.dreams.Complete(pctx, dreamID, *result); err != nil {
		o.fail(ctx, dreamID, rep, failStage("persist result failed", err), &log)
		return nil
	}
	rep.report(pctx, progress.StageComplete, 100, 0, messages.Complete)
	o.metrics.IncCompleted()
	log.Info().
		Str("model_path", result.ModelPath).
		Dur("elapsed", o.now().Sub(started)).
		Msg("dream processing complete")
	return nil
}

func (o *Orchestrator) process(ctx context.Context, dream *domain.Dream, rep *reporter) (result *domain.DreamResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failStage(fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	rep.report(ctx, progress.StageStarting, 5, 20, messages.Starting)

	if o.health != nil && !o.health.Ping(ctx) {
		return nil, failStage(messages.ServiceUnavailable, nil)
	}

	rep.report(ctx, progress.StageAnalyzing, 20, 15, messages.Analyzing)
	analysis, err := o.analyzer.Analyze(ctx, dream.Text)
	if err != nil {
		return nil, failStage(analysisFailure(err), err)
	}

	rep.report(ctx, progress.StageGenerating, 40, 10, messages.Generating)
	modelURL, err := o.generator.Generate(ctx, BuildGenerationPrompt(*analysis))
	if err != nil {
		return nil, failStage(messages.GenerationFailed, err)
	}

	rep.report(ctx, progress.StageDownloading, 60, 5, messages.Downloading)
	key, err := o.generator.Download(ctx, dream.OwnerID, modelURL)
	if err != nil {
		return nil, failStage(messages.DownloadFailed, err)
	}

	rep.report(ctx, progress.StageFinalizing, 80, 3, messages.Finalizing)
	res := &domain.DreamResult{Analysis: *analysis, ModelPath: key}
	if err := res.Validate(); err != nil {
		return nil, failStage("analysis incomplete", err)
	}
	return res, nil
}

// analysisFailure is the text stored on a dream whose analysis failed. The
// full error chain, which may include upstream URLs, only goes to the log.
func analysisFailure(err error) string {
	var incomplete *domain.IncompleteAnalysisError
	var status *upstream.HTTPError
	switch {
	case errors.As(err, &incomplete):
		return incomplete.Error()
	case errors.Is(err, domain.ErrMalformedResponse):
		return domain.ErrMalformedResponse.Error()
	case errors.Is(err, upstream.ErrTimeout):
		return messages.AnalysisTimeout
	case errors.Is(err, upstream.ErrConnection):
		return messages.AnalysisUnreachable
	case errors.As(err, &status):
		return fmt.Sprintf("analysis service returned HTTP %d", status.StatusCode)
	default:
		return messages.AnalysisFailed
	}
}

// heartbeat touches the dream every o.beat until the returned stop func is
// called.
func (o *Orchestrator) heartbeat(ctx context.Context, dreamID int64, log *infra.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.beat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.dreams.Touch(ctx, dreamID); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("dream heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (o *Orchestrator) touch(ctx context.Context, dreamID int64) error {
	return o.dreams.Touch(ctx, dreamID)
}

// fail persists the failure first so pollers never see a failed stage for a
// dream that is still processing in the store.
func (o *Orchestrator) fail(ctx context.Context, dreamID int64, rep *reporter, cause error, log *infra.Logger) {
	msg := cause.Error()
	var se *stageError
	if errors.As(cause, &se) {
		msg = se.message
	}
	if ctx.Err() != nil {
		msg = messages.Interrupted
	}
	pctx, cancel := persistContext(ctx)
	defer cancel()

	log.Error().Err(cause).Str("message", msg).Msg("dream processing failed")
	if err := o.dreams.Fail(pctx, dreamID, msg); err != nil {
		log.Error().Err(err).Msg("persist dream failure")
	}
	rep.fail(pctx, msg)
	o.metrics.IncFailed()
}

// persistContext outlives cancellation of the run so terminal state is
// still written during shutdown.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

// reporter writes progress for one dream and keeps the percent from going
// backwards.
type reporter struct {
	tracker progress.Tracker
	dreamID int64
	logger  *infra.Logger
	now     func() time.Time
	// touch, when set, refreshes the dream row on every stage change.
	touch func(ctx context.Context, dreamID int64) error
	last  int
}

func (r *reporter) report(ctx context.Context, stage progress.Stage, percent, eta int, msg string) {
	if percent < r.last {
		percent = r.last
	}
	r.last = percent
	if r.touch != nil && stage != progress.StageComplete {
		if err := r.touch(ctx, r.dreamID); err != nil && r.logger != nil {
			r.logger.Warn().Err(err).Str("stage", string(stage)).Msg("dream touch failed")
		}
	}
	r.write(ctx, progress.Entry{Stage: stage, Percent: percent, RemainingMinutes: eta, Message: msg})
}

func (r *reporter) fail(ctx context.Context, msg string) {
	r.write(ctx, progress.Entry{Stage: progress.StageFailed, Percent: r.last, RemainingMinutes: 0, Message: msg})
}

func (r *reporter) write(ctx context.Context, entry progress.Entry) {
	if r.tracker == nil {
		return
	}
	entry.UpdatedAt = r.now().UTC()
	if err := r.tracker.Update(ctx, r.dreamID, entry); err != nil {
		r.logger.Warn().Err(err).Str("stage", string(entry.Stage)).Msg("progress update failed")
	}
}
