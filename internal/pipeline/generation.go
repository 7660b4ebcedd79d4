package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/providers/tripo"
	"dreamecho/internal/providers/upstream"
	"dreamecho/internal/storage"
)

// TaskClient is the text-to-model task API used by the generation stage.
type TaskClient interface {
	CreateTask(ctx context.Context, prompt string) (string, error)
	GetTask(ctx context.Context, taskID string) (*tripo.Task, error)
	Download(ctx context.Context, modelURL string) (*upstream.Stream, error)
}

// GenerationOptions configures an AssetGenerationStage.
type GenerationOptions struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	Sleep           upstream.Sleeper
	Now             func() time.Time
	Logger          *infra.Logger
}

// AssetGenerationStage submits a model task, waits for it, and stores the
// resulting file.
type AssetGenerationStage struct {
	tasks       TaskClient
	store       storage.ArtifactStore
	interval    time.Duration
	maxAttempts int
	sleep       upstream.Sleeper
	now         func() time.Time
	logger      *infra.Logger
}

func NewAssetGenerationStage(tasks TaskClient, store storage.ArtifactStore, opts GenerationOptions) *AssetGenerationStage {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	maxAttempts := opts.PollMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = upstream.SleepContext
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &AssetGenerationStage{
		tasks:       tasks,
		store:       store,
		interval:    interval,
		maxAttempts: maxAttempts,
		sleep:       sleep,
		now:         now,
		logger:      logger,
	}
}

// Generate submits prompt and polls until the task settles. Every failure
// other than cancellation of ctx wraps domain.ErrNoArtifact.
func (s *AssetGenerationStage) Generate(ctx context.Context, prompt string) (string, error) {
	taskID, err := s.tasks.CreateTask(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", domain.ErrNoArtifact, err)
	}
	log := s.logger.With().Str("task_id", taskID).Logger()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.sleep(ctx, s.interval); err != nil {
			return "", err
		}
		task, err := s.tasks.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, upstream.ErrDecode) {
				return "", fmt.Errorf("%w: task %s: %v", domain.ErrNoArtifact, taskID, err)
			}
			log.Debug().Err(err).Int("attempt", attempt).Msg("poll attempt skipped")
			continue
		}
		switch {
		case task.Status == tripo.TaskStatusSuccess:
			modelURL := task.ModelURL()
			if modelURL == "" {
				return "", fmt.Errorf("%w: task %s succeeded without a model url", domain.ErrNoArtifact, taskID)
			}
			log.Info().Int("attempt", attempt).Msg("model task succeeded")
			return modelURL, nil
		case task.Status.Failed():
			return "", fmt.Errorf("%w: task %s ended with status %s", domain.ErrNoArtifact, taskID, task.Status)
		}
	}
	return "", fmt.Errorf("%w: task %s still running after %d polls", domain.ErrNoArtifact, taskID, s.maxAttempts)
}

// ArtifactKey names the stored file for an owner's model.
func ArtifactKey(ownerID int64, at time.Time, modelURL string) string {
	ext := ".glb"
	if u, err := url.Parse(modelURL); err == nil {
		ext = storage.ModelExtension(u.Path)
	}
	return fmt.Sprintf("models/user_%d/dream_%d%s", ownerID, at.UnixNano(), ext)
}

// Download streams modelURL into the artifact store and returns its key.
func (s *AssetGenerationStage) Download(ctx context.Context, ownerID int64, modelURL string) (string, error) {
	stream, err := s.tasks.Download(ctx, modelURL)
	if err != nil {
		return "", err
	}
	defer stream.Body.Close()

	key := ArtifactKey(ownerID, s.now(), modelURL)
	contentType := storage.ContentTypeFor(key)
	saved, err := s.store.Save(ctx, key, stream.Body, stream.ContentLength, contentType)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	if saved == "" {
		return "", errors.New("store artifact: empty key")
	}
	return saved, nil
}
