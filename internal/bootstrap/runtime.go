// Package bootstrap assembles the stores and pipeline shared by the api,
// worker and dreamctl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"dreamecho/internal/adapter/repo"
	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/infra/credentials"
	"dreamecho/internal/pipeline"
	"dreamecho/internal/progress"
	"dreamecho/internal/providers/deepseek"
	"dreamecho/internal/providers/tripo"
	"dreamecho/internal/providers/upstream"
	"dreamecho/internal/storage"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

type dreamStore interface {
	domain.DreamRepository
	domain.TokenRepository
	migrator
}

// Runtime holds the process-wide collaborators built from Config.
type Runtime struct {
	Config      *infra.Config
	Logger      *infra.Logger
	Dreams      domain.DreamRepository
	Credentials *credentials.Store
	Tracker     progress.Tracker
	Artifacts   storage.ArtifactStore
	Metrics     *pipeline.Metrics

	store   dreamStore
	memory  *progress.MemoryTracker
	closers []func() error
}

// Pipeline is the analysis and generation side of a Runtime.
type Pipeline struct {
	DeepSeek     *deepseek.Client
	Tripo        *tripo.Client
	Orchestrator *pipeline.Orchestrator
}

// Open connects the dream store, the progress tracker and the artifact
// store. Callers must Close the runtime.
func Open(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	if logger == nil {
		logger = infra.NopLogger()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: pipeline.NewMetrics()}
	if err := rt.openDreams(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.openTracker(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.openArtifacts(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openDreams(ctx context.Context) error {
	cfg := rt.Config
	if cfg.UsesPostgres() {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		rt.store = repo.NewDreamRepositoryPG(infra.NewSQLRunner(pool, *rt.Logger))
		rt.Logger.Info().Msg("dream store: postgres")
	} else {
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, db.Close)
		rt.store = repo.NewDreamRepositorySQLite(db)
		rt.Logger.Info().Str("path", cfg.SQLitePath).Msg("dream store: sqlite")
	}
	rt.Dreams = rt.store
	rt.Credentials = credentials.NewStore(rt.store)
	return nil
}

func (rt *Runtime) openTracker(ctx context.Context) error {
	cfg := rt.Config
	if cfg.ProgressDriver == "redis" {
		client, err := progress.NewRedisClient(ctx, progress.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, client.Close)
		rt.Tracker = progress.NewRedisTracker(client, cfg.ProgressTTL)
		return nil
	}
	rt.memory = progress.NewMemoryTracker(cfg.ProgressTTL)
	rt.Tracker = rt.memory
	return nil
}

func (rt *Runtime) openArtifacts(ctx context.Context) error {
	cfg := rt.Config
	if cfg.StorageDriver == "s3" {
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		rt.Artifacts = store
		return nil
	}
	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return err
	}
	rt.Artifacts = store
	return nil
}

// Migrate applies the dream store schema.
func (rt *Runtime) Migrate(ctx context.Context) error {
	if err := rt.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate dream store: %w", err)
	}
	return nil
}

// ArtifactReader returns the artifact store when it can serve files back.
func (rt *Runtime) ArtifactReader() (storage.ArtifactReader, bool) {
	r, ok := rt.Artifacts.(storage.ArtifactReader)
	return r, ok
}

// PruneProgress drops expired in-memory progress entries every interval
// until ctx ends. It is a no-op for the redis tracker, which expires keys
// itself.
func (rt *Runtime) PruneProgress(ctx context.Context, interval time.Duration) {
	if rt.memory == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, _ := rt.memory.Prune(ctx); n > 0 {
				rt.Logger.Debug().Int("pruned", n).Msg("expired progress entries removed")
			}
		}
	}
}

// Pipeline builds the upstream clients and the orchestrator. Provider keys
// come from the environment first and the credentials store second.
func (rt *Runtime) Pipeline(ctx context.Context) (*Pipeline, error) {
	cfg := rt.Config
	deepseekKey, err := rt.Credentials.Resolve(ctx, credentials.ProviderDeepSeek, cfg.DeepSeekAPIKey)
	if err != nil {
		rt.Logger.Warn().Err(err).Msg("failed to load deepseek api key from store")
	}
	tripoKey, err := rt.Credentials.Resolve(ctx, credentials.ProviderTripo, cfg.TripoAPIKey)
	if err != nil {
		rt.Logger.Warn().Err(err).Msg("failed to load tripo api key from store")
	}
	if deepseekKey == "" || tripoKey == "" {
		rt.Logger.Warn().
			Bool("deepseek", deepseekKey != "").
			Bool("tripo", tripoKey != "").
			Msg("provider api keys missing, dreams will fail the health check")
	}

	httpClient := &http.Client{}
	retry := upstream.RetryPolicy{Attempts: cfg.AnalysisRetryAttempts, Delay: cfg.AnalysisRetryDelay}
	ds := deepseek.NewClient(deepseek.Options{
		APIKey:     deepseekKey,
		BaseURL:    cfg.DeepSeekBaseURL,
		Model:      cfg.DeepSeekModel,
		Timeout:    cfg.AnalysisTimeout,
		Retry:      retry,
		HTTPClient: httpClient,
		Logger:     rt.Logger,
	})
	tp := tripo.NewClient(tripo.Options{
		APIKey:     tripoKey,
		BaseURL:    cfg.TripoBaseURL,
		Timeout:    cfg.UpstreamTimeout,
		HTTPClient: httpClient,
		Logger:     rt.Logger,
	})

	generation := pipeline.NewAssetGenerationStage(tp, rt.Artifacts, pipeline.GenerationOptions{
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
		Logger:          rt.Logger,
	})
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorDeps{
		Dreams:    rt.Dreams,
		Tracker:   rt.Tracker,
		Health:    ds,
		Analyzer:  pipeline.NewAnalysisStage(ds),
		Generator: generation,
		Metrics:   rt.Metrics,
		Logger:    rt.Logger,
	})
	return &Pipeline{DeepSeek: ds, Tripo: tp, Orchestrator: orch}, nil
}

// DialAMQP connects to the broker and registers the connection for Close.
func (rt *Runtime) DialAMQP() (*amqp.Connection, error) {
	conn, err := amqp.Dial(rt.Config.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		if conn.IsClosed() {
			return nil
		}
		return conn.Close()
	})
	return conn, nil
}

// Close releases everything Open acquired, newest first.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
