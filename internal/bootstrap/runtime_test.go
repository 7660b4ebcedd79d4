package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dreamecho/internal/infra"
	"dreamecho/internal/progress"
	"dreamecho/internal/storage"
)

func localConfig(t *testing.T) *infra.Config {
	t.Helper()
	dir := t.TempDir()
	return &infra.Config{
		SQLitePath:      filepath.Join(dir, "dreams.db"),
		StorageDriver:   "file",
		StoragePath:     filepath.Join(dir, "static"),
		ProgressDriver:  "memory",
		ProgressTTL:     time.Hour,
		DeepSeekAPIKey:  "ds-key",
		PollInterval:    time.Second,
		PollMaxAttempts: 3,
	}
}

func TestOpenLocalRuntime(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, localConfig(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	if err := rt.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, ok := rt.Tracker.(*progress.MemoryTracker); !ok {
		t.Fatalf("tracker = %T, want memory", rt.Tracker)
	}
	if _, ok := rt.Artifacts.(*storage.FileStore); !ok {
		t.Fatalf("artifacts = %T, want file store", rt.Artifacts)
	}
	if _, ok := rt.ArtifactReader(); !ok {
		t.Fatalf("file store should be readable")
	}

	d, err := rt.Dreams.Create(ctx, 1, "t", "dream")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, err := rt.Dreams.GetByID(ctx, d.ID); err != nil || got.Text != "dream" {
		t.Fatalf("GetByID = %+v, %v", got, err)
	}
}

func TestPipelineResolvesStoredKeys(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, localConfig(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()
	if err := rt.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := rt.Credentials.Set(ctx, "tripo", "tp-key"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	p, err := rt.Pipeline(ctx)
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if !p.DeepSeek.HasCredentials() || !p.Tripo.HasCredentials() {
		t.Fatalf("credentials not resolved: deepseek=%v tripo=%v", p.DeepSeek.HasCredentials(), p.Tripo.HasCredentials())
	}
	if p.Orchestrator == nil {
		t.Fatalf("orchestrator not built")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rt, err := Open(context.Background(), localConfig(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
