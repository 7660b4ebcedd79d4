package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/providers/tripo"
	"dreamecho/internal/providers/upstream"
)

func newTestGeneration(tasks *stubTasks, store *memStore, sleeps *int) *AssetGenerationStage {
	return NewAssetGenerationStage(tasks, store, GenerationOptions{
		PollInterval:    10 * time.Second,
		PollMaxAttempts: 60,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if d != 10*time.Second {
				return errors.New("unexpected poll interval")
			}
			*sleeps++
			return nil
		},
		Now: func() time.Time { return time.Unix(1700000000, 0) },
	})
}

func TestGenerateSucceedsOnThirdPoll(t *testing.T) {
	tasks := &stubTasks{taskID: "task-1", polls: []pollResult{running(), running(), succeeded("https://cdn.example.com/m.glb")}}
	var sleeps int
	stage := newTestGeneration(tasks, newMemStore(), &sleeps)

	url, err := stage.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if url != "https://cdn.example.com/m.glb" {
		t.Fatalf("url = %q", url)
	}
	if tasks.pollCount != 3 || sleeps != 3 {
		t.Fatalf("polls=%d sleeps=%d, want 3/3", tasks.pollCount, sleeps)
	}
	if tasks.prompt != "prompt" {
		t.Fatalf("prompt = %q", tasks.prompt)
	}
}

func TestGenerateStopsOnFailedStatus(t *testing.T) {
	for _, status := range []tripo.TaskStatus{tripo.TaskStatusFailed, tripo.TaskStatusCancelled, tripo.TaskStatusUnknown} {
		tasks := &stubTasks{taskID: "task-1", polls: []pollResult{{task: &tripo.Task{Status: status}}}}
		var sleeps int
		stage := newTestGeneration(tasks, newMemStore(), &sleeps)

		_, err := stage.Generate(context.Background(), "prompt")
		if !errors.Is(err, domain.ErrNoArtifact) {
			t.Fatalf("%s: expected ErrNoArtifact, got %v", status, err)
		}
		if tasks.pollCount != 1 {
			t.Fatalf("%s: polls = %d, want 1", status, tasks.pollCount)
		}
	}
}

func TestGenerateExhaustsBudget(t *testing.T) {
	tasks := &stubTasks{taskID: "task-1"}
	var sleeps int
	stage := newTestGeneration(tasks, newMemStore(), &sleeps)

	_, err := stage.Generate(context.Background(), "prompt")
	if !errors.Is(err, domain.ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
	if tasks.pollCount != 60 {
		t.Fatalf("polls = %d, want 60", tasks.pollCount)
	}
}

func TestGenerateStopsOnUndecodablePoll(t *testing.T) {
	undecodable := fmt.Errorf("tripo: get task task-1: %w: invalid character '<'", upstream.ErrDecode)
	tasks := &stubTasks{taskID: "task-1", polls: []pollResult{running(), {err: undecodable}, succeeded("https://cdn.example.com/m.glb")}}
	var sleeps int
	stage := newTestGeneration(tasks, newMemStore(), &sleeps)

	_, err := stage.Generate(context.Background(), "prompt")
	if !errors.Is(err, domain.ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
	if tasks.pollCount != 2 {
		t.Fatalf("polls = %d, want 2", tasks.pollCount)
	}
}

func TestGenerateSkipsFailedPolls(t *testing.T) {
	tasks := &stubTasks{taskID: "task-1", polls: []pollResult{
		{err: &upstream.HTTPError{StatusCode: 502}},
		{err: upstream.ErrConnection},
		succeeded("https://cdn.example.com/m.glb"),
	}}
	var sleeps int
	stage := newTestGeneration(tasks, newMemStore(), &sleeps)

	if _, err := stage.Generate(context.Background(), "prompt"); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if tasks.pollCount != 3 {
		t.Fatalf("polls = %d, want 3", tasks.pollCount)
	}
}

func TestGenerateSuccessWithoutURL(t *testing.T) {
	tasks := &stubTasks{taskID: "task-1", polls: []pollResult{{task: &tripo.Task{Status: tripo.TaskStatusSuccess}}}}
	var sleeps int
	stage := newTestGeneration(tasks, newMemStore(), &sleeps)

	if _, err := stage.Generate(context.Background(), "prompt"); !errors.Is(err, domain.ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
}

func TestGenerateSubmitFailure(t *testing.T) {
	tasks := &stubTasks{createErr: tripo.ErrMissingTaskID}
	var sleeps int
	stage := newTestGeneration(tasks, newMemStore(), &sleeps)

	if _, err := stage.Generate(context.Background(), "prompt"); !errors.Is(err, domain.ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
	if tasks.pollCount != 0 {
		t.Fatalf("polled %d times after submit failure", tasks.pollCount)
	}
}

func TestGenerateHonoursCancellation(t *testing.T) {
	tasks := &stubTasks{taskID: "task-1"}
	stage := NewAssetGenerationStage(tasks, newMemStore(), GenerationOptions{Sleep: upstream.SleepContext})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := stage.Generate(ctx, "prompt"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDownloadStoresUnderOwnerDirectory(t *testing.T) {
	tasks := &stubTasks{body: "glTF-binary"}
	store := newMemStore()
	var sleeps int
	stage := newTestGeneration(tasks, store, &sleeps)

	key, err := stage.Download(context.Background(), 42, "https://cdn.example.com/files/model.glb?sig=abc")
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if !regexp.MustCompile(`^models/user_42/dream_\d+\.glb$`).MatchString(key) {
		t.Fatalf("key = %q", key)
	}
	if store.files[key] != "glTF-binary" {
		t.Fatalf("stored body = %q", store.files[key])
	}
}

func TestDownloadFailure(t *testing.T) {
	tasks := &stubTasks{dlErr: &upstream.HTTPError{StatusCode: 404}}
	var sleeps int
	stage := newTestGeneration(tasks, newMemStore(), &sleeps)

	_, err := stage.Download(context.Background(), 42, "https://cdn.example.com/model.glb")
	var httpErr *upstream.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 {
		t.Fatalf("expected HTTPError 404, got %v", err)
	}
}

func TestArtifactKeyExtension(t *testing.T) {
	at := time.Unix(0, 1700000000123456789)
	tests := map[string]string{
		"https://x/y/model.gltf":        "models/user_7/dream_1700000000123456789.gltf",
		"https://x/y/model.OBJ":         "models/user_7/dream_1700000000123456789.obj",
		"https://x/y/model.exe":         "models/user_7/dream_1700000000123456789.glb",
		"https://x/y/download?id=model": "models/user_7/dream_1700000000123456789.glb",
	}
	for in, want := range tests {
		if got := ArtifactKey(7, at, in); got != want {
			t.Fatalf("ArtifactKey(%q) = %q, want %q", in, got, want)
		}
	}
}
