package progress

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis implements the two commands RedisTracker uses.
type fakeRedis struct {
	redis.Cmdable
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	v, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func TestRedisTrackerRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	tr := NewRedisTracker(fake, 30*time.Minute)

	if _, ok, err := tr.Read(ctx, 9); ok || err != nil {
		t.Fatalf("Read missing = %v, %v", ok, err)
	}
	if err := tr.Update(ctx, 9, Entry{Stage: StageDownloading, Percent: 60, RemainingMinutes: 5, Message: "downloading"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if fake.ttls["dream_progress:9"] != 30*time.Minute {
		t.Fatalf("ttl = %s", fake.ttls["dream_progress:9"])
	}
	got, ok, err := tr.Read(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("Read = %v, %v", ok, err)
	}
	if got.Stage != StageDownloading || got.Percent != 60 || got.RemainingMinutes != 5 {
		t.Fatalf("entry = %+v", got)
	}
}

func TestRedisTrackerCorruptValue(t *testing.T) {
	fake := newFakeRedis()
	fake.data["dream_progress:3"] = "{not json"
	tr := NewRedisTracker(fake, 0)
	if _, _, err := tr.Read(context.Background(), 3); err == nil {
		t.Fatalf("expected decode error")
	}
}
