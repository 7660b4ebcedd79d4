package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "dream_progress:"

// RedisTracker shares entries between the API and worker processes.
// Keys expire after the configured TTL.
type RedisTracker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("progress: redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewRedisTracker wraps an existing client.
func NewRedisTracker(client redis.Cmdable, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func (r *RedisTracker) Update(ctx context.Context, dreamID int64, entry Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("progress: encode entry: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(dreamID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("progress: redis set: %w", err)
	}
	return nil
}

func (r *RedisTracker) Read(ctx context.Context, dreamID int64) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, redisKey(dreamID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("progress: redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("progress: decode entry: %w", err)
	}
	return entry, true, nil
}

func redisKey(dreamID int64) string {
	return redisKeyPrefix + strconv.FormatInt(dreamID, 10)
}

var _ Tracker = (*RedisTracker)(nil)
