package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"compintel/internal/config"
)

const (
	defaultRedisKey     = "compintel:runs"
	defaultRedisTimeout = 5 * time.Second
)

// RedisStore keeps snapshots in a single Redis hash keyed by run ID.
type RedisStore struct {
	client  *redis.Client
	key     string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisStore connects to Redis. A blank address yields a nil store and no error.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, nil
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(client, cfg.Key, cfg.TTL.Duration), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key, ttl: ttl, timeout: defaultRedisTimeout}
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, snap.RunID, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, runID string) (Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.client.HGet(ctx, s.key, runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", runID, err)
	}
	return snap, true, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	snapshots := make([]Snapshot, 0, len(values))
	for _, value := range values {
		var snap Snapshot
		if err := json.Unmarshal([]byte(value), &snap); err != nil {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	sortSnapshots(snapshots)
	return snapshots, nil
}

func (s *RedisStore) Remove(ctx context.Context, runID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.HDel(ctx, s.key, runID).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
