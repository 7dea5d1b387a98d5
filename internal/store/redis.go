package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/depthcharge/config"
)

const (
	runKeyPrefix     = "research:run:"
	sessionKeyPrefix = "research:session:"
)

// RedisStore is the fallback backend when Postgres is not configured. Run
// records are stored as JSON values; listing scans the key prefix like the
// topic repository does.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s:%d): %w", cfg.Host, port, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) SaveRun(ctx context.Context, rec RunRecord) (string, error) {
	if err := validateRun(rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, runKeyPrefix+rec.ID, data, 0).Err(); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *RedisStore) GetRun(ctx context.Context, id string) (RunRecord, bool, error) {
	val, err := s.client.Get(ctx, runKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	var rec RunRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	keys, err := s.client.Keys(ctx, runKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	var out []RunRecord
	for _, key := range keys {
		val, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec RunRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.Query == "" {
		return fmt.Errorf("query must be provided")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKeyPrefix+rec.Query, data, sessionTTL).Err()
}

func (s *RedisStore) GetSession(ctx context.Context, query string) (SessionRecord, bool, error) {
	val, err := s.client.Get(ctx, sessionKeyPrefix+query).Result()
	if errors.Is(err, redis.Nil) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	var rec SessionRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, query string) error {
	return s.client.Del(ctx, sessionKeyPrefix+query).Err()
}
