package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"conversions/config"
	"conversions/models"
)

const redisKeyPrefix = "meta_cookies:"

// RedisStore keeps records as JSON values that expire after the TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, key string, rec models.CorrelationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode correlation record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store correlation record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (models.CorrelationRecord, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CorrelationRecord{}, ErrNotFound
	}
	if err != nil {
		return models.CorrelationRecord{}, fmt.Errorf("failed to read correlation record: %w", err)
	}

	var rec models.CorrelationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.CorrelationRecord{}, fmt.Errorf("failed to decode correlation record: %w", err)
	}
	return rec, nil
}
