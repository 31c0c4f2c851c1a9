package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an alternate durable Store for deployments that keep
// idempotency state out of the primary database. Records expire after the
// configured TTL; retention beyond that is an external concern.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("idempotency: redis client required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(key, endpoint string) string {
	return "idem:" + endpoint + ":" + key
}

func (s *RedisStore) Find(ctx context.Context, key, endpoint string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKey(key, endpoint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Persist(ctx context.Context, key, endpoint string, body []byte, statusCode int) (*Record, error) {
	hash, err := HashResponse(body, statusCode)
	if err != nil {
		return nil, err
	}

	rec := Record{
		Key:         key,
		Endpoint:    endpoint,
		StatusCode:  statusCode,
		Body:        append(json.RawMessage(nil), body...),
		ContentHash: hash,
		CreatedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("idempotency: encode record: %w", err)
	}

	// SETNX keeps the first writer's record; losers re-read and compare.
	set, err := s.client.SetNX(ctx, redisKey(key, endpoint), encoded, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if set {
		return &rec, nil
	}

	existing, err := s.Find(ctx, key, endpoint)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// The losing record expired between SETNX and GET; retry the write once.
		set, err := s.client.SetNX(ctx, redisKey(key, endpoint), encoded, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("idempotency: redis setnx retry: %w", err)
		}
		if set {
			return &rec, nil
		}
		return nil, fmt.Errorf("idempotency: record for %s/%s churned during persist", endpoint, key)
	}
	if existing.ContentHash != hash {
		return nil, ErrConflict
	}
	return existing, nil
}
