package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyTTL keeps a reservation long enough to cover a full approval wait
const DefaultKeyTTL = 24 * time.Hour

// IdempotencyKeyRepository reserves one idempotency key per logical operation in redis
type IdempotencyKeyRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewIdempotencyKeyRepository(client redis.UniversalClient, ttl time.Duration) *IdempotencyKeyRepository {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &IdempotencyKeyRepository{
		client: client,
		prefix: "agentpay:idempotency:",
		ttl:    ttl,
	}
}

// Reserve stores candidate for operationID unless a key is already reserved,
// and returns the reserved key
func (r *IdempotencyKeyRepository) Reserve(ctx context.Context, operationID, candidate string) (string, error) {
	redisKey := r.prefix + operationID

	ok, err := r.client.SetNX(ctx, redisKey, candidate, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to reserve key: %w", err)
	}
	if ok {
		return candidate, nil
	}

	existing, err := r.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		if err := r.client.SetNX(ctx, redisKey, candidate, r.ttl).Err(); err != nil {
			return "", fmt.Errorf("failed to reserve key: %w", err)
		}
		return r.client.Get(ctx, redisKey).Result()
	}
	if err != nil {
		return "", fmt.Errorf("failed to read reserved key: %w", err)
	}
	return existing, nil
}

// Release drops the reservation so the next call derives a fresh key
func (r *IdempotencyKeyRepository) Release(ctx context.Context, operationID string) error {
	return r.client.Del(ctx, r.prefix+operationID).Err()
}
