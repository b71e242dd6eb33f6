package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyFormat    = "idem:order:create:%s"
	pendingValue = "pending"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Begin(ctx context.Context, key string) (Result, error) {
	redisKey := fmt.Sprintf(keyFormat, key)

	// The second pass covers a key that expired between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		claimed, err := s.client.SetNX(ctx, redisKey, pendingValue, s.ttl).Result()
		if err != nil {
			return Result{}, fmt.Errorf("claim idempotency key: %w", err)
		}
		if claimed {
			return Result{State: StateNew}, nil
		}

		value, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("read idempotency key: %w", err)
		}

		if value == pendingValue {
			return Result{State: StateInFlight}, nil
		}

		orderID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Result{}, fmt.Errorf("idempotency key %q holds %q: %w", key, value, err)
		}
		return Result{State: StateDone, OrderID: orderID}, nil
	}

	return Result{State: StateInFlight}, nil
}

func (s *RedisStore) Finish(ctx context.Context, key string, orderID int64) error {
	redisKey := fmt.Sprintf(keyFormat, key)
	if err := s.client.Set(ctx, redisKey, strconv.FormatInt(orderID, 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency result: %w", err)
	}
	return nil
}

func (s *RedisStore) Abort(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, fmt.Sprintf(keyFormat, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
