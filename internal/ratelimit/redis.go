// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// RedisStore is a Store shared by every instance using the same redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. prefix namespaces keys and may be empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Increment implements Store with INCR, setting the expiry on the first hit.
func (s *RedisStore) Increment(ctx context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	key = s.prefix + key

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, oops.Code("RATELIMIT_REDIS_FAILED").
			With("operation", "incr").
			Wrap(err)
	}

	if count == 1 {
		if err := s.client.PExpire(ctx, key, length).Err(); err != nil {
			return 0, 0, oops.Code("RATELIMIT_REDIS_FAILED").
				With("operation", "pexpire").
				Wrap(err)
		}
		return count, length, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, oops.Code("RATELIMIT_REDIS_FAILED").
			With("operation", "pttl").
			Wrap(err)
	}
	if ttl < 0 {
		// The expiry was never set, so the key would count forever.
		if err := s.client.PExpire(ctx, key, length).Err(); err != nil {
			return 0, 0, oops.Code("RATELIMIT_REDIS_FAILED").
				With("operation", "pexpire").
				Wrap(err)
		}
		ttl = length
	}
	return count, ttl, nil
}

var _ Store = (*RedisStore)(nil)
