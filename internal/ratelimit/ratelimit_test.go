// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mrcsystems/mrcauth/internal/ratelimit"
	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestNew(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		_, err := ratelimit.New(nil, ratelimit.DefaultRules())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RATELIMIT_INVALID")
	})

	t.Run("rejects non-positive rules", func(t *testing.T) {
		store := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{})
		defer store.Close()

		_, err := ratelimit.New(store, map[ratelimit.Class]ratelimit.Rule{
			ratelimit.ClassLogin: {Limit: 0, Window: time.Minute},
		})
		require.Error(t, err)
		errutil.AssertErrorContext(t, err, "class", "login")
	})

	t.Run("default rules cover every class", func(t *testing.T) {
		rules := ratelimit.DefaultRules()
		for _, class := range ratelimit.Classes() {
			assert.Contains(t, rules, class)
		}
		assert.Equal(t, ratelimit.Rule{Limit: 5, Window: time.Minute}, rules[ratelimit.ClassLogin])
	})
}

func TestLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	newLimiter := func(t *testing.T, clock *fakeClock) *ratelimit.Limiter {
		t.Helper()
		store := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{Now: clock.Now})
		t.Cleanup(store.Close)
		limiter, err := ratelimit.New(store, map[ratelimit.Class]ratelimit.Rule{
			ratelimit.ClassLogin: {Limit: 3, Window: time.Minute},
		})
		require.NoError(t, err)
		return limiter
	}

	t.Run("allows up to the limit then rejects", func(t *testing.T) {
		clock := newFakeClock()
		limiter := newLimiter(t, clock)

		for i := 0; i < 3; i++ {
			d, err := limiter.Allow(ctx, ratelimit.ClassLogin, "10.0.0.1")
			require.NoError(t, err)
			assert.True(t, d.Allowed, "request %d", i+1)
			assert.Equal(t, 2-i, d.Remaining)
		}

		clock.Advance(20 * time.Second)
		d, err := limiter.Allow(ctx, ratelimit.ClassLogin, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 40*time.Second, d.RetryAfter)
	})

	t.Run("window resets after it elapses", func(t *testing.T) {
		clock := newFakeClock()
		limiter := newLimiter(t, clock)

		for i := 0; i < 4; i++ {
			_, err := limiter.Allow(ctx, ratelimit.ClassLogin, "10.0.0.2")
			require.NoError(t, err)
		}
		clock.Advance(time.Minute)

		d, err := limiter.Allow(ctx, ratelimit.ClassLogin, "10.0.0.2")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		clock := newFakeClock()
		limiter := newLimiter(t, clock)

		for i := 0; i < 4; i++ {
			_, _ = limiter.Allow(ctx, ratelimit.ClassLogin, "10.0.0.3")
		}
		d, err := limiter.Allow(ctx, ratelimit.ClassLogin, "10.0.0.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("class without a rule is unthrottled", func(t *testing.T) {
		clock := newFakeClock()
		limiter := newLimiter(t, clock)

		for i := 0; i < 10; i++ {
			d, err := limiter.Allow(ctx, ratelimit.ClassRefresh, "10.0.0.5")
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
	})

	t.Run("store failure allows with an error", func(t *testing.T) {
		limiter, err := ratelimit.New(failingStore{}, ratelimit.DefaultRules())
		require.NoError(t, err)

		d, err := limiter.Allow(ctx, ratelimit.ClassLogin, "10.0.0.6")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RATELIMIT_STORE_FAILED")
		assert.True(t, d.Allowed)
	})
}

func TestMemoryStore(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	t.Run("cleanup drops elapsed windows and updates gauge", func(t *testing.T) {
		clock := newFakeClock()
		reg := prometheus.NewRegistry()
		store := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{
			CleanupInterval: time.Hour,
			Now:             clock.Now,
			Registerer:      reg,
		})
		defer store.Close()

		_, _, err := store.Increment(ctx, "a", time.Minute)
		require.NoError(t, err)
		_, _, err = store.Increment(ctx, "b", 2*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, store.Len())

		clock.Advance(90 * time.Second)
		store.Cleanup()
		assert.Equal(t, 1, store.Len())

		families, err := reg.Gather()
		require.NoError(t, err)
		require.Len(t, families, 1)
		assert.Equal(t, "mrcauth_ratelimit_tracked_keys", families[0].GetName())
		assert.InDelta(t, 1.0, families[0].GetMetric()[0].GetGauge().GetValue(), 0)
	})

	t.Run("concurrent increments are all counted", func(t *testing.T) {
		store := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{})
		defer store.Close()

		const n = 50
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, _ = store.Increment(ctx, "shared", time.Minute)
			}()
		}
		wg.Wait()

		count, _, err := store.Increment(ctx, "shared", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(n+1), count)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		store := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{})
		store.Close()
		store.Close()
	})

	t.Run("gauge is zero for an empty store", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		store := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{Registerer: reg})
		defer store.Close()
		store.Cleanup()

		families, err := reg.Gather()
		require.NoError(t, err)
		require.Len(t, families, 1)
		assert.Zero(t, families[0].GetMetric()[0].GetGauge().GetValue())
	})
}
