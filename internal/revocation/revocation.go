// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package revocation stores revoked token IDs until the tokens expire.
package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// RedisDenylist keeps revoked IDs as keys that expire with the token.
type RedisDenylist struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDenylist creates a RedisDenylist. prefix namespaces keys.
func NewRedisDenylist(client redis.UniversalClient, prefix string) *RedisDenylist {
	return &RedisDenylist{client: client, prefix: prefix}
}

// Revoke stores jti for ttl with SET NX. It reports false if jti was
// already present.
func (d *RedisDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, d.key(jti), 1, ttl).Result()
	if err != nil {
		return false, oops.Code("DENYLIST_REDIS_FAILED").
			With("operation", "setnx").
			Wrap(err)
	}
	return ok, nil
}

// IsRevoked reports whether jti is denylisted.
func (d *RedisDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(jti)).Result()
	if err != nil {
		return false, oops.Code("DENYLIST_REDIS_FAILED").
			With("operation", "exists").
			Wrap(err)
	}
	return n > 0, nil
}

func (d *RedisDenylist) key(jti string) string {
	return d.prefix + "revoked:" + jti
}

// DefaultSweepInterval bounds how often MemoryDenylist scans for expired entries.
const DefaultSweepInterval = time.Minute

// MemoryDenylist is a single-process denylist. Expired entries are dropped
// on lookup and by a sweep that piggybacks on Revoke.
type MemoryDenylist struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	now       func() time.Time
	interval  time.Duration
	lastSweep time.Time
}

// NewMemoryDenylist creates a MemoryDenylist. A nil now uses time.Now.
func NewMemoryDenylist(now func() time.Time) *MemoryDenylist {
	if now == nil {
		now = time.Now
	}
	return &MemoryDenylist{
		entries:   make(map[string]time.Time),
		now:       now,
		interval:  DefaultSweepInterval,
		lastSweep: now(),
	}
}

// Revoke implements the denylist contract.
func (d *MemoryDenylist) Revoke(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= d.interval {
		d.sweepLocked(now)
	}
	if exp, ok := d.entries[jti]; ok && now.Before(exp) {
		return false, nil
	}
	d.entries[jti] = now.Add(ttl)
	return true, nil
}

// IsRevoked implements the denylist contract.
func (d *MemoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.entries[jti]
	if !ok {
		return false, nil
	}
	if !d.now().Before(exp) {
		delete(d.entries, jti)
		return false, nil
	}
	return true, nil
}

// Sweep drops expired entries.
func (d *MemoryDenylist) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepLocked(d.now())
}

// Len returns the number of stored entries, expired or not.
func (d *MemoryDenylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *MemoryDenylist) sweepLocked(now time.Time) {
	for jti, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, jti)
		}
	}
	d.lastSweep = now
}
