// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

// Package ratelimit throttles requests per endpoint class and client key
// using fixed windows over a pluggable counter store.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Class names an endpoint group that shares one rule.
type Class string

// Endpoint classes.
const (
	ClassLogin         Class = "login"
	ClassRefresh       Class = "refresh"
	ClassResetRequest  Class = "password_reset_request"
	ClassResetComplete Class = "password_reset_complete"
)

// Classes lists every known class.
func Classes() []Class {
	return []Class{ClassLogin, ClassRefresh, ClassResetRequest, ClassResetComplete}
}

// Rule allows Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules returns the built-in rules.
func DefaultRules() map[Class]Rule {
	return map[Class]Rule{
		ClassLogin:         {Limit: 5, Window: time.Minute},
		ClassRefresh:       {Limit: 30, Window: time.Minute},
		ClassResetRequest:  {Limit: 3, Window: 15 * time.Minute},
		ClassResetComplete: {Limit: 10, Window: 15 * time.Minute},
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store counts hits per key within a window.
type Store interface {
	// Increment adds one hit to key, starting a window of the given length
	// on the first hit. It returns the count in the current window and the
	// time left until the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter applies per-class rules to a Store.
type Limiter struct {
	store Store
	rules map[Class]Rule
}

// New creates a Limiter. Classes without a rule are never throttled.
func New(store Store, rules map[Class]Rule) (*Limiter, error) {
	if store == nil {
		return nil, oops.Code("RATELIMIT_INVALID").Errorf("rate limit store is required")
	}
	copied := make(map[Class]Rule, len(rules))
	for class, rule := range rules {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return nil, oops.Code("RATELIMIT_INVALID").
				With("class", string(class)).
				Errorf("rule for %s must have a positive limit and window", class)
		}
		copied[class] = rule
	}
	return &Limiter{store: store, rules: copied}, nil
}

// Allow counts one request from key against class. A store error is
// returned alongside an allowing decision so callers can fail open.
func (l *Limiter) Allow(ctx context.Context, class Class, key string) (Decision, error) {
	rule, ok := l.rules[class]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	count, ttl, err := l.store.Increment(ctx, storeKey(class, key), rule.Window)
	if err != nil {
		return Decision{Allowed: true, Remaining: rule.Limit}, oops.Code("RATELIMIT_STORE_FAILED").
			With("class", string(class)).
			Wrap(err)
	}

	if count > int64(rule.Limit) {
		if ttl <= 0 {
			ttl = rule.Window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: rule.Limit - int(count)}, nil
}

// Rule returns the rule for class.
func (l *Limiter) Rule(class Class) (Rule, bool) {
	rule, ok := l.rules[class]
	return rule, ok
}

func storeKey(class Class, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	return "rl:" + string(class) + ":" + key
}
