// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Clock returns the current time. A nil Clock means time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// LockoutTier locks an account for Duration once its consecutive failure
// count reaches Threshold.
type LockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// LockoutPolicy is an escalation table of lockout tiers. The zero value has
// no tiers and never locks.
type LockoutPolicy struct {
	tiers []LockoutTier
}

// DefaultLockoutPolicy returns the standard escalation table:
// 5 failures lock for 5 minutes, 10 for 15 minutes, 15 for one hour,
// and 20 or more for 24 hours.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{tiers: []LockoutTier{
		{Threshold: 5, Duration: 5 * time.Minute},
		{Threshold: 10, Duration: 15 * time.Minute},
		{Threshold: 15, Duration: time.Hour},
		{Threshold: 20, Duration: 24 * time.Hour},
	}}
}

// NewLockoutPolicy builds a policy from tiers ordered by strictly increasing
// threshold and non-decreasing duration.
func NewLockoutPolicy(tiers []LockoutTier) (LockoutPolicy, error) {
	if len(tiers) == 0 {
		return LockoutPolicy{}, oops.Code("LOCKOUT_POLICY_INVALID").Errorf("at least one lockout tier is required")
	}
	for i, tier := range tiers {
		if tier.Threshold <= 0 {
			return LockoutPolicy{}, oops.Code("LOCKOUT_POLICY_INVALID").
				With("tier", i).
				Errorf("tier %d: threshold must be positive", i)
		}
		if tier.Duration <= 0 {
			return LockoutPolicy{}, oops.Code("LOCKOUT_POLICY_INVALID").
				With("tier", i).
				Errorf("tier %d: duration must be positive", i)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if tier.Threshold <= prev.Threshold {
			return LockoutPolicy{}, oops.Code("LOCKOUT_POLICY_INVALID").
				With("tier", i).
				Errorf("tier %d: threshold %d must exceed %d", i, tier.Threshold, prev.Threshold)
		}
		if tier.Duration < prev.Duration {
			return LockoutPolicy{}, oops.Code("LOCKOUT_POLICY_INVALID").
				With("tier", i).
				Errorf("tier %d: duration %s is shorter than %s", i, tier.Duration, prev.Duration)
		}
	}
	return LockoutPolicy{tiers: append([]LockoutTier(nil), tiers...)}, nil
}

// Tiers returns a copy of the escalation table.
func (p LockoutPolicy) Tiers() []LockoutTier {
	return append([]LockoutTier(nil), p.tiers...)
}

// Penalty returns the lockout duration for a cumulative failure count: the
// duration of the highest tier whose threshold is at or below failures, or
// zero below the first tier.
func (p LockoutPolicy) Penalty(failures int) time.Duration {
	var penalty time.Duration
	for _, tier := range p.tiers {
		if failures < tier.Threshold {
			break
		}
		penalty = tier.Duration
	}
	return penalty
}

// Fail applies one failed attempt to state. A state that is locked at now
// is returned unchanged.
func (p LockoutPolicy) Fail(state LockoutState, now time.Time) LockoutState {
	if state.IsLocked(now) {
		return state
	}
	next := LockoutState{FailedAttempts: state.FailedAttempts + 1}
	if penalty := p.Penalty(next.FailedAttempts); penalty > 0 {
		until := now.Add(penalty)
		next.LockedUntil = &until
	}
	return next
}

// LockoutState is the persisted lockout view of an account.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// IsLocked reports whether the account is locked at now.
func (s LockoutState) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// Remaining returns how long the lock lasts past now, or zero.
func (s LockoutState) Remaining(now time.Time) time.Duration {
	if !s.IsLocked(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// LockoutStore persists lockout state. RegisterFailure must read, apply
// policy.Fail and write as one atomic step so that concurrent failures are
// never lost.
type LockoutStore interface {
	RegisterFailure(ctx context.Context, id ulid.ULID, now time.Time, policy LockoutPolicy) (LockoutState, error)
	ClearFailures(ctx context.Context, id ulid.ULID) error
}

// LockoutTracker enforces progressive lockout for an account.
type LockoutTracker struct {
	store  LockoutStore
	policy LockoutPolicy
	clock  Clock
}

// NewLockoutTracker creates a tracker. A nil clock uses wall time.
func NewLockoutTracker(store LockoutStore, policy LockoutPolicy, clock Clock) (*LockoutTracker, error) {
	if store == nil {
		return nil, oops.Code("LOCKOUT_TRACKER_INVALID").Errorf("lockout store is required")
	}
	if len(policy.tiers) == 0 {
		return nil, oops.Code("LOCKOUT_TRACKER_INVALID").Errorf("lockout policy has no tiers")
	}
	return &LockoutTracker{store: store, policy: policy, clock: clock}, nil
}

// Check returns an ACCOUNT_LOCKED error carrying the remaining duration if
// state is locked. It does not touch storage.
func (t *LockoutTracker) Check(state LockoutState) error {
	now := t.clock.now()
	if state.IsLocked(now) {
		return lockedError(state.Remaining(now))
	}
	return nil
}

// RecordFailure atomically counts one failed attempt and returns the
// resulting state. Failures while locked are not counted.
func (t *LockoutTracker) RecordFailure(ctx context.Context, id ulid.ULID) (LockoutState, error) {
	state, err := t.store.RegisterFailure(ctx, id, t.clock.now(), t.policy)
	if err != nil {
		return LockoutState{}, oops.Code("LOCKOUT_RECORD_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	return state, nil
}

// Reset clears the failure count and any lock.
func (t *LockoutTracker) Reset(ctx context.Context, id ulid.ULID) error {
	if err := t.store.ClearFailures(ctx, id); err != nil {
		return oops.Code("LOCKOUT_RESET_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	return nil
}

// Policy returns the tracker's escalation table.
func (t *LockoutTracker) Policy() LockoutPolicy {
	return t.policy
}
