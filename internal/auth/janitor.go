// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

// Janitor defaults.
const (
	DefaultJanitorInterval = time.Hour
)

// ResetJanitor periodically deletes lapsed password reset requests.
type ResetJanitor struct {
	store     *ResetTokenStore
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResetJanitor creates a janitor that prunes requests lapsed longer
// than retention every interval. Zero values take the package defaults.
func NewResetJanitor(store *ResetTokenStore, interval, retention time.Duration, logger *slog.Logger) *ResetJanitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if retention <= 0 {
		retention = DefaultResetKeep
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetJanitor{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// RunOnce executes a single prune cycle.
func (j *ResetJanitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.store.Prune(ctx, j.retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "pruned stale password resets", "count", n)
	}
	return n, nil
}

// Start begins periodic pruning. The first cycle runs immediately.
func (j *ResetJanitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go j.run(ctx)
}

// Stop cancels the janitor and waits for the running cycle to finish.
func (j *ResetJanitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *ResetJanitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.cycle(ctx)
		}
	}
}

func (j *ResetJanitor) cycle(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
		errutil.LogError(ctx, j.logger, "reset janitor cycle failed", err)
	}
}
