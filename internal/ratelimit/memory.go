// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCleanupInterval is how often MemoryStore drops elapsed windows.
const DefaultCleanupInterval = time.Minute

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	// CleanupInterval defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	// Registerer, if set, receives a gauge of tracked keys.
	Registerer prometheus.Registerer
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is a single-process Store. It is safe for concurrent use.
//
// MemoryStore runs a background goroutine to drop elapsed windows. Call
// Close to stop it.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	keysGauge prometheus.Gauge
}

// NewMemoryStore creates a MemoryStore and starts its cleanup goroutine.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &MemoryStore{
		windows:  make(map[string]*window),
		now:      now,
		stopChan: make(chan struct{}),
	}

	if cfg.Registerer != nil {
		s.keysGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mrcauth_ratelimit_tracked_keys",
			Help: "Current number of client keys tracked by the in-memory rate limiter",
		})
		cfg.Registerer.MustRegister(s.keysGauge)
	}

	s.wg.Add(1)
	go s.cleanupLoop(interval)

	return s
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Cleanup drops windows that have elapsed.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
	if s.keysGauge != nil {
		s.keysGauge.Set(float64(len(s.windows)))
	}
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit. It is safe
// to call more than once.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

var _ Store = (*MemoryStore)(nil)
