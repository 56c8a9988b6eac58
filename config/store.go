// Package config holds the runtime-adjustable load settings and the process settings.
package config

import "sync"

// Config is a consistent snapshot of the runtime knobs.
type Config struct {
	TargetRate  int // queries per second, always >= 1
	PoolMinSize int // always >= 1
	PoolMaxSize int // always >= PoolMinSize
}

// Store is the source of truth for Config, shared by the worker and the control plane.
// Every read and write goes through one RWMutex so a reader never sees min and max
// from different writes.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStore returns a Store seeded with cfg after clamping.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.cfg.TargetRate = clampRate(cfg.TargetRate)
	s.cfg.PoolMinSize, s.cfg.PoolMaxSize = clampBounds(cfg.PoolMinSize, cfg.PoolMaxSize)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Rate returns the current target rate.
func (s *Store) Rate() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.TargetRate
}

// SetRate clamps v to at least 1, stores it and returns the previous and stored values.
func (s *Store) SetRate(v int) (old, updated int) {
	v = clampRate(v)

	s.mu.Lock()
	defer s.mu.Unlock()
	old = s.cfg.TargetRate
	s.cfg.TargetRate = v
	return old, v
}

// SetPoolBounds clamps min to >= 1 and max to >= min, stores them, and reports
// whether the stored bounds actually changed.
func (s *Store) SetPoolBounds(min, max int) (old, updated Config, changed bool) {
	min, max = clampBounds(min, max)

	s.mu.Lock()
	defer s.mu.Unlock()
	old = s.cfg
	if min == s.cfg.PoolMinSize && max == s.cfg.PoolMaxSize {
		return old, old, false
	}
	s.cfg.PoolMinSize = min
	s.cfg.PoolMaxSize = max
	return old, s.cfg, true
}

func clampRate(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func clampBounds(min, max int) (int, int) {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return min, max
}
