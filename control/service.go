// Package control implements the control-plane operations over the config store and the
// connection pool. It is transport agnostic; protocol/api maps it onto HTTP.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guileen/pgloadgen/config"
	"github.com/guileen/pgloadgen/logger"
	"github.com/guileen/pgloadgen/metrics"
	"github.com/guileen/pgloadgen/network"
)

// ErrInvalidInput marks a rejected request. Nothing is mutated when it is returned.
var ErrInvalidInput = errors.New("invalid input")

// PoolController is the part of the connection source the control plane drives.
type PoolController interface {
	Resize(ctx context.Context, min, max int) (bool, error)
	Stats() network.PoolStats
}

// ConfigView is the wire shape of the runtime config.
type ConfigView struct {
	TPS         int    `json:"tps"`
	PoolMinSize int    `json:"pool_min_size"`
	PoolMaxSize int    `json:"pool_max_size"`
	ClientName  string `json:"client_name"`
}

// RateChange is the result of SetRate.
type RateChange struct {
	Old int `json:"old_tps"`
	New int `json:"new_tps"`
}

// PoolBounds is a min/max pair.
type PoolBounds struct {
	MinSize int `json:"min_size"`
	MaxSize int `json:"max_size"`
}

// PoolChange is the result of SetPoolBounds.
type PoolChange struct {
	Changed bool       `json:"changed"`
	Old     PoolBounds `json:"old_config"`
	New     PoolBounds `json:"new_config"`
}

// Stats is the result of GetStats.
type Stats struct {
	Config     ConfigView        `json:"config"`
	PoolStats  network.PoolStats `json:"pool_stats"`
	ClientName string            `json:"client_name"`
}

// Health is the result of Health.
type Health struct {
	Status     string `json:"status"`
	ClientName string `json:"client"`
}

// Service serves the control-plane operations.
type Service struct {
	store  *config.Store
	pools  PoolController
	sink   metrics.Sink
	client string

	// poolMu serializes pool updates so the store and the pool move together.
	poolMu sync.Mutex
}

// NewService creates a Service. sink may be nil.
func NewService(store *config.Store, pools PoolController, sink metrics.Sink, client string) *Service {
	if sink == nil {
		sink = metrics.Discard{}
	}
	return &Service{store: store, pools: pools, sink: sink, client: client}
}

// ClientName is the identity label of this generator.
func (s *Service) ClientName() string {
	return s.client
}

// GetConfig returns the current runtime config.
func (s *Service) GetConfig() ConfigView {
	cfg := s.store.Get()
	return ConfigView{
		TPS:         cfg.TargetRate,
		PoolMinSize: cfg.PoolMinSize,
		PoolMaxSize: cfg.PoolMaxSize,
		ClientName:  s.client,
	}
}

// SetRate changes the target rate. A rate below 1 fails with ErrInvalidInput.
func (s *Service) SetRate(rate int) (RateChange, error) {
	if rate < 1 {
		return RateChange{}, fmt.Errorf("%w: tps must be a positive integer, got %d", ErrInvalidInput, rate)
	}
	old, updated := s.store.SetRate(rate)
	s.sink.SetTargetRate(updated)

	logger.Info("Target rate updated",
		logger.Component("control"),
		logger.Operation("set_rate"),
		logger.Client(s.client),
		"old_tps", old,
		"new_tps", updated)
	return RateChange{Old: old, New: updated}, nil
}

// SetPoolBounds changes the pool bounds and recreates the pool when they differ from the
// current ones. If the new pool cannot be built the store is rolled back and the error
// returned; the previous pool stays in service.
func (s *Service) SetPoolBounds(ctx context.Context, min, max int) (PoolChange, error) {
	if min < 1 {
		return PoolChange{}, fmt.Errorf("%w: min_size must be at least 1, got %d", ErrInvalidInput, min)
	}
	if max < min {
		return PoolChange{}, fmt.Errorf("%w: max_size (%d) must be >= min_size (%d)", ErrInvalidInput, max, min)
	}

	s.poolMu.Lock()
	defer s.poolMu.Unlock()

	old, updated, changed := s.store.SetPoolBounds(min, max)
	change := PoolChange{
		Changed: changed,
		Old:     PoolBounds{MinSize: old.PoolMinSize, MaxSize: old.PoolMaxSize},
		New:     PoolBounds{MinSize: updated.PoolMinSize, MaxSize: updated.PoolMaxSize},
	}
	if !changed {
		return change, nil
	}

	if _, err := s.pools.Resize(ctx, updated.PoolMinSize, updated.PoolMaxSize); err != nil {
		s.store.SetPoolBounds(old.PoolMinSize, old.PoolMaxSize)
		logger.Error("Pool resize failed, keeping previous pool",
			logger.Component("control"),
			logger.Operation("set_pool_bounds"),
			logger.Client(s.client),
			"min_size", min,
			"max_size", max,
			logger.ErrorField(err))
		return PoolChange{}, fmt.Errorf("resize pool to [%d, %d]: %w", min, max, err)
	}

	st := s.pools.Stats()
	s.sink.SetPool(metrics.PoolGauge{Size: st.Size, Used: st.Used, Available: st.Available})

	logger.Info("Pool bounds updated",
		logger.Component("control"),
		logger.Operation("set_pool_bounds"),
		logger.Client(s.client),
		"old_min", old.PoolMinSize, "old_max", old.PoolMaxSize,
		"new_min", updated.PoolMinSize, "new_max", updated.PoolMaxSize)
	return change, nil
}

// GetStats returns the runtime config together with a pool snapshot.
func (s *Service) GetStats() Stats {
	return Stats{
		Config:     s.GetConfig(),
		PoolStats:  s.pools.Stats(),
		ClientName: s.client,
	}
}

// Health reports liveness.
func (s *Service) Health() Health {
	return Health{Status: "healthy", ClientName: s.client}
}
