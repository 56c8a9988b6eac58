package network

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/guileen/pgloadgen/config"
)

// PoolConfig defines how each pool generation is built
type PoolConfig struct {
	DB         config.DBParams
	MinConns   int
	MaxConns   int
	ClientName string

	AcquireTimeout    time.Duration // bound on waiting for a free connection
	DrainTimeout      time.Duration // bound on waiting for checked-out connections before disposal; 0 disposes immediately
	HealthCheckPeriod time.Duration
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
}

// Conn is a checked-out connection. Release must be called exactly once;
// further calls are ignored.
type Conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// Pool is one bounded set of live connections.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Stat() PoolStat
	Close()
}

// PoolFactory builds a Pool that is ready to serve, or fails.
type PoolFactory interface {
	NewPool(ctx context.Context, cfg PoolConfig) (Pool, error)
}

// PoolStat is the raw occupancy of a single Pool
type PoolStat struct {
	Total    int
	Acquired int
	Idle     int
	Max      int
}

// PoolState is the lifecycle stage of a pool generation.
type PoolState int32

const (
	PoolActive PoolState = iota
	PoolDraining
	PoolDisposed
)

func (s PoolState) String() string {
	switch s {
	case PoolActive:
		return "active"
	case PoolDraining:
		return "draining"
	case PoolDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// PoolStats is the snapshot reported to the control plane
type PoolStats struct {
	Size         int    `json:"pool_size"`
	Min          int    `json:"pool_min_size"`
	Max          int    `json:"pool_max_size"`
	Total        int    `json:"total_conns"`
	Used         int    `json:"used"`
	Idle         int    `json:"idle"`
	Available    int    `json:"available"`
	State        string `json:"state"`
	Generation   uint64 `json:"generation"`
	Recreations  uint64 `json:"recreations"`
	CheckedOut   int64  `json:"checked_out"`
	LateReleases uint64 `json:"late_releases"`
}
