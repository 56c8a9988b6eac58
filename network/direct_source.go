package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

const directCloseTimeout = 5 * time.Second

// DirectSource opens a dedicated connection per Acquire and closes it on Release.
// It measures the cost of an unpooled client; Resize only records the bounds.
type DirectSource struct {
	cfg PoolConfig

	mu       sync.RWMutex
	min, max int
	closed   bool

	open atomic.Int64
}

// NewDirectSource creates a source that dials cfg.DB for every probe
func NewDirectSource(cfg PoolConfig) *DirectSource {
	min, max := clampBounds(cfg.MinConns, cfg.MaxConns)
	return &DirectSource{cfg: cfg, min: min, max: max}
}

// Initialize records the bounds and proves the database is reachable with one dial.
// Failure is returned as *PoolInitError.
func (d *DirectSource) Initialize(ctx context.Context, min, max int) error {
	d.Resize(ctx, min, max)
	conn, err := d.Acquire(ctx)
	if err != nil {
		return &PoolInitError{Address: d.cfg.DB.Address(), Err: err}
	}
	conn.Release()
	return nil
}

// Acquire dials a new connection bounded by AcquireTimeout.
func (d *DirectSource) Acquire(ctx context.Context) (Conn, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, &ConnectionPoolError{Op: "dial", Err: ErrPoolClosed}
	}

	ccfg, err := pgx.ParseConfig(d.cfg.DB.ConnString())
	if err != nil {
		return nil, &ConnectionPoolError{Op: "dial", Err: err}
	}
	if d.cfg.ClientName != "" {
		ccfg.RuntimeParams["application_name"] = d.cfg.ClientName
	}

	dctx := ctx
	if d.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, d.cfg.AcquireTimeout)
		defer cancel()
	}

	conn, err := pgx.ConnectConfig(dctx, ccfg)
	if err != nil {
		return nil, &ConnectionPoolError{Op: "dial", Err: fmt.Errorf("connect %s: %w", d.cfg.DB.Address(), err)}
	}
	d.open.Add(1)
	return &directConn{conn: conn, src: d}, nil
}

// Resize records the bounds for reporting. There is no pool to recreate.
func (d *DirectSource) Resize(_ context.Context, min, max int) (bool, error) {
	min, max = clampBounds(min, max)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.min, d.max = min, max
	return false, nil
}

// Stats reports open connections as used ones.
func (d *DirectSource) Stats() PoolStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	open := int(d.open.Load())
	state := PoolActive.String()
	if d.closed {
		state = PoolDisposed.String()
	}
	return PoolStats{
		Size:       d.max,
		Min:        d.min,
		Max:        d.max,
		Total:      open,
		Used:       open,
		State:      state,
		CheckedOut: int64(open),
	}
}

// Close rejects further Acquire calls. Connections already open are closed by their Release.
func (d *DirectSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type directConn struct {
	conn     *pgx.Conn
	src      *DirectSource
	released atomic.Bool
}

func (c *directConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

func (c *directConn) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), directCloseTimeout)
	defer cancel()
	_ = c.conn.Close(ctx)
	c.src.open.Add(-1)
}
