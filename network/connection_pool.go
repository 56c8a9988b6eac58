// Package network owns the live connection pool used by the query worker. The pool can be
// resized at any time by building a new generation, swapping it in, and draining the old one.
package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guileen/pgloadgen/logger"
)

// generation is one pool instance together with the bounds it was built with.
type generation struct {
	id       uint64
	pool     Pool
	min, max int
	state    atomic.Int32

	// inflight counts handles (and acquires in progress) bound to this generation.
	// Add is only called while the generation is current, under Manager.mu.
	inflight sync.WaitGroup
}

func (g *generation) State() PoolState {
	return PoolState(g.state.Load())
}

// Handle is a connection checked out through the Manager. It remembers the generation it
// came from so that release always goes back to that generation, current or not.
type Handle struct {
	Conn
	gen      *generation
	mgr      *Manager
	released atomic.Bool
}

// Release returns the connection to the generation it was acquired from.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.mgr.release(h)
}

// Generation is the id of the pool generation the handle belongs to.
func (h *Handle) Generation() uint64 {
	return h.gen.id
}

// Manager manages the current connection pool and its recreation.
//
// mu guards only the current pointer: acquire and release take it to read the pointer,
// never for the duration of a database round trip. resizeMu serializes the operations
// that build or tear down generations.
type Manager struct {
	factory PoolFactory
	base    PoolConfig

	resizeMu sync.Mutex
	nextID   uint64

	mu      sync.RWMutex
	current *generation
	closed  bool

	recreations  atomic.Uint64
	lateReleases atomic.Uint64
	checkedOut   atomic.Int64

	// closing tracks generations whose drain timed out and whose Close is still
	// waiting for late releases.
	closing sync.WaitGroup
}

// NewManager creates a manager that builds pools from base. Bounds in base are ignored;
// they are supplied to Initialize and Resize.
func NewManager(factory PoolFactory, base PoolConfig) *Manager {
	return &Manager{
		factory: factory,
		base:    base,
	}
}

// Initialize builds and installs the first pool. Failure is returned as *PoolInitError.
func (m *Manager) Initialize(ctx context.Context, min, max int) error {
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()

	m.mu.RLock()
	closed, installed := m.closed, m.current != nil
	m.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	if installed {
		return ErrInitialized
	}

	gen, err := m.build(ctx, min, max)
	if err != nil {
		return &PoolInitError{Address: m.base.DB.Address(), Err: err}
	}

	m.mu.Lock()
	m.current = gen
	m.mu.Unlock()

	logger.Info("Connection pool initialized",
		logger.Component("pool"),
		"generation", gen.id,
		"min_size", gen.min,
		"max_size", gen.max,
		"address", m.base.DB.Address())
	return nil
}

// Acquire checks out a connection from the current pool. It waits at most
// AcquireTimeout; if every connection stays checked out for that long the error
// wraps ErrPoolExhausted.
func (m *Manager) Acquire(ctx context.Context) (Conn, error) {
	m.mu.RLock()
	if m.closed || m.current == nil {
		m.mu.RUnlock()
		return nil, &ConnectionPoolError{Op: "acquire", Err: ErrPoolClosed}
	}
	gen := m.current
	gen.inflight.Add(1)
	m.mu.RUnlock()

	actx := ctx
	if m.base.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, m.base.AcquireTimeout)
		defer cancel()
	}

	conn, err := gen.pool.Acquire(actx)
	if err != nil {
		gen.inflight.Done()
		return nil, m.acquireError(ctx, gen, err)
	}
	if gen.State() == PoolDisposed {
		conn.Release()
		gen.inflight.Done()
		return nil, &ConnectionPoolError{Op: "acquire", Err: ErrPoolClosed}
	}

	m.checkedOut.Add(1)
	return &Handle{Conn: conn, gen: gen, mgr: m}, nil
}

// Release returns c to the pool it was acquired from.
func (m *Manager) Release(c Conn) {
	if c != nil {
		c.Release()
	}
}

func (m *Manager) release(h *Handle) {
	if h.gen.State() == PoolDisposed {
		m.lateReleases.Add(1)
	}
	h.Conn.Release()
	m.checkedOut.Add(-1)
	h.gen.inflight.Done()
}

func (m *Manager) acquireError(ctx context.Context, gen *generation, err error) error {
	if ctx.Err() != nil {
		return &ConnectionPoolError{Op: "acquire", Err: ctx.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if st := gen.pool.Stat(); st.Acquired >= st.Max {
			return &ConnectionPoolError{Op: "acquire", Err: ErrPoolExhausted}
		}
	}
	return &ConnectionPoolError{Op: "acquire", Err: err}
}

// Resize replaces the current pool with one built for the new bounds. It reports false
// without touching the pool when the bounds are unchanged. If the new pool cannot be
// built the current one stays in place.
func (m *Manager) Resize(ctx context.Context, min, max int) (bool, error) {
	min, max = clampBounds(min, max)

	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()

	m.mu.RLock()
	cur, closed := m.current, m.closed
	m.mu.RUnlock()
	if closed || cur == nil {
		return false, &ConnectionPoolError{Op: "resize", Err: ErrPoolClosed}
	}
	if cur.min == min && cur.max == max {
		return false, nil
	}

	next, err := m.build(ctx, min, max)
	if err != nil {
		return false, &ConnectionPoolError{Op: "resize", Err: err}
	}

	m.mu.Lock()
	old := m.current
	m.current = next
	m.mu.Unlock()
	m.recreations.Add(1)

	logger.Info("Connection pool recreated",
		logger.Component("pool"),
		"old_generation", old.id,
		"new_generation", next.id,
		"old_min", old.min, "old_max", old.max,
		"new_min", next.min, "new_max", next.max)

	m.dispose(old)
	return true, nil
}

// Close disposes the current pool. Acquire fails with ErrPoolClosed afterwards.
func (m *Manager) Close() error {
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	old := m.current
	m.current = nil
	m.mu.Unlock()

	if old != nil {
		m.dispose(old)
	}
	m.closing.Wait()
	if old != nil {
		logger.Info("Connection pool closed", logger.Component("pool"), "generation", old.id)
	}
	return nil
}

// Stats returns a snapshot of the current pool.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	gen := m.current
	m.mu.RUnlock()

	stats := PoolStats{
		Recreations:  m.recreations.Load(),
		CheckedOut:   m.checkedOut.Load(),
		LateReleases: m.lateReleases.Load(),
		State:        PoolDisposed.String(),
	}
	if gen == nil {
		return stats
	}

	st := gen.pool.Stat()
	stats.Size = gen.max
	stats.Min = gen.min
	stats.Max = gen.max
	stats.Total = st.Total
	stats.Used = st.Acquired
	stats.Idle = st.Idle
	stats.Available = gen.max - st.Acquired
	if stats.Available < 0 {
		stats.Available = 0
	}
	stats.State = gen.State().String()
	stats.Generation = gen.id
	return stats
}

// Recreations is the number of times the pool has been swapped by Resize.
func (m *Manager) Recreations() uint64 {
	return m.recreations.Load()
}

func (m *Manager) build(ctx context.Context, min, max int) (*generation, error) {
	min, max = clampBounds(min, max)
	cfg := m.base
	cfg.MinConns = min
	cfg.MaxConns = max

	pool, err := m.factory.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.nextID++
	return &generation{id: m.nextID, pool: pool, min: min, max: max}, nil
}

// dispose drains gen for at most DrainTimeout and then closes it. gen must no longer be
// current. The underlying Close waits for every checked-out connection, so when the drain
// does not finish in time that wait happens in the background and dispose returns;
// Manager.Close waits for those background closes. A zero DrainTimeout disposes at once.
func (m *Manager) dispose(gen *generation) {
	gen.state.Store(int32(PoolDraining))

	if m.base.DrainTimeout > 0 {
		drained := make(chan struct{})
		go func() {
			gen.inflight.Wait()
			close(drained)
		}()

		timer := time.NewTimer(m.base.DrainTimeout)
		select {
		case <-drained:
			timer.Stop()
			gen.state.Store(int32(PoolDisposed))
			gen.pool.Close()
			return
		case <-timer.C:
		}
		logger.Warn("Pool drain timed out, closing once checked-out connections are released",
			logger.Component("pool"),
			"generation", gen.id,
			"drain_timeout", m.base.DrainTimeout.String())
	}

	gen.state.Store(int32(PoolDisposed))
	m.closing.Add(1)
	go func() {
		defer m.closing.Done()
		gen.pool.Close()
	}()
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
