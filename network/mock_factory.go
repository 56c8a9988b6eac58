package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// MockPoolFactory implements PoolFactory for testing
type MockPoolFactory struct {
	mu           sync.Mutex
	failCount    int
	currentCount int
	shouldFail   bool
	pools        []*MockPool

	queryDelay atomic.Int64
	queryErr   atomic.Pointer[error]
}

// NewMockPoolFactory creates a new mock pool factory. When shouldFail is set the first
// failCount calls to NewPool fail.
func NewMockPoolFactory(shouldFail bool, failCount int) *MockPoolFactory {
	return &MockPoolFactory{
		shouldFail: shouldFail,
		failCount:  failCount,
	}
}

// NewPool creates a mock pool for testing
func (f *MockPoolFactory) NewPool(ctx context.Context, cfg PoolConfig) (Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.currentCount++
	if f.shouldFail && f.currentCount <= f.failCount {
		return nil, &ConnectionPoolError{
			Op:  "mock_dial",
			Err: fmt.Errorf("mock connection failure %d", f.currentCount),
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &MockPool{
		factory: f,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.MaxConns),
	}
	f.pools = append(f.pools, p)
	return p, nil
}

// FailNext makes the next n calls to NewPool fail.
func (f *MockPoolFactory) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shouldFail = true
	f.failCount = f.currentCount + n
}

// SetQueryDelay makes every probe on every pool take d.
func (f *MockPoolFactory) SetQueryDelay(d time.Duration) {
	f.queryDelay.Store(int64(d))
}

// SetQueryError makes every probe fail with err; nil restores success.
func (f *MockPoolFactory) SetQueryError(err error) {
	if err == nil {
		f.queryErr.Store(nil)
		return
	}
	f.queryErr.Store(&err)
}

// Pools returns every pool created so far, oldest first.
func (f *MockPoolFactory) Pools() []*MockPool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockPool(nil), f.pools...)
}

// Latest returns the most recently created pool, or nil.
func (f *MockPoolFactory) Latest() *MockPool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pools) == 0 {
		return nil
	}
	return f.pools[len(f.pools)-1]
}

// MockPool is a bounded in-memory pool with no real connections. Like pgxpool, Close
// blocks until every checked-out connection has been released.
type MockPool struct {
	factory *MockPoolFactory
	cfg     PoolConfig
	slots   chan struct{}

	mu              sync.Mutex
	acquired        int
	closed          bool
	acquiredAtClose int
	lateReleases    int
	idle            chan struct{} // closed once the pool is closed and nothing is checked out
}

func (p *MockPool) Acquire(ctx context.Context) (Conn, error) {
	if p.Closed() {
		return nil, ErrPoolClosed
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	p.acquired++
	p.mu.Unlock()
	return &mockConn{pool: p}, nil
}

func (p *MockPool) Stat() PoolStat {
	acquired := p.Acquired()
	total := p.cfg.MinConns
	if acquired > total {
		total = acquired
	}
	return PoolStat{
		Total:    total,
		Acquired: acquired,
		Idle:     total - acquired,
		Max:      p.cfg.MaxConns,
	}
}

func (p *MockPool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.acquiredAtClose = p.acquired
		p.idle = make(chan struct{})
		if p.acquired == 0 {
			close(p.idle)
		}
	}
	idle := p.idle
	p.mu.Unlock()
	<-idle
}

func (p *MockPool) release() {
	p.mu.Lock()
	if p.closed {
		p.lateReleases++
	}
	p.acquired--
	if p.closed && p.acquired == 0 {
		close(p.idle)
	}
	p.mu.Unlock()
	<-p.slots
}

// Config returns the configuration the pool was built with.
func (p *MockPool) Config() PoolConfig { return p.cfg }

// Acquired is the number of connections currently checked out.
func (p *MockPool) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

// Closed reports whether Close has been called.
func (p *MockPool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// AcquiredAtClose is the number of connections that were checked out when Close ran.
func (p *MockPool) AcquiredAtClose() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquiredAtClose
}

// LateReleases counts connections released after Close.
func (p *MockPool) LateReleases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lateReleases
}

type mockConn struct {
	pool     *MockPool
	released atomic.Bool
}

func (c *mockConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if d := time.Duration(c.pool.factory.queryDelay.Load()); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return mockRow{err: ctx.Err()}
		}
	}
	if errp := c.pool.factory.queryErr.Load(); errp != nil {
		return mockRow{err: *errp}
	}
	return mockRow{}
}

func (c *mockConn) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.pool.release()
	}
}

// mockRow answers every probe with the integer 1
type mockRow struct {
	err error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return nil
	}
	switch d := dest[0].(type) {
	case *any:
		*d = int32(1)
	case *int:
		*d = 1
	case *int32:
		*d = 1
	case *int64:
		*d = 1
	default:
		return fmt.Errorf("mock row cannot scan into %T", dest[0])
	}
	return nil
}
