// Package workload drives the paced probe traffic against the connection pool.
package workload

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/guileen/pgloadgen/config"
	"github.com/guileen/pgloadgen/logger"
	"github.com/guileen/pgloadgen/metrics"
	"github.com/guileen/pgloadgen/network"
)

// DefaultProbeQuery is the statement issued when none is configured.
const DefaultProbeQuery = "SELECT 1"

// ConnSource hands out connections. Both the pooled Manager and the DirectSource satisfy it.
type ConnSource interface {
	Acquire(ctx context.Context) (network.Conn, error)
}

// statsSource is implemented by sources that can report occupancy for the pool gauges.
type statsSource interface {
	Stats() network.PoolStats
}

// Options tune a Worker. Zero values select the defaults.
type Options struct {
	ProbeQuery   string
	QueryTimeout time.Duration
	ClientName   string

	// Now and Sleep replace the wall clock, mainly for tests. Sleep must return
	// ctx.Err() when ctx is cancelled before d elapses.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Worker is the single loop that acquires a connection, runs the probe, records the
// outcome and waits out the rest of the pacing interval.
type Worker struct {
	store  *config.Store
	source ConnSource
	sink   metrics.Sink
	rate   *RateController
	opts   Options

	state      atomic.Int32
	iterations atomic.Uint64
	failures   atomic.Uint64
	done       chan struct{}
}

// NewWorker creates an idle worker. sink may be nil.
func NewWorker(store *config.Store, source ConnSource, sink metrics.Sink, opts Options) *Worker {
	if sink == nil {
		sink = metrics.Discard{}
	}
	if opts.ProbeQuery == "" {
		opts.ProbeQuery = DefaultProbeQuery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Worker{
		store:  store,
		source: source,
		sink:   sink,
		rate:   NewRateController(store),
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Done is closed once the worker reaches StateStopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Iterations is the number of completed probe attempts, successful or not.
func (w *Worker) Iterations() uint64 {
	return w.iterations.Load()
}

// Failures is the number of failed probe attempts.
func (w *Worker) Failures() uint64 {
	return w.failures.Load()
}

// Run executes iterations until ctx is cancelled. It can be called once; a second call
// returns ErrAlreadyStarted. An iteration already under way when ctx is cancelled runs
// to completion, and no new one is started.
//
// A successful iteration sleeps for what is left of the pacing interval. A failed one sleeps
// the full interval, so a slow failure such as an acquire timing out on an exhausted pool is
// never followed by an immediate retry.
func (w *Worker) Run(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	defer close(w.done)

	log := logger.With(logger.Component("worker"), logger.Client(w.opts.ClientName))
	log.Info("Query worker started", "probe", w.opts.ProbeQuery, "rate", w.store.Rate())

	for ctx.Err() == nil {
		start := w.opts.Now()
		elapsed := time.Duration(0)
		if err := w.iterate(ctx); err == nil {
			elapsed = w.opts.Now().Sub(start)
		}
		if err := w.opts.Sleep(ctx, w.rate.Delay(elapsed)); err != nil {
			break
		}
	}

	w.state.Store(int32(StateShuttingDown))
	log.Info("Query worker shutting down", "iterations", w.iterations.Load(), "failures", w.failures.Load())
	w.state.Store(int32(StateStopped))
	return nil
}

func (w *Worker) iterate(ctx context.Context) error {
	cfg := w.store.Get()
	w.sink.SetTargetRate(cfg.TargetRate)

	// The iteration is detached from ctx so shutdown lets it finish; the acquire and query
	// bounds keep it short.
	ictx := context.WithoutCancel(ctx)
	if w.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ictx, w.opts.QueryTimeout)
		defer cancel()
	}

	start := w.opts.Now()
	err := w.probe(ictx)
	outcome := metrics.Outcome{
		Success: err == nil,
		Latency: w.opts.Now().Sub(start),
		Err:     err,
	}
	w.sink.RecordOutcome(outcome)
	w.iterations.Add(1)

	if s, ok := w.source.(statsSource); ok {
		st := s.Stats()
		w.sink.SetPool(metrics.PoolGauge{Size: st.Size, Used: st.Used, Available: st.Available})
	}

	if err != nil {
		w.failures.Add(1)
		logger.Warn("Query failed",
			logger.Component("worker"),
			logger.Client(w.opts.ClientName),
			"kind", network.Classify(err),
			logger.Duration("latency", outcome.Latency),
			logger.ErrorField(err))
		return err
	}
	logger.Trace("Query executed",
		logger.Component("worker"),
		logger.Client(w.opts.ClientName),
		logger.Duration("latency", outcome.Latency),
		"rate", cfg.TargetRate)
	return nil
}

// probe acquires a connection, runs the probe query and releases the connection on every path.
func (w *Worker) probe(ctx context.Context) (err error) {
	conn, err := w.source.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Probe panicked", logger.Component("worker"), "panic", r)
			err = &QueryExecutionError{Query: w.opts.ProbeQuery, Err: panicError{r}}
		}
	}()

	var result any
	if err := conn.QueryRow(ctx, w.opts.ProbeQuery).Scan(&result); err != nil {
		return &QueryExecutionError{Query: w.opts.ProbeQuery, Err: err}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
