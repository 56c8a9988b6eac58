// Package client ties the config store, the connection source, the query worker and the
// control service together and owns their start and stop order.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guileen/pgloadgen/config"
	"github.com/guileen/pgloadgen/control"
	"github.com/guileen/pgloadgen/logger"
	"github.com/guileen/pgloadgen/metrics"
	"github.com/guileen/pgloadgen/network"
	"github.com/guileen/pgloadgen/workload"
)

// Source is a connection source with an explicit lifecycle. network.Manager and
// network.DirectSource implement it.
type Source interface {
	Initialize(ctx context.Context, min, max int) error
	Acquire(ctx context.Context) (network.Conn, error)
	Resize(ctx context.Context, min, max int) (bool, error)
	Stats() network.PoolStats
	Close() error
}

var (
	ErrAlreadyStarted = errors.New("client already started")
	ErrNotStarted     = errors.New("client not started")
)

// Client is one load generator instance.
type Client struct {
	settings config.Settings
	store    *config.Store
	source   Source
	sink     metrics.Sink
	worker   *workload.Worker
	service  *control.Service

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// New creates a client that drives source. sink may be nil.
func New(settings config.Settings, source Source, sink metrics.Sink) *Client {
	if sink == nil {
		sink = metrics.Discard{}
	}
	store := config.NewStore(settings.Initial)
	return &Client{
		settings: settings,
		store:    store,
		source:   source,
		sink:     sink,
		worker: workload.NewWorker(store, source, sink, workload.Options{
			ProbeQuery:   settings.ProbeQuery,
			QueryTimeout: settings.QueryTimeout,
			ClientName:   settings.ClientName,
		}),
		service: control.NewService(store, source, sink, settings.ClientName),
	}
}

// NewSource builds the connection source selected by settings.Mode.
func NewSource(settings config.Settings, factory network.PoolFactory) (Source, error) {
	cfg := network.PoolConfig{
		DB:             settings.DB,
		MinConns:       settings.Initial.PoolMinSize,
		MaxConns:       settings.Initial.PoolMaxSize,
		ClientName:     settings.ClientName,
		AcquireTimeout: settings.AcquireTimeout,
		DrainTimeout:   settings.DrainTimeout,

		HealthCheckPeriod: settings.PoolHealthCheckPeriod,
		MaxConnLifetime:   settings.PoolMaxConnLifetime,
		MaxConnIdleTime:   settings.PoolMaxConnIdleTime,
	}
	switch settings.Mode {
	case config.ModePooled:
		if factory == nil {
			factory = network.NewPgxPoolFactory()
		}
		return network.NewManager(factory, cfg), nil
	case config.ModeDirect:
		return network.NewDirectSource(cfg), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", settings.Mode)
	}
}

// Start initializes the connection source and launches the worker. A *network.PoolInitError
// means the database could not be reached and the client must not serve.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	cfg := c.store.Get()
	if err := c.source.Initialize(ctx, cfg.PoolMinSize, cfg.PoolMaxSize); err != nil {
		return err
	}
	c.sink.SetTargetRate(cfg.TargetRate)
	st := c.source.Stats()
	c.sink.SetPool(metrics.PoolGauge{Size: st.Size, Used: st.Used, Available: st.Available})

	// The worker outlives ctx; only Stop cancels it.
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.started = true
	go func() {
		if err := c.worker.Run(wctx); err != nil {
			logger.Error("Query worker exited", logger.Component("client"), logger.ErrorField(err))
		}
	}()

	logger.Info("Client started",
		logger.Component("client"),
		logger.Client(c.settings.ClientName),
		"mode", c.settings.Mode,
		"tps", cfg.TargetRate,
		"pool_min_size", cfg.PoolMinSize,
		"pool_max_size", cfg.PoolMaxSize)
	return nil
}

// Stop cancels the worker, waits for its in-flight iteration to finish, and then closes the
// connection source. If ctx expires first the source is closed anyway and ctx.Err() returned.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	if c.stopped {
		return nil
	}
	c.stopped = true
	c.cancel()

	var waitErr error
	select {
	case <-c.worker.Done():
	case <-ctx.Done():
		waitErr = ctx.Err()
		logger.Warn("Query worker did not stop in time", logger.Component("client"), logger.ErrorField(waitErr))
	}

	if err := c.source.Close(); err != nil {
		return errors.Join(waitErr, fmt.Errorf("close source: %w", err))
	}

	logger.Info("Client stopped",
		logger.Component("client"),
		logger.Client(c.settings.ClientName),
		"iterations", c.worker.Iterations(),
		"failures", c.worker.Failures())
	return waitErr
}

// Service returns the control-plane operations bound to this client.
func (c *Client) Service() *control.Service { return c.service }

// Store returns the runtime config store.
func (c *Client) Store() *config.Store { return c.store }

// Worker returns the query worker.
func (c *Client) Worker() *workload.Worker { return c.worker }

// Source returns the connection source.
func (c *Client) Source() Source { return c.source }
