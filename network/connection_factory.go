package network

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPoolFactory builds pgxpool-backed pools and verifies connectivity before returning them
type PgxPoolFactory struct{}

// NewPgxPoolFactory creates a new pgxpool factory
func NewPgxPoolFactory() *PgxPoolFactory {
	return &PgxPoolFactory{}
}

// NewPool creates a pool with the configured bounds and pings it once
func (f *PgxPoolFactory) NewPool(ctx context.Context, cfg PoolConfig) (Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DB.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	pcfg.MinConns = int32(cfg.MinConns)
	pcfg.MaxConns = int32(cfg.MaxConns)
	if cfg.HealthCheckPeriod > 0 {
		pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ClientName != "" {
		if pcfg.ConnConfig.RuntimeParams == nil {
			pcfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		pcfg.ConnConfig.RuntimeParams["application_name"] = cfg.ClientName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.DB.Address(), err)
	}
	return &pgxPool{pool: pool}, nil
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p *pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (p *pgxPool) Stat() PoolStat {
	st := p.pool.Stat()
	return PoolStat{
		Total:    int(st.TotalConns()),
		Acquired: int(st.AcquiredConns()),
		Idle:     int(st.IdleConns()),
		Max:      int(st.MaxConns()),
	}
}

// Close blocks until every acquired connection has been released.
func (p *pgxPool) Close() {
	p.pool.Close()
}
