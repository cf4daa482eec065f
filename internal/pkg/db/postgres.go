// Package db provides PostgreSQL connection management and schema migrations
// for rooms and session snapshots.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"trick-room-server/internal/config"
)

const (
	defaultPoolSize        = 10
	defaultConnectTimeout  = 10 * time.Second
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 30 * time.Minute
	healthCheckPeriod      = 30 * time.Second
	healthCheckTimeout     = 2 * time.Second
)

// Pool wraps pgxpool.Pool. Repositories take the embedded *pgxpool.Pool.
type Pool struct {
	*pgxpool.Pool
}

// poolConfig turns the database section into pgxpool settings, filling in
// defaults for anything left at zero.
func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	pc.MaxConns = int32(size)
	// A quarter of the pool stays open.
	pc.MinConns = int32(max(size/4, 1))

	pc.ConnConfig.ConnectTimeout = orDefault(cfg.ConnectTimeout, defaultConnectTimeout)
	pc.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, defaultMaxConnLifetime)
	pc.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, defaultMaxConnIdleTime)
	pc.HealthCheckPeriod = healthCheckPeriod
	return pc, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// NewPool connects to PostgreSQL. The first ping is retried with backoff for
// up to the connect timeout, so the server can start alongside its database.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", pc.MaxConns).
		Msg("Connecting to PostgreSQL")

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = pc.ConnConfig.ConnectTimeout
	ping := func() error { return pool.Ping(ctx) }
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("PostgreSQL not reachable yet")
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Connected to PostgreSQL")
	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("PostgreSQL connection pool closed")
	}
}

// HealthCheck pings the database with a short deadline. The /health endpoint
// uses it; a failure is logged with the pool's connection counts.
func (p *Pool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := p.Pool.Ping(ctx); err != nil {
		st := p.Pool.Stat()
		log.Warn().
			Err(err).
			Int32("acquired", st.AcquiredConns()).
			Int32("idle", st.IdleConns()).
			Int32("total", st.TotalConns()).
			Msg("PostgreSQL health check failed")
		return err
	}
	return nil
}
