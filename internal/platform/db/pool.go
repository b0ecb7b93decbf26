package db

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PoolOptions configures NewPool.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
	Attempts uint
	Logger   zerolog.Logger
}

// NewPool opens a pgx pool and pings it, retrying with backoff while the
// database comes up.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var pool *pgxpool.Pool
	err = retry.Do(
		func() error {
			p, err := pgxpool.NewWithConfig(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create connection pool: %w", err)
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return fmt.Errorf("ping database: %w", err)
			}
			pool = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			opts.Logger.Warn().Err(err).Uint("attempt", n+1).Msg("database not ready, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
