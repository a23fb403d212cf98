package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	URL             string        `envconfig:"DATABASE_URL"`
	MaxConns        int32         `split_words:"true" default:"10"`
	MinConns        int32         `split_words:"true" default:"0"`
	MaxConnLifetime time.Duration `split_words:"true" default:"1h"`
	ConnectTimeout  time.Duration `split_words:"true" default:"5s"`
}

// Enabled reports whether a database URL was configured.
func (c *Config) Enabled() bool {
	return c.URL != ""
}

func (c *Config) New(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, err
	}
	if c.MaxConns > 0 {
		poolCfg.MaxConns = c.MaxConns
	}
	poolCfg.MinConns = c.MinConns
	if c.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = c.MaxConnLifetime
	}

	ctx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
