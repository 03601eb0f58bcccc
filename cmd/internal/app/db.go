package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// dbConnectTimeout bounds the startup connectivity check.
const dbConnectTimeout = 3 * time.Second

// NewDBPool opens the pool backing the Postgres session store and fails fast
// when the database is unreachable.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := dbPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: unreachable: %w", err)
	}
	return pool, nil
}

// dbPoolConfig applies ITL_DB_* onto the parsed URL. Sessions and users live
// in cfg.DBSchema, so it leads the search path for both queries and migrations.
func dbPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse ITL_DATABASE_URL: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	params := pcfg.ConnConfig.RuntimeParams
	if cfg.DBSchema != "" {
		params["search_path"] = cfg.DBSchema
	}
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = serviceName
	}
	return pcfg, nil
}

// PingDB reports whether the pool can reach Postgres within timeout. /readyz
// calls it on every request.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
