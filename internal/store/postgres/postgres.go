// Package postgres implements the store contracts on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/forge-labs/forge/internal/store"
)

// Pool wraps a pgx connection pool.
type Pool struct {
	*pgxpool.Pool
}

// Connect opens a connection pool against dsn, pings it and applies the
// schema, so a fresh database is usable without a separate migration step.
func Connect(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("database", cfg.ConnConfig.Database).Msg("postgres connected")
	return &Pool{Pool: pool}, nil
}

// Stores returns the full store bundle backed by this pool.
func (p *Pool) Stores() store.Stores {
	return store.Stores{
		Launches:  NewLaunchStore(p),
		Positions: NewPositionStore(p),
		Alerts:    NewAlertStore(p),
		Activity:  NewActivityStore(p),
		Jobs:      NewJobStore(p),
	}
}

// schema is applied idempotently at startup. Column-level tuning lives in
// real migrations; this covers a fresh database.
const schema = `
CREATE TABLE IF NOT EXISTS launches (
	id TEXT PRIMARY KEY,
	token_mint TEXT UNIQUE,
	name TEXT NOT NULL,
	symbol TEXT NOT NULL,
	category TEXT NOT NULL,
	total_supply NUMERIC NOT NULL,
	target_marketcap_usd NUMERIC NOT NULL,
	presale_mode TEXT NOT NULL,
	curve_type TEXT NOT NULL,
	initial_price NUMERIC NOT NULL,
	graduation_threshold NUMERIC NOT NULL,
	anti_sniper_seconds INT NOT NULL,
	status TEXT NOT NULL,
	risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	risk_level TEXT NOT NULL DEFAULT 'LOW',
	vault_address TEXT NOT NULL DEFAULT '',
	curve_address TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	launched_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS launches_status_idx ON launches (status, created_at);

CREATE TABLE IF NOT EXISTS liquidity_positions (
	id TEXT PRIMARY KEY,
	launch_id TEXT NOT NULL,
	pool_address TEXT NOT NULL,
	position_address TEXT NOT NULL,
	range_lower NUMERIC NOT NULL,
	range_upper NUMERIC NOT NULL,
	liquidity_amount NUMERIC NOT NULL,
	status TEXT NOT NULL,
	fees_earned NUMERIC NOT NULL DEFAULT 0,
	apr DOUBLE PRECISION NOT NULL DEFAULT 0,
	rebalance_count INT NOT NULL DEFAULT 0,
	last_rebalance_at TIMESTAMPTZ,
	ai_managed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS positions_launch_idx ON liquidity_positions (launch_id, created_at);

CREATE TABLE IF NOT EXISTS risk_alerts (
	id TEXT PRIMARY KEY,
	launch_id TEXT NOT NULL,
	token_mint TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	indicators JSONB NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alerts_launch_idx ON risk_alerts (launch_id, created_at DESC);

CREATE TABLE IF NOT EXISTS activity_log (
	id TEXT PRIMARY KEY,
	launch_id TEXT NOT NULL DEFAULT '',
	position_id TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	duration_ns BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS activity_launch_idx ON activity_log (launch_id, created_at);
CREATE INDEX IF NOT EXISTS activity_job_idx ON activity_log (job_id, created_at);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	queue TEXT NOT NULL,
	job_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	entity_key TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	attempt INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	result JSONB,
	error TEXT NOT NULL DEFAULT '',
	not_before TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_queue_idx ON jobs (queue, created_at);
`

// execer is the slice of pgxpool.Pool that schema application needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func ensureSchema(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// EnsureSchema creates all tables if they do not exist yet. Connect runs it
// on every start; it is exposed for tooling that manages pools itself.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, p.Pool)
}

// isDuplicateKeyError reports a unique-constraint violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isNotFoundError reports a no-rows result.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
