package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// Table names owned by the store.
const (
	TableSchemaVersion  = "schema_version"
	TableExchanges      = "exchanges"
	TableTickers        = "tickers"
	TableTrades         = "trades"
	TableKlines         = "klines"
	TableDepthSnapshots = "depth_snapshots"
	TableFootprints     = "footprint_data"
	TableOrderRuns      = "order_runs"
)

// Tables lists every table a healthy database must contain.
var Tables = []string{
	TableSchemaVersion,
	TableExchanges,
	TableTickers,
	TableTrades,
	TableKlines,
	TableDepthSnapshots,
	TableFootprints,
	TableOrderRuns,
}

const (
	createVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
)`
	selectVersion = `SELECT COALESCE(MAX(version), 0) FROM schema_version`
	insertVersion = `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`
)

// Step is one forward schema version.
type Step struct {
	Version    int
	Name       string
	Statements []string
}

// Registry applies ordered schema steps.
type Registry struct {
	steps []Step
}

// NewRegistry validates that versions are positive and strictly increasing.
func NewRegistry(steps ...Step) (*Registry, error) {
	prev := 0
	for _, step := range steps {
		if step.Version <= prev {
			return nil, Errorf(KindSchema, "step %q has version %d after %d", step.Name, step.Version, prev)
		}
		prev = step.Version
	}
	return &Registry{steps: steps}, nil
}

// DefaultRegistry returns the store's schema history.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(schemaSteps...)
	if err != nil {
		panic(err)
	}
	return r
}

// Latest returns the highest known version.
func (r *Registry) Latest() int {
	if len(r.steps) == 0 {
		return 0
	}
	return r.steps[len(r.steps)-1].Version
}

// CurrentVersion reads the applied version, zero when unstamped.
func CurrentVersion(ctx context.Context, conn sqlx.SqlConn) (int, error) {
	var version int64
	if err := conn.QueryRowCtx(ctx, &version, selectVersion); err != nil {
		return 0, Wrap(KindSchema, err, "read schema version")
	}
	return int(version), nil
}

// Apply brings the database to the latest version. A fresh database receives
// every step in one transaction stamped with the latest version; otherwise
// each pending step commits on its own with its version row written last.
func (r *Registry) Apply(ctx context.Context, conn sqlx.SqlConn) error {
	if _, err := conn.ExecCtx(ctx, createVersionTable); err != nil {
		return Wrap(KindSchema, err, "create schema_version")
	}
	current, err := CurrentVersion(ctx, conn)
	if err != nil {
		return err
	}
	latest := r.Latest()
	if current > latest {
		return Errorf(KindSchema, "database version %d is newer than supported %d", current, latest)
	}
	if current == latest {
		return nil
	}

	if current == 0 {
		err := conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
			for _, step := range r.steps {
				if err := execStep(ctx, session, step); err != nil {
					return err
				}
			}
			return stamp(ctx, session, latest)
		})
		if err != nil {
			return Wrapf(KindSchema, err, "initialise schema v%d", latest)
		}
		logx.Infof("store: schema initialised at v%d", latest)
		return nil
	}

	for _, step := range r.steps {
		if step.Version <= current {
			continue
		}
		err := conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
			if err := execStep(ctx, session, step); err != nil {
				return err
			}
			return stamp(ctx, session, step.Version)
		})
		if err != nil {
			return Wrapf(KindSchema, err, "apply schema v%d (%s)", step.Version, step.Name)
		}
		logx.Infof("store: schema migrated to v%d (%s)", step.Version, step.Name)
	}
	return nil
}

func execStep(ctx context.Context, session sqlx.Session, step Step) error {
	for i, stmt := range step.Statements {
		if _, err := session.ExecCtx(ctx, stmt); err != nil {
			return fmt.Errorf("v%d statement %d: %w", step.Version, i+1, err)
		}
	}
	return nil
}

func stamp(ctx context.Context, session sqlx.Session, version int) error {
	if _, err := session.ExecCtx(ctx, insertVersion, version, time.Now().UTC()); err != nil {
		return fmt.Errorf("stamp v%d: %w", version, err)
	}
	return nil
}

var schemaSteps = []Step{
	{
		Version: 1,
		Name:    "core tables",
		Statements: []string{
			`CREATE SEQUENCE IF NOT EXISTS tickers_id_seq START 1`,
			`CREATE TABLE IF NOT EXISTS exchanges (
    exchange_id INTEGER PRIMARY KEY,
    name VARCHAR NOT NULL UNIQUE
)`,
			`CREATE TABLE IF NOT EXISTS tickers (
    ticker_id BIGINT PRIMARY KEY DEFAULT nextval('tickers_id_seq'),
    exchange_id INTEGER NOT NULL REFERENCES exchanges (exchange_id),
    symbol VARCHAR NOT NULL,
    tick_size DOUBLE NOT NULL,
    min_quantity DOUBLE NOT NULL,
    contract_size DOUBLE,
    UNIQUE (exchange_id, symbol)
)`,
			`CREATE TABLE IF NOT EXISTS trades (
    trade_id BIGINT PRIMARY KEY,
    ticker_id BIGINT NOT NULL REFERENCES tickers (ticker_id),
    time BIGINT NOT NULL,
    price DOUBLE NOT NULL,
    qty REAL NOT NULL,
    is_sell BOOLEAN NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS klines (
    kline_id BIGINT PRIMARY KEY,
    ticker_id BIGINT NOT NULL REFERENCES tickers (ticker_id),
    timeframe BIGINT NOT NULL,
    candle_time BIGINT NOT NULL,
    open DOUBLE,
    high DOUBLE,
    low DOUBLE,
    close DOUBLE,
    base_volume REAL NOT NULL DEFAULT 0,
    quote_volume REAL NOT NULL DEFAULT 0,
    CHECK (low <= high),
    CHECK (low <= open AND open <= high),
    CHECK (low <= close AND close <= high),
    CHECK (candle_time % timeframe = 0)
)`,
			`CREATE TABLE IF NOT EXISTS depth_snapshots (
    snap_id BIGINT PRIMARY KEY,
    ticker_id BIGINT NOT NULL REFERENCES tickers (ticker_id),
    time BIGINT NOT NULL,
    payload BLOB NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS footprint_data (
    footprint_id BIGINT PRIMARY KEY,
    kline_id BIGINT NOT NULL,
    ticker_id BIGINT NOT NULL REFERENCES tickers (ticker_id),
    timeframe BIGINT NOT NULL,
    candle_time BIGINT NOT NULL,
    price DOUBLE NOT NULL,
    buy_qty REAL NOT NULL,
    sell_qty REAL NOT NULL,
    buy_count BIGINT NOT NULL,
    sell_count BIGINT NOT NULL,
    first_trade_time BIGINT NOT NULL,
    last_trade_time BIGINT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS order_runs (
    run_id BIGINT PRIMARY KEY,
    ticker_id BIGINT NOT NULL REFERENCES tickers (ticker_id),
    price DOUBLE NOT NULL,
    start_time BIGINT NOT NULL,
    until_time BIGINT NOT NULL,
    quantity REAL NOT NULL,
    is_bid BOOLEAN NOT NULL,
    CHECK (start_time <= until_time)
)`,
		},
	},
	{
		// Unconstrained mirrors used by the appender: rows land here first and
		// are merged into the real table with the conflict policy applied.
		Version: 2,
		Name:    "append staging",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS trades_stage (
    trade_id BIGINT, ticker_id BIGINT, time BIGINT, price DOUBLE, qty REAL, is_sell BOOLEAN
)`,
			`CREATE TABLE IF NOT EXISTS klines_stage (
    kline_id BIGINT, ticker_id BIGINT, timeframe BIGINT, candle_time BIGINT,
    open DOUBLE, high DOUBLE, low DOUBLE, close DOUBLE, base_volume REAL, quote_volume REAL
)`,
			`CREATE TABLE IF NOT EXISTS depth_snapshots_stage (
    snap_id BIGINT, ticker_id BIGINT, time BIGINT, payload BLOB
)`,
			`CREATE TABLE IF NOT EXISTS footprint_data_stage (
    footprint_id BIGINT, kline_id BIGINT, ticker_id BIGINT, timeframe BIGINT, candle_time BIGINT,
    price DOUBLE, buy_qty REAL, sell_qty REAL, buy_count BIGINT, sell_count BIGINT,
    first_trade_time BIGINT, last_trade_time BIGINT
)`,
			`CREATE TABLE IF NOT EXISTS order_runs_stage (
    run_id BIGINT, ticker_id BIGINT, price DOUBLE, start_time BIGINT, until_time BIGINT,
    quantity REAL, is_bid BOOLEAN
)`,
		},
	},
}
