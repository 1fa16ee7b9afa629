package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"
)

// TableCount is the row count of one table.
type TableCount struct {
	Table string
	Rows  int64
}

// Stats returns row counts for every store table.
func (db *DB) Stats(ctx context.Context) ([]TableCount, error) {
	return Read(ctx, db, func(ctx context.Context, c *Conn) ([]TableCount, error) {
		out := make([]TableCount, 0, len(Tables))
		for _, table := range Tables {
			n, err := c.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
			if err != nil {
				return nil, Wrapf(KindQuery, err, "count %s", table)
			}
			out = append(out, TableCount{Table: table, Rows: n})
		}
		return out, nil
	})
}

// CountRows returns the row count of a single store table.
func (db *DB) CountRows(ctx context.Context, table string) (int64, error) {
	if !knownTable(table) {
		return 0, Errorf(KindQuery, "unknown table %q", table)
	}
	return Read(ctx, db, func(ctx context.Context, c *Conn) (int64, error) {
		return c.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
	})
}

func knownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}

// SchemaVersion returns the applied schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return Read(ctx, db, func(ctx context.Context, c *Conn) (int, error) {
		return CurrentVersion(ctx, c.SQL)
	})
}

// TickerCoverage summarises stored trades and candles for one ticker.
type TickerCoverage struct {
	TickerID   int64
	Exchange   string
	Symbol     string
	Trades     int64
	TradeRange *TimeRange
	Klines     int64
	KlineRange *TimeRange
}

type tickerCoverageRow struct {
	TickerID   int64         `db:"ticker_id"`
	Exchange   string        `db:"exchange"`
	Symbol     string        `db:"symbol"`
	TradeCount int64         `db:"trade_count"`
	FirstTrade sql.NullInt64 `db:"first_trade"`
	LastTrade  sql.NullInt64 `db:"last_trade"`
	KlineCount int64         `db:"kline_count"`
	FirstKline sql.NullInt64 `db:"first_kline"`
	LastKline  sql.NullInt64 `db:"last_kline"`
}

func spanOf(lo, hi sql.NullInt64) *TimeRange {
	if !lo.Valid || !hi.Valid {
		return nil
	}
	return &TimeRange{Min: uint64(lo.Int64), Max: uint64(hi.Int64)}
}

// TickerCoverage reports per-ticker counts and covered time spans.
func (db *DB) TickerCoverage(ctx context.Context) ([]TickerCoverage, error) {
	return Read(ctx, db, func(ctx context.Context, c *Conn) ([]TickerCoverage, error) {
		var rows []tickerCoverageRow
		err := c.SQL.QueryRowsCtx(ctx, &rows, `WITH tr AS (
    SELECT ticker_id, COUNT(*) AS n, MIN(time) AS lo, MAX(time) AS hi FROM trades GROUP BY ticker_id
), kl AS (
    SELECT ticker_id, COUNT(*) AS n, MIN(candle_time) AS lo, MAX(candle_time) AS hi FROM klines GROUP BY ticker_id
)
SELECT t.ticker_id, e.name AS exchange, t.symbol,
    COALESCE(tr.n, 0) AS trade_count, tr.lo AS first_trade, tr.hi AS last_trade,
    COALESCE(kl.n, 0) AS kline_count, kl.lo AS first_kline, kl.hi AS last_kline
FROM tickers t
JOIN exchanges e ON e.exchange_id = t.exchange_id
LEFT JOIN tr ON tr.ticker_id = t.ticker_id
LEFT JOIN kl ON kl.ticker_id = t.ticker_id
ORDER BY e.name, t.symbol`)
		if err != nil {
			return nil, Wrap(KindQuery, err, "ticker coverage")
		}
		out := make([]TickerCoverage, 0, len(rows))
		for _, r := range rows {
			out = append(out, TickerCoverage{
				TickerID:   r.TickerID,
				Exchange:   r.Exchange,
				Symbol:     r.Symbol,
				Trades:     r.TradeCount,
				TradeRange: spanOf(r.FirstTrade, r.LastTrade),
				Klines:     r.KlineCount,
				KlineRange: spanOf(r.FirstKline, r.LastKline),
			})
		}
		return out, nil
	})
}

// Cutoffs holds per-family retention boundaries in milliseconds. Zero skips
// the family.
type Cutoffs struct {
	Trades    uint64
	Klines    uint64
	Depth     uint64
	OrderRuns uint64
}

// PruneResult reports rows removed per family.
type PruneResult struct {
	Trades     int64
	Klines     int64
	Footprints int64
	Depth      int64
	OrderRuns  int64
}

// Total sums all removed rows.
func (r PruneResult) Total() int64 {
	return r.Trades + r.Klines + r.Footprints + r.Depth + r.OrderRuns
}

// PruneOlderThan applies retention to every family. Footprints follow their
// candles and are removed first.
func (db *DB) PruneOlderThan(ctx context.Context, cut Cutoffs) (PruneResult, error) {
	return WithConn(ctx, db, func(ctx context.Context, c *Conn) (PruneResult, error) {
		var res PruneResult
		var err error
		if cut.Trades > 0 {
			if res.Trades, err = c.deleteBefore(ctx, TableTrades, "time", cut.Trades); err != nil {
				return res, err
			}
		}
		if cut.Klines > 0 {
			if res.Footprints, err = c.deleteBefore(ctx, TableFootprints, "candle_time", cut.Klines); err != nil {
				return res, err
			}
			if res.Klines, err = c.deleteBefore(ctx, TableKlines, "candle_time", cut.Klines); err != nil {
				return res, err
			}
		}
		if cut.Depth > 0 {
			if res.Depth, err = c.deleteBefore(ctx, TableDepthSnapshots, "time", cut.Depth); err != nil {
				return res, err
			}
		}
		if cut.OrderRuns > 0 {
			if res.OrderRuns, err = c.deleteBefore(ctx, TableOrderRuns, "until_time", cut.OrderRuns); err != nil {
				return res, err
			}
		}
		logx.Infof("store: pruned %d rows (trades=%d klines=%d footprints=%d depth=%d runs=%d)",
			res.Total(), res.Trades, res.Klines, res.Footprints, res.Depth, res.OrderRuns)
		return res, nil
	})
}
