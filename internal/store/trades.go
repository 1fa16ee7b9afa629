package store

import (
	"context"
	"database/sql/driver"
	"math"

	"flowstore/pkg/market"
)

var tradesTable = tableSpec{
	name:    TableTrades,
	columns: []string{"trade_id", "ticker_id", "time", "price", "qty", "is_sell"},
	key:     "trade_id",
}

// TradeStore persists executed trades.
type TradeStore struct {
	db *DB
}

// Trades returns the trade family.
func (db *DB) Trades() *TradeStore {
	return &TradeStore{db: db}
}

// Insert upserts trades for the ticker in one transaction.
func (s *TradeStore) Insert(ctx context.Context, info market.TickerInfo, trades []market.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	ref, err := s.db.ResolveTicker(ctx, info)
	if err != nil {
		return 0, err
	}
	return s.InsertFor(ctx, ref, trades)
}

// InsertFor upserts trades for an already resolved ticker.
func (s *TradeStore) InsertFor(ctx context.Context, ref TickerRef, trades []market.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	ids := tradeIDs(ref.ID, trades)
	rows := make([]row, 0, len(trades))
	for i, t := range trades {
		if t.Price.Units < 0 || !validQty(t.Qty) {
			return 0, Errorf(KindInsert, "trade %d at %d: negative price or invalid qty", i, t.Time)
		}
		if !storableTime(t.Time) {
			return 0, Errorf(KindInsert, "trade %d: time %d out of range", i, t.Time)
		}
		id := ids[i]
		rows = append(rows, row{key: id, values: []driver.Value{
			id, ref.ID, int64(t.Time), t.Price.Float64(), t.Qty, t.IsSell,
		}})
	}
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int, error) {
		return c.write(ctx, tradesTable, rows)
	})
}

type tradeRow struct {
	Time   int64   `db:"time"`
	Price  float64 `db:"price"`
	Qty    float32 `db:"qty"`
	IsSell bool    `db:"is_sell"`
}

// Query returns trades with start <= time <= end ordered by (time, price).
func (s *TradeStore) Query(ctx context.Context, info market.TickerInfo, start, end uint64) ([]market.Trade, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) ([]market.Trade, error) {
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return []market.Trade{}, err
		}
		var rows []tradeRow
		err = c.SQL.QueryRowsCtx(ctx, &rows, `SELECT time, price, qty, is_sell FROM trades
WHERE ticker_id = ? AND time BETWEEN ? AND ?
ORDER BY time, price`, id, dbTime(start), dbTime(end))
		if err != nil {
			return nil, Wrapf(KindQuery, err, "query trades %s", info.Ticker)
		}
		out := make([]market.Trade, 0, len(rows))
		for _, r := range rows {
			p, err := storedPrice(r.Price)
			if err != nil {
				return nil, err
			}
			out = append(out, market.Trade{
				Time:   uint64(r.Time),
				Price:  p,
				Qty:    r.Qty,
				IsSell: r.IsSell,
			})
		}
		return out, nil
	})
}

type aggregatedRow struct {
	Price     float64 `db:"price"`
	BuyQty    float64 `db:"buy_qty"`
	SellQty   float64 `db:"sell_qty"`
	BuyCount  int64   `db:"buy_count"`
	SellCount int64   `db:"sell_count"`
}

// QueryAggregated sums trades per price level in one SQL aggregation.
func (s *TradeStore) QueryAggregated(ctx context.Context, info market.TickerInfo, start, end uint64) ([]market.AggregatedLevel, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) ([]market.AggregatedLevel, error) {
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return []market.AggregatedLevel{}, err
		}
		var rows []aggregatedRow
		err = c.SQL.QueryRowsCtx(ctx, &rows, `SELECT price,
    COALESCE(SUM(qty) FILTER (WHERE NOT is_sell), 0) AS buy_qty,
    COALESCE(SUM(qty) FILTER (WHERE is_sell), 0) AS sell_qty,
    COUNT(*) FILTER (WHERE NOT is_sell) AS buy_count,
    COUNT(*) FILTER (WHERE is_sell) AS sell_count
FROM trades
WHERE ticker_id = ? AND time BETWEEN ? AND ?
GROUP BY price
ORDER BY price`, id, dbTime(start), dbTime(end))
		if err != nil {
			return nil, Wrapf(KindQuery, err, "aggregate trades %s", info.Ticker)
		}
		out := make([]market.AggregatedLevel, 0, len(rows))
		for _, r := range rows {
			p, err := storedPrice(r.Price)
			if err != nil {
				return nil, err
			}
			out = append(out, market.AggregatedLevel{
				Price:     p,
				BuyQty:    r.BuyQty,
				SellQty:   r.SellQty,
				BuyCount:  uint64(r.BuyCount),
				SellCount: uint64(r.SellCount),
			})
		}
		return out, nil
	})
}

// Coverage returns the min and max trade time for the ticker.
func (s *TradeStore) Coverage(ctx context.Context, info market.TickerInfo) (TimeRange, bool, error) {
	return s.db.tickerCoverage(ctx, info,
		`SELECT MIN(time) AS min_time, MAX(time) AS max_time FROM trades WHERE ticker_id = ?`)
}

// Count returns the number of stored trades for the ticker.
func (s *TradeStore) Count(ctx context.Context, info market.TickerInfo) (int64, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) (int64, error) {
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return 0, err
		}
		return c.count(ctx, `SELECT COUNT(*) FROM trades WHERE ticker_id = ?`, id)
	})
}

// DeleteOlderThan removes trades with time < cutoff.
func (s *TradeStore) DeleteOlderThan(ctx context.Context, cutoff uint64) (int64, error) {
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int64, error) {
		return c.deleteBefore(ctx, TableTrades, "time", cutoff)
	})
}

func validQty(q float32) bool {
	f := float64(q)
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}
