package store

import (
	"context"
	"database/sql/driver"

	"flowstore/pkg/market"
)

var orderRunsTable = tableSpec{
	name:    TableOrderRuns,
	columns: []string{"run_id", "ticker_id", "price", "start_time", "until_time", "quantity", "is_bid"},
	key:     "run_id",
	update:  []string{"until_time", "quantity", "is_bid"},
}

// OrderRunStore persists resting-order episodes for heatmaps.
type OrderRunStore struct {
	db *DB
}

// OrderRuns returns the order-run family.
func (db *DB) OrderRuns() *OrderRunStore {
	return &OrderRunStore{db: db}
}

// Insert upserts runs for the ticker in one transaction.
func (s *OrderRunStore) Insert(ctx context.Context, info market.TickerInfo, runs []market.OrderRun) (int, error) {
	if len(runs) == 0 {
		return 0, nil
	}
	ref, err := s.db.ResolveTicker(ctx, info)
	if err != nil {
		return 0, err
	}
	return s.InsertFor(ctx, ref, runs)
}

// InsertFor upserts runs for a resolved ticker.
func (s *OrderRunStore) InsertFor(ctx context.Context, ref TickerRef, runs []market.OrderRun) (int, error) {
	if len(runs) == 0 {
		return 0, nil
	}
	rows := make([]row, 0, len(runs))
	for _, r := range runs {
		if !storableTime(r.StartTime) || !storableTime(r.UntilTime) {
			return 0, Errorf(KindInsert, "order run %d..%d: time out of range", r.StartTime, r.UntilTime)
		}
		if r.Price.Units < 0 {
			return 0, Errorf(KindInsert, "order run at %d: negative price %s", r.StartTime, r.Price)
		}
		if err := r.Validate(); err != nil {
			return 0, Wrap(KindInsert, err, ref.Info.Ticker.String())
		}
		id := RunID(ref.ID, r.Price, r.StartTime)
		rows = append(rows, row{key: id, values: []driver.Value{
			id, ref.ID, r.Price.Float64(), int64(r.StartTime), int64(r.UntilTime), r.Qty, r.IsBid,
		}})
	}
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int, error) {
		return c.write(ctx, orderRunsTable, rows)
	})
}

type orderRunRow struct {
	Price     float64 `db:"price"`
	StartTime int64   `db:"start_time"`
	UntilTime int64   `db:"until_time"`
	Quantity  float32 `db:"quantity"`
	IsBid     bool    `db:"is_bid"`
}

// Query returns runs active anywhere in [start, end] ordered by
// (start_time, price).
func (s *OrderRunStore) Query(ctx context.Context, info market.TickerInfo, start, end uint64) ([]market.OrderRun, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) ([]market.OrderRun, error) {
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return []market.OrderRun{}, err
		}
		var rows []orderRunRow
		err = c.SQL.QueryRowsCtx(ctx, &rows, `SELECT price, start_time, until_time, quantity, is_bid
FROM order_runs
WHERE ticker_id = ? AND until_time >= ? AND start_time <= ?
ORDER BY start_time, price`, id, dbTime(start), dbTime(end))
		if err != nil {
			return nil, Wrapf(KindQuery, err, "query order runs %s", info.Ticker)
		}
		out := make([]market.OrderRun, 0, len(rows))
		for _, r := range rows {
			p, err := storedPrice(r.Price)
			if err != nil {
				return nil, err
			}
			out = append(out, market.OrderRun{
				Price:     p,
				StartTime: uint64(r.StartTime),
				UntilTime: uint64(r.UntilTime),
				Qty:       r.Quantity,
				IsBid:     r.IsBid,
			})
		}
		return out, nil
	})
}

// Coverage returns the earliest start and latest until time for the ticker.
func (s *OrderRunStore) Coverage(ctx context.Context, info market.TickerInfo) (TimeRange, bool, error) {
	return s.db.tickerCoverage(ctx, info,
		`SELECT MIN(start_time) AS min_time, MAX(until_time) AS max_time FROM order_runs WHERE ticker_id = ?`)
}

// DeleteOlderThan removes runs that ended before cutoff.
func (s *OrderRunStore) DeleteOlderThan(ctx context.Context, cutoff uint64) (int64, error) {
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int64, error) {
		return c.deleteBefore(ctx, TableOrderRuns, "until_time", cutoff)
	})
}
