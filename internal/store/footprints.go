package store

import (
	"context"
	"database/sql/driver"
	"slices"

	"flowstore/pkg/market"
)

var footprintsTable = tableSpec{
	name: TableFootprints,
	columns: []string{
		"footprint_id", "kline_id", "ticker_id", "timeframe", "candle_time", "price",
		"buy_qty", "sell_qty", "buy_count", "sell_count", "first_trade_time", "last_trade_time",
	},
	key:    "footprint_id",
	update: []string{"buy_qty", "sell_qty", "buy_count", "sell_count", "first_trade_time", "last_trade_time"},
}

// CandleFootprint is one footprint bucket tagged with its parent candle.
type CandleFootprint struct {
	CandleTime uint64
	Bucket     market.FootprintBucket
}

// FootprintStore persists per-candle price-level aggregations.
type FootprintStore struct {
	db *DB
}

// Footprints returns the footprint family.
func (db *DB) Footprints() *FootprintStore {
	return &FootprintStore{db: db}
}

// Insert upserts the footprint of one candle.
func (s *FootprintStore) Insert(ctx context.Context, info market.TickerInfo, tf market.Timeframe, candleTime uint64, kt market.KlineTrades) (int, error) {
	if len(kt) == 0 {
		return 0, nil
	}
	items := make([]CandleFootprint, 0, len(kt))
	for _, b := range kt.Buckets() {
		items = append(items, CandleFootprint{CandleTime: candleTime, Bucket: b})
	}
	ref, err := s.db.ResolveTicker(ctx, info)
	if err != nil {
		return 0, err
	}
	return s.InsertFor(ctx, ref, tf, items)
}

// InsertFor upserts footprint buckets for a resolved ticker. Every parent
// candle must already be stored and every price must sit on the tick grid.
func (s *FootprintStore) InsertFor(ctx context.Context, ref TickerRef, tf market.Timeframe, items []CandleFootprint) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if !tf.Valid() {
		return 0, Errorf(KindInsert, "unknown timeframe %d", uint8(tf))
	}
	tfMs := int64(tf.Milliseconds())
	tick := ref.Info.MinTicksize

	var parents []int64
	rows := make([]row, 0, len(items))
	for _, it := range items {
		b := it.Bucket
		if !storableTime(it.CandleTime) || !storableTime(b.FirstTime) || !storableTime(b.LastTime) {
			return 0, Errorf(KindInsert, "footprint %d@%s: time out of range", it.CandleTime, b.Price)
		}
		if b.Price.Units < 0 || !validQty(b.BuyQty) || !validQty(b.SellQty) {
			return 0, Errorf(KindInsert, "footprint %d@%s: negative price or qty", it.CandleTime, b.Price)
		}
		if !b.Price.OnTick(tick) {
			return 0, Errorf(KindInsert, "footprint %d@%s: price off tick 1e%d", it.CandleTime, b.Price, tick)
		}
		klineID := KlineID(ref.ID, tf, it.CandleTime)
		parents = append(parents, klineID)
		id := FootprintID(klineID, b.Price)
		rows = append(rows, row{key: id, values: []driver.Value{
			id, klineID, ref.ID, tfMs, int64(it.CandleTime), b.Price.Float64(),
			b.BuyQty, b.SellQty, int64(b.BuyCount), int64(b.SellCount),
			int64(b.FirstTime), int64(b.LastTime),
		}})
	}
	slices.Sort(parents)
	parents = slices.Compact(parents)

	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int, error) {
		for _, klineID := range parents {
			n, err := c.count(ctx, `SELECT COUNT(*) FROM klines WHERE kline_id = ?`, klineID)
			if err != nil {
				return 0, err
			}
			if n == 0 {
				return 0, Errorf(KindInsert, "footprint references missing kline %d", klineID)
			}
		}
		return c.write(ctx, footprintsTable, rows)
	})
}

type footprintRow struct {
	CandleTime     int64   `db:"candle_time"`
	Price          float64 `db:"price"`
	BuyQty         float32 `db:"buy_qty"`
	SellQty        float32 `db:"sell_qty"`
	BuyCount       int64   `db:"buy_count"`
	SellCount      int64   `db:"sell_count"`
	FirstTradeTime int64   `db:"first_trade_time"`
	LastTradeTime  int64   `db:"last_trade_time"`
}

// Query returns buckets of candles in [start, end] ordered by (candle_time, price).
func (s *FootprintStore) Query(ctx context.Context, info market.TickerInfo, tf market.Timeframe, start, end uint64) ([]CandleFootprint, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) ([]CandleFootprint, error) {
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return []CandleFootprint{}, err
		}
		var rows []footprintRow
		err = c.SQL.QueryRowsCtx(ctx, &rows, `SELECT candle_time, price, buy_qty, sell_qty, buy_count, sell_count, first_trade_time, last_trade_time
FROM footprint_data
WHERE ticker_id = ? AND timeframe = ? AND candle_time BETWEEN ? AND ?
ORDER BY candle_time, price`, id, int64(tf.Milliseconds()), dbTime(start), dbTime(end))
		if err != nil {
			return nil, Wrapf(KindQuery, err, "query footprints %s %s", info.Ticker, tf)
		}
		out := make([]CandleFootprint, 0, len(rows))
		for _, r := range rows {
			p, err := storedPrice(r.Price)
			if err != nil {
				return nil, err
			}
			out = append(out, CandleFootprint{
				CandleTime: uint64(r.CandleTime),
				Bucket: market.FootprintBucket{
					Price:     p,
					BuyQty:    r.BuyQty,
					SellQty:   r.SellQty,
					BuyCount:  uint64(r.BuyCount),
					SellCount: uint64(r.SellCount),
					FirstTime: uint64(r.FirstTradeTime),
					LastTime:  uint64(r.LastTradeTime),
				},
			})
		}
		return out, nil
	})
}

// Coverage returns the first and last candle time carrying a footprint.
func (s *FootprintStore) Coverage(ctx context.Context, info market.TickerInfo, tf market.Timeframe) (TimeRange, bool, error) {
	return s.db.tickerCoverage(ctx, info, `SELECT MIN(candle_time) AS min_time, MAX(candle_time) AS max_time
FROM footprint_data WHERE ticker_id = ? AND timeframe = ?`, int64(tf.Milliseconds()))
}

// DeleteOlderThan removes buckets whose candle_time < cutoff.
func (s *FootprintStore) DeleteOlderThan(ctx context.Context, cutoff uint64) (int64, error) {
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int64, error) {
		return c.deleteBefore(ctx, TableFootprints, "candle_time", cutoff)
	})
}
