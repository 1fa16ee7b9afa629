package store

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"flowstore/pkg/market"
)

var klinesTable = tableSpec{
	name: TableKlines,
	columns: []string{
		"kline_id", "ticker_id", "timeframe", "candle_time",
		"open", "high", "low", "close", "base_volume", "quote_volume",
	},
	key:    "kline_id",
	update: []string{"open", "high", "low", "close", "base_volume", "quote_volume"},
}

// KlineStore persists candles per (ticker, timeframe).
type KlineStore struct {
	db *DB
}

// Klines returns the kline family.
func (db *DB) Klines() *KlineStore {
	return &KlineStore{db: db}
}

// Insert upserts candles for the ticker in one transaction.
func (s *KlineStore) Insert(ctx context.Context, info market.TickerInfo, tf market.Timeframe, klines []market.Kline) (int, error) {
	if len(klines) == 0 {
		return 0, nil
	}
	ref, err := s.db.ResolveTicker(ctx, info)
	if err != nil {
		return 0, err
	}
	return s.InsertFor(ctx, ref, tf, klines)
}

// InsertFor upserts candles for an already resolved ticker.
func (s *KlineStore) InsertFor(ctx context.Context, ref TickerRef, tf market.Timeframe, klines []market.Kline) (int, error) {
	if len(klines) == 0 {
		return 0, nil
	}
	if !tf.Valid() {
		return 0, Errorf(KindInsert, "unknown timeframe %d", uint8(tf))
	}
	tfMs := int64(tf.Milliseconds())
	rows := make([]row, 0, len(klines))
	for _, k := range klines {
		if !storableTime(k.Time) {
			return 0, Errorf(KindInsert, "kline time %d out of range", k.Time)
		}
		if !tf.Aligned(k.Time) {
			return 0, Errorf(KindInsert, "kline %d not aligned to %s", k.Time, tf)
		}
		if k.Low.Units < 0 {
			return 0, Errorf(KindInsert, "kline %d: negative price", k.Time)
		}
		if err := k.Validate(); err != nil {
			return 0, Wrap(KindInsert, err, ref.Info.Ticker.String())
		}
		id := KlineID(ref.ID, tf, k.Time)
		rows = append(rows, row{key: id, values: []driver.Value{
			id, ref.ID, tfMs, int64(k.Time),
			k.Open.Float64(), k.High.Float64(), k.Low.Float64(), k.Close.Float64(),
			k.Volume.Base, k.Volume.Quote,
		}})
	}
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int, error) {
		return c.write(ctx, klinesTable, rows)
	})
}

type klineRow struct {
	CandleTime  int64           `db:"candle_time"`
	Open        sql.NullFloat64 `db:"open"`
	High        sql.NullFloat64 `db:"high"`
	Low         sql.NullFloat64 `db:"low"`
	Close       sql.NullFloat64 `db:"close"`
	BaseVolume  float32         `db:"base_volume"`
	QuoteVolume float32         `db:"quote_volume"`
}

func (r klineRow) kline() (market.Kline, error) {
	k := market.Kline{
		Time:   uint64(r.CandleTime),
		Volume: market.Volume{Base: r.BaseVolume, Quote: r.QuoteVolume},
	}
	for _, f := range []struct {
		dst *market.Price
		src float64
	}{
		{&k.Open, r.Open.Float64},
		{&k.High, r.High.Float64},
		{&k.Low, r.Low.Float64},
		{&k.Close, r.Close.Float64},
	} {
		p, err := storedPrice(f.src)
		if err != nil {
			return market.Kline{}, Wrapf(KindQuery, err, "kline %d", r.CandleTime)
		}
		*f.dst = p
	}
	return k, nil
}

// Query returns candles with start <= candle_time <= end in time order.
func (s *KlineStore) Query(ctx context.Context, info market.TickerInfo, tf market.Timeframe, start, end uint64) ([]market.Kline, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) ([]market.Kline, error) {
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return []market.Kline{}, err
		}
		var rows []klineRow
		err = c.SQL.QueryRowsCtx(ctx, &rows, `SELECT candle_time, open, high, low, close, base_volume, quote_volume
FROM klines
WHERE ticker_id = ? AND timeframe = ? AND candle_time BETWEEN ? AND ?
ORDER BY candle_time`, id, int64(tf.Milliseconds()), dbTime(start), dbTime(end))
		if err != nil {
			return nil, Wrapf(KindQuery, err, "query klines %s %s", info.Ticker, tf)
		}
		out := make([]market.Kline, 0, len(rows))
		for _, r := range rows {
			k, err := r.kline()
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
		return out, nil
	})
}

// Coverage returns the first and last candle time for (ticker, timeframe).
func (s *KlineStore) Coverage(ctx context.Context, info market.TickerInfo, tf market.Timeframe) (TimeRange, bool, error) {
	return s.db.tickerCoverage(ctx, info, `SELECT MIN(candle_time) AS min_time, MAX(candle_time) AS max_time
FROM klines WHERE ticker_id = ? AND timeframe = ?`, int64(tf.Milliseconds()))
}

// Count returns the number of stored candles for (ticker, timeframe).
func (s *KlineStore) Count(ctx context.Context, info market.TickerInfo, tf market.Timeframe) (int64, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) (int64, error) {
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return 0, err
		}
		return c.count(ctx, `SELECT COUNT(*) FROM klines WHERE ticker_id = ? AND timeframe = ?`, id, int64(tf.Milliseconds()))
	})
}

// DeleteOlderThan removes candles with candle_time < cutoff together with
// their footprints.
func (s *KlineStore) DeleteOlderThan(ctx context.Context, cutoff uint64) (int64, error) {
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int64, error) {
		if _, err := c.deleteBefore(ctx, TableFootprints, "candle_time", cutoff); err != nil {
			return 0, err
		}
		return c.deleteBefore(ctx, TableKlines, "candle_time", cutoff)
	})
}

type seriesRow struct {
	klineRow
	FootprintPrice sql.NullFloat64 `db:"fp_price"`
	BuyQty         sql.NullFloat64 `db:"buy_qty"`
	SellQty        sql.NullFloat64 `db:"sell_qty"`
	BuyCount       sql.NullInt64   `db:"buy_count"`
	SellCount      sql.NullInt64   `db:"sell_count"`
	FirstTradeTime sql.NullInt64   `db:"first_trade_time"`
	LastTradeTime  sql.NullInt64   `db:"last_trade_time"`
}

// LoadTimeSeries joins candles with their footprints in one query and returns
// a fully materialised series.
func (s *KlineStore) LoadTimeSeries(ctx context.Context, info market.TickerInfo, tf market.Timeframe, start, end uint64) (*market.TimeSeries, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) (*market.TimeSeries, error) {
		series := market.NewTimeSeries(tf, info.MinTicksize)
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return series, err
		}
		var rows []seriesRow
		err = c.SQL.QueryRowsCtx(ctx, &rows, `SELECT k.candle_time, k.open, k.high, k.low, k.close, k.base_volume, k.quote_volume,
    f.price AS fp_price, f.buy_qty, f.sell_qty, f.buy_count, f.sell_count, f.first_trade_time, f.last_trade_time
FROM klines k
LEFT JOIN footprint_data f ON f.kline_id = k.kline_id
WHERE k.ticker_id = ? AND k.timeframe = ? AND k.candle_time BETWEEN ? AND ?
ORDER BY k.candle_time, f.price`, id, int64(tf.Milliseconds()), dbTime(start), dbTime(end))
		if err != nil {
			return nil, Wrapf(KindQuery, err, "load series %s %s", info.Ticker, tf)
		}
		for _, r := range rows {
			t := uint64(r.CandleTime)
			dp, ok := series.Get(t)
			if !ok {
				k, err := r.kline()
				if err != nil {
					return nil, err
				}
				series.Insert(market.KlineDataPoint{Kline: k})
				dp, _ = series.Get(t)
			}
			if !r.FootprintPrice.Valid {
				continue
			}
			p, err := storedPrice(r.FootprintPrice.Float64)
			if err != nil {
				return nil, err
			}
			dp.Footprint[p] = market.FootprintBucket{
				Price:     p,
				BuyQty:    float32(r.BuyQty.Float64),
				SellQty:   float32(r.SellQty.Float64),
				BuyCount:  uint64(r.BuyCount.Int64),
				SellCount: uint64(r.SellCount.Int64),
				FirstTime: uint64(r.FirstTradeTime.Int64),
				LastTime:  uint64(r.LastTradeTime.Int64),
			}
		}
		return series, nil
	})
}
