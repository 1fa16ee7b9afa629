package migration

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/store"
	"flowstore/pkg/market"
)

// TimeSeriesMigrator moves in-memory candle series with their footprints
// into the klines and footprint_data tables.
type TimeSeriesMigrator struct {
	db  *store.DB
	cfg Config
}

// NewTimeSeriesMigrator builds a migrator over db.
func NewTimeSeriesMigrator(db *store.DB, cfg Config) *TimeSeriesMigrator {
	return &TimeSeriesMigrator{db: db, cfg: cfg}
}

// Migrate writes candles first, then footprints, resolving the ticker once.
func (m *TimeSeriesMigrator) Migrate(ctx context.Context, info market.TickerInfo, series *market.TimeSeries) (Stats, error) {
	ref, err := m.resolve(ctx, info)
	if err != nil {
		return Stats{}, err
	}
	stats, err := m.klines(ctx, ref, series)
	if err != nil {
		return stats, err
	}
	fp, err := m.footprints(ctx, ref, series)
	stats.Merge(fp)
	return stats, err
}

// MigrateKlines writes only the candles of series.
func (m *TimeSeriesMigrator) MigrateKlines(ctx context.Context, info market.TickerInfo, series *market.TimeSeries) (Stats, error) {
	ref, err := m.resolve(ctx, info)
	if err != nil {
		return Stats{}, err
	}
	return m.klines(ctx, ref, series)
}

// MigrateFootprints writes only the footprints of series. Their candles must
// already be stored.
func (m *TimeSeriesMigrator) MigrateFootprints(ctx context.Context, info market.TickerInfo, series *market.TimeSeries) (Stats, error) {
	ref, err := m.resolve(ctx, info)
	if err != nil {
		return Stats{}, err
	}
	return m.footprints(ctx, ref, series)
}

func (m *TimeSeriesMigrator) resolve(ctx context.Context, info market.TickerInfo) (store.TickerRef, error) {
	if m.cfg.DryRun {
		return store.TickerRef{Info: info}, nil
	}
	return m.db.ResolveTicker(ctx, info)
}

func (m *TimeSeriesMigrator) klines(ctx context.Context, ref store.TickerRef, series *market.TimeSeries) (Stats, error) {
	var stats Stats
	if series == nil || series.Len() == 0 {
		return stats, nil
	}
	points := series.Points()
	label := ref.Info.Ticker.String() + " " + series.Timeframe.String() + " klines"
	progress := NewProgress(uint64(len(points)), label)

	for _, w := range chunks(len(points), m.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return stats, store.Wrap(store.KindMigration, err, label)
		}
		batch := make([]market.Kline, 0, w[1]-w[0])
		for _, dp := range points[w[0]:w[1]] {
			batch = append(batch, dp.Kline)
		}
		if m.cfg.DryRun {
			stats.KlinesMigrated += len(batch)
		} else if n, err := m.db.Klines().InsertFor(ctx, ref, series.Timeframe, batch); err != nil {
			stats.addError("%s batch %d-%d: %v", label, batch[0].Time, batch[len(batch)-1].Time, err)
		} else {
			stats.KlinesMigrated += n
		}
		progress.Update(uint64(len(batch)))
	}
	progress.Finish()
	return stats, nil
}

func (m *TimeSeriesMigrator) footprints(ctx context.Context, ref store.TickerRef, series *market.TimeSeries) (Stats, error) {
	var stats Stats
	if series == nil || series.Len() == 0 {
		return stats, nil
	}
	var items []store.CandleFootprint
	series.Range(func(t uint64, dp *market.KlineDataPoint) bool {
		for _, b := range dp.Footprint.Buckets() {
			items = append(items, store.CandleFootprint{CandleTime: t, Bucket: b})
		}
		return true
	})
	if len(items) == 0 {
		return stats, nil
	}
	label := ref.Info.Ticker.String() + " " + series.Timeframe.String() + " footprints"
	progress := NewProgress(uint64(len(items)), label)

	for _, w := range chunks(len(items), m.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return stats, store.Wrap(store.KindMigration, err, label)
		}
		batch := items[w[0]:w[1]]
		if m.cfg.DryRun {
			stats.FootprintsMigrated += len(batch)
		} else if n, err := m.db.Footprints().InsertFor(ctx, ref, series.Timeframe, batch); err != nil {
			stats.addError("%s batch %d-%d: %v", label, batch[0].CandleTime, batch[len(batch)-1].CandleTime, err)
		} else {
			stats.FootprintsMigrated += n
		}
		progress.Update(uint64(len(batch)))
	}
	progress.Finish()
	logx.Infof("migration: %s done: %s", label, stats)
	return stats, nil
}
