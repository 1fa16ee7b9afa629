package migration

import (
	"context"
	"sort"

	"flowstore/internal/store"
	"flowstore/pkg/market"
)

// DepthMigrator moves per-price order runs of the heatmap into order_runs.
type DepthMigrator struct {
	db  *store.DB
	cfg Config
}

// NewDepthMigrator builds a migrator over db.
func NewDepthMigrator(db *store.DB, cfg Config) *DepthMigrator {
	return &DepthMigrator{db: db, cfg: cfg}
}

// Migrate writes every run of the ticker in (price, start_time) order.
func (m *DepthMigrator) Migrate(ctx context.Context, info market.TickerInfo, runs map[market.Price][]market.OrderRun) (Stats, error) {
	var stats Stats
	prices := make([]market.Price, 0, len(runs))
	total := 0
	for p, rs := range runs {
		prices = append(prices, p)
		total += len(rs)
	}
	if total == 0 {
		return stats, nil
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Less(prices[j]) })

	flat := make([]market.OrderRun, 0, total)
	for _, p := range prices {
		rs := append([]market.OrderRun(nil), runs[p]...)
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].StartTime < rs[j].StartTime })
		for _, r := range rs {
			r.Price = p
			flat = append(flat, r)
		}
	}

	ref := store.TickerRef{Info: info}
	if !m.cfg.DryRun {
		var err error
		if ref, err = m.db.ResolveTicker(ctx, info); err != nil {
			return stats, err
		}
	}

	label := info.Ticker.String() + " order runs"
	progress := NewProgress(uint64(len(flat)), label)
	for _, w := range chunks(len(flat), m.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return stats, store.Wrap(store.KindMigration, err, label)
		}
		batch := flat[w[0]:w[1]]
		if m.cfg.DryRun {
			stats.RunsMigrated += len(batch)
		} else if n, err := m.db.OrderRuns().InsertFor(ctx, ref, batch); err != nil {
			stats.addError("%s batch %d-%d: %v", label, w[0], w[1], err)
		} else {
			stats.RunsMigrated += n
		}
		progress.Update(uint64(len(batch)))
	}
	progress.Finish()
	return stats, nil
}
