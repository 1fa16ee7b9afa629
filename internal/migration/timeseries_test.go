package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstore/internal/migration"
	"flowstore/internal/store"
	"flowstore/pkg/market"
)

func TestMigrateKlinesTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ts := market.NewTimeSeries(market.M1, btcLinear.MinTicksize)
	ts.Insert(market.KlineDataPoint{Kline: kline(60_000, 100)})
	m := migration.NewTimeSeriesMigrator(db, testConfig())

	for i := 0; i < 2; i++ {
		stats, err := m.MigrateKlines(ctx, btcLinear, ts)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.KlinesMigrated)
		assert.Empty(t, stats.Errors)
	}
	n, err := db.CountRows(ctx, store.TableKlines)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMigrateSeriesWithFootprints(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := migration.NewTimeSeriesMigrator(db, testConfig())

	first, err := m.Migrate(ctx, btcLinear, series(5))
	require.NoError(t, err)
	assert.Equal(t, 5, first.KlinesMigrated)
	assert.Equal(t, 10, first.FootprintsMigrated)
	assert.Empty(t, first.Errors)

	again, err := m.Migrate(ctx, btcLinear, series(5))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	fps, err := db.Footprints().Query(ctx, btcLinear, market.M1, 0, 1_000_000)
	require.NoError(t, err)
	require.Len(t, fps, 10)
	assert.Equal(t, uint64(60_000), fps[0].CandleTime)
	assert.Equal(t, px(100), fps[0].Bucket.Price)
	assert.Equal(t, px(100.1), fps[1].Bucket.Price)
	assert.Equal(t, uint64(1), fps[1].Bucket.SellCount)

	loaded, err := db.Klines().LoadTimeSeries(ctx, btcLinear, market.M1, 0, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Len())
}

func TestMigrateFootprintsWithoutCandlesRecordsErrors(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := migration.NewTimeSeriesMigrator(db, testConfig())

	stats, err := m.MigrateFootprints(ctx, btcLinear, series(3))
	require.NoError(t, err)
	assert.Zero(t, stats.FootprintsMigrated)
	assert.Len(t, stats.Errors, 3)

	n, err := db.CountRows(ctx, store.TableFootprints)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrateDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cfg := testConfig()
	cfg.DryRun = true

	stats, err := migration.NewTimeSeriesMigrator(db, cfg).Migrate(ctx, btcLinear, series(3))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.KlinesMigrated)
	assert.Equal(t, 6, stats.FootprintsMigrated)

	counts, err := db.Stats(ctx)
	require.NoError(t, err)
	for _, c := range counts {
		if c.Table == store.TableSchemaVersion {
			continue
		}
		assert.Zero(t, c.Rows, c.Table)
	}
}

func TestMigrateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := openTestDB(t)
	cfg := testConfig()
	cfg.DryRun = true

	_, err := migration.NewTimeSeriesMigrator(db, cfg).MigrateKlines(ctx, btcLinear, series(3))
	require.Error(t, err)
	assert.True(t, store.IsKind(err, store.KindMigration))
}

func TestDepthMigratorOrdersRuns(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runs := map[market.Price][]market.OrderRun{
		px(101): {
			{StartTime: 3_000, UntilTime: 4_000, Qty: 1, IsBid: false},
			{StartTime: 1_000, UntilTime: 2_000, Qty: 2, IsBid: false},
		},
		px(99): {
			// price is taken from the map key
			{Price: px(1), StartTime: 1_500, UntilTime: 5_000, Qty: 3, IsBid: true},
		},
	}

	stats, err := migration.NewDepthMigrator(db, testConfig()).Migrate(ctx, btcLinear, runs)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RunsMigrated)
	assert.Empty(t, stats.Errors)

	got, err := db.OrderRuns().Query(ctx, btcLinear, 0, 10_000)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, px(101), got[0].Price)
	assert.Equal(t, uint64(1_000), got[0].StartTime)
	assert.Equal(t, px(99), got[1].Price)
	assert.True(t, got[1].IsBid)
	assert.Equal(t, uint64(3_000), got[2].StartTime)

	empty, err := migration.NewDepthMigrator(db, testConfig()).Migrate(ctx, ethLinear, nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Rows())
}
