package migration_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstore/internal/migration"
	"flowstore/internal/store"
	"flowstore/pkg/market"
)

func archiveMigrator(db *store.DB, cfg migration.Config) *migration.ArchiveMigrator {
	return migration.NewArchiveMigrator(db, cfg, market.NewCatalog(btcLinear, ethLinear), market.BinanceLinear)
}

func TestParseArchiveName(t *testing.T) {
	symbol, day, err := migration.ParseArchiveName("/data/aggTrades/BTCUSDT-aggTrades-2024-01-15.zip")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", symbol)
	assert.Equal(t, "2024-01-15", day.Format("2006-01-02"))

	for _, bad := range []string{"btcusdt-aggTrades-2024-01-15.zip", "BTCUSDT-trades-2024-01-15.zip", "BTCUSDT-aggTrades-2024-13-40.zip", "BTCUSDT-aggTrades-2024-01-15.csv"} {
		_, _, err := migration.ParseArchiveName(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAggTradeIsExact(t *testing.T) {
	tr, err := migration.ParseAggTrade([]string{"1", "0.00000001", "2.5", "10", "11", "1705276800123", "false"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tr.Price.Units)
	assert.Equal(t, float32(2.5), tr.Qty)
	assert.Equal(t, uint64(1705276800123), tr.Time)
	assert.Equal(t, uint64(1), tr.Seq)
	assert.False(t, tr.IsSell)

	tr, err = migration.ParseAggTrade([]string{"1", "42000.12345678", "0.001", "10", "11", "1", "True"})
	require.NoError(t, err)
	assert.Equal(t, int64(4_200_012_345_678), tr.Price.Units)
	assert.True(t, tr.IsSell)

	_, err = migration.ParseAggTrade([]string{"1", "abc", "1", "1", "1", "1", "true"})
	assert.Error(t, err)
	_, err = migration.ParseAggTrade([]string{"1", "2"})
	assert.Error(t, err)
}

func TestMigrateSingleArchive(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	path := writeArchive(t, t.TempDir(), "BTCUSDT-aggTrades-2024-01-15.zip",
		aggHeader,
		"1,42000.1,0.5,1,1,1705276800000,true",
		"2,42000.2,0.25,2,3,1705276800100,false",
		"3,42000.1,1.0,4,4,1705276800200,true",
	)
	m := archiveMigrator(db, testConfig())

	stats, err := m.MigrateSingleArchive(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 3, stats.TradesMigrated)
	assert.Empty(t, stats.Errors)

	trades, err := db.Trades().Query(ctx, btcLinear, 0, 1705276900000)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	sells := []bool{trades[0].IsSell, trades[1].IsSell, trades[2].IsSell}
	assert.Equal(t, []bool{true, false, true}, sells)
	assert.Equal(t, px(42000.2), trades[1].Price)

	// a rerun reports the same stats and leaves the table unchanged
	again, err := m.MigrateSingleArchive(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, stats, again)
	n, err := db.Trades().Count(ctx, btcLinear)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMigrateSingleArchiveRowErrorsAreCapped(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	lines := []string{"1,100.0,1,1,1,1000,false"}
	for i := 0; i < 12; i++ {
		lines = append(lines, "2,not-a-price,1,1,1,1000,false")
	}
	path := writeArchive(t, t.TempDir(), "ETHUSDT-aggTrades-2024-01-15.zip", lines...)

	stats, err := archiveMigrator(db, testConfig()).MigrateSingleArchive(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TradesMigrated)
	require.Len(t, stats.Errors, 11)
	assert.Contains(t, stats.Errors[10], "2 more malformed rows")
}

func TestMigrateSingleArchiveFailures(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	dir := t.TempDir()
	m := archiveMigrator(db, testConfig())

	_, err := m.MigrateSingleArchive(ctx, writeArchive(t, dir, "trades.zip", "x"))
	assert.True(t, store.IsKind(err, store.KindConfiguration))

	_, err = m.MigrateSingleArchive(ctx, writeArchive(t, dir, "SOLUSDT-aggTrades-2024-01-15.zip", "x"))
	assert.True(t, store.IsKind(err, store.KindNotFound))

	_, err = m.MigrateSingleArchive(ctx, filepath.Join(dir, "BTCUSDT-aggTrades-2024-01-16.zip"))
	assert.True(t, store.IsKind(err, store.KindIo))
}

func TestMigrateDirectoryContinuesPastBadFiles(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	root := t.TempDir()
	writeArchive(t, filepath.Join(root, "BTCUSDT"), "BTCUSDT-aggTrades-2024-01-15.zip",
		"1,42000.1,0.5,1,1,1705276800000,true",
		"2,42000.2,0.5,2,2,1705276800001,false",
	)
	writeArchive(t, filepath.Join(root, "BTCUSDT"), "BTCUSDT-aggTrades-2024-01-16.zip",
		"3,42001.0,0.5,3,3,1705363200000,true",
	)
	writeArchive(t, filepath.Join(root, "DOGEUSDT"), "DOGEUSDT-aggTrades-2024-01-15.zip",
		"1,0.1,10,1,1,1705276800000,true",
	)

	stats, err := archiveMigrator(db, testConfig()).MigrateDirectory(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Equal(t, 3, stats.TradesMigrated)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "DOGEUSDT")
}

func TestMigrateArchiveDryRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cfg := testConfig()
	cfg.DryRun = true
	path := writeArchive(t, t.TempDir(), "BTCUSDT-aggTrades-2024-01-15.zip",
		"1,42000.1,0.5,1,1,1705276800000,true",
		"2,42000.2,0.5,2,2,1705276800001,false",
		"3,42000.3,0.5,3,3,1705276800002,false",
	)

	stats, err := archiveMigrator(db, cfg).MigrateSingleArchive(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TradesMigrated)
	n, err := db.CountRows(ctx, store.TableTrades)
	require.NoError(t, err)
	assert.Zero(t, n)
}
