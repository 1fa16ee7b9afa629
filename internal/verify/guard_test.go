package verify_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstore/internal/backup"
	"flowstore/internal/store"
	"flowstore/internal/verify"
	"flowstore/pkg/market"
)

var btcLinear = market.NewTickerInfo(market.BinanceLinear, "BTCUSDT", -1, -3)

func kline(t uint64, open float64) market.Kline {
	return market.Kline{
		Time:   t,
		Open:   market.PriceFromFloat(open),
		High:   market.PriceFromFloat(open + 10),
		Low:    market.PriceFromFloat(open - 10),
		Close:  market.PriceFromFloat(open + 5),
		Volume: market.Volume{Base: 1.5, Quote: 150},
	}
}

func openDB(t *testing.T, path string) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), store.DefaultOptions(path))
	require.NoError(t, err)
	return db
}

func exec(t *testing.T, db *store.DB, query string) {
	t.Helper()
	_, err := store.WithConn(context.Background(), db, func(ctx context.Context, c *store.Conn) (struct{}, error) {
		_, err := c.SQL.ExecCtx(ctx, query)
		return struct{}{}, err
	})
	require.NoError(t, err)
}

func seed(t *testing.T, path string) {
	t.Helper()
	db := openDB(t, path)
	defer db.Close()
	_, err := db.Klines().Insert(context.Background(), btcLinear, market.M1, []market.Kline{
		kline(60_000, 100), kline(120_000, 105),
	})
	require.NoError(t, err)
}

func TestVerifyPassed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.duckdb")
	seed(t, path)

	hc, err := verify.NewGuard(path, nil).VerifyMigration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, verify.Passed, hc.Status)
	assert.Equal(t, []string{"all checks passed"}, hc.Messages)
}

func TestVerifyWarnsOnEmptyIdentityTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.duckdb")
	require.NoError(t, openDB(t, path).Close())

	hc, err := verify.NewGuard(path, nil).VerifyMigration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, verify.Warning, hc.Status)
	assert.Len(t, hc.Messages, 2)

	// warnings never roll back
	assert.NoError(t, verify.NewGuard(path, nil).RollbackIfFailed(hc))
}

func TestVerifyMissingTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.duckdb")
	raw, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE trades (trade_id BIGINT)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	hc, err := verify.NewGuard(path, nil).VerifyMigration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, verify.Failed, hc.Status)
	require.Len(t, hc.Messages, 1)
	assert.Contains(t, hc.Messages[0], "klines")
	assert.NotContains(t, hc.Messages[0], "trades")
}

func TestVerifyOrphanFootprints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.duckdb")
	seed(t, path)
	db := openDB(t, path)
	exec(t, db, `INSERT INTO footprint_data VALUES (1, 42, 1, 60000, 600000, 100.0, 1, 1, 1, 1, 600000, 600000)`)
	require.NoError(t, db.Close())

	hc, err := verify.NewGuard(path, nil).VerifyMigration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, verify.Failed, hc.Status)
	assert.Contains(t, hc.Messages[0], "without a parent kline")
}

func TestRollbackWithoutBackup(t *testing.T) {
	err := verify.NewGuard(filepath.Join(t.TempDir(), "x.duckdb"), nil).
		RollbackIfFailed(verify.HealthCheck{Status: verify.Failed})
	require.Error(t, err)
	assert.True(t, store.IsKind(err, store.KindMigration))
}

func TestVerificationFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.duckdb")
	seed(t, path)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	mgr, err := backup.NewManager(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	meta, err := mgr.CreatePreMigrationBackup(path, false, 2)
	require.NoError(t, err)
	guard := verify.NewGuard(path, mgr)
	guard.Hold(meta)

	db := openDB(t, path)
	_, err = db.Klines().Insert(context.Background(), btcLinear, market.M1, []market.Kline{kline(180_000, 110)})
	require.NoError(t, err)
	exec(t, db, `UPDATE klines SET open = NULL`)
	require.NoError(t, db.Close())

	hc, err := guard.VerifyMigration(context.Background())
	require.NoError(t, err)
	require.Equal(t, verify.Failed, hc.Status)
	assert.Contains(t, hc.Messages[0], "3 klines with null open or close")

	require.NoError(t, guard.RollbackIfFailed(hc))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = os.Stat(path + ".wal")
	assert.True(t, os.IsNotExist(err))

	hc, err = guard.VerifyMigration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, verify.Passed, hc.Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "passed", verify.Passed.String())
	assert.Equal(t, "warning", verify.Warning.String())
	assert.Equal(t, "failed", verify.Failed.String())
}
