package migration_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"flowstore/internal/migration"
	"flowstore/internal/store"
	"flowstore/pkg/market"
)

var (
	btcLinear = market.NewTickerInfo(market.BinanceLinear, "BTCUSDT", -1, -3)
	ethLinear = market.NewTickerInfo(market.BinanceLinear, "ETHUSDT", -2, -3)
)

const aggHeader = "agg_trade_id,price,quantity,first_trade_id,last_trade_id,transact_time,is_buyer_maker"

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), store.DefaultOptions(filepath.Join(t.TempDir(), "flow.duckdb")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConfig() migration.Config {
	cfg := migration.DefaultConfig()
	cfg.BatchSize = 2
	return cfg
}

func px(v float64) market.Price { return market.PriceFromFloat(v) }

func kline(t uint64, open float64) market.Kline {
	return market.Kline{
		Time:   t,
		Open:   px(open),
		High:   px(open + 10),
		Low:    px(open - 10),
		Close:  px(open + 5),
		Volume: market.Volume{Base: 2, Quote: 200},
	}
}

// series builds n one-minute candles, each with two footprint levels.
func series(n int) *market.TimeSeries {
	ts := market.NewTimeSeries(market.M1, btcLinear.MinTicksize)
	for i := 0; i < n; i++ {
		t := uint64(i+1) * 60_000
		fp := market.KlineTrades{}
		fp.AddTrade(market.Trade{Time: t + 1, Price: px(100), Qty: 0.5}, btcLinear.MinTicksize)
		fp.AddTrade(market.Trade{Time: t + 2, Price: px(100.1), Qty: 0.25, IsSell: true}, btcLinear.MinTicksize)
		ts.Insert(market.KlineDataPoint{Kline: kline(t, 100), Footprint: fp})
	}
	return ts
}

// writeArchive zips a single CSV member built from lines.
func writeArchive(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create(strings.TrimSuffix(name, ".zip") + ".csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}
