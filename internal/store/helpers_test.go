package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"flowstore/internal/store"
	"flowstore/pkg/market"
)

var (
	btcLinear = market.NewTickerInfo(market.BinanceLinear, "BTCUSDT", -1, -3)
	btcSpot   = market.NewTickerInfo(market.BinanceSpot, "BTCUSDT", -2, -5)
	ethLinear = market.NewTickerInfo(market.BinanceLinear, "ETHUSDT", -2, -3)
)

func openTestDB(t *testing.T, mutate ...func(*store.Options)) *store.DB {
	t.Helper()
	opts := store.DefaultOptions(filepath.Join(t.TempDir(), "data", "flow.duckdb"))
	for _, m := range mutate {
		m(&opts)
	}
	db, err := store.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func withStatements(o *store.Options) {
	o.UseAppender = false
}

// insertPaths runs fn against both the appender and the prepared-statement path.
func insertPaths(t *testing.T, fn func(t *testing.T, db *store.DB)) {
	t.Run("appender", func(t *testing.T) { fn(t, openTestDB(t)) })
	t.Run("statements", func(t *testing.T) { fn(t, openTestDB(t, withStatements)) })
}

func px(v float64) market.Price { return market.PriceFromFloat(v) }

func tradeSeq(n int, start uint64, base float64) []market.Trade {
	out := make([]market.Trade, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, market.Trade{
			Time:   start + uint64(i)*1000,
			Price:  px(base + float64(i%10)/10),
			Qty:    float32(i%7+1) / 1000,
			IsSell: i%2 == 0,
		})
	}
	return out
}
