package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"flowstore/internal/store"
	"flowstore/pkg/market"
)

func TestDeterministicIDs(t *testing.T) {
	tr := market.Trade{Time: 1705334400000, Price: px(50000), Qty: 0.001, IsSell: true}
	assert.Equal(t, store.TradeID(1, tr, 0), store.TradeID(1, tr, 0))
	assert.NotEqual(t, store.TradeID(1, tr, 0), store.TradeID(2, tr, 0))
	assert.NotEqual(t, store.TradeID(1, tr, 0), store.TradeID(1, tr, 1))

	other := tr
	other.IsSell = false
	assert.NotEqual(t, store.TradeID(1, tr, 0), store.TradeID(1, other, 0))

	seq := tr
	seq.Seq = 42
	assert.Equal(t, store.TradeID(1, seq, 0), store.TradeID(1, seq, 3))
	seq2 := seq
	seq2.Seq = 43
	assert.NotEqual(t, store.TradeID(1, seq, 0), store.TradeID(1, seq2, 0))

	k := store.KlineID(7, market.M1, 1705334400000)
	assert.Equal(t, k, store.KlineID(7, market.M1, 1705334400000))
	assert.NotEqual(t, k, store.KlineID(7, market.M5, 1705334400000))
	assert.Equal(t, k^px(50000).Units, store.FootprintID(k, px(50000)))

	assert.Equal(t, store.RunID(3, px(10), 100), store.RunID(3, px(10), 100))
	assert.NotEqual(t, store.RunID(3, px(10), 100), store.RunID(3, px(10), 101))
}

func TestExchangeSlotRange(t *testing.T) {
	for _, ex := range market.Exchanges() {
		slot := store.ExchangeSlot(ex.String())
		assert.GreaterOrEqual(t, slot, int64(1), ex.String())
		assert.LessOrEqual(t, slot, int64(127), ex.String())
	}
}
