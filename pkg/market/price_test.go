package market_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstore/pkg/market"
)

func TestPriceFloatRoundTrip(t *testing.T) {
	for _, units := range []int64{0, 1, 12_345_678, 5_000_010_000_000, 99_999_999_999_999} {
		p := market.PriceFromUnits(units)
		assert.Equal(t, p, market.PriceFromFloat(p.Float64()), "units %d", units)
	}
}

func TestPriceFromFloatRejectsUnrepresentable(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e11, -1e11, math.MaxFloat64} {
		_, ok := market.PriceFromFloatChecked(v)
		assert.False(t, ok, "%v", v)
	}

	p, ok := market.PriceFromFloatChecked(50000.12345678)
	require.True(t, ok)
	assert.Equal(t, int64(5_000_012_345_678), p.Units)

	assert.Equal(t, market.Price{}, market.PriceFromFloat(math.NaN()))
	assert.Equal(t, int64(math.MaxInt64), market.PriceFromFloat(math.Inf(1)).Units)
	assert.Equal(t, int64(math.MinInt64), market.PriceFromFloat(-1e300).Units)
}

func TestPriceRoundToTick(t *testing.T) {
	p := market.PriceFromFloat(50000.14)
	assert.Equal(t, market.PriceFromFloat(50000.1), p.RoundToTick(-1))
	assert.Equal(t, market.PriceFromFloat(50000), p.RoundToTick(0))
	assert.Equal(t, market.PriceFromFloat(50000.15), market.PriceFromFloat(50000.15).RoundToTick(-2))
	assert.Equal(t, market.PriceFromFloat(50000.2), market.PriceFromFloat(50000.15).RoundToTick(-1))

	assert.True(t, market.PriceFromFloat(50000.1).OnTick(-1))
	assert.False(t, p.OnTick(-1))
	assert.True(t, p.OnTick(-8))
}

func TestPower10(t *testing.T) {
	assert.Equal(t, int64(1_000_000), market.Power10(-2).PriceUnits())
	assert.Equal(t, int64(100_000_000), market.Power10(0).PriceUnits())
	assert.Equal(t, int64(1), market.Power10(-10).PriceUnits())

	exp, ok := market.Power10FromFloat(0.001)
	require.True(t, ok)
	assert.Equal(t, market.Power10(-3), exp)

	_, ok = market.Power10FromFloat(0.25)
	assert.False(t, ok)
}

func TestTimeframeVocabulary(t *testing.T) {
	tfs := market.Timeframes()
	require.Len(t, tfs, 16)
	for i := 1; i < len(tfs); i++ {
		assert.Less(t, tfs[i-1].Milliseconds(), tfs[i].Milliseconds())
	}

	tf, err := market.ParseTimeframe("15m")
	require.NoError(t, err)
	assert.Equal(t, market.M15, tf)
	assert.Equal(t, uint64(900_000), tf.Milliseconds())

	_, err = market.ParseTimeframe("7m")
	assert.Error(t, err)

	got, ok := market.TimeframeFromMillis(3_600_000)
	require.True(t, ok)
	assert.Equal(t, market.H1, got)

	assert.Equal(t, uint64(1_700_000_040_000), market.M1.Floor(1_700_000_059_999))
	assert.True(t, market.M1.Aligned(1_700_000_040_000))
}
