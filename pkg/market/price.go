package market

import (
	"math"
	"strconv"
)

// PriceScale is the number of decimal places carried by Price units.
const PriceScale = 8

var priceFactor = math.Pow10(PriceScale)

// maxUnits is 2^63, the first float64 past the int64 range.
const maxUnits = 1 << 63

// Price is a fixed-point price: Units counts steps of 10^-PriceScale.
// Two prices are equal only when their units are equal.
type Price struct {
	Units int64
}

// PriceFromUnits wraps raw fixed-point units.
func PriceFromUnits(units int64) Price {
	return Price{Units: units}
}

// PriceFromFloatChecked converts a float to the nearest representable price.
// It reports false for NaN, infinities and values whose units overflow int64.
func PriceFromFloatChecked(v float64) (Price, bool) {
	units := math.Round(v * priceFactor)
	if math.IsNaN(units) || units >= maxUnits || units < -maxUnits {
		return Price{}, false
	}
	return Price{Units: int64(units)}, true
}

// PriceFromFloat converts a float to the nearest representable price. Out of
// range input saturates and NaN maps to zero; decode paths use
// PriceFromFloatChecked instead.
func PriceFromFloat(v float64) Price {
	if p, ok := PriceFromFloatChecked(v); ok {
		return p
	}
	switch {
	case math.IsNaN(v):
		return Price{}
	case v > 0:
		return Price{Units: math.MaxInt64}
	default:
		return Price{Units: math.MinInt64}
	}
}

// PriceFromF32 converts an exchange-feed float to a price.
func PriceFromF32(v float32) Price {
	return PriceFromFloat(float64(v))
}

// Float64 returns the price as a float64.
func (p Price) Float64() float64 {
	return float64(p.Units) / priceFactor
}

// ToF32 returns the lossy float32 form used by exchange feeds.
func (p Price) ToF32() float32 {
	return float32(p.Float64())
}

// RoundToTick rounds the price to the nearest multiple of the tick size.
func (p Price) RoundToTick(tick Power10) Price {
	step := tick.PriceUnits()
	if step <= 1 {
		return p
	}
	q := p.Units / step
	r := p.Units % step
	if r < 0 {
		r += step
		q--
	}
	if r*2 >= step {
		q++
	}
	return Price{Units: q * step}
}

// OnTick reports whether the price is an exact multiple of the tick size.
func (p Price) OnTick(tick Power10) bool {
	step := tick.PriceUnits()
	if step <= 1 {
		return true
	}
	return p.Units%step == 0
}

// Less orders prices ascending.
func (p Price) Less(o Price) bool {
	return p.Units < o.Units
}

func (p Price) String() string {
	return strconv.FormatFloat(p.Float64(), 'f', -1, 64)
}

// Power10 is a decimal exponent: -2 means 0.01, 0 means 1, 3 means 1000.
type Power10 int8

// Float64 returns 10^p.
func (p Power10) Float64() float64 {
	return math.Pow10(int(p))
}

// PriceUnits returns 10^p expressed in Price units. Exponents finer than the
// price scale collapse to a single unit.
func (p Power10) PriceUnits() int64 {
	exp := int(p) + PriceScale
	if exp <= 0 {
		return 1
	}
	units := int64(1)
	for i := 0; i < exp; i++ {
		units *= 10
	}
	return units
}

// Power10FromFloat recovers the exponent of an exact power of ten.
func Power10FromFloat(v float64) (Power10, bool) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	exp := math.Round(math.Log10(v))
	if math.Abs(math.Pow10(int(exp))-v) > v*1e-9 {
		return 0, false
	}
	return Power10(exp), true
}
