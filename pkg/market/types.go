package market

import (
	"fmt"
	"math"
	"sort"
)

// Trade is a single executed trade from an exchange feed.
type Trade struct {
	Time   uint64
	Price  Price
	Qty    float32
	IsSell bool

	// Seq is the exchange's own trade counter when the source carries one
	// (aggTrade id in archives). Zero means unknown. It only feeds the
	// trade key and is not stored.
	Seq uint64
}

// Volume splits candle volume into the base and quote sides.
type Volume struct {
	Base  float32
	Quote float32
}

// Total returns combined volume.
func (v Volume) Total() float32 {
	return v.Base + v.Quote
}

// Kline is one OHLCV candle. Time is the period start in milliseconds.
type Kline struct {
	Time   uint64
	Open   Price
	High   Price
	Low    Price
	Close  Price
	Volume Volume
}

// Validate enforces the OHLC ordering and non-negative volume.
func (k Kline) Validate() error {
	if k.High.Less(k.Low) {
		return fmt.Errorf("kline %d: high %s below low %s", k.Time, k.High, k.Low)
	}
	for _, p := range []Price{k.Open, k.Close} {
		if p.Less(k.Low) || k.High.Less(p) {
			return fmt.Errorf("kline %d: open/close %s outside [%s, %s]", k.Time, p, k.Low, k.High)
		}
	}
	if !finiteNonNegative(k.Volume.Base) || !finiteNonNegative(k.Volume.Quote) {
		return fmt.Errorf("kline %d: negative volume", k.Time)
	}
	return nil
}

// DepthLevel is one aggregated price level.
type DepthLevel struct {
	Price Price
	Qty   float32
}

// Depth is an order book snapshot. Bids sort descending, asks ascending.
type Depth struct {
	Time         uint64
	LastUpdateID uint64
	Bids         []DepthLevel
	Asks         []DepthLevel
}

// Normalize sorts both sides into canonical order.
func (d *Depth) Normalize() {
	sort.SliceStable(d.Bids, func(i, j int) bool { return d.Bids[j].Price.Less(d.Bids[i].Price) })
	sort.SliceStable(d.Asks, func(i, j int) bool { return d.Asks[i].Price.Less(d.Asks[j].Price) })
}

// BestBid returns the highest bid, if any.
func (d Depth) BestBid() (DepthLevel, bool) {
	if len(d.Bids) == 0 {
		return DepthLevel{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (d Depth) BestAsk() (DepthLevel, bool) {
	if len(d.Asks) == 0 {
		return DepthLevel{}, false
	}
	return d.Asks[0], true
}

// OrderRun is a resting-order episode at one price, used for heatmaps.
type OrderRun struct {
	Price     Price
	StartTime uint64
	UntilTime uint64
	Qty       float32
	IsBid     bool
}

// Validate checks the run's interval.
func (r OrderRun) Validate() error {
	if r.UntilTime < r.StartTime {
		return fmt.Errorf("order run at %s: until %d before start %d", r.Price, r.UntilTime, r.StartTime)
	}
	if !finiteNonNegative(r.Qty) {
		return fmt.Errorf("order run at %s: invalid qty %v", r.Price, r.Qty)
	}
	return nil
}

// Overlaps reports whether the run is active anywhere in [start, end].
func (r OrderRun) Overlaps(start, end uint64) bool {
	return r.StartTime <= end && r.UntilTime >= start
}

func finiteNonNegative(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}
