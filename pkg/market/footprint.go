package market

import "sort"

// FootprintBucket aggregates the trades of one candle at one price level.
type FootprintBucket struct {
	Price     Price
	BuyQty    float32
	SellQty   float32
	BuyCount  uint64
	SellCount uint64
	FirstTime uint64
	LastTime  uint64
}

// Add folds a trade into the bucket.
func (b *FootprintBucket) Add(t Trade) {
	if b.BuyCount+b.SellCount == 0 || t.Time < b.FirstTime {
		b.FirstTime = t.Time
	}
	if t.Time > b.LastTime {
		b.LastTime = t.Time
	}
	if t.IsSell {
		b.SellQty += t.Qty
		b.SellCount++
	} else {
		b.BuyQty += t.Qty
		b.BuyCount++
	}
}

// Delta is buy minus sell quantity.
func (b FootprintBucket) Delta() float32 {
	return b.BuyQty - b.SellQty
}

// KlineTrades is a candle's footprint keyed by price level.
type KlineTrades map[Price]FootprintBucket

// AddTrade buckets a trade at its price rounded to the tick size.
func (kt KlineTrades) AddTrade(t Trade, tick Power10) {
	p := t.Price.RoundToTick(tick)
	b := kt[p]
	b.Price = p
	b.Add(t)
	kt[p] = b
}

// Prices returns the populated levels in ascending order.
func (kt KlineTrades) Prices() []Price {
	out := make([]Price, 0, len(kt))
	for p := range kt {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Buckets returns the buckets ordered by ascending price.
func (kt KlineTrades) Buckets() []FootprintBucket {
	prices := kt.Prices()
	out := make([]FootprintBucket, 0, len(prices))
	for _, p := range prices {
		b := kt[p]
		b.Price = p
		out = append(out, b)
	}
	return out
}

// KlineTradesFromTrades builds a footprint from raw trades.
func KlineTradesFromTrades(trades []Trade, tick Power10) KlineTrades {
	kt := make(KlineTrades)
	for _, t := range trades {
		kt.AddTrade(t, tick)
	}
	return kt
}

// KlineTradesFromBuckets rebuilds a footprint from stored buckets.
func KlineTradesFromBuckets(buckets []FootprintBucket) KlineTrades {
	kt := make(KlineTrades, len(buckets))
	for _, b := range buckets {
		kt[b.Price] = b
	}
	return kt
}

// AggregatedLevel is one price level of trades summed by side.
type AggregatedLevel struct {
	Price     Price
	BuyQty    float64
	SellQty   float64
	BuyCount  uint64
	SellCount uint64
}

// KlineTradesFromAggregates rebuilds a footprint from per-price sums,
// merging levels that round to the same tick. Trade times are not carried
// by aggregates, so FirstTime and LastTime stay zero.
func KlineTradesFromAggregates(levels []AggregatedLevel, tick Power10) KlineTrades {
	kt := make(KlineTrades, len(levels))
	for _, lvl := range levels {
		p := lvl.Price.RoundToTick(tick)
		b := kt[p]
		b.Price = p
		b.BuyQty += float32(lvl.BuyQty)
		b.SellQty += float32(lvl.SellQty)
		b.BuyCount += lvl.BuyCount
		b.SellCount += lvl.SellCount
		kt[p] = b
	}
	return kt
}
