package store

import (
	"math"
	"strconv"

	"github.com/zeromicro/go-zero/core/hash"

	"flowstore/pkg/market"
)

// exchangeSlots bounds exchange ids to [1, exchangeSlots].
const exchangeSlots = 127

func hash64(key string) int64 {
	return int64(hash.Hash([]byte(key)))
}

// ExchangeSlot is the preferred id for an exchange name. Collisions are
// resolved by probing the next slot; the name column stays the real key.
func ExchangeSlot(name string) int64 {
	return int64(hash.Hash([]byte(name))%exchangeSlots) + 1
}

func nextSlot(slot int64) int64 {
	return slot%exchangeSlots + 1
}

func tradeKey(tickerID int64, t market.Trade) string {
	return strconv.FormatInt(tickerID, 10) + ":" +
		strconv.FormatUint(t.Time, 10) + ":" +
		strconv.FormatInt(t.Price.Units, 10) + ":" +
		strconv.FormatUint(uint64(math.Float32bits(t.Qty)), 10) + ":" +
		strconv.FormatBool(t.IsSell)
}

// TradeID derives the primary key of a trade. A nonzero Seq is the
// exchange's counter and disambiguates on its own; otherwise occurrence
// numbers repeats of the same natural key within one batch, so distinct
// trades with identical fields keep separate rows and re-inserting the same
// batch maps onto the same keys.
func TradeID(tickerID int64, t market.Trade, occurrence int) int64 {
	key := tradeKey(tickerID, t)
	if t.Seq != 0 {
		return hash64(key + ":s" + strconv.FormatUint(t.Seq, 10))
	}
	return hash64(key + ":" + strconv.Itoa(occurrence))
}

// tradeIDs assigns keys to a batch, counting occurrences of each natural key
// in batch order.
func tradeIDs(tickerID int64, trades []market.Trade) []int64 {
	ids := make([]int64, len(trades))
	seen := make(map[string]int, len(trades))
	for i, t := range trades {
		if t.Seq != 0 {
			ids[i] = TradeID(tickerID, t, 0)
			continue
		}
		key := tradeKey(tickerID, t)
		ids[i] = TradeID(tickerID, t, seen[key])
		seen[key]++
	}
	return ids
}

// KlineID derives the primary key of a candle.
func KlineID(tickerID int64, tf market.Timeframe, candleTime uint64) int64 {
	return hash64(strconv.FormatInt(tickerID, 10) + ":" +
		strconv.FormatUint(tf.Milliseconds(), 10) + ":" +
		strconv.FormatUint(candleTime, 10))
}

// FootprintID derives the primary key of a footprint bucket.
func FootprintID(klineID int64, price market.Price) int64 {
	return klineID ^ price.Units
}

// RunID derives the primary key of an order run.
func RunID(tickerID int64, price market.Price, start uint64) int64 {
	return hash64(strconv.FormatInt(tickerID, 10) + ":" +
		strconv.FormatInt(price.Units, 10) + ":" +
		strconv.FormatUint(start, 10))
}

// SnapshotID derives the primary key of a depth snapshot.
func SnapshotID(tickerID int64, t uint64) int64 {
	return hash64(strconv.FormatInt(tickerID, 10) + ":depth:" + strconv.FormatUint(t, 10))
}

// storableTime reports whether a millisecond timestamp fits the BIGINT time
// columns unchanged.
func storableTime(t uint64) bool {
	return t <= math.MaxInt64
}

// storedPrice converts a price column back to fixed point.
func storedPrice(v float64) (market.Price, error) {
	p, ok := market.PriceFromFloatChecked(v)
	if !ok {
		return market.Price{}, Errorf(KindQuery, "stored price %v out of range", v)
	}
	return p, nil
}

// dbTime converts a query bound, clamping past the column range.
func dbTime(t uint64) int64 {
	if t > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(t)
}
