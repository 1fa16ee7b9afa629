package market

import "slices"

// KlineDataPoint pairs a candle with its footprint.
type KlineDataPoint struct {
	Kline     Kline
	Footprint KlineTrades
}

// TimeSeries is an ordered map of candle time to data point for one
// timeframe and tick size.
type TimeSeries struct {
	Timeframe Timeframe
	TickSize  Power10

	points map[uint64]*KlineDataPoint
	times  []uint64
}

// NewTimeSeries creates an empty series.
func NewTimeSeries(tf Timeframe, tick Power10) *TimeSeries {
	return &TimeSeries{
		Timeframe: tf,
		TickSize:  tick,
		points:    make(map[uint64]*KlineDataPoint),
	}
}

// Insert adds or replaces the data point at its kline time.
func (ts *TimeSeries) Insert(dp KlineDataPoint) {
	t := dp.Kline.Time
	if dp.Footprint == nil {
		dp.Footprint = make(KlineTrades)
	}
	if _, ok := ts.points[t]; !ok {
		idx, _ := slices.BinarySearch(ts.times, t)
		ts.times = slices.Insert(ts.times, idx, t)
	}
	ts.points[t] = &dp
}

// Get returns the data point at t.
func (ts *TimeSeries) Get(t uint64) (*KlineDataPoint, bool) {
	dp, ok := ts.points[t]
	return dp, ok
}

// Len is the number of data points.
func (ts *TimeSeries) Len() int {
	return len(ts.times)
}

// Times returns candle times in ascending order.
func (ts *TimeSeries) Times() []uint64 {
	return slices.Clone(ts.times)
}

// Range visits points in ascending time order until fn returns false.
func (ts *TimeSeries) Range(fn func(t uint64, dp *KlineDataPoint) bool) {
	for _, t := range ts.times {
		if !fn(t, ts.points[t]) {
			return
		}
	}
}

// Points returns a copy of all data points in ascending time order.
func (ts *TimeSeries) Points() []KlineDataPoint {
	out := make([]KlineDataPoint, 0, len(ts.times))
	for _, t := range ts.times {
		out = append(out, *ts.points[t])
	}
	return out
}
