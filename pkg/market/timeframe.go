package market

import (
	"fmt"
	"strings"
)

// Timeframe is a candle interval from a fixed vocabulary.
type Timeframe uint8

const (
	MS100 Timeframe = iota + 1
	MS200
	MS300
	MS500
	S1
	M1
	M3
	M5
	M15
	M30
	H1
	H2
	H4
	H6
	H12
	D1
)

type timeframeSpec struct {
	ms   uint64
	name string
}

var timeframeSpecs = map[Timeframe]timeframeSpec{
	MS100: {100, "100ms"},
	MS200: {200, "200ms"},
	MS300: {300, "300ms"},
	MS500: {500, "500ms"},
	S1:    {1_000, "1s"},
	M1:    {60_000, "1m"},
	M3:    {180_000, "3m"},
	M5:    {300_000, "5m"},
	M15:   {900_000, "15m"},
	M30:   {1_800_000, "30m"},
	H1:    {3_600_000, "1h"},
	H2:    {7_200_000, "2h"},
	H4:    {14_400_000, "4h"},
	H6:    {21_600_000, "6h"},
	H12:   {43_200_000, "12h"},
	D1:    {86_400_000, "1d"},
}

// Timeframes returns the vocabulary ordered from shortest to longest.
func Timeframes() []Timeframe {
	out := make([]Timeframe, 0, len(timeframeSpecs))
	for tf := MS100; tf <= D1; tf++ {
		out = append(out, tf)
	}
	return out
}

// Valid reports whether tf belongs to the vocabulary.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeSpecs[tf]
	return ok
}

// Milliseconds is the canonical period length.
func (tf Timeframe) Milliseconds() uint64 {
	return timeframeSpecs[tf].ms
}

func (tf Timeframe) String() string {
	if spec, ok := timeframeSpecs[tf]; ok {
		return spec.name
	}
	return fmt.Sprintf("Timeframe(%d)", uint8(tf))
}

// Floor aligns t down to the start of its period.
func (tf Timeframe) Floor(t uint64) uint64 {
	ms := tf.Milliseconds()
	if ms == 0 {
		return t
	}
	return t - t%ms
}

// Aligned reports whether t is a period boundary.
func (tf Timeframe) Aligned(t uint64) bool {
	ms := tf.Milliseconds()
	return ms != 0 && t%ms == 0
}

// ParseTimeframe resolves a display string such as "15m".
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	for tf, spec := range timeframeSpecs {
		if spec.name == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("unknown timeframe %q", s)
}

// TimeframeFromMillis resolves a period length.
func TimeframeFromMillis(ms uint64) (Timeframe, bool) {
	for tf, spec := range timeframeSpecs {
		if spec.ms == ms {
			return tf, true
		}
	}
	return 0, false
}
