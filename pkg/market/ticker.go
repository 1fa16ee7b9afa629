package market

import (
	"fmt"
	"strings"
)

// Exchange identifies a venue and market kind.
type Exchange uint8

const (
	BinanceSpot Exchange = iota + 1
	BinanceLinear
	BinanceInverse
	BybitSpot
	BybitLinear
	BybitInverse
	HyperliquidSpot
	HyperliquidLinear
	OkexSpot
	OkexLinear
	OkexInverse
	AsterLinear
)

var exchangeNames = map[Exchange]string{
	BinanceSpot:       "BinanceSpot",
	BinanceLinear:     "BinanceLinear",
	BinanceInverse:    "BinanceInverse",
	BybitSpot:         "BybitSpot",
	BybitLinear:       "BybitLinear",
	BybitInverse:      "BybitInverse",
	HyperliquidSpot:   "HyperliquidSpot",
	HyperliquidLinear: "HyperliquidLinear",
	OkexSpot:          "OkexSpot",
	OkexLinear:        "OkexLinear",
	OkexInverse:       "OkexInverse",
	AsterLinear:       "AsterLinear",
}

// Exchanges lists every known venue in declaration order.
func Exchanges() []Exchange {
	out := make([]Exchange, 0, len(exchangeNames))
	for ex := BinanceSpot; ex <= AsterLinear; ex++ {
		out = append(out, ex)
	}
	return out
}

func (e Exchange) String() string {
	if name, ok := exchangeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Exchange(%d)", uint8(e))
}

// Valid reports whether e is a known venue.
func (e Exchange) Valid() bool {
	_, ok := exchangeNames[e]
	return ok
}

// ParseExchange resolves a canonical exchange name, case-insensitively.
func ParseExchange(name string) (Exchange, error) {
	name = strings.TrimSpace(name)
	for ex, n := range exchangeNames {
		if strings.EqualFold(n, name) {
			return ex, nil
		}
	}
	return 0, fmt.Errorf("unknown exchange %q", name)
}

// Ticker is the (symbol, exchange) identity of a tradable instrument.
type Ticker struct {
	Symbol   string
	Exchange Exchange
}

// NewTicker normalises the symbol to upper case.
func NewTicker(ex Exchange, symbol string) Ticker {
	return Ticker{Symbol: strings.ToUpper(strings.TrimSpace(symbol)), Exchange: ex}
}

func (t Ticker) String() string {
	return t.Exchange.String() + ":" + t.Symbol
}

// TickerInfo carries the instrument's precision parameters.
type TickerInfo struct {
	Ticker       Ticker
	MinTicksize  Power10
	MinQty       Power10
	ContractSize *Power10
}

// NewTickerInfo builds a TickerInfo without a contract size.
func NewTickerInfo(ex Exchange, symbol string, tick, minQty Power10) TickerInfo {
	return TickerInfo{
		Ticker:      NewTicker(ex, symbol),
		MinTicksize: tick,
		MinQty:      minQty,
	}
}

// Validate checks the identity fields.
func (i TickerInfo) Validate() error {
	if !i.Ticker.Exchange.Valid() {
		return fmt.Errorf("ticker %s: unknown exchange", i.Ticker)
	}
	if i.Ticker.Symbol == "" {
		return fmt.Errorf("ticker %s: empty symbol", i.Ticker)
	}
	if int(i.MinTicksize) < -PriceScale {
		return fmt.Errorf("ticker %s: tick size 1e%d finer than price scale", i.Ticker, i.MinTicksize)
	}
	return nil
}
