package market

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"flowstore/pkg/confkit"
)

// Catalog lists the instruments known to the importer together with their
// precision parameters.
type Catalog struct {
	Tickers []*TickerConfig `yaml:"tickers"`

	index map[Ticker]TickerInfo
}

// TickerConfig is one catalog entry.
type TickerConfig struct {
	Exchange        string `yaml:"exchange"`
	Symbol          string `yaml:"symbol"`
	TickSizeExp     int    `yaml:"tick_size_exp"`
	MinQtyExp       int    `yaml:"min_qty_exp"`
	ContractSizeExp *int   `yaml:"contract_size_exp"`

	info TickerInfo
}

// NewCatalog builds a catalog from ticker infos directly.
func NewCatalog(infos ...TickerInfo) *Catalog {
	c := &Catalog{index: make(map[Ticker]TickerInfo, len(infos))}
	for _, info := range infos {
		c.index[info.Ticker] = info
	}
	return c
}

// LoadCatalog reads a ticker catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ticker catalog: %w", err)
	}
	defer file.Close()
	return LoadCatalogFromReader(file)
}

// LoadCatalogFromReader constructs a Catalog from an io.Reader.
func LoadCatalogFromReader(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ticker catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal ticker catalog: %w", err)
	}
	if err := c.normalise(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalise() error {
	for i, entry := range c.Tickers {
		if entry == nil {
			return fmt.Errorf("ticker catalog: entry %d is empty", i)
		}
		entry.Exchange = strings.TrimSpace(os.ExpandEnv(entry.Exchange))
		entry.Symbol = strings.TrimSpace(os.ExpandEnv(entry.Symbol))
		ex, err := ParseExchange(entry.Exchange)
		if err != nil {
			return fmt.Errorf("ticker catalog: entry %d: %w", i, err)
		}
		info := NewTickerInfo(ex, entry.Symbol, Power10(entry.TickSizeExp), Power10(entry.MinQtyExp))
		if entry.ContractSizeExp != nil {
			cs := Power10(*entry.ContractSizeExp)
			info.ContractSize = &cs
		}
		entry.info = info
	}
	return nil
}

// Validate ensures every entry is usable and unique.
func (c *Catalog) Validate() error {
	if len(c.Tickers) == 0 {
		return fmt.Errorf("ticker catalog: tickers cannot be empty")
	}
	index := make(map[Ticker]TickerInfo, len(c.Tickers))
	for _, entry := range c.Tickers {
		if err := entry.info.Validate(); err != nil {
			return fmt.Errorf("ticker catalog: %w", err)
		}
		if _, dup := index[entry.info.Ticker]; dup {
			return fmt.Errorf("ticker catalog: duplicate ticker %s", entry.info.Ticker)
		}
		index[entry.info.Ticker] = entry.info
	}
	c.index = index
	return nil
}

// Lookup finds the info for a symbol on an exchange.
func (c *Catalog) Lookup(ex Exchange, symbol string) (TickerInfo, bool) {
	if c == nil {
		return TickerInfo{}, false
	}
	info, ok := c.index[NewTicker(ex, symbol)]
	return info, ok
}

// Len is the number of catalogued tickers.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.index)
}
