package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"flowstore/pkg/market"
)

const (
	identityCacheLimit  = 4096
	identityCacheExpire = time.Hour
)

// TickerRef is a resolved ticker: its database id plus the info it was
// resolved from.
type TickerRef struct {
	ID   int64
	Info market.TickerInfo
}

// errUnknownTicker marks a read-path lookup of a ticker that was never stored.
var errUnknownTicker = errors.New("ticker not stored")

type identityResolver struct {
	exchanges *collection.Cache
	tickers   *collection.Cache
}

func newIdentityResolver() *identityResolver {
	exchanges, err := collection.NewCache(identityCacheExpire, collection.WithName("exchange-ids"),
		collection.WithLimit(identityCacheLimit))
	if err != nil {
		logx.Must(err)
	}
	tickers, err := collection.NewCache(identityCacheExpire, collection.WithName("ticker-ids"),
		collection.WithLimit(identityCacheLimit))
	if err != nil {
		logx.Must(err)
	}
	return &identityResolver{exchanges: exchanges, tickers: tickers}
}

func tickerKey(exchangeID int64, symbol string) string {
	return strconv.FormatInt(exchangeID, 10) + "|" + symbol
}

// exchangeID returns the id of ex, inserting it on first use.
func (r *identityResolver) exchangeID(ctx context.Context, c *Conn, ex market.Exchange) (int64, error) {
	name := ex.String()
	v, err := r.exchanges.Take(name, func() (any, error) {
		id, found, err := lookupExchange(ctx, c, name)
		if err != nil || found {
			return id, err
		}
		return insertExchange(ctx, c, name)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func lookupExchange(ctx context.Context, c *Conn, name string) (int64, bool, error) {
	var id int64
	err := c.SQL.QueryRowCtx(ctx, &id, `SELECT exchange_id FROM exchanges WHERE name = ?`, name)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return 0, false, nil
	default:
		return 0, false, Wrapf(KindQuery, err, "lookup exchange %s", name)
	}
}

func insertExchange(ctx context.Context, c *Conn, name string) (int64, error) {
	slot := ExchangeSlot(name)
	for probes := 0; probes < exchangeSlots; probes++ {
		var owner string
		err := c.SQL.QueryRowCtx(ctx, &owner, `SELECT name FROM exchanges WHERE exchange_id = ?`, slot)
		switch {
		case errors.Is(err, sqlx.ErrNotFound):
			if _, err := c.SQL.ExecCtx(ctx, `INSERT INTO exchanges (exchange_id, name) VALUES (?, ?)`, slot, name); err != nil {
				return 0, Wrapf(KindInsert, err, "insert exchange %s", name)
			}
			return slot, nil
		case err != nil:
			return 0, Wrapf(KindQuery, err, "probe exchange slot %d", slot)
		case owner == name:
			return slot, nil
		}
		logx.Infof("store: exchange slot %d taken by %s, probing for %s", slot, owner, name)
		slot = nextSlot(slot)
	}
	return 0, Errorf(KindInsert, "no free exchange slot for %s", name)
}

// tickerID returns the id of info, inserting the ticker on first use.
func (r *identityResolver) tickerID(ctx context.Context, c *Conn, info market.TickerInfo) (int64, error) {
	exID, err := r.exchangeID(ctx, c, info.Ticker.Exchange)
	if err != nil {
		return 0, err
	}
	v, err := r.tickers.Take(tickerKey(exID, info.Ticker.Symbol), func() (any, error) {
		id, found, err := lookupTicker(ctx, c, exID, info.Ticker.Symbol)
		if err != nil || found {
			return id, err
		}
		return insertTicker(ctx, c, exID, info)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// existingTickerID resolves info without creating anything. It returns
// errUnknownTicker when the ticker has never been stored.
func (r *identityResolver) existingTickerID(ctx context.Context, c *Conn, info market.TickerInfo) (int64, error) {
	exID, found, err := lookupExchange(ctx, c, info.Ticker.Exchange.String())
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errUnknownTicker
	}
	key := tickerKey(exID, info.Ticker.Symbol)
	if v, ok := r.tickers.Get(key); ok {
		return v.(int64), nil
	}
	id, found, err := lookupTicker(ctx, c, exID, info.Ticker.Symbol)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errUnknownTicker
	}
	r.tickers.Set(key, id)
	return id, nil
}

func lookupTicker(ctx context.Context, c *Conn, exchangeID int64, symbol string) (int64, bool, error) {
	var id int64
	err := c.SQL.QueryRowCtx(ctx, &id,
		`SELECT ticker_id FROM tickers WHERE exchange_id = ? AND symbol = ?`, exchangeID, symbol)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return 0, false, nil
	default:
		return 0, false, Wrapf(KindQuery, err, "lookup ticker %s", symbol)
	}
}

func insertTicker(ctx context.Context, c *Conn, exchangeID int64, info market.TickerInfo) (int64, error) {
	var contract any
	if info.ContractSize != nil {
		contract = info.ContractSize.Float64()
	}
	_, err := c.SQL.ExecCtx(ctx, `INSERT INTO tickers (exchange_id, symbol, tick_size, min_quantity, contract_size)
VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		exchangeID, info.Ticker.Symbol, info.MinTicksize.Float64(), info.MinQty.Float64(), contract)
	if err != nil {
		return 0, Wrapf(KindInsert, err, "insert ticker %s", info.Ticker)
	}
	id, found, err := lookupTicker(ctx, c, exchangeID, info.Ticker.Symbol)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, Errorf(KindNotFound, "ticker %s missing after insert", info.Ticker)
	}
	logx.Infof("store: registered ticker %s as %d", info.Ticker, id)
	return id, nil
}

// GetOrCreateExchangeID returns the id of ex, creating its row if needed.
func (db *DB) GetOrCreateExchangeID(ctx context.Context, ex market.Exchange) (int64, error) {
	if !ex.Valid() {
		return 0, Errorf(KindConfiguration, "unknown exchange %d", uint8(ex))
	}
	return WithConn(ctx, db, func(ctx context.Context, c *Conn) (int64, error) {
		return db.ids.exchangeID(ctx, c, ex)
	})
}

// GetOrCreateTickerID returns the id of info, creating its rows if needed.
func (db *DB) GetOrCreateTickerID(ctx context.Context, info market.TickerInfo) (int64, error) {
	ref, err := db.ResolveTicker(ctx, info)
	return ref.ID, err
}

// ResolveTicker resolves info once so callers can reuse the id across batches.
func (db *DB) ResolveTicker(ctx context.Context, info market.TickerInfo) (TickerRef, error) {
	if err := info.Validate(); err != nil {
		return TickerRef{}, Wrap(KindConfiguration, err, "resolve ticker")
	}
	id, err := WithConn(ctx, db, func(ctx context.Context, c *Conn) (int64, error) {
		return db.ids.tickerID(ctx, c, info)
	})
	if err != nil {
		return TickerRef{}, err
	}
	return TickerRef{ID: id, Info: info}, nil
}

// readTicker resolves info on the read path; found is false for tickers never
// stored, which callers turn into empty results.
func (db *DB) readTicker(ctx context.Context, c *Conn, info market.TickerInfo) (id int64, found bool, err error) {
	id, err = db.ids.existingTickerID(ctx, c, info)
	if errors.Is(err, errUnknownTicker) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
