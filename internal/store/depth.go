package store

import (
	"bytes"
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"flowstore/pkg/market"
)

var depthTable = tableSpec{
	name:    TableDepthSnapshots,
	columns: []string{"snap_id", "ticker_id", "time", "payload"},
	key:     "snap_id",
	update:  []string{"payload"},
}

// EncodeDepth writes a snapshot payload as a msgpack stream: the last update
// id, then a length-prefixed bid array and a length-prefixed ask array of
// (float64 price, float32 qty) pairs. Bids are written descending, asks
// ascending.
func EncodeDepth(d market.Depth) ([]byte, error) {
	d.Bids = append([]market.DepthLevel(nil), d.Bids...)
	d.Asks = append([]market.DepthLevel(nil), d.Asks...)
	d.Normalize()

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeUint64(d.LastUpdateID); err != nil {
		return nil, err
	}
	for _, side := range [][]market.DepthLevel{d.Bids, d.Asks} {
		if err := enc.EncodeArrayLen(len(side)); err != nil {
			return nil, err
		}
		for _, lvl := range side {
			if err := enc.EncodeFloat64(lvl.Price.Float64()); err != nil {
				return nil, err
			}
			if err := enc.EncodeFloat32(lvl.Qty); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// DecodeDepth parses a payload written by EncodeDepth.
func DecodeDepth(t uint64, payload []byte) (market.Depth, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	d := market.Depth{Time: t}
	var err error
	if d.LastUpdateID, err = dec.DecodeUint64(); err != nil {
		return market.Depth{}, fmt.Errorf("last_update_id: %w", err)
	}
	for i, side := range []*[]market.DepthLevel{&d.Bids, &d.Asks} {
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return market.Depth{}, fmt.Errorf("side %d length: %w", i, err)
		}
		levels := make([]market.DepthLevel, 0, max(n, 0))
		for j := 0; j < n; j++ {
			price, err := dec.DecodeFloat64()
			if err != nil {
				return market.Depth{}, fmt.Errorf("side %d level %d price: %w", i, j, err)
			}
			qty, err := dec.DecodeFloat32()
			if err != nil {
				return market.Depth{}, fmt.Errorf("side %d level %d qty: %w", i, j, err)
			}
			p, ok := market.PriceFromFloatChecked(price)
			if !ok {
				return market.Depth{}, fmt.Errorf("side %d level %d price %v out of range", i, j, price)
			}
			levels = append(levels, market.DepthLevel{Price: p, Qty: qty})
		}
		*side = levels
	}
	return d, nil
}

// DepthStore persists order book snapshots.
type DepthStore struct {
	db *DB
}

// Depth returns the depth snapshot family.
func (db *DB) Depth() *DepthStore {
	return &DepthStore{db: db}
}

// Insert upserts snapshots for the ticker in one transaction.
func (s *DepthStore) Insert(ctx context.Context, info market.TickerInfo, snaps []market.Depth) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	ref, err := s.db.ResolveTicker(ctx, info)
	if err != nil {
		return 0, err
	}
	return s.InsertFor(ctx, ref, snaps)
}

// InsertFor upserts snapshots for a resolved ticker.
func (s *DepthStore) InsertFor(ctx context.Context, ref TickerRef, snaps []market.Depth) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	rows := make([]row, 0, len(snaps))
	for _, d := range snaps {
		if !storableTime(d.Time) {
			return 0, Errorf(KindInsert, "depth: time %d out of range", d.Time)
		}
		for _, lvl := range append(append([]market.DepthLevel(nil), d.Bids...), d.Asks...) {
			if lvl.Price.Units < 0 || !validQty(lvl.Qty) {
				return 0, Errorf(KindInsert, "depth %d: negative level %s", d.Time, lvl.Price)
			}
		}
		payload, err := EncodeDepth(d)
		if err != nil {
			return 0, Wrapf(KindInsert, err, "encode depth %d", d.Time)
		}
		id := SnapshotID(ref.ID, d.Time)
		rows = append(rows, row{key: id, values: []driver.Value{id, ref.ID, int64(d.Time), payload}})
	}
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int, error) {
		return c.write(ctx, depthTable, rows)
	})
}

type depthRow struct {
	Time    int64  `db:"time"`
	Payload []byte `db:"payload"`
}

// Query returns snapshots with start <= time <= end in time order.
func (s *DepthStore) Query(ctx context.Context, info market.TickerInfo, start, end uint64) ([]market.Depth, error) {
	return Read(ctx, s.db, func(ctx context.Context, c *Conn) ([]market.Depth, error) {
		id, found, err := s.db.readTicker(ctx, c, info)
		if err != nil || !found {
			return []market.Depth{}, err
		}
		var rows []depthRow
		err = c.SQL.QueryRowsCtx(ctx, &rows, `SELECT time, payload FROM depth_snapshots
WHERE ticker_id = ? AND time BETWEEN ? AND ?
ORDER BY time`, id, dbTime(start), dbTime(end))
		if err != nil {
			return nil, Wrapf(KindQuery, err, "query depth %s", info.Ticker)
		}
		out := make([]market.Depth, 0, len(rows))
		for _, r := range rows {
			d, err := DecodeDepth(uint64(r.Time), r.Payload)
			if err != nil {
				return nil, Wrapf(KindQuery, err, "decode depth %s at %d", info.Ticker, r.Time)
			}
			out = append(out, d)
		}
		return out, nil
	})
}

// Coverage returns the first and last snapshot time for the ticker.
func (s *DepthStore) Coverage(ctx context.Context, info market.TickerInfo) (TimeRange, bool, error) {
	return s.db.tickerCoverage(ctx, info,
		`SELECT MIN(time) AS min_time, MAX(time) AS max_time FROM depth_snapshots WHERE ticker_id = ?`)
}

// DeleteOlderThan removes snapshots with time < cutoff.
func (s *DepthStore) DeleteOlderThan(ctx context.Context, cutoff uint64) (int64, error) {
	return WithConn(ctx, s.db, func(ctx context.Context, c *Conn) (int64, error) {
		return c.deleteBefore(ctx, TableDepthSnapshots, "time", cutoff)
	})
}
