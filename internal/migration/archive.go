package migration

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/store"
	"flowstore/pkg/market"
)

var archiveName = regexp.MustCompile(`^([A-Z0-9]+)-aggTrades-(\d{4}-\d{2}-\d{2})\.zip$`)

// aggTrades columns: agg_trade_id, price, quantity, first_trade_id,
// last_trade_id, transact_time, is_buyer_maker.
const (
	colAggID      = 0
	colPrice      = 1
	colQty        = 2
	colTime       = 5
	colBuyerMaker = 6
	aggTradeCols  = 7
)

// ParseArchiveName recovers the symbol and UTC date from an aggTrades
// archive file name.
func ParseArchiveName(name string) (string, time.Time, error) {
	m := archiveName.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", time.Time{}, fmt.Errorf("archive name %q does not match <SYMBOL>-aggTrades-YYYY-MM-DD.zip", filepath.Base(name))
	}
	day, err := time.Parse("2006-01-02", m[2])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("archive name %q: %w", filepath.Base(name), err)
	}
	return m[1], day, nil
}

// ParseAggTrade maps one CSV record to a trade. Prices are parsed as exact
// decimals.
func ParseAggTrade(rec []string) (market.Trade, error) {
	if len(rec) < aggTradeCols {
		return market.Trade{}, fmt.Errorf("expected %d fields, got %d", aggTradeCols, len(rec))
	}
	price, err := decimal.NewFromString(strings.TrimSpace(rec[colPrice]))
	if err != nil {
		return market.Trade{}, fmt.Errorf("price %q: %w", rec[colPrice], err)
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(rec[colQty]))
	if err != nil {
		return market.Trade{}, fmt.Errorf("quantity %q: %w", rec[colQty], err)
	}
	ts, err := strconv.ParseUint(strings.TrimSpace(rec[colTime]), 10, 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("transact_time %q: %w", rec[colTime], err)
	}
	isSell, err := strconv.ParseBool(strings.TrimSpace(rec[colBuyerMaker]))
	if err != nil {
		return market.Trade{}, fmt.Errorf("is_buyer_maker %q: %w", rec[colBuyerMaker], err)
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(rec[colAggID]), 10, 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("agg_trade_id %q: %w", rec[colAggID], err)
	}
	return market.Trade{
		Seq:    seq,
		Time:   ts,
		Price:  market.PriceFromUnits(price.Shift(market.PriceScale).Round(0).IntPart()),
		Qty:    float32(qty.InexactFloat64()),
		IsSell: isSell,
	}, nil
}

// ArchiveMigrator streams exchange aggTrades ZIP archives into trades.
type ArchiveMigrator struct {
	db       *store.DB
	cfg      Config
	catalog  *market.Catalog
	exchange market.Exchange
}

// NewArchiveMigrator builds a migrator that resolves archive symbols on
// exchange through catalog.
func NewArchiveMigrator(db *store.DB, cfg Config, catalog *market.Catalog, exchange market.Exchange) *ArchiveMigrator {
	return &ArchiveMigrator{db: db, cfg: cfg, catalog: catalog, exchange: exchange}
}

// MigrateDirectory migrates every archive below dir in name order. A file
// that cannot be migrated is recorded in Stats.Errors and skipped.
func (m *ArchiveMigrator) MigrateDirectory(ctx context.Context, dir string) (Stats, error) {
	var stats Stats
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".zip") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return stats, store.Wrapf(store.KindIo, err, "scan %s", dir)
	}
	sort.Strings(files)

	progress := NewProgress(uint64(len(files)), "archives")
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, store.Wrap(store.KindMigration, err, "archive migration")
		}
		fileStats, err := m.MigrateSingleArchive(ctx, path)
		stats.Merge(fileStats)
		if err != nil {
			stats.addError("%s: %v", filepath.Base(path), err)
		}
		progress.Update(1)
	}
	progress.Finish()
	logx.Infof("migration: archives in %s done: %s", dir, stats)
	return stats, nil
}

// MigrateSingleArchive streams one archive's CSV member into trades, one
// transaction per batch. Row and batch failures land in Stats.Errors; the
// returned error covers failures that stop the whole file.
func (m *ArchiveMigrator) MigrateSingleArchive(ctx context.Context, path string) (Stats, error) {
	var stats Stats
	symbol, _, err := ParseArchiveName(path)
	if err != nil {
		return stats, store.Wrap(store.KindConfiguration, err, "archive name")
	}
	info, ok := m.catalog.Lookup(m.exchange, symbol)
	if !ok {
		return stats, store.Errorf(store.KindNotFound, "ticker %s on %s not in catalog", symbol, m.exchange)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return stats, store.Wrapf(store.KindIo, err, "open %s", path)
	}
	defer zr.Close()
	entry, err := csvMember(zr)
	if err != nil {
		return stats, store.Wrapf(store.KindIo, err, "%s", filepath.Base(path))
	}
	rc, err := entry.Open()
	if err != nil {
		return stats, store.Wrapf(store.KindIo, err, "open %s in %s", entry.Name, filepath.Base(path))
	}
	defer rc.Close()

	ref := store.TickerRef{Info: info}
	if !m.cfg.DryRun {
		if ref, err = m.db.ResolveTicker(ctx, info); err != nil {
			return stats, err
		}
	}

	batchSize := m.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = store.DefaultBatchSize
	}
	batch := make([]market.Trade, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if m.cfg.DryRun {
			stats.TradesMigrated += len(batch)
		} else if n, err := m.db.Trades().InsertFor(ctx, ref, batch); err != nil {
			stats.addError("%s batch ending %d: %v", filepath.Base(path), batch[len(batch)-1].Time, err)
		} else {
			stats.TradesMigrated += n
		}
		batch = batch[:0]
	}

	reader := csv.NewReader(bufio.NewReaderSize(rc, 1<<16))
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	line, rowErrors := 0, 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return stats, store.Wrapf(store.KindIo, err, "read %s line %d", entry.Name, line)
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		trade, err := ParseAggTrade(rec)
		if err != nil {
			rowErrors++
			if rowErrors <= maxFileErrors {
				stats.addError("%s line %d: %v", filepath.Base(path), line, err)
			}
			continue
		}
		batch = append(batch, trade)
		if len(batch) >= batchSize {
			flush()
			if err := ctx.Err(); err != nil {
				return stats, store.Wrap(store.KindMigration, err, filepath.Base(path))
			}
		}
	}
	flush()
	if rowErrors > maxFileErrors {
		stats.addError("%s: %d more malformed rows", filepath.Base(path), rowErrors-maxFileErrors)
	}
	stats.FilesProcessed++
	logx.Infof("migration: %s -> %s: %d trades", filepath.Base(path), info.Ticker, stats.TradesMigrated)
	return stats, nil
}

func csvMember(zr *zip.ReadCloser) (*zip.File, error) {
	var found *zip.File
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("multiple csv members (%s, %s)", found.Name, f.Name)
		}
		found = f
	}
	if found == nil {
		return nil, errors.New("no csv member")
	}
	return found, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseUint(strings.TrimSpace(rec[0]), 10, 64)
	return err != nil
}
