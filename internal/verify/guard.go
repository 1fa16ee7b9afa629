package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/backup"
	"flowstore/internal/store"
)

// Status is the outcome of a health check.
type Status int

const (
	Passed Status = iota
	Warning
	Failed
)

func (s Status) String() string {
	switch s {
	case Passed:
		return "passed"
	case Warning:
		return "warning"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// HealthCheck collects the verdict and the messages that led to it.
type HealthCheck struct {
	Status   Status
	Messages []string
}

func (h *HealthCheck) raise(s Status, format string, args ...any) {
	if s > h.Status {
		h.Status = s
	}
	h.Messages = append(h.Messages, fmt.Sprintf(format, args...))
}

// Guard verifies a migrated database and restores the held backup when
// verification fails.
type Guard struct {
	dbPath  string
	backups *backup.Manager

	mu   sync.Mutex
	held *backup.Metadata
}

// NewGuard builds a guard for the database at dbPath.
func NewGuard(dbPath string, backups *backup.Manager) *Guard {
	return &Guard{dbPath: dbPath, backups: backups}
}

// Hold records the backup that a rollback restores.
func (g *Guard) Hold(meta backup.Metadata) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = &meta
}

// Held returns the backup a rollback would restore.
func (g *Guard) Held() (backup.Metadata, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		return backup.Metadata{}, false
	}
	return *g.held, true
}

// VerifyMigration opens the database read-only and checks it. The write
// handle must be closed beforehand.
func (g *Guard) VerifyMigration(ctx context.Context) (HealthCheck, error) {
	db, err := store.OpenReadOnly(ctx, g.dbPath)
	if err != nil {
		return HealthCheck{}, err
	}
	defer db.Close()
	return Check(ctx, db)
}

// Check runs table existence, row count, and integrity checks in order.
func Check(ctx context.Context, db *store.DB) (HealthCheck, error) {
	var hc HealthCheck

	present, err := tableNames(ctx, db)
	if err != nil {
		return hc, err
	}
	var missing []string
	for _, t := range store.Tables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		hc.raise(Failed, "missing tables: %s", strings.Join(missing, ", "))
		logHealth(hc)
		return hc, nil
	}

	for _, t := range []string{store.TableExchanges, store.TableTickers} {
		n, err := db.CountRows(ctx, t)
		if err != nil {
			return hc, err
		}
		if n == 0 {
			hc.raise(Warning, "%s is empty", t)
		}
	}

	for _, probe := range integrityProbes {
		n, err := countQuery(ctx, db, probe.query)
		if err != nil {
			return hc, err
		}
		if n > 0 {
			hc.raise(Failed, "%d %s", n, probe.what)
		}
	}

	if len(hc.Messages) == 0 {
		hc.Messages = append(hc.Messages, "all checks passed")
	}
	logHealth(hc)
	return hc, nil
}

var integrityProbes = []struct {
	what  string
	query string
}{
	{"trades with negative price", `SELECT COUNT(*) FROM trades WHERE price < 0`},
	{"klines with null open or close", `SELECT COUNT(*) FROM klines WHERE open IS NULL OR close IS NULL`},
	{"footprints without a parent kline", `SELECT COUNT(*) FROM footprint_data f
LEFT JOIN klines k ON k.kline_id = f.kline_id WHERE k.kline_id IS NULL`},
}

func tableNames(ctx context.Context, db *store.DB) (map[string]bool, error) {
	return store.Read(ctx, db, func(ctx context.Context, c *store.Conn) (map[string]bool, error) {
		var names []string
		err := c.SQL.QueryRowsCtx(ctx, &names,
			`SELECT table_name FROM information_schema.tables WHERE table_schema = 'main'`)
		if err != nil {
			return nil, store.Wrap(store.KindQuery, err, "list tables")
		}
		out := make(map[string]bool, len(names))
		for _, n := range names {
			out[n] = true
		}
		return out, nil
	})
}

func countQuery(ctx context.Context, db *store.DB, query string) (int64, error) {
	return store.Read(ctx, db, func(ctx context.Context, c *store.Conn) (int64, error) {
		var n int64
		if err := c.SQL.QueryRowCtx(ctx, &n, query); err != nil {
			return 0, store.Wrap(store.KindQuery, err, "integrity probe")
		}
		return n, nil
	})
}

func logHealth(hc HealthCheck) {
	msgs := append([]string(nil), hc.Messages...)
	sort.Strings(msgs)
	if hc.Status == Failed {
		logx.Errorf("verify: %s: %s", hc.Status, strings.Join(msgs, "; "))
		return
	}
	logx.Infof("verify: %s: %s", hc.Status, strings.Join(msgs, "; "))
}

// RollbackIfFailed restores the held backup when health failed. The database
// file and its write-ahead log are removed before the restore.
func (g *Guard) RollbackIfFailed(health HealthCheck) error {
	if health.Status != Failed {
		return nil
	}
	meta, ok := g.Held()
	if !ok || g.backups == nil {
		return store.Errorf(store.KindMigration, "verification failed and no backup is held")
	}
	for _, path := range []string{g.dbPath, g.dbPath + ".wal"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return store.Wrapf(store.KindMigration, err, "remove %s", path)
		}
	}
	if err := g.backups.Restore(meta); err != nil {
		return store.Wrap(store.KindMigration, err, "restore backup")
	}
	logx.Infof("verify: rolled back %s to backup %s", g.dbPath, meta.Timestamp)
	return nil
}
