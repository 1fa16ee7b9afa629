package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	duckdb "github.com/duckdb/duckdb-go/v2"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// DefaultBatchSize is the number of rows written per transaction.
const DefaultBatchSize = 1000

// Options configures the embedded database handle.
type Options struct {
	Path          string
	MemoryLimitGB float64
	TempDirectory string
	Threads       int
	ReadOnly      bool
	BatchSize     int
	// UseAppender selects the columnar appender for bulk inserts; otherwise a
	// prepared-statement loop is used.
	UseAppender bool
}

// DefaultOptions returns the defaults for a database at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:        path,
		BatchSize:   DefaultBatchSize,
		UseAppender: true,
	}
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Path) == "" {
		return Errorf(KindConfiguration, "database path is required")
	}
	if o.MemoryLimitGB < 0 {
		return Errorf(KindConfiguration, "memory_limit_gb must be >= 0, got %v", o.MemoryLimitGB)
	}
	if o.Threads < 0 {
		return Errorf(KindConfiguration, "threads must be >= 0, got %d", o.Threads)
	}
	if o.BatchSize < 0 {
		return Errorf(KindConfiguration, "batch_size must be >= 0, got %d", o.BatchSize)
	}
	return nil
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o Options) dsn() string {
	if o.ReadOnly {
		return o.Path + "?access_mode=READ_ONLY"
	}
	return o.Path
}

// pragmas are pinned on every physical connection the connector opens.
func (o Options) pragmas() []string {
	var out []string
	if o.MemoryLimitGB > 0 {
		out = append(out, fmt.Sprintf("SET memory_limit = '%dMiB'", int64(o.MemoryLimitGB*1024)))
	}
	if o.Threads > 0 {
		out = append(out, fmt.Sprintf("SET threads = %d", o.Threads))
	}
	if dir := strings.TrimSpace(o.TempDirectory); dir != "" {
		out = append(out, fmt.Sprintf("SET temp_directory = '%s'", strings.ReplaceAll(dir, "'", "''")))
	}
	return out
}

// Conn is the handle granted to callers of WithConn and Read.
type Conn struct {
	SQL sqlx.SqlConn

	native *duckdb.Conn
	opts   Options
}

// DB owns the embedded database. Mutating access is serialized; readers may
// share the handle since the backend serves concurrent MVCC reads.
type DB struct {
	opts      Options
	connector *duckdb.Connector
	raw       *sql.DB
	conn      *Conn
	ids       *identityResolver

	mu     sync.RWMutex
	closed bool
}

func init() {
	sqlx.DisableStmtLog()
}

// Open opens or creates the database file and applies the schema.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !opts.ReadOnly {
		if dir := filepath.Dir(opts.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, Wrapf(KindIo, err, "create database directory %s", dir)
			}
		}
	}

	pragmas := opts.pragmas()
	connector, err := duckdb.NewConnector(opts.dsn(), func(execer driver.ExecerContext) error {
		for _, stmt := range pragmas {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, Wrapf(KindConnection, err, "open %s", opts.Path)
	}

	raw := sql.OpenDB(connector)
	if err := raw.PingContext(ctx); err != nil {
		raw.Close()
		connector.Close()
		return nil, Wrapf(KindConnection, err, "ping %s", opts.Path)
	}

	db := &DB{
		opts:      opts,
		connector: connector,
		raw:       raw,
		conn: &Conn{
			SQL:  sqlx.NewSqlConnFromDB(raw, sqlx.WithAcceptable(acceptable)),
			opts: opts,
		},
	}

	if !opts.ReadOnly {
		if err := DefaultRegistry().Apply(ctx, db.conn.SQL); err != nil {
			db.Close()
			return nil, err
		}
		native, err := connector.Connect(ctx)
		if err != nil {
			db.Close()
			return nil, Wrap(KindConnection, err, "open native connection")
		}
		duckConn, ok := native.(*duckdb.Conn)
		if !ok {
			native.Close()
			db.Close()
			return nil, Errorf(KindConnection, "unexpected driver connection %T", native)
		}
		db.conn.native = duckConn
	}
	db.ids = newIdentityResolver()

	logx.Infof("store: opened %s (read_only=%t, appender=%t, batch=%d)",
		opts.Path, opts.ReadOnly, opts.UseAppender, opts.batchSize())
	return db, nil
}

// OpenReadOnly opens an existing database for inspection only.
func OpenReadOnly(ctx context.Context, path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, Wrapf(KindConnection, err, "open %s", path)
	}
	opts := DefaultOptions(path)
	opts.ReadOnly = true
	return Open(ctx, opts)
}

// acceptable keeps data errors from tripping the connection breaker.
func acceptable(err error) bool {
	return err == nil || !errors.Is(err, driver.ErrBadConn)
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.opts.Path
}

// Options returns the options the handle was opened with.
func (db *DB) Options() Options {
	return db.opts
}

// ReadOnly reports whether writes are rejected.
func (db *DB) ReadOnly() bool {
	return db.opts.ReadOnly
}

// Close releases the native connection, the pool, and the connector.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var errs []error
	if db.conn != nil && db.conn.native != nil {
		errs = append(errs, db.conn.native.Close())
	}
	if db.raw != nil {
		errs = append(errs, db.raw.Close())
	}
	if db.connector != nil {
		errs = append(errs, db.connector.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return Wrapf(KindConnection, err, "close %s", db.opts.Path)
	}
	return nil
}

// WithConn grants exclusive access to the connection for the duration of fn.
func WithConn[R any](ctx context.Context, db *DB, fn func(ctx context.Context, c *Conn) (R, error)) (R, error) {
	var zero R
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.usable(ctx); err != nil {
		return zero, err
	}
	if db.opts.ReadOnly {
		return zero, Errorf(KindConnection, "%s is open read-only", db.opts.Path)
	}
	return fn(ctx, db.conn)
}

// Read grants shared access for queries.
func Read[R any](ctx context.Context, db *DB, fn func(ctx context.Context, c *Conn) (R, error)) (R, error) {
	var zero R
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.usable(ctx); err != nil {
		return zero, err
	}
	return fn(ctx, db.conn)
}

func (db *DB) usable(ctx context.Context) error {
	if db.closed {
		return Errorf(KindConnection, "%s is closed", db.opts.Path)
	}
	if err := ctx.Err(); err != nil {
		return Wrap(KindLock, err, "acquire connection")
	}
	return nil
}
