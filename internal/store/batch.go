package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"flowstore/pkg/market"
)

// tableSpec describes how a family is written: its columns, primary key, and
// which columns an upsert refreshes. An empty update list keeps existing rows.
type tableSpec struct {
	name    string
	columns []string
	key     string
	update  []string
}

func (t tableSpec) stage() string {
	return t.name + "_stage"
}

func (t tableSpec) conflictClause() string {
	if len(t.update) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", t.key)
	}
	sets := make([]string, len(t.update))
	for i, col := range t.update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", t.key, strings.Join(sets, ", "))
}

func (t tableSpec) insertSQL() string {
	cols := strings.Join(t.columns, ", ")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s", t.name, cols, marks, t.conflictClause())
}

func (t tableSpec) mergeSQL() string {
	cols := strings.Join(t.columns, ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s %s", t.name, cols, cols, t.stage(), t.conflictClause())
}

type row struct {
	key    int64
	values []driver.Value
}

// dedupe keeps the last row per key in first-seen order so one statement
// never touches the same key twice.
func dedupe(rows []row) []row {
	if len(rows) < 2 {
		return rows
	}
	pos := make(map[int64]int, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		if i, ok := pos[r.key]; ok {
			out[i] = r
			continue
		}
		pos[r.key] = len(out)
		out = append(out, r)
	}
	return out
}

// write commits rows in a single transaction and returns the number of
// distinct rows written. Callers must hold the exclusive connection.
func (c *Conn) write(ctx context.Context, spec tableSpec, rows []row) (int, error) {
	rows = dedupe(rows)
	if len(rows) == 0 {
		return 0, nil
	}
	var err error
	if c.opts.UseAppender && c.native != nil {
		err = c.appendRows(ctx, spec, rows)
	} else {
		err = c.execRows(ctx, spec, rows)
	}
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (c *Conn) execRows(ctx context.Context, spec tableSpec, rows []row) error {
	query := spec.insertSQL()
	err := c.SQL.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		stmt, err := session.PrepareCtx(ctx, query)
		if err != nil {
			return Wrapf(KindQuery, err, "prepare %s insert", spec.name)
		}
		defer stmt.Close()
		args := make([]any, len(spec.columns))
		for i, r := range rows {
			for j, v := range r.values {
				args[j] = v
			}
			if _, err := stmt.ExecCtx(ctx, args...); err != nil {
				return Wrapf(KindInsert, err, "%s row %d", spec.name, i)
			}
		}
		return nil
	})
	if err != nil {
		if IsKind(err, KindInsert) || IsKind(err, KindQuery) {
			return err
		}
		return Wrapf(KindTransaction, err, "%s batch", spec.name)
	}
	return nil
}

func (c *Conn) nativeExec(ctx context.Context, query string) error {
	_, err := c.native.ExecContext(ctx, query, nil)
	return err
}

func (c *Conn) appendRows(ctx context.Context, spec tableSpec, rows []row) (err error) {
	if err := c.nativeExec(ctx, "BEGIN TRANSACTION"); err != nil {
		return Wrap(KindTransaction, err, "begin")
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := c.nativeExec(context.Background(), "ROLLBACK"); rbErr != nil {
			logx.Errorf("store: rollback %s batch: %v", spec.name, rbErr)
		}
	}()

	if err := c.nativeExec(ctx, "DELETE FROM "+spec.stage()); err != nil {
		return Wrapf(KindInsert, err, "clear %s", spec.stage())
	}
	appender, err := duckdb.NewAppenderFromConn(c.native, "", spec.stage())
	if err != nil {
		return Wrapf(KindInsert, err, "appender for %s", spec.stage())
	}
	flushEvery := c.opts.batchSize()
	for i, r := range rows {
		if err := appender.AppendRow(r.values...); err != nil {
			appender.Close()
			return Wrapf(KindInsert, err, "%s row %d", spec.name, i)
		}
		if (i+1)%flushEvery == 0 {
			if err := appender.Flush(); err != nil {
				appender.Close()
				return Wrapf(KindInsert, err, "flush %s", spec.stage())
			}
		}
	}
	if err := appender.Close(); err != nil {
		return Wrapf(KindInsert, err, "close %s appender", spec.stage())
	}
	if err := c.nativeExec(ctx, spec.mergeSQL()); err != nil {
		return Wrapf(KindInsert, err, "merge %s", spec.name)
	}
	if err := c.nativeExec(ctx, "DELETE FROM "+spec.stage()); err != nil {
		return Wrapf(KindInsert, err, "clear %s", spec.stage())
	}
	if err := c.nativeExec(ctx, "COMMIT"); err != nil {
		return Wrap(KindTransaction, err, "commit")
	}
	return nil
}

// deleteBefore removes rows whose time column precedes cutoff.
func (c *Conn) deleteBefore(ctx context.Context, table, column string, cutoff uint64) (int64, error) {
	res, err := c.SQL.ExecCtx(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column), dbTime(cutoff))
	if err != nil {
		return 0, Wrapf(KindQuery, err, "delete from %s", table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, Wrapf(KindQuery, err, "delete from %s", table)
	}
	return n, nil
}

// TimeRange is an inclusive [Min, Max] span of stored times.
type TimeRange struct {
	Min uint64
	Max uint64
}

type coverageRow struct {
	MinTime sql.NullInt64 `db:"min_time"`
	MaxTime sql.NullInt64 `db:"max_time"`
}

func (c *Conn) coverage(ctx context.Context, query string, args ...any) (TimeRange, bool, error) {
	var r coverageRow
	if err := c.SQL.QueryRowCtx(ctx, &r, query, args...); err != nil {
		return TimeRange{}, false, Wrap(KindQuery, err, "coverage")
	}
	if !r.MinTime.Valid || !r.MaxTime.Valid {
		return TimeRange{}, false, nil
	}
	return TimeRange{Min: uint64(r.MinTime.Int64), Max: uint64(r.MaxTime.Int64)}, true, nil
}

// tickerCoverage runs a coverage query whose first argument is the ticker id.
func (db *DB) tickerCoverage(ctx context.Context, info market.TickerInfo, query string, extra ...any) (TimeRange, bool, error) {
	type span struct {
		r  TimeRange
		ok bool
	}
	res, err := Read(ctx, db, func(ctx context.Context, c *Conn) (span, error) {
		id, found, err := db.readTicker(ctx, c, info)
		if err != nil || !found {
			return span{}, err
		}
		r, ok, err := c.coverage(ctx, query, append([]any{id}, extra...)...)
		return span{r: r, ok: ok}, err
	})
	return res.r, res.ok, err
}

func (c *Conn) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := c.SQL.QueryRowCtx(ctx, &n, query, args...); err != nil {
		return 0, Wrap(KindQuery, err, "count")
	}
	return n, nil
}
