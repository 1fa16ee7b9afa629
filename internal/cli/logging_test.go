package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"flowstore/internal/backup"
	"flowstore/internal/config"
	"flowstore/internal/migration"
	"flowstore/internal/store"
	"flowstore/internal/verify"
)

func TestConfigSummaryLines(t *testing.T) {
	assert.Equal(t, []string{"Configuration: <nil>"}, ConfigSummaryLines(nil))

	cfg := &config.Config{Env: "dev"}
	cfg.Database = config.DatabaseConf{Path: "/data/flow.duckdb", Threads: 4, BatchSize: 1000, UseAppender: true}
	cfg.Migration = config.MigrationConf{BatchSize: 500, CreateBackup: true, VerifyMigration: true, Exchange: "BinanceLinear"}
	cfg.Backup = config.BackupConf{Root: "/data/backups", RetentionDays: 7}
	cfg.Retention = config.RetentionConf{TradesDays: 30}
	cfg.Tickers.File = "/etc/tickers.yaml"

	lines := ConfigSummaryLines(cfg)
	assert.Contains(t, lines, "Database: /data/flow.duckdb")
	assert.Contains(t, lines, "Database tuning (memory/threads/temp): default / 4 / default")
	assert.Contains(t, lines, "Writes: batch 1000 via appender")
	assert.Contains(t, lines, "Archives: default (BinanceLinear)")
	assert.Contains(t, lines, "Retention (trades/klines/depth/runs): 30d / forever / forever / forever")
	assert.Contains(t, lines, "Ticker catalog: /etc/tickers.yaml")
}

func TestReportLines(t *testing.T) {
	start := time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC)
	rep := migration.Report{
		RunID:    "run-1",
		State:    migration.StateCommitted,
		Stats:    migration.Stats{TradesMigrated: 3, Errors: []string{"bad row"}},
		Health:   &verify.HealthCheck{Status: verify.Passed, Messages: []string{"all checks passed"}},
		Backup:   &backup.Metadata{BackupPath: "/b/backup_1", Files: []backup.FileEntry{{SizeBytes: 10}}},
		Started:  start,
		Finished: start.Add(65 * time.Second),
	}
	assert.Equal(t, []string{
		"Run run-1: committed in 1m 5s",
		"Stats: files=0 trades=3 klines=0 footprints=0 runs=0 errors=1",
		"Backup: /b/backup_1 (1 files, 10 bytes)",
		"Health: passed (all checks passed)",
		"Error: bad row",
	}, ReportLines(rep))
}

func TestTableLines(t *testing.T) {
	lines := TableLines([]store.TableCount{{Table: "trades", Rows: 3}})
	assert.Equal(t, []string{"trades           3"}, lines)
}
