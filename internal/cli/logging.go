package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/config"
	"flowstore/internal/migration"
	"flowstore/internal/store"
	"flowstore/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	db := cfg.Database
	mig := cfg.Migration
	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Database: %s", db.Path),
		fmt.Sprintf("Database tuning (memory/threads/temp): %s / %s / %s",
			orDefault(db.MemoryLimitGB > 0, fmt.Sprintf("%gGB", db.MemoryLimitGB)),
			orDefault(db.Threads > 0, fmt.Sprintf("%d", db.Threads)),
			orDefault(db.TempDirectory != "", db.TempDirectory)),
		fmt.Sprintf("Writes: batch %d via %s", db.BatchSize, writePath(db.UseAppender)),
		fmt.Sprintf("Migration: batch %d, dry run %t, backup %t, verify %t",
			mig.BatchSize, mig.DryRun, mig.CreateBackup, mig.VerifyMigration),
		fmt.Sprintf("Archives: %s (%s)", orDefault(mig.ArchiveDir != "", mig.ArchiveDir), mig.Exchange),
		fmt.Sprintf("Backups: %s, keep %dd, market data %t", cfg.Backup.Root, cfg.Backup.RetentionDays, cfg.Backup.IncludeMarketData),
		fmt.Sprintf("Retention (trades/klines/depth/runs): %s / %s / %s / %s",
			days(cfg.Retention.TradesDays), days(cfg.Retention.KlinesDays),
			days(cfg.Retention.DepthDays), days(cfg.Retention.OrderRunsDays)),
		sectionLine("Ticker catalog", cfg.Tickers),
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

// ReportLines summarises a migration run.
func ReportLines(rep migration.Report) []string {
	lines := []string{
		fmt.Sprintf("Run %s: %s in %s", rep.RunID, rep.State, migration.FormatDuration(rep.Finished.Sub(rep.Started))),
		fmt.Sprintf("Stats: %s", rep.Stats),
	}
	if rep.Backup != nil {
		lines = append(lines, fmt.Sprintf("Backup: %s (%d files, %d bytes)", rep.Backup.BackupPath, len(rep.Backup.Files), rep.Backup.TotalBytes()))
	}
	if rep.Health != nil {
		lines = append(lines, fmt.Sprintf("Health: %s (%s)", rep.Health.Status, strings.Join(rep.Health.Messages, "; ")))
	}
	for _, e := range rep.Stats.Errors {
		lines = append(lines, "Error: "+e)
	}
	return lines
}

// TableLines formats row counts, one table per line.
func TableLines(counts []store.TableCount) []string {
	lines := make([]string, 0, len(counts))
	for _, c := range counts {
		lines = append(lines, fmt.Sprintf("%-16s %d", c.Table, c.Rows))
	}
	return lines
}

func writePath(appender bool) string {
	if appender {
		return "appender"
	}
	return "statements"
}

func orDefault(ok bool, v string) string {
	if ok {
		return v
	}
	return "default"
}

func days(n int) string {
	if n <= 0 {
		return "forever"
	}
	return fmt.Sprintf("%dd", n)
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
