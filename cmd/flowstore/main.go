package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/cli"
	"flowstore/internal/config"
	"flowstore/internal/svc"
)

var (
	configFile = flag.String("f", "etc/flowstore.yaml", "the config file")
	dryRun     = flag.Bool("dry-run", false, "count what would be migrated without writing")
	skipPrune  = flag.Bool("skip-prune", false, "do not apply retention after migrating")
)

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	if *dryRun {
		cfg.Migration.DryRun = true
	}
	logx.MustSetup(cfg.Log)
	defer logx.Close()
	cli.LogConfigSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := svc.NewServiceContext(*cfg)
	logx.Must(err)

	rep, err := s.Migrate(ctx)
	for _, line := range cli.ReportLines(rep) {
		logx.Infof("migration • %s", line)
	}
	if err != nil {
		logx.Errorf("migration failed: %v", err)
		logx.Close()
		os.Exit(1)
	}

	if !*skipPrune && !cfg.Migration.DryRun {
		if _, err := s.ApplyRetention(ctx, time.Now()); err != nil {
			logx.Errorf("retention: %v", err)
		}
	}
	if _, err := s.CleanupBackups(); err != nil {
		logx.Errorf("backup cleanup: %v", err)
	}

	if counts, err := s.TableCounts(ctx); err == nil {
		for _, line := range cli.TableLines(counts) {
			logx.Infof("table • %s", line)
		}
	}
}
