package svc

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/backup"
	"flowstore/internal/config"
	"flowstore/internal/migration"
	"flowstore/internal/store"
	"flowstore/pkg/market"
)

type ServiceContext struct {
	Config config.Config

	Catalog      *market.Catalog
	StoreOptions store.Options
	Backups      *backup.Manager
	Orchestrator *migration.Orchestrator
}

func NewServiceContext(c config.Config) (*ServiceContext, error) {
	svc := &ServiceContext{
		Config:       c,
		Catalog:      c.Catalog(),
		StoreOptions: c.StoreOptions(),
	}

	if c.Migration.CreateBackup {
		var opts []backup.Option
		if c.Backup.MarketDataDir != "" {
			opts = append(opts, backup.WithMarketDataDir(c.Backup.MarketDataDir))
		}
		mgr, err := backup.NewManager(c.Backup.Root, opts...)
		if err != nil {
			return nil, err
		}
		svc.Backups = mgr
	}

	svc.Orchestrator = migration.NewOrchestrator(svc.StoreOptions, c.MigrationConfig(), svc.Backups, c.Backup.IncludeMarketData)
	return svc, nil
}

// Jobs returns the migration jobs enabled by the configuration.
func (s *ServiceContext) Jobs() []migration.Job {
	var jobs []migration.Job
	if dir := s.Config.Migration.ArchiveDir; dir != "" {
		cfg := s.Config.MigrationConfig()
		exchange := s.Config.ArchiveExchange()
		jobs = append(jobs, func(ctx context.Context, db *store.DB) (migration.Stats, error) {
			return migration.NewArchiveMigrator(db, cfg, s.Catalog, exchange).MigrateDirectory(ctx, dir)
		})
	}
	return jobs
}

// Migrate runs the configured jobs through the orchestrator.
func (s *ServiceContext) Migrate(ctx context.Context) (migration.Report, error) {
	return s.Orchestrator.Run(ctx, s.Jobs()...)
}

// ApplyRetention prunes rows older than the configured retention windows.
func (s *ServiceContext) ApplyRetention(ctx context.Context, now time.Time) (store.PruneResult, error) {
	cut := s.Config.Retention.Cutoffs(now)
	if cut == (store.Cutoffs{}) {
		return store.PruneResult{}, nil
	}
	db, err := store.Open(ctx, s.StoreOptions)
	if err != nil {
		return store.PruneResult{}, err
	}
	defer db.Close()
	return db.PruneOlderThan(ctx, cut)
}

// CleanupBackups removes backups past the retention period.
func (s *ServiceContext) CleanupBackups() (int, error) {
	if s.Backups == nil {
		return 0, nil
	}
	n, err := s.Backups.Cleanup(s.Config.Backup.RetentionDays)
	if err == nil && n > 0 {
		logx.Infof("backup: removed %d expired backups", n)
	}
	return n, err
}

// TableCounts opens the database read-only and returns row counts.
func (s *ServiceContext) TableCounts(ctx context.Context) ([]store.TableCount, error) {
	db, err := store.OpenReadOnly(ctx, s.StoreOptions.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Stats(ctx)
}
