package migration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/backup"
	"flowstore/internal/store"
	"flowstore/internal/verify"
)

// State is a step of the orchestrator's run.
type State string

const (
	StateIdle      State = "idle"
	StateBackup    State = "backup"
	StateMigrate   State = "migrate"
	StateVerify    State = "verify"
	StateRollback  State = "rollback"
	StateCommitted State = "committed"
	StateAborted   State = "aborted"
)

// Job is one migration step run against the open write handle.
type Job func(ctx context.Context, db *store.DB) (Stats, error)

// Report describes a finished run.
type Report struct {
	RunID    string
	State    State
	Stats    Stats
	Health   *verify.HealthCheck
	Backup   *backup.Metadata
	Started  time.Time
	Finished time.Time
}

// Orchestrator drives backup, migration, verification and rollback for a
// single database file. It owns the write handle for the duration of Run.
type Orchestrator struct {
	opts              store.Options
	cfg               Config
	backups           *backup.Manager
	includeMarketData bool
	nowFn             func() time.Time
}

// NewOrchestrator builds an orchestrator. backups may be nil when cfg
// disables backups.
func NewOrchestrator(opts store.Options, cfg Config, backups *backup.Manager, includeMarketData bool) *Orchestrator {
	return &Orchestrator{
		opts:              opts,
		cfg:               cfg,
		backups:           backups,
		includeMarketData: includeMarketData,
		nowFn:             time.Now,
	}
}

// Run executes jobs in order. A job error that is not captured into Stats is
// fatal: the held backup is restored and the run ends Aborted.
func (o *Orchestrator) Run(ctx context.Context, jobs ...Job) (Report, error) {
	rep := Report{RunID: uuid.NewString(), State: StateIdle, Started: o.nowFn()}
	logger := logx.WithContext(ctx).WithFields(logx.Field("run", rep.RunID))
	finish := func(s State, err error) (Report, error) {
		rep.State = s
		rep.Finished = o.nowFn()
		if err != nil {
			logger.Errorf("migration %s: %v", s, err)
		} else {
			logger.Infof("migration %s: %s", s, rep.Stats)
		}
		return rep, err
	}

	if err := o.cfg.Validate(); err != nil {
		return finish(StateAborted, err)
	}
	if err := o.opts.Validate(); err != nil {
		return finish(StateAborted, err)
	}
	guard := verify.NewGuard(o.opts.Path, o.backups)

	if o.cfg.CreateBackup && !o.cfg.DryRun {
		rep.State = StateBackup
		meta, err := o.backup(ctx)
		if err != nil {
			return finish(StateAborted, err)
		}
		rep.Backup = &meta
		guard.Hold(meta)
	}

	rep.State = StateMigrate
	stats, err := o.migrate(ctx, jobs)
	rep.Stats = stats
	if err != nil {
		if rep.Backup == nil {
			return finish(StateAborted, err)
		}
		rep.State = StateRollback
		if rbErr := guard.RollbackIfFailed(verify.HealthCheck{Status: verify.Failed, Messages: []string{err.Error()}}); rbErr != nil {
			return finish(StateAborted, errors.Join(err, rbErr))
		}
		return finish(StateAborted, err)
	}

	if !o.cfg.VerifyMigration || o.cfg.DryRun {
		return finish(StateCommitted, nil)
	}

	rep.State = StateVerify
	health, err := guard.VerifyMigration(ctx)
	if err != nil {
		return finish(StateAborted, err)
	}
	rep.Health = &health
	if health.Status != verify.Failed {
		return finish(StateCommitted, nil)
	}

	rep.State = StateRollback
	if err := guard.RollbackIfFailed(health); err != nil {
		return finish(StateAborted, err)
	}
	return finish(StateAborted, store.Errorf(store.KindMigration, "verification failed, restored backup %s", rep.Backup.Timestamp))
}

// backup snapshots the database. A missing file is created first so the
// backup always has something to restore.
func (o *Orchestrator) backup(ctx context.Context) (backup.Metadata, error) {
	if o.backups == nil {
		return backup.Metadata{}, store.Errorf(store.KindConfiguration, "backups enabled but no backup root configured")
	}
	db, err := store.Open(ctx, o.opts)
	if err != nil {
		return backup.Metadata{}, err
	}
	version, err := db.SchemaVersion(ctx)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return backup.Metadata{}, err
	}
	return o.backups.CreatePreMigrationBackup(o.opts.Path, o.includeMarketData, version)
}

func (o *Orchestrator) migrate(ctx context.Context, jobs []Job) (stats Stats, err error) {
	db, err := store.Open(ctx, o.opts)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	for _, job := range jobs {
		s, jerr := job(ctx, db)
		stats.Merge(s)
		if jerr != nil {
			return stats, jerr
		}
	}
	return stats, nil
}
