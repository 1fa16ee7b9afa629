package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/migration"
	"flowstore/internal/store"
	"flowstore/pkg/confkit"
	"flowstore/pkg/market"
)

type DatabaseConf struct {
	Path          string  `json:",default=data/flowstore.duckdb"`
	MemoryLimitGB float64 `json:",optional"`
	TempDirectory string  `json:",optional"`
	Threads       int     `json:",optional"`
	BatchSize     int     `json:",default=1000"`
	UseAppender   bool    `json:",default=true"`
}

type MigrationConf struct {
	BatchSize       int    `json:",default=1000"`
	DryRun          bool   `json:",optional"`
	CreateBackup    bool   `json:",default=true"`
	VerifyMigration bool   `json:",default=true"`
	ArchiveDir      string `json:",optional"`
	// Exchange the archives were downloaded from.
	Exchange        string `json:",default=BinanceLinear"`
}

type BackupConf struct {
	Root              string `json:",default=data/backups"`
	RetentionDays     int    `json:",default=7"`
	IncludeMarketData bool   `json:",optional"`
	MarketDataDir     string `json:",optional"`
}

// RetentionConf holds per-family retention in days; zero keeps everything.
type RetentionConf struct {
	TradesDays    int `json:",optional"`
	KlinesDays    int `json:",optional"`
	DepthDays     int `json:",optional"`
	OrderRunsDays int `json:",optional"`
}

// Cutoffs converts retention days into store cutoffs relative to now.
func (r RetentionConf) Cutoffs(now time.Time) store.Cutoffs {
	cut := func(days int) uint64 {
		if days <= 0 {
			return 0
		}
		return uint64(now.AddDate(0, 0, -days).UnixMilli())
	}
	return store.Cutoffs{
		Trades:    cut(r.TradesDays),
		Klines:    cut(r.KlinesDays),
		Depth:     cut(r.DepthDays),
		OrderRuns: cut(r.OrderRunsDays),
	}
}

type Config struct {
	// Env indicates the running environment: test | dev | prod
	Env       string        `json:",default=test"`
	Log       logx.LogConf  `json:",optional"`
	Database  DatabaseConf  `json:",optional"`
	Migration MigrationConf `json:",optional"`
	Backup    BackupConf    `json:",optional"`
	Retention RetentionConf `json:",optional"`

	Tickers confkit.Section[market.Catalog] `json:",optional"`

	mainPath string
	baseDir  string
}

func (c *Config) IsTestEnv() bool {
	return c.Env == "test" || c.Env == ""
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, store.Wrapf(store.KindConfiguration, err, "resolve config path %s", path)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, store.Wrapf(store.KindConfiguration, err, "load config %s", absPath)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Tickers.Hydrate(cfg.baseDir, market.LoadCatalog); err != nil {
		return nil, store.Wrap(store.KindConfiguration, err, "load ticker catalog")
	}
	return &cfg, nil
}

// resolvePaths makes file locations relative to the main config file.
func (c *Config) resolvePaths() {
	resolve := func(p *string) {
		if strings.TrimSpace(*p) != "" {
			*p = confkit.ResolvePath(c.baseDir, *p)
		}
	}
	resolve(&c.Database.Path)
	resolve(&c.Database.TempDirectory)
	resolve(&c.Migration.ArchiveDir)
	resolve(&c.Backup.Root)
	resolve(&c.Backup.MarketDataDir)
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "", "test", "dev", "prod":
		if strings.TrimSpace(c.Env) == "" {
			c.Env = "test"
		}
	default:
		return store.Errorf(store.KindConfiguration, "config: env must be one of test|dev|prod")
	}
	if err := c.StoreOptions().Validate(); err != nil {
		return err
	}
	if err := c.MigrationConfig().Validate(); err != nil {
		return err
	}
	if _, err := market.ParseExchange(c.Migration.Exchange); err != nil {
		return store.Wrap(store.KindConfiguration, err, "config: migration.exchange")
	}
	if c.Migration.CreateBackup && strings.TrimSpace(c.Backup.Root) == "" {
		return store.Errorf(store.KindConfiguration, "config: backup.root is required when backups are enabled")
	}
	if c.Backup.RetentionDays < 1 {
		return store.Errorf(store.KindConfiguration, "config: backup.retentionDays must be positive")
	}
	r := c.Retention
	if r.TradesDays < 0 || r.KlinesDays < 0 || r.DepthDays < 0 || r.OrderRunsDays < 0 {
		return store.Errorf(store.KindConfiguration, "config: retention days must not be negative")
	}
	return nil
}

// StoreOptions maps the Database section onto connection options.
func (c *Config) StoreOptions() store.Options {
	opts := store.DefaultOptions(c.Database.Path)
	opts.MemoryLimitGB = c.Database.MemoryLimitGB
	opts.TempDirectory = c.Database.TempDirectory
	opts.Threads = c.Database.Threads
	opts.BatchSize = c.Database.BatchSize
	opts.UseAppender = c.Database.UseAppender
	return opts
}

// MigrationConfig maps the Migration section onto the engines' settings.
func (c *Config) MigrationConfig() migration.Config {
	return migration.Config{
		BatchSize:       c.Migration.BatchSize,
		DryRun:          c.Migration.DryRun,
		CreateBackup:    c.Migration.CreateBackup,
		VerifyMigration: c.Migration.VerifyMigration,
	}
}

// ArchiveExchange is the venue archive symbols are looked up on.
func (c *Config) ArchiveExchange() market.Exchange {
	ex, _ := market.ParseExchange(c.Migration.Exchange)
	return ex
}

// Catalog returns the hydrated ticker catalog, or an empty one.
func (c *Config) Catalog() *market.Catalog {
	if c.Tickers.Value != nil {
		return c.Tickers.Value
	}
	return market.NewCatalog()
}

func (c *Config) String() string {
	return fmt.Sprintf("env=%s db=%s", c.Env, c.Database.Path)
}

func (c *Config) MainPath() string {
	return c.mainPath
}

func (c *Config) BaseDir() string {
	return c.baseDir
}
