package migration

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/store"
)

// maxFileErrors caps per-archive row errors kept in Stats.
const maxFileErrors = 10

// Config is shared by every migration engine.
type Config struct {
	BatchSize       int
	DryRun          bool
	CreateBackup    bool
	VerifyMigration bool
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:       store.DefaultBatchSize,
		CreateBackup:    true,
		VerifyMigration: true,
	}
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return store.Errorf(store.KindConfiguration, "migration batch_size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Stats accumulates what a migration wrote and what failed along the way.
type Stats struct {
	FilesProcessed     int
	TradesMigrated     int
	KlinesMigrated     int
	FootprintsMigrated int
	RunsMigrated       int
	Errors             []string
}

// Merge folds o into s.
func (s *Stats) Merge(o Stats) {
	s.FilesProcessed += o.FilesProcessed
	s.TradesMigrated += o.TradesMigrated
	s.KlinesMigrated += o.KlinesMigrated
	s.FootprintsMigrated += o.FootprintsMigrated
	s.RunsMigrated += o.RunsMigrated
	s.Errors = append(s.Errors, o.Errors...)
}

// Rows is the total number of rows migrated.
func (s Stats) Rows() int {
	return s.TradesMigrated + s.KlinesMigrated + s.FootprintsMigrated + s.RunsMigrated
}

func (s *Stats) addError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logx.Errorf("migration: %s", msg)
	s.Errors = append(s.Errors, msg)
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "files=%d trades=%d klines=%d footprints=%d runs=%d errors=%d",
		s.FilesProcessed, s.TradesMigrated, s.KlinesMigrated, s.FootprintsMigrated, s.RunsMigrated, len(s.Errors))
	return b.String()
}

// chunks splits n items into batch-sized [start, end) windows.
func chunks(n, size int) [][2]int {
	if size <= 0 {
		size = store.DefaultBatchSize
	}
	out := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}
