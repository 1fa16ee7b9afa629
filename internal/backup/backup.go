package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"flowstore/internal/store"
)

const (
	// ManifestName is the manifest file written into every backup directory.
	ManifestName = "manifest.json"
	// TimestampLayout formats manifest timestamps and directory names (UTC).
	TimestampLayout = "20060102_150405"

	dirPrefix     = "backup_"
	marketDataDir = "market_data"
	walSuffix     = ".wal"
)

// FileEntry records one copied file.
type FileEntry struct {
	OriginalPath string `json:"original_path"`
	BackupPath   string `json:"backup_path"`
	SizeBytes    int64  `json:"size_bytes"`
}

// Metadata is the manifest of one backup.
type Metadata struct {
	Timestamp     string      `json:"timestamp"`
	BackupPath    string      `json:"backup_path"`
	Files         []FileEntry `json:"files"`
	SchemaVersion int         `json:"schema_version"`
}

// Time parses the manifest timestamp.
func (m Metadata) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, m.Timestamp, time.UTC)
}

// TotalBytes sums the sizes of all copied files.
func (m Metadata) TotalBytes() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.SizeBytes
	}
	return n
}

// Manager creates, restores, lists, and prunes file-copy backups under a root
// directory.
type Manager struct {
	root          string
	marketDataDir string
	nowFn         func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithMarketDataDir sets the legacy market-data directory copied when a
// backup includes market data.
func WithMarketDataDir(dir string) Option {
	return func(m *Manager) { m.marketDataDir = dir }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.nowFn = now }
}

// NewManager ensures the backup root exists.
func NewManager(root string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, store.Errorf(store.KindConfiguration, "backup root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, store.Wrapf(store.KindIo, err, "resolve backup root %s", root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, store.Wrapf(store.KindIo, err, "create backup root %s", abs)
	}
	m := &Manager{root: abs, nowFn: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the absolute backup root.
func (m *Manager) Root() string {
	return m.root
}

// CreatePreMigrationBackup copies the database file (and its write-ahead log
// when present) into a fresh timestamped directory and writes the manifest.
func (m *Manager) CreatePreMigrationBackup(dbPath string, includeMarketData bool, schemaVersion int) (Metadata, error) {
	src, err := filepath.Abs(dbPath)
	if err != nil {
		return Metadata{}, store.Wrapf(store.KindIo, err, "resolve %s", dbPath)
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, store.Errorf(store.KindNotFound, "database file %s does not exist", src)
		}
		return Metadata{}, store.Wrapf(store.KindIo, err, "stat %s", src)
	}

	now := m.nowFn().UTC()
	stamp := now.Format(TimestampLayout)
	dir, err := m.makeBackupDir(stamp)
	if err != nil {
		return Metadata{}, err
	}
	meta := Metadata{Timestamp: stamp, BackupPath: dir, SchemaVersion: schemaVersion}

	sources := []string{src}
	if _, err := os.Stat(src + walSuffix); err == nil {
		sources = append(sources, src+walSuffix)
	}
	for _, file := range sources {
		entry, err := copyInto(file, filepath.Join(dir, filepath.Base(file)))
		if err != nil {
			return Metadata{}, err
		}
		meta.Files = append(meta.Files, entry)
	}

	if includeMarketData && m.marketDataDir != "" {
		entries, err := m.copyMarketData(filepath.Join(dir, marketDataDir))
		if err != nil {
			return Metadata{}, err
		}
		meta.Files = append(meta.Files, entries...)
	}

	if err := writeManifest(meta); err != nil {
		return Metadata{}, err
	}
	logx.Infof("backup: created %s (%d files, %d bytes, schema v%d)",
		dir, len(meta.Files), meta.TotalBytes(), schemaVersion)
	return meta, nil
}

func (m *Manager) makeBackupDir(stamp string) (string, error) {
	base := filepath.Join(m.root, dirPrefix+stamp)
	dir := base
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", store.Wrapf(store.KindIo, err, "create %s", dir)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

func (m *Manager) copyMarketData(dst string) ([]FileEntry, error) {
	srcRoot, err := filepath.Abs(m.marketDataDir)
	if err != nil {
		return nil, store.Wrapf(store.KindIo, err, "resolve %s", m.marketDataDir)
	}
	if _, err := os.Stat(srcRoot); errors.Is(err, fs.ErrNotExist) {
		logx.Infof("backup: market data dir %s missing, skipped", srcRoot)
		return nil, nil
	}
	var entries []FileEntry
	err = filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		entry, err := copyInto(path, filepath.Join(dst, rel))
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, store.Wrapf(store.KindIo, err, "copy market data %s", srcRoot)
	}
	return entries, nil
}

// Restore copies every backed-up file to its original path. Nothing is
// written unless all backup files are present.
func (m *Manager) Restore(meta Metadata) error {
	if len(meta.Files) == 0 {
		return store.Errorf(store.KindNotFound, "backup %s lists no files", meta.BackupPath)
	}
	for _, f := range meta.Files {
		if _, err := os.Stat(f.BackupPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return store.Errorf(store.KindNotFound, "backup file %s missing", f.BackupPath)
			}
			return store.Wrapf(store.KindIo, err, "stat %s", f.BackupPath)
		}
	}
	for _, f := range meta.Files {
		if err := restoreFile(f); err != nil {
			return err
		}
	}
	logx.Infof("backup: restored %d files from %s", len(meta.Files), meta.BackupPath)
	return nil
}

func restoreFile(f FileEntry) error {
	if err := os.MkdirAll(filepath.Dir(f.OriginalPath), 0o755); err != nil {
		return store.Wrapf(store.KindIo, err, "create %s", filepath.Dir(f.OriginalPath))
	}
	tmp := f.OriginalPath + ".restore"
	if _, err := copyInto(f.BackupPath, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, f.OriginalPath); err != nil {
		os.Remove(tmp)
		return store.Wrapf(store.KindIo, err, "replace %s", f.OriginalPath)
	}
	return nil
}

// List returns the manifests under the root, newest first. Directories
// without a readable manifest are skipped.
func (m *Manager) List() ([]Metadata, error) {
	dirs, err := os.ReadDir(m.root)
	if err != nil {
		return nil, store.Wrapf(store.KindIo, err, "read %s", m.root)
	}
	var out []Metadata
	for _, d := range dirs {
		if !d.IsDir() || !strings.HasPrefix(d.Name(), dirPrefix) {
			continue
		}
		meta, err := ReadManifest(filepath.Join(m.root, d.Name()))
		if err != nil {
			logx.Errorf("backup: skip %s: %v", d.Name(), err)
			continue
		}
		out = append(out, meta)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].BackupPath > out[j].BackupPath
	})
	return out, nil
}

// Latest returns the newest backup, if any.
func (m *Manager) Latest() (Metadata, bool, error) {
	all, err := m.List()
	if err != nil || len(all) == 0 {
		return Metadata{}, false, err
	}
	return all[0], true, nil
}

// Cleanup removes backups whose manifest timestamp is older than the
// retention window and returns how many were removed.
func (m *Manager) Cleanup(retentionDays int) (int, error) {
	if retentionDays < 1 {
		return 0, store.Errorf(store.KindConfiguration, "retention_days must be >= 1, got %d", retentionDays)
	}
	all, err := m.List()
	if err != nil {
		return 0, err
	}
	cutoff := m.nowFn().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed := 0
	for _, meta := range all {
		ts, err := meta.Time()
		if err != nil {
			logx.Errorf("backup: bad timestamp %q in %s: %v", meta.Timestamp, meta.BackupPath, err)
			continue
		}
		if !ts.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(meta.BackupPath); err != nil {
			return removed, store.Wrapf(store.KindIo, err, "remove %s", meta.BackupPath)
		}
		removed++
		logx.Infof("backup: removed %s", meta.BackupPath)
	}
	return removed, nil
}

// ReadManifest loads the manifest stored in a backup directory.
func ReadManifest(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return Metadata{}, store.Wrapf(store.KindIo, err, "read manifest in %s", dir)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, store.Wrapf(store.KindIo, err, "parse manifest in %s", dir)
	}
	return meta, nil
}

func writeManifest(meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return store.Wrap(store.KindIo, err, "encode manifest")
	}
	path := filepath.Join(meta.BackupPath, ManifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return store.Wrapf(store.KindIo, err, "write %s", path)
	}
	return nil
}

// copyInto copies src to dst byte for byte and syncs dst.
func copyInto(src, dst string) (FileEntry, error) {
	in, err := os.Open(src)
	if err != nil {
		return FileEntry{}, store.Wrapf(store.KindIo, err, "open %s", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return FileEntry{}, store.Wrapf(store.KindIo, err, "create %s", filepath.Dir(dst))
	}
	out, err := os.Create(dst)
	if err != nil {
		return FileEntry{}, store.Wrapf(store.KindIo, err, "create %s", dst)
	}
	n, err := io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return FileEntry{}, store.Wrapf(store.KindIo, err, "copy %s to %s", src, dst)
	}
	return FileEntry{OriginalPath: src, BackupPath: dst, SizeBytes: n}, nil
}
