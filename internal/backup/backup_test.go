package backup_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstore/internal/backup"
	"flowstore/internal/store"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBackupCorruptRestore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "flow.duckdb")
	writeFile(t, dbPath, "original")

	mgr, err := backup.NewManager(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	meta, err := mgr.CreatePreMigrationBackup(dbPath, false, 2)
	require.NoError(t, err)
	require.Len(t, meta.Files, 1)
	assert.Equal(t, int64(len("original")), meta.Files[0].SizeBytes)
	assert.Equal(t, 2, meta.SchemaVersion)
	assert.True(t, filepath.IsAbs(meta.BackupPath))

	writeFile(t, dbPath, "modified")
	require.NoError(t, mgr.Restore(meta))

	data, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestBackupManifestOnDisk(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "flow.duckdb")
	writeFile(t, dbPath, "db")
	writeFile(t, dbPath+".wal", "wal")

	c := &clock{now: time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC)}
	mgr, err := backup.NewManager(filepath.Join(dir, "backups"), backup.WithClock(c.Now))
	require.NoError(t, err)

	meta, err := mgr.CreatePreMigrationBackup(dbPath, false, 1)
	require.NoError(t, err)
	assert.Equal(t, "20240115_160000", meta.Timestamp)
	assert.Equal(t, filepath.Join(mgr.Root(), "backup_20240115_160000"), meta.BackupPath)
	require.Len(t, meta.Files, 2)

	onDisk, err := backup.ReadManifest(meta.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, meta, onDisk)

	again, err := mgr.CreatePreMigrationBackup(dbPath, false, 1)
	require.NoError(t, err)
	assert.NotEqual(t, meta.BackupPath, again.BackupPath)
}

func TestBackupIncludesMarketData(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "flow.duckdb")
	writeFile(t, dbPath, "db")
	legacy := filepath.Join(dir, "market_data")
	writeFile(t, filepath.Join(legacy, "aggTrades", "BTCUSDT", "BTCUSDT-aggTrades-2024-01-15.zip"), "zip")

	mgr, err := backup.NewManager(filepath.Join(dir, "backups"), backup.WithMarketDataDir(legacy))
	require.NoError(t, err)
	meta, err := mgr.CreatePreMigrationBackup(dbPath, true, 1)
	require.NoError(t, err)
	require.Len(t, meta.Files, 2)
	assert.FileExists(t, filepath.Join(meta.BackupPath, "market_data", "aggTrades", "BTCUSDT", "BTCUSDT-aggTrades-2024-01-15.zip"))

	skipped, err := mgr.CreatePreMigrationBackup(dbPath, false, 1)
	require.NoError(t, err)
	assert.Len(t, skipped.Files, 1)
}

func TestBackupMissingDatabase(t *testing.T) {
	mgr, err := backup.NewManager(t.TempDir())
	require.NoError(t, err)
	_, err = mgr.CreatePreMigrationBackup(filepath.Join(t.TempDir(), "nope.duckdb"), false, 0)
	assert.True(t, store.IsKind(err, store.KindNotFound))
}

func TestRestoreFailsFastOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.bin")
	writeFile(t, target, "keep")
	present := filepath.Join(dir, "backup", "a.bin")
	writeFile(t, present, "backup")

	mgr, err := backup.NewManager(filepath.Join(dir, "root"))
	require.NoError(t, err)
	err = mgr.Restore(backup.Metadata{Files: []backup.FileEntry{
		{OriginalPath: target, BackupPath: present},
		{OriginalPath: filepath.Join(dir, "b.bin"), BackupPath: filepath.Join(dir, "backup", "missing.bin")},
	}})
	assert.True(t, store.IsKind(err, store.KindNotFound))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestListAndCleanup(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "flow.duckdb")
	writeFile(t, dbPath, "db")

	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	mgr, err := backup.NewManager(filepath.Join(dir, "backups"), backup.WithClock(c.Now))
	require.NoError(t, err)

	var stamps []string
	for i := 0; i < 3; i++ {
		meta, err := mgr.CreatePreMigrationBackup(dbPath, false, 1)
		require.NoError(t, err)
		stamps = append(stamps, meta.Timestamp)
		c.now = c.now.Add(10 * 24 * time.Hour)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(mgr.Root(), "backup_garbage"), 0o755))

	list, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{stamps[2], stamps[1], stamps[0]},
		[]string{list[0].Timestamp, list[1].Timestamp, list[2].Timestamp})

	latest, ok, err := mgr.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stamps[2], latest.Timestamp)

	// now is 30 days after the first backup
	removed, err := mgr.Cleanup(15)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err = mgr.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stamps[2], list[0].Timestamp)

	_, err = mgr.Cleanup(0)
	assert.True(t, store.IsKind(err, store.KindConfiguration))
}
