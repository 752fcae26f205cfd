package audit

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupBackupFixture(t *testing.T) (*BackupManager, *sql.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Record(ctx, EventOrderProposed, "corr-1", map[string]any{"n": i}, nil); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	mgr, err := NewBackupManager(db, BackupConfig{
		BackupDir:     filepath.Join(dir, "backups"),
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("failed to create backup manager: %v", err)
	}
	return mgr, db, dir
}

func TestCreateBackupNamingAndChecksum(t *testing.T) {
	mgr, _, _ := setupBackupFixture(t)
	mgr.WithClock(func() time.Time {
		return time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	})

	path, err := mgr.CreateBackup(context.Background())
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if filepath.Base(path) != "audit_20250602_143000.db" {
		t.Errorf("unexpected backup name: %s", filepath.Base(path))
	}

	checksum, err := os.ReadFile(path + ".sha256")
	if err != nil {
		t.Fatalf("checksum sidecar missing: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).Match(checksum) {
		t.Errorf("sidecar is not a hex sha256: %q", checksum)
	}

	// The snapshot must be a readable database with the full trail.
	backup, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open backup: %v", err)
	}
	defer backup.Close()
	var count int
	if err := backup.QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&count); err != nil {
		t.Fatalf("failed to count backup events: %v", err)
	}
	if count != 3 {
		t.Errorf("backup has %d events, want 3", count)
	}
}

func TestVerifyBackup(t *testing.T) {
	mgr, _, _ := setupBackupFixture(t)
	ctx := context.Background()

	path, err := mgr.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if !mgr.VerifyBackup(ctx, path) {
		t.Fatal("fresh backup should verify")
	}

	// Flip bytes in the snapshot; the checksum must catch it.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("failed to open backup for corruption: %v", err)
	}
	if _, err := f.WriteString("garbage"); err != nil {
		t.Fatalf("failed to corrupt backup: %v", err)
	}
	_ = f.Close()

	if mgr.VerifyBackup(ctx, path) {
		t.Error("corrupted backup should not verify")
	}

	if mgr.VerifyBackup(ctx, filepath.Join(filepath.Dir(path), "missing.db")) {
		t.Error("missing backup should not verify")
	}
}

func TestCleanupOldBackups(t *testing.T) {
	mgr, _, _ := setupBackupFixture(t)
	ctx := context.Background()

	old := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	mgr.WithClock(func() time.Time { return old })
	oldPath, err := mgr.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	recent := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	mgr.WithClock(func() time.Time { return recent })
	recentPath, err := mgr.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	// Clock is at June 1; the April backup is past 30 days retention.
	deleted, err := mgr.CleanupOldBackups()
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d backups, want 1", deleted)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("old backup should be deleted")
	}
	if _, err := os.Stat(oldPath + ".sha256"); !os.IsNotExist(err) {
		t.Error("old checksum sidecar should be deleted")
	}
	if _, err := os.Stat(recentPath); err != nil {
		t.Error("recent backup should be retained")
	}
}

func TestListBackupsNewestFirst(t *testing.T) {
	mgr, _, _ := setupBackupFixture(t)
	ctx := context.Background()

	times := []time.Time{
		time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
	}
	for _, ts := range times {
		ts := ts
		mgr.WithClock(func() time.Time { return ts })
		if _, err := mgr.CreateBackup(ctx); err != nil {
			t.Fatalf("backup failed: %v", err)
		}
	}

	backups, err := mgr.ListBackups()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(backups) != 3 {
		t.Fatalf("listed %d backups, want 3", len(backups))
	}
	if filepath.Base(backups[0]) != "audit_20250603_080000.db" {
		t.Errorf("expected newest backup first, got %s", filepath.Base(backups[0]))
	}
}

func TestRestoreBackup(t *testing.T) {
	mgr, db, dir := setupBackupFixture(t)
	ctx := context.Background()

	path, err := mgr.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	// More events land after the snapshot.
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	if _, err := store.Record(ctx, EventOrderSubmitted, "corr-1", nil, nil); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	target := filepath.Join(dir, "restored.db")
	if err := os.WriteFile(target, []byte("stale"), 0o644); err != nil {
		t.Fatalf("failed to seed target: %v", err)
	}
	if err := mgr.RestoreBackup(ctx, path, target); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if _, err := os.Stat(target + ".pre-restore"); err != nil {
		t.Error("expected pre-restore copy of the previous database")
	}

	restored, err := sql.Open("sqlite", target)
	if err != nil {
		t.Fatalf("failed to open restored db: %v", err)
	}
	defer restored.Close()
	var count int
	if err := restored.QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&count); err != nil {
		t.Fatalf("failed to count restored events: %v", err)
	}
	if count != 3 {
		t.Errorf("restored db has %d events, want 3 (snapshot contents)", count)
	}

	// Restoring an unverifiable path must fail.
	if err := mgr.RestoreBackup(ctx, filepath.Join(dir, "nope.db"), target); err == nil {
		t.Error("expected restore of missing backup to fail")
	}
}
