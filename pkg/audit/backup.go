package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix     = "audit_"
	backupTimeLayout = "20060102_150405"
	checksumSuffix   = ".sha256"
)

// BackupConfig holds backup manager settings.
type BackupConfig struct {
	BackupDir     string
	RetentionDays int
}

// BackupManager snapshots the SQLite audit database with checksum sidecars
// and rotates old snapshots out. Snapshots use VACUUM INTO, so the manager
// applies to Lite Mode deployments only.
type BackupManager struct {
	db     *sql.DB
	cfg    BackupConfig
	remote RemoteStore
	clock  func() time.Time
}

// NewBackupManager creates the backup directory if needed.
func NewBackupManager(db *sql.DB, cfg BackupConfig) (*BackupManager, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &BackupManager{db: db, cfg: cfg, clock: time.Now}, nil
}

// WithRemote attaches an off-host store; every snapshot and sidecar is
// uploaded after local creation.
func (m *BackupManager) WithRemote(r RemoteStore) *BackupManager {
	m.remote = r
	return m
}

// WithClock overrides clock for testing.
func (m *BackupManager) WithClock(clock func() time.Time) *BackupManager {
	m.clock = clock
	return m
}

// CreateBackup writes a consistent snapshot named audit_YYYYMMDD_HHMMSS.db
// plus a .db.sha256 sidecar holding the hex digest of the snapshot.
func (m *BackupManager) CreateBackup(ctx context.Context) (string, error) {
	name := backupPrefix + m.clock().UTC().Format(backupTimeLayout) + ".db"
	path := filepath.Join(m.cfg.BackupDir, name)

	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("backup failed: %w", err)
	}

	checksum, err := checksumFile(path)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("backup checksum failed: %w", err)
	}
	if err := os.WriteFile(path+checksumSuffix, []byte(checksum), 0o644); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write backup checksum: %w", err)
	}

	if m.remote != nil {
		if err := m.uploadBackup(ctx, path); err != nil {
			// The local snapshot is good; surface the upload failure
			// without discarding it.
			return path, fmt.Errorf("backup created but remote upload failed: %w", err)
		}
	}
	return path, nil
}

func (m *BackupManager) uploadBackup(ctx context.Context, path string) error {
	for _, p := range []string{path, path + checksumSuffix} {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := m.remote.Upload(ctx, filepath.Base(p), data); err != nil {
			return err
		}
	}
	return nil
}

// VerifyBackup reports whether a snapshot matches its sidecar checksum and
// passes the SQLite integrity check.
func (m *BackupManager) VerifyBackup(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	stored, err := os.ReadFile(path + checksumSuffix)
	if err != nil {
		return false
	}
	current, err := checksumFile(path)
	if err != nil {
		return false
	}
	if strings.TrimSpace(string(stored)) != current {
		return false
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return false
	}
	defer func() { _ = db.Close() }()
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}

// ListBackups returns snapshot paths, newest first.
func (m *BackupManager) ListBackups() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.cfg.BackupDir, backupPrefix+"*.db"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// CleanupOldBackups deletes snapshots older than the retention period,
// judged by the timestamp embedded in the filename. Returns the number of
// snapshots deleted.
func (m *BackupManager) CleanupOldBackups() (int, error) {
	backups, err := m.ListBackups()
	if err != nil {
		return 0, err
	}
	cutoff := m.clock().UTC().AddDate(0, 0, -m.cfg.RetentionDays)

	deleted := 0
	for _, path := range backups {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), backupPrefix), ".db")
		backupTime, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			// Not one of ours.
			continue
		}
		if backupTime.Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return deleted, err
			}
			_ = os.Remove(path + checksumSuffix)
			deleted++
		}
	}
	return deleted, nil
}

// RestoreBackup copies a verified snapshot over the target database. The
// current database, if present, is kept alongside as a .pre-restore copy.
func (m *BackupManager) RestoreBackup(ctx context.Context, backupPath, targetPath string) error {
	if !m.VerifyBackup(ctx, backupPath) {
		return fmt.Errorf("backup verification failed: %s", backupPath)
	}
	if _, err := os.Stat(targetPath); err == nil {
		if err := copyFile(targetPath, targetPath+".pre-restore"); err != nil {
			return fmt.Errorf("failed to preserve current database: %w", err)
		}
	}
	if err := copyFile(backupPath, targetPath); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	return nil
}

// Run performs scheduled backups and retention sweeps until ctx is
// cancelled. An immediate backup is taken on startup.
func (m *BackupManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *BackupManager) runOnce(ctx context.Context) {
	path, err := m.CreateBackup(ctx)
	if err != nil {
		slog.Error("audit backup failed", "error", err)
		if path == "" {
			return
		}
	}
	slog.Info("audit backup created", "path", path)
	if deleted, err := m.CleanupOldBackups(); err != nil {
		slog.Error("audit backup cleanup failed", "error", err)
	} else if deleted > 0 {
		slog.Info("audit backups rotated", "deleted", deleted)
	}
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
