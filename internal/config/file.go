package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roelfdiedericks/tabgate/internal/logging"
)

// DefaultBackupCount is the default number of backup versions to keep.
const DefaultBackupCount = 5

// BackupInfo describes one backup of a config file. Index 0 is path.bak (the
// newest), index n is path.bak.n.
type BackupInfo struct {
	Path    string
	Index   int
	ModTime time.Time
	Size    int64
}

// backupPath names the backup with the given index.
func backupPath(path string, index int) string {
	if index == 0 {
		return path + ".bak"
	}
	return path + ".bak." + strconv.Itoa(index)
}

// backupIndex is the inverse of backupPath.
func backupIndex(path, candidate string) (int, bool) {
	suffix, ok := strings.CutPrefix(candidate, path+".bak")
	if !ok {
		return 0, false
	}
	if suffix == "" {
		return 0, true
	}
	n, err := strconv.Atoi(strings.TrimPrefix(suffix, "."))
	if err != nil || n <= 0 || !strings.HasPrefix(suffix, ".") {
		return 0, false
	}
	return n, true
}

// AtomicWrite replaces path with data. The data goes to a temp file in the
// same directory which is renamed over path, so readers see either the old
// or the new file.
func AtomicWrite(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tabgate-*.tmp")
	if err != nil {
		return fmt.Errorf("config: temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("config: chmod temp file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("config: sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}

// Save encodes cfg in the format implied by path's extension, backs up any
// existing file and writes atomically.
func Save(path string, cfg *Config, maxBackups int) error {
	data, err := Encode(cfg, FormatOf(path))
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return BackupAndWrite(path, data, maxBackups)
}

// BackupAndWrite keeps up to maxBackups previous versions of path, then
// writes data atomically. A failed backup is logged and does not stop the
// write.
func BackupAndWrite(path string, data []byte, maxBackups int) error {
	if maxBackups <= 0 {
		maxBackups = DefaultBackupCount
	}

	if current, err := os.ReadFile(path); err == nil {
		if err := backup(path, current, maxBackups); err != nil {
			logging.L_warn("config: backup failed, continuing with save", "path", path, "error", err)
		}
	}

	if err := AtomicWrite(path, data, 0o600); err != nil {
		return err
	}
	logging.L_debug("config: saved", "path", path)
	return nil
}

// backup shifts existing backups up one index, dropping the one that would
// exceed keep, and stores current as index 0.
func backup(path string, current []byte, keep int) error {
	var errs []error
	if err := os.Remove(backupPath(path, keep-1)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	for i := keep - 2; i >= 0; i-- {
		if err := os.Rename(backupPath(path, i), backupPath(path, i+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := AtomicWrite(backupPath(path, 0), current, 0o600); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		logging.L_trace("config: backed up", "path", backupPath(path, 0), "keep", keep)
	}
	return errors.Join(errs...)
}

// ListBackups returns the backups of path ordered by index, newest first.
func ListBackups(path string) []BackupInfo {
	matches, err := filepath.Glob(path + ".bak*")
	if err != nil {
		return nil
	}

	var backups []BackupInfo
	for _, m := range matches {
		index, ok := backupIndex(path, m)
		if !ok {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		backups = append(backups, BackupInfo{Path: m, Index: index, ModTime: info.ModTime(), Size: info.Size()})
	}
	slices.SortFunc(backups, func(a, b BackupInfo) int { return a.Index - b.Index })
	return backups
}
