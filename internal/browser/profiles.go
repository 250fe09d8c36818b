package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
	"github.com/roelfdiedericks/tabgate/internal/paths"
)

// ephemeralPrefix marks profiles created for a single session.
const ephemeralPrefix = "ephemeral-"

// staleLockFiles are left behind by a crashed browser; Chrome refuses to
// start on a user data dir that still has them.
var staleLockFiles = []string{"SingletonLock", "SingletonCookie", "SingletonSocket"}

// ProfileInfo contains information about a browser profile
type ProfileInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	LastUsed  time.Time `json:"lastUsed"`
	Ephemeral bool      `json:"ephemeral"`
}

// ProfileManager owns the user data directories handed to the browser.
type ProfileManager struct {
	profilesDir string
}

// NewProfileManager creates a new profile manager
func NewProfileManager(profilesDir string) *ProfileManager {
	return &ProfileManager{profilesDir: profilesDir}
}

// Dir returns the profiles directory
func (m *ProfileManager) Dir() string {
	return m.profilesDir
}

func validProfileName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: bad profile name %q", ErrInvalidPath, name)
	}
	return paths.Validate(name)
}

// Path returns the directory of a profile without creating it.
func (m *ProfileManager) Path(name string) (string, error) {
	if err := validProfileName(name); err != nil {
		return "", err
	}
	return filepath.Join(m.profilesDir, name), nil
}

// Ensure creates the profile directory if needed, removes stale browser
// locks and returns its path.
func (m *ProfileManager) Ensure(name string) (string, error) {
	dir, err := m.Path(name)
	if err != nil {
		return "", err
	}
	if err := paths.EnsureDir(dir); err != nil {
		return "", err
	}
	cleanupStaleLocks(dir)
	L_debug("browser: ensured profile", "name", name, "path", dir)
	return dir, nil
}

// EnsureProfileDir prepares an explicit user data dir outside the profiles
// directory.
func EnsureProfileDir(dir string) (string, error) {
	abs, err := paths.Resolve(dir)
	if err != nil {
		return "", err
	}
	if err := paths.EnsureDir(abs); err != nil {
		return "", err
	}
	cleanupStaleLocks(abs)
	return abs, nil
}

// CreateEphemeral makes a uniquely named profile for one session.
func (m *ProfileManager) CreateEphemeral() (string, string, error) {
	name := ephemeralPrefix + uuid.NewString()
	dir, err := m.Ensure(name)
	return name, dir, err
}

// Exists checks if a profile exists
func (m *ProfileManager) Exists(name string) bool {
	dir, err := m.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// List returns information about all profiles
func (m *ProfileManager) List() ([]ProfileInfo, error) {
	entries, err := os.ReadDir(m.profilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ProfileInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	profiles := make([]ProfileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		profiles = append(profiles, profileInfo(entry.Name(), filepath.Join(m.profilesDir, entry.Name())))
	}
	return profiles, nil
}

func profileInfo(name, dir string) ProfileInfo {
	info := ProfileInfo{
		Name:      name,
		Path:      dir,
		Ephemeral: strings.HasPrefix(name, ephemeralPrefix),
	}
	_ = filepath.Walk(dir, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fi.IsDir() {
			info.Size += fi.Size()
		}
		if fi.ModTime().After(info.LastUsed) {
			info.LastUsed = fi.ModTime()
		}
		return nil
	})
	return info
}

// Clear removes all data from a profile (cookies, cache, etc.) but keeps the directory.
func (m *ProfileManager) Clear(name string) error {
	if !m.Exists(name) {
		return fmt.Errorf("profile does not exist: %s", name)
	}
	dir, _ := m.Path(name)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read profile directory: %w", err)
	}
	for _, entry := range entries {
		entryPath := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(entryPath); err != nil {
			L_warn("browser: failed to remove profile entry", "path", entryPath, "error", err)
		}
	}

	L_info("browser: cleared profile", "name", name)
	return nil
}

// Delete completely removes a profile
func (m *ProfileManager) Delete(name string) error {
	if name == "default" {
		return fmt.Errorf("cannot delete default profile")
	}
	if !m.Exists(name) {
		return fmt.Errorf("profile does not exist: %s", name)
	}
	dir, _ := m.Path(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	L_info("browser: deleted profile", "name", name)
	return nil
}

// PruneEphemeral removes ephemeral profiles left behind by sessions that
// never reached Close.
func (m *ProfileManager) PruneEphemeral() (int, error) {
	profiles, err := m.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range profiles {
		if !p.Ephemeral {
			continue
		}
		if err := os.RemoveAll(p.Path); err != nil {
			L_warn("browser: failed to prune ephemeral profile", "path", p.Path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// cleanupStaleLocks removes Chrome lock files left behind by crashed sessions
func cleanupStaleLocks(profileDir string) {
	for _, lockFile := range staleLockFiles {
		lockPath := filepath.Join(profileDir, lockFile)
		if _, err := os.Lstat(lockPath); err != nil {
			continue
		}
		if err := os.Remove(lockPath); err != nil {
			L_warn("browser: failed to remove stale lock file", "file", lockPath, "error", err)
		} else {
			L_info("browser: removed stale lock file", "file", lockPath)
		}
	}
}

// FormatSize returns a human-readable size string
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
