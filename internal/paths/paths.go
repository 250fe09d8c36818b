// Package paths provides centralized path resolution for tabgate.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// All functions return errors to allow callers to log appropriately.
package paths

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidPath is returned for paths that cannot be handed to the driver
	// (empty, not valid UTF-8, or containing NUL bytes).
	ErrInvalidPath = errors.New("path contains invalid characters")

	// ErrInvalidRootPath is returned when the base directory cannot be determined.
	ErrInvalidRootPath = errors.New("couldn't determine the base directory")
)

// ConfigNames lists the config file names probed in the current directory, in order.
var ConfigNames = []string{"tabgate.json", "tabgate.toml", "tabgate.yaml", "tabgate.yml"}

// BaseDir returns the tabgate base directory (~/.tabgate).
// TABGATE_HOME overrides it.
func BaseDir() (string, error) {
	if dir := os.Getenv("TABGATE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRootPath, err)
	}
	return filepath.Join(home, ".tabgate"), nil
}

// DataPath returns a path within the tabgate data directory (~/.tabgate/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active config path.
// Priority: ./tabgate.{json,toml,yaml,yml} > ~/.tabgate/tabgate.json
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath() (string, error) {
	for _, name := range ConfigNames {
		if _, err := os.Stat(name); err == nil {
			absPath, err := filepath.Abs(name)
			if err != nil {
				return "", fmt.Errorf("failed to get absolute path: %w", err)
			}
			return absPath, nil
		}
	}

	globalPath, err := DefaultConfigPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", nil
}

// DefaultConfigPath returns the default location for new configs (~/.tabgate/tabgate.json).
func DefaultConfigPath() (string, error) {
	return DataPath("tabgate.json")
}

// ProfilesDir returns the default browser profiles directory (~/.tabgate/profiles).
func ProfilesDir() (string, error) {
	return DataPath("profiles")
}

// BrowserBinDir returns where downloaded browser builds live (~/.tabgate/browser).
func BrowserBinDir() (string, error) {
	return DataPath("browser")
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRootPath, err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}

// Validate checks that a path can be passed to the driver as a command line
// argument or capability value.
func Validate(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidPath, path)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidPath, path)
	}
	return nil
}

// Resolve expands ~, validates and makes a path absolute.
func Resolve(path string) (string, error) {
	if err := Validate(path); err != nil {
		return "", err
	}
	expanded, err := ExpandTilde(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return abs, nil
}

// ResolveBinary locates an executable. Bare names ("chromedriver") are
// searched in PATH; anything containing a separator is treated as a path.
func ResolveBinary(name string) (string, error) {
	if err := Validate(name); err != nil {
		return "", err
	}
	if !strings.ContainsRune(name, filepath.Separator) && !strings.HasPrefix(name, "~") {
		found, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("executable %q not found in PATH: %w", name, err)
		}
		return found, nil
	}

	abs, err := Resolve(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("executable %s: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidPath, abs)
	}
	return abs, nil
}
