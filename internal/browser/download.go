package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod/lib/launcher"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
)

// Downloader fetches and caches a Chromium build for goog:chromeOptions.binary.
type Downloader struct {
	binDir  string
	mu      sync.Mutex
	binPath string
}

// NewDownloader creates a downloader rooted at binDir.
func NewDownloader(binDir string) *Downloader {
	return &Downloader{binDir: binDir}
}

// EnsureBrowser returns the browser binary, downloading it on first use.
// This is safe to call concurrently.
func (d *Downloader) EnsureBrowser() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.binPath != "" {
		if _, err := os.Stat(d.binPath); err == nil {
			return d.binPath, nil
		}
		d.binPath = ""
	}

	if existing, err := d.findExisting(); err == nil {
		d.binPath = existing
		return existing, nil
	}

	if err := os.MkdirAll(d.binDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create browser bin directory: %w", err)
	}

	L_info("browser: downloading chromium", "binDir", d.binDir)
	b := launcher.NewBrowser()
	b.RootDir = d.binDir
	binPath, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download browser: %w", err)
	}

	d.binPath = binPath
	L_info("browser: chromium ready", "path", binPath)
	return binPath, nil
}

// FindExistingBrowser looks for an already downloaded binary without
// touching the network.
func (d *Downloader) FindExistingBrowser() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findExisting()
}

func (d *Downloader) findExisting() (string, error) {
	entries, err := os.ReadDir(d.binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("browser not downloaded: %s does not exist", d.binDir)
		}
		return "", fmt.Errorf("failed to read bin directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidates := []string{
			filepath.Join(d.binDir, entry.Name(), "chrome"),
			filepath.Join(d.binDir, entry.Name(), "chrome.exe"),
			filepath.Join(d.binDir, entry.Name(), "Chromium.app", "Contents", "MacOS", "Chromium"),
		}
		for _, candidate := range candidates {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("browser not downloaded: no chromium binary found in %s", d.binDir)
}

// BinDir returns the binary directory
func (d *Downloader) BinDir() string {
	return d.binDir
}
