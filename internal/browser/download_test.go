package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindExistingBrowser(t *testing.T) {
	binDir := t.TempDir()
	d := NewDownloader(binDir)
	assert.Equal(t, binDir, d.BinDir())

	_, err := d.FindExistingBrowser()
	assert.Error(t, err)

	chrome := filepath.Join(binDir, "chromium-1321438", "chrome")
	require.NoError(t, os.MkdirAll(filepath.Dir(chrome), 0o755))
	require.NoError(t, os.WriteFile(chrome, []byte("#!/bin/sh\n"), 0o755))

	got, err := d.FindExistingBrowser()
	require.NoError(t, err)
	assert.Equal(t, chrome, got)

	// EnsureBrowser must reuse the cached build without downloading.
	got, err = d.EnsureBrowser()
	require.NoError(t, err)
	assert.Equal(t, chrome, got)
}

func TestFindExistingBrowserMissingDir(t *testing.T) {
	d := NewDownloader(filepath.Join(t.TempDir(), "absent"))
	_, err := d.FindExistingBrowser()
	assert.ErrorContains(t, err, "does not exist")
}
