package browser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileEnsureRemovesStaleLocks(t *testing.T) {
	pm := NewProfileManager(t.TempDir())

	dir, err := pm.Ensure("work")
	require.NoError(t, err)
	assert.True(t, pm.Exists("work"))

	for _, lock := range staleLockFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, lock), nil, 0o600))
	}
	_, err = pm.Ensure("work")
	require.NoError(t, err)
	for _, lock := range staleLockFiles {
		_, err := os.Lstat(filepath.Join(dir, lock))
		assert.True(t, os.IsNotExist(err), "%s left behind", lock)
	}
}

func TestProfileNamesAreValidated(t *testing.T) {
	pm := NewProfileManager(t.TempDir())
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "bad\x00"} {
		_, err := pm.Ensure(name)
		assert.ErrorIs(t, err, ErrInvalidPath, "name %q", name)
		assert.False(t, pm.Exists(name))
	}
}

func TestProfileListClearDelete(t *testing.T) {
	pm := NewProfileManager(t.TempDir())

	profiles, err := pm.List()
	require.NoError(t, err)
	assert.Empty(t, profiles)

	dir, err := pm.Ensure("default")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cookies"), []byte("12345"), 0o600))
	_, err = pm.Ensure("other")
	require.NoError(t, err)

	profiles, err = pm.List()
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	sizes := map[string]int64{}
	for _, p := range profiles {
		sizes[p.Name] = p.Size
	}
	assert.Equal(t, int64(5), sizes["default"])

	require.NoError(t, pm.Clear("default"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, pm.Exists("default"))

	assert.Error(t, pm.Delete("default"))
	require.NoError(t, pm.Delete("other"))
	assert.False(t, pm.Exists("other"))
	assert.Error(t, pm.Delete("other"))
	assert.Error(t, pm.Clear("other"))
}

func TestEphemeralProfiles(t *testing.T) {
	pm := NewProfileManager(t.TempDir())

	name1, dir1, err := pm.CreateEphemeral()
	require.NoError(t, err)
	name2, _, err := pm.CreateEphemeral()
	require.NoError(t, err)
	assert.NotEqual(t, name1, name2)
	assert.True(t, strings.HasPrefix(name1, ephemeralPrefix))
	assert.DirExists(t, dir1)

	_, err = pm.Ensure("keep")
	require.NoError(t, err)

	removed, err := pm.PruneEphemeral()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	profiles, err := pm.List()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "keep", profiles[0].Name)
	assert.False(t, profiles[0].Ephemeral)
}

func TestResolveBrowserEphemeralProfile(t *testing.T) {
	cfg := BrowserConfig{Dir: t.TempDir(), Ephemeral: true, Profile: "ignored"}

	profileDir, ephemeralDir, binary, err := resolveBrowser(cfg)
	require.NoError(t, err)
	assert.Equal(t, profileDir, ephemeralDir)
	assert.Empty(t, binary)
	assert.DirExists(t, profileDir)
	assert.Equal(t, filepath.Join(cfg.Dir, "profiles"), filepath.Dir(profileDir))
}

func TestResolveBrowserExplicitProfileDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom")
	profileDir, ephemeralDir, _, err := resolveBrowser(BrowserConfig{ProfileDir: dir, Profile: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, dir, profileDir)
	assert.Empty(t, ephemeralDir)
	assert.DirExists(t, dir)
}

func TestResolveBrowserBadBinaryDropsEphemeral(t *testing.T) {
	cfg := BrowserConfig{Dir: t.TempDir(), Ephemeral: true, Binary: filepath.Join(t.TempDir(), "missing-chrome")}
	_, _, _, err := resolveBrowser(cfg)
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(cfg.Dir, "profiles"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.in))
	}
}
