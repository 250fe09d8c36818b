package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/tabgate/internal/browser"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	opts := cfg.ToBrowserOptions()
	assert.Equal(t, "127.0.0.1", opts.Host)
	assert.Equal(t, "chromedriver", opts.Driver.Binary)
	assert.Equal(t, 10*time.Second, opts.Driver.StartTimeout)
	assert.Equal(t, 60*time.Second, opts.RequestTimeout)
	assert.Equal(t, browser.DefaultClosePolicy(), opts.Close)
	assert.True(t, opts.Browser.Headless)
	assert.True(t, opts.Browser.Stealth)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"json", "tabgate.json", `{"driver":{"port":9515,"startTimeout":"3s"},"browser":{"headless":false,"device":"pixel-2"},"close":{"maxAttempts":7}}`},
		{"toml", "tabgate.toml", "[driver]\nport = 9515\nstartTimeout = \"3s\"\n[browser]\nheadless = false\ndevice = \"pixel-2\"\n[close]\nmaxAttempts = 7\n"},
		{"yaml", "tabgate.yaml", "driver:\n  port: 9515\n  startTimeout: 3s\nbrowser:\n  headless: false\n  device: pixel-2\nclose:\n  maxAttempts: 7\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			cfg, used, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, path, used)

			assert.Equal(t, 9515, cfg.Driver.Port)
			assert.Equal(t, "3s", cfg.Driver.StartTimeout)
			assert.False(t, cfg.Browser.Headless)
			assert.Equal(t, "pixel-2", cfg.Browser.Device)
			assert.Equal(t, 7, cfg.Close.MaxAttempts)

			// Untouched fields keep their defaults.
			assert.Equal(t, "chromedriver", cfg.Driver.Binary)
			assert.True(t, cfg.Browser.Stealth)
			assert.Equal(t, "2s", cfg.Close.MaxDelay)
		})
	}
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TABGATE_HOME", filepath.Join(dir, "home"))

	cfg, used, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile("tabgate.yaml", []byte("logging:\n  level: debug\n"), 0o600))
	cfg, used, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "tabgate.yaml", filepath.Base(used))
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown field":  `{"driver":{"nope":1}}`,
		"bad duration":   `{"close":{"delay":"soon"}}`,
		"bad port":       `{"driver":{"port":70000}}`,
		"bad level":      `{"logging":{"level":"loud"}}`,
		"unknown device": `{"browser":{"device":"toaster"}}`,
		"not json":       `{`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tabgate.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, _, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, _, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestMergeOverrides(t *testing.T) {
	cfg := Default()
	cfg.Driver.Args = []string{"--verbose"}

	err := cfg.MergeOverrides(Config{
		Driver:  DriverConfig{Port: 4444, Args: []string{"--log-path=/tmp/d.log"}},
		Browser: BrowserConfig{Profile: "work", Headless: false},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9464"},
	})
	require.NoError(t, err)

	assert.Equal(t, 4444, cfg.Driver.Port)
	assert.Equal(t, "chromedriver", cfg.Driver.Binary)
	assert.Equal(t, []string{"--verbose", "--log-path=/tmp/d.log"}, cfg.Driver.Args)
	assert.Equal(t, "work", cfg.Browser.Profile)
	assert.True(t, cfg.Browser.Headless, "zero values never override")
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatTOML, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			want := Default()
			want.Browser.Profile = "work"
			want.Driver.Args = []string{"--verbose"}

			data, err := Encode(want, format)
			require.NoError(t, err)

			got := &Config{}
			require.NoError(t, Decode(data, format, got))
			assert.Equal(t, want, got)
		})
	}
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, time.Second, ParseDuration("bogus", time.Second))
	assert.Equal(t, 250*time.Millisecond, ParseDuration("250ms", time.Second))
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatTOML, FormatOf("a/b.TOML"))
	assert.Equal(t, FormatYAML, FormatOf("x.yml"))
	assert.Equal(t, FormatYAML, FormatOf("x.yaml"))
	assert.Equal(t, FormatJSON, FormatOf("x.json"))
	assert.Equal(t, FormatJSON, FormatOf("noext"))
}
