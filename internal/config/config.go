// Package config loads tabgate settings from JSON, TOML or YAML files and
// turns them into browser.Options.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/tabgate/internal/browser"
	"github.com/roelfdiedericks/tabgate/internal/logging"
	"github.com/roelfdiedericks/tabgate/internal/paths"
)

// Config is the file configuration. Durations are strings ("30s").
type Config struct {
	Driver  DriverConfig  `json:"driver" toml:"driver" yaml:"driver"`
	Browser BrowserConfig `json:"browser" toml:"browser" yaml:"browser"`
	Close   CloseConfig   `json:"close" toml:"close" yaml:"close"`
	Logging LoggingConfig `json:"logging" toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" toml:"metrics" yaml:"metrics"`
}

// DriverConfig locates the backend.
type DriverConfig struct {
	Host           string   `json:"host" toml:"host" yaml:"host"`
	Port           int      `json:"port" toml:"port" yaml:"port"` // 0 = free port (launch)
	Binary         string   `json:"binary" toml:"binary" yaml:"binary"`
	Args           []string `json:"args,omitempty" toml:"args,omitempty" yaml:"args,omitempty"`
	StartTimeout   string   `json:"startTimeout" toml:"startTimeout" yaml:"startTimeout"`
	RequestTimeout string   `json:"requestTimeout" toml:"requestTimeout" yaml:"requestTimeout"`
	Leakless       bool     `json:"leakless" toml:"leakless" yaml:"leakless"`
}

// BrowserConfig mirrors browser.BrowserConfig.
type BrowserConfig struct {
	Dir            string   `json:"dir,omitempty" toml:"dir,omitempty" yaml:"dir,omitempty"`
	Binary         string   `json:"binary,omitempty" toml:"binary,omitempty" yaml:"binary,omitempty"`
	AutoDownload   bool     `json:"autoDownload" toml:"autoDownload" yaml:"autoDownload"`
	Profile        string   `json:"profile,omitempty" toml:"profile,omitempty" yaml:"profile,omitempty"`
	ProfileDir     string   `json:"profileDir,omitempty" toml:"profileDir,omitempty" yaml:"profileDir,omitempty"`
	Ephemeral      bool     `json:"ephemeral" toml:"ephemeral" yaml:"ephemeral"`
	Headless       bool     `json:"headless" toml:"headless" yaml:"headless"`
	NoSandbox      bool     `json:"noSandbox" toml:"noSandbox" yaml:"noSandbox"`
	Stealth        bool     `json:"stealth" toml:"stealth" yaml:"stealth"`
	Device         string   `json:"device" toml:"device" yaml:"device"`
	WindowSize     string   `json:"windowSize" toml:"windowSize" yaml:"windowSize"`
	PromptBehavior string   `json:"promptBehavior" toml:"promptBehavior" yaml:"promptBehavior"`
	SafeURLs       bool     `json:"safeUrls" toml:"safeUrls" yaml:"safeUrls"`
	ExtraArgs      []string `json:"extraArgs,omitempty" toml:"extraArgs,omitempty" yaml:"extraArgs,omitempty"`
}

// CloseConfig bounds the close-tab retry loop.
type CloseConfig struct {
	MaxAttempts int    `json:"maxAttempts" toml:"maxAttempts" yaml:"maxAttempts"`
	Delay       string `json:"delay" toml:"delay" yaml:"delay"`
	MaxDelay    string `json:"maxDelay" toml:"maxDelay" yaml:"maxDelay"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level      string `json:"level" toml:"level" yaml:"level"`
	ShowCaller bool   `json:"showCaller" toml:"showCaller" yaml:"showCaller"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `json:"listen,omitempty" toml:"listen,omitempty" yaml:"listen,omitempty"` // e.g. "127.0.0.1:9464"; empty = off
	Path   string `json:"path" toml:"path" yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	b := browser.DefaultBrowserConfig()
	d := browser.DefaultDriverConfig()
	c := browser.DefaultClosePolicy()
	return &Config{
		Driver: DriverConfig{
			Host:           "127.0.0.1",
			Binary:         d.Binary,
			StartTimeout:   d.StartTimeout.String(),
			RequestTimeout: "60s",
			Leakless:       d.Leakless,
		},
		Browser: BrowserConfig{
			Headless:       b.Headless,
			Stealth:        b.Stealth,
			Device:         b.Device,
			WindowSize:     b.WindowSize,
			PromptBehavior: b.PromptBehavior,
		},
		Close: CloseConfig{
			MaxAttempts: c.MaxAttempts,
			Delay:       c.Delay.String(),
			MaxDelay:    c.MaxDelay.String(),
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

// Format is a config file syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the syntax from a file extension, defaulting to JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads the config at path over the defaults. An empty path searches
// the usual locations; finding nothing yields the defaults. The returned
// string is the file actually read ("" if none).
func Load(path string) (*Config, string, error) {
	cfg := Default()

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		if found == "" {
			logging.L_debug("config: no config file found, using defaults")
			return cfg, "", nil
		}
		path = found
	} else {
		resolved, err := paths.Resolve(path)
		if err != nil {
			return nil, "", err
		}
		path = resolved
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := Decode(data, FormatOf(path), cfg); err != nil {
		return nil, "", fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config: %s: %w", path, err)
	}

	logging.L_debug("config: loaded", "path", path)
	return cfg, path, nil
}

// Decode parses data in the given format into cfg, leaving fields the data
// does not mention untouched.
func Decode(data []byte, format Format, cfg *Config) error {
	switch format {
	case FormatTOML:
		_, err := toml.Decode(string(data), cfg)
		return err
	case FormatYAML:
		return yaml.Unmarshal(data, cfg)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	}
}

// Encode renders cfg in the given format.
func Encode(cfg *Config, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatYAML:
		return yaml.Marshal(cfg)
	default:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}

// MergeOverrides copies every non-zero field of overrides onto c. Zero
// values (false, "", 0) never override, so flags that turn something off
// are applied by the caller after merging.
func (c *Config) MergeOverrides(overrides Config) error {
	if err := mergo.Merge(c, overrides, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return fmt.Errorf("config: merge overrides: %w", err)
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string) {
		if value == "" {
			return
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	check("driver.startTimeout", c.Driver.StartTimeout)
	check("driver.requestTimeout", c.Driver.RequestTimeout)
	check("close.delay", c.Close.Delay)
	check("close.maxDelay", c.Close.MaxDelay)

	if c.Driver.Port < 0 || c.Driver.Port > 65535 {
		errs = append(errs, fmt.Errorf("driver.port: %d out of range", c.Driver.Port))
	}
	if c.Close.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("close.maxAttempts: must not be negative"))
	}
	if c.Logging.Level != "" {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}
	b := browser.BrowserConfig{Device: c.Browser.Device}
	if _, ok := b.ResolveDevice(); !ok {
		errs = append(errs, fmt.Errorf("browser.device: unknown device %q", c.Browser.Device))
	}
	return errors.Join(errs...)
}

// ParseDuration parses s, returning fallback when s is empty or invalid.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		logging.L_warn("config: invalid duration, using default", "value", s, "default", fallback)
		return fallback
	}
	return d
}

// ResolveLogLevel returns the numeric log level, defaulting to info.
func (c *LoggingConfig) ResolveLogLevel() int {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// ClosePolicy converts the close section.
func (c *CloseConfig) ClosePolicy() browser.ClosePolicy {
	def := browser.DefaultClosePolicy()
	return browser.ClosePolicy{
		MaxAttempts: c.MaxAttempts,
		Delay:       ParseDuration(c.Delay, def.Delay),
		MaxDelay:    ParseDuration(c.MaxDelay, def.MaxDelay),
	}
}

// ToBrowserOptions builds the options for browser.Launch, Create or Attach.
func (c *Config) ToBrowserOptions() browser.Options {
	def := browser.DefaultDriverConfig()
	return browser.Options{
		Host: c.Driver.Host,
		Port: c.Driver.Port,
		Driver: browser.DriverConfig{
			Binary:       c.Driver.Binary,
			Args:         c.Driver.Args,
			StartTimeout: ParseDuration(c.Driver.StartTimeout, def.StartTimeout),
			Leakless:     c.Driver.Leakless,
		},
		Browser: browser.BrowserConfig{
			Dir:            c.Browser.Dir,
			Binary:         c.Browser.Binary,
			AutoDownload:   c.Browser.AutoDownload,
			Profile:        c.Browser.Profile,
			ProfileDir:     c.Browser.ProfileDir,
			Ephemeral:      c.Browser.Ephemeral,
			Headless:       c.Browser.Headless,
			NoSandbox:      c.Browser.NoSandbox,
			Stealth:        c.Browser.Stealth,
			Device:         c.Browser.Device,
			WindowSize:     c.Browser.WindowSize,
			PromptBehavior: c.Browser.PromptBehavior,
			SafeURLs:       c.Browser.SafeURLs,
			ExtraArgs:      c.Browser.ExtraArgs,
		},
		Close:          c.Close.ClosePolicy(),
		RequestTimeout: ParseDuration(c.Driver.RequestTimeout, 0),
	}
}
