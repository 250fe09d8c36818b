package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"

	"github.com/roelfdiedericks/tabgate/internal/browser"
	"github.com/roelfdiedericks/tabgate/internal/config"
	. "github.com/roelfdiedericks/tabgate/internal/logging"
	"github.com/roelfdiedericks/tabgate/internal/metrics"
)

const version = "0.1.0"

// Globals are flags shared by every command.
type Globals struct {
	Config        string           `help:"Config file (json, toml or yaml)." short:"c" type:"path"`
	Debug         bool             `help:"Enable debug logging." short:"d"`
	LogLevel      string           `help:"Log level: trace, debug, info, warn, error." name:"log-level"`
	MetricsListen string           `help:"Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)." name:"metrics-listen"`
	Version       kong.VersionFlag `help:"Print version and exit." short:"v"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" help:"Start a browser, open URLs in tabs, optionally inject a script, then close everything."`
	Demo     DemoCmd     `cmd:"" help:"Open three tabs (plain, beforeunload, delayed dialogs) and close them concurrently."`
	Tabs     TabsCmd     `cmd:"" help:"List the tabs of an existing session."`
	Close    CloseCmd    `cmd:"" help:"Close tabs of an existing session."`
	Profiles ProfilesCmd `cmd:"" help:"Manage browser profiles."`
	Config   ConfigCmd   `cmd:"" help:"Create or inspect the config file."`
	Versions VersionCmd  `cmd:"" name:"version" help:"Print version."`
}

func main() {
	Init(&Config{Level: LevelInfo, TimeFormat: "15:04:05"})

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("tabgate"),
		kong.Description("Drive a chromedriver backend with many concurrent tabs."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": "tabgate " + version},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// BackendFlags override the driver and browser sections of the config.
type BackendFlags struct {
	Host         string `help:"Backend host."`
	Port         int    `help:"Backend port (0 = pick a free one when launching)."`
	Driver       string `help:"Driver executable name or path."`
	Browser      string `help:"Browser executable passed to the driver."`
	Profile      string `help:"Named profile under ~/.tabgate/profiles."`
	ProfileDir   string `help:"Explicit user data directory." name:"profile-dir" type:"path"`
	Ephemeral    bool   `help:"Use a throwaway profile removed on exit."`
	Headful      bool   `help:"Show the browser window."`
	NoSandbox    bool   `help:"Disable the Chrome sandbox (Docker, root)." name:"no-sandbox"`
	Device       string `help:"Device to emulate (clear, laptop, iphone-x, pixel-2, ...)."`
	SafeURLs     bool   `help:"Refuse to open loopback, private and metadata addresses." name:"safe-urls"`
	AutoDownload bool   `help:"Download a Chromium build when no browser is configured." name:"auto-download"`
}

func (b *BackendFlags) overrides() config.Config {
	return config.Config{
		Driver: config.DriverConfig{Host: b.Host, Port: b.Port, Binary: b.Driver},
		Browser: config.BrowserConfig{
			Binary:       b.Browser,
			Profile:      b.Profile,
			ProfileDir:   b.ProfileDir,
			Ephemeral:    b.Ephemeral,
			NoSandbox:    b.NoSandbox,
			Device:       b.Device,
			SafeURLs:     b.SafeURLs,
			AutoDownload: b.AutoDownload,
		},
	}
}

// load reads the config, applies flag overrides and sets up logging.
func (g *Globals) load(flags *BackendFlags) (*config.Config, error) {
	cfg, path, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		if err := cfg.MergeOverrides(flags.overrides()); err != nil {
			return nil, err
		}
		if flags.Headful {
			cfg.Browser.Headless = false
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if g.MetricsListen != "" {
		cfg.Metrics.Listen = g.MetricsListen
	}

	level := cfg.Logging.ResolveLogLevel()
	if g.LogLevel != "" {
		if level, err = ParseLevel(g.LogLevel); err != nil {
			return nil, err
		}
	}
	if g.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, TimeFormat: "15:04:05", ShowCaller: cfg.Logging.ShowCaller})
	if path != "" {
		L_debug("config: using %s", path)
	}
	return cfg, nil
}

// startMetrics serves the recorder when a listen address is configured. The
// returned stop function is always safe to call.
func startMetrics(cfg *config.Config) (*metrics.Recorder, func()) {
	if cfg.Metrics.Listen == "" {
		return nil, func() {}
	}
	rec := metrics.New()

	r := chi.NewRouter()
	r.Handle(cfg.Metrics.Path, rec.Handler())
	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("metrics: server failed", "addr", cfg.Metrics.Listen, "error", err)
		}
	}()
	L_info("metrics: serving", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)

	return rec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(_ *Globals) error {
	fmt.Printf("tabgate %s\n", version)
	return nil
}

// connectOrLaunch starts a driver unless connect is set, in which case a
// new session is created on the driver already running at host:port.
func connectOrLaunch(ctx context.Context, opts browser.Options, connect bool) (*browser.Session, error) {
	if connect {
		if opts.Port == 0 {
			return nil, errors.New("--connect needs --port")
		}
		return browser.Create(ctx, opts)
	}
	return browser.Launch(ctx, opts)
}
