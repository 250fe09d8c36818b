package browser

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/devices"

	"github.com/roelfdiedericks/tabgate/internal/metrics"
	"github.com/roelfdiedericks/tabgate/internal/paths"
)

// Prompt behaviours understood by the backend for dialogs left open by page
// script (beforeunload, alert, confirm).
const (
	PromptAccept          = "accept"
	PromptDismiss         = "dismiss"
	PromptAcceptAndNotify = "accept and notify"
	PromptIgnore          = "ignore"
)

// Options configure Launch, Create and Attach.
type Options struct {
	Host string // backend host (default 127.0.0.1)
	Port int    // backend port; 0 = pick a free one (Launch only)

	Driver  DriverConfig
	Browser BrowserConfig
	Close   ClosePolicy

	RequestTimeout time.Duration // per backend round trip (0 = webdriver.DefaultTimeout)
	Metrics        *metrics.Recorder
}

// DriverConfig describes the backend executable for the process-owning path.
type DriverConfig struct {
	Binary       string        // executable name or path (default "chromedriver")
	Args         []string      // extra arguments after --port
	StartTimeout time.Duration // how long to wait for GET /status to report ready
	Leakless     bool          // tie the driver's lifetime to this process
}

// BrowserConfig holds the browser-side settings sent as capabilities.
type BrowserConfig struct {
	Dir            string   // data directory (empty = ~/.tabgate)
	Binary         string   // browser executable passed as goog:chromeOptions.binary
	AutoDownload   bool     // download a Chromium build when Binary is empty
	Profile        string   // named profile under <Dir>/profiles (empty = driver temp profile)
	ProfileDir     string   // explicit user data dir, wins over Profile
	Ephemeral      bool     // fresh uniquely named profile, removed on Session.Close
	Headless       bool     // run without a visible window
	NoSandbox      bool     // needed for Docker/root
	Stealth        bool     // hide automation markers (flags + injected script)
	Device         string   // device emulation: "clear", "laptop", "iphone-x", ...
	WindowSize     string   // "1920,1080"; empty leaves the browser default
	PromptBehavior string   // unhandledPromptBehavior capability
	SafeURLs       bool     // refuse navigation to loopback/private/metadata targets
	ExtraArgs      []string // appended to goog:chromeOptions.args
}

// DefaultBrowserConfig returns the default browser configuration
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:       true,
		Stealth:        true,
		Device:         "clear",
		WindowSize:     "1920,1080",
		PromptBehavior: PromptAccept,
	}
}

// DefaultDriverConfig returns the default driver configuration.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Binary:       "chromedriver",
		StartTimeout: 10 * time.Second,
		Leakless:     true,
	}
}

// DefaultOptions returns options for a local chromedriver on a free port.
func DefaultOptions() Options {
	return Options{
		Host:    "127.0.0.1",
		Driver:  DefaultDriverConfig(),
		Browser: DefaultBrowserConfig(),
		Close:   DefaultClosePolicy(),
	}
}

// ResolveDir returns the data directory, defaulting to ~/.tabgate.
func (c *BrowserConfig) ResolveDir() (string, error) {
	if c.Dir != "" {
		return paths.Resolve(c.Dir)
	}
	return paths.BaseDir()
}

// ResolveBinDir returns where downloaded browser builds are kept.
func (c *BrowserConfig) ResolveBinDir() (string, error) {
	if c.Dir == "" {
		return paths.BrowserBinDir()
	}
	dir, err := c.ResolveDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "browser"), nil
}

// ResolveProfilesDir returns the profiles directory.
func (c *BrowserConfig) ResolveProfilesDir() (string, error) {
	if c.Dir == "" {
		return paths.ProfilesDir()
	}
	dir, err := c.ResolveDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles"), nil
}

// ResolvePromptBehavior normalizes the prompt behaviour, defaulting to accept.
func (c *BrowserConfig) ResolvePromptBehavior() string {
	switch b := strings.ToLower(strings.TrimSpace(c.PromptBehavior)); b {
	case PromptAccept, PromptDismiss, PromptAcceptAndNotify, PromptIgnore, "dismiss and notify":
		return b
	default:
		return PromptAccept
	}
}

// deviceAliases maps friendly names to go-rod device presets.
var deviceAliases = map[string]devices.Device{
	"":              devices.Clear,
	"clear":         devices.Clear,
	"laptop":        devices.LaptopWithMDPIScreen,
	"laptop-mdpi":   devices.LaptopWithMDPIScreen,
	"laptop-hidpi":  devices.LaptopWithHiDPIScreen,
	"laptop-touch":  devices.LaptopWithTouch,
	"iphone-x":      devices.IPhoneX,
	"iphone-8":      devices.IPhone6or7or8,
	"iphone-8-plus": devices.IPhone6or7or8Plus,
	"iphone-se":     devices.IPhone5orSE,
	"ipad":          devices.IPad,
	"ipad-mini":     devices.IPadMini,
	"ipad-pro":      devices.IPadPro,
	"pixel-2":       devices.Pixel2,
	"pixel-2-xl":    devices.Pixel2XL,
	"galaxy-s5":     devices.GalaxyS5,
	"galaxy-fold":   devices.GalaxyFold,
	"nexus-5":       devices.Nexus5,
	"nexus-7":       devices.Nexus7,
	"nexus-10":      devices.Nexus10,
	"moto-g4":       devices.MotoG4,
	"surface-duo":   devices.SurfaceDuo,
}

// ResolveDevice returns the emulation preset for the configured device name.
// Unknown names fall back to "clear" (no emulation).
func (c *BrowserConfig) ResolveDevice() (devices.Device, bool) {
	d, ok := deviceAliases[strings.ToLower(strings.TrimSpace(c.Device))]
	if !ok {
		return devices.Clear, false
	}
	return d, true
}

// DeviceNames lists the accepted device names.
func DeviceNames() []string {
	names := make([]string, 0, len(deviceAliases))
	for name := range deviceAliases {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
