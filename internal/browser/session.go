// Package browser drives one WebDriver backend (chromedriver) on behalf of
// concurrent callers.
//
// The backend applies navigate, execute and close-window to whichever window
// it has focused, and focus is global. Every focus-dependent operation on a
// Session or any of its Tabs therefore runs as "acquire gate, switch to
// window, act, release gate" on the Session's single FocusGate.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/devices"
	"github.com/tidwall/gjson"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
	"github.com/roelfdiedericks/tabgate/internal/metrics"
	"github.com/roelfdiedericks/tabgate/internal/paths"
	"github.com/roelfdiedericks/tabgate/internal/webdriver"
)

// openBlankScript asks the focused window to open a new top-level window.
const openBlankScript = "window.open('about:blank', '_blank');"

// teardownTimeout bounds each best-effort call made by Session.Close.
const teardownTimeout = 5 * time.Second

// Session is one backend session. Create it with Launch, Create or Attach.
// All methods are safe for concurrent use.
type Session struct {
	id      string
	host    string
	port    int
	client  *webdriver.Client
	gate    *FocusGate
	metrics *metrics.Recorder

	driver       *driverProcess // nil unless this Session started the backend
	ephemeralDir string         // removed on Close

	guard       *URLGuard
	stealth     bool
	device      devices.Device
	closePolicy ClosePolicy

	// Guarded by gate.
	initialPending bool // the window the backend created with the session is unclaimed
	lastHandle     string
	seen           map[string]struct{}

	closed atomic.Bool
}

// Launch starts the driver executable on opts.Port (a free port when 0),
// waits until it reports ready and creates a session on it. The returned
// Session owns the process and kills it on Close.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	opts = withDefaults(opts)
	if opts.Port == 0 {
		port, err := freePort(opts.Host)
		if err != nil {
			return nil, err
		}
		opts.Port = port
	}

	driver, err := startDriver(opts.Driver, opts.Port)
	if err != nil {
		return nil, err
	}

	client := newClient(opts)
	if err := client.WaitReady(ctx, opts.Driver.StartTimeout, 50*time.Millisecond); err != nil {
		driver.Stop()
		return nil, err
	}

	s, err := create(ctx, opts, client, driver)
	if err != nil {
		driver.Stop()
		return nil, err
	}
	return s, nil
}

// Create opens a new session on an already running backend at
// opts.Host:opts.Port. The backend process is not owned.
func Create(ctx context.Context, opts Options) (*Session, error) {
	opts = withDefaults(opts)
	return create(ctx, opts, newClient(opts), nil)
}

// Attach binds to an existing session by id, for example one created by
// another process. The session is checked by listing its windows. An
// attached Session never claims a pre-existing window: every Open creates
// a new one.
func Attach(ctx context.Context, opts Options, sessionID string) (*Session, error) {
	opts = withDefaults(opts)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrIncorrectSessionID)
	}
	s := newSession(opts, newClient(opts), nil, sessionID)
	if _, err := s.handles(ctx); err != nil {
		return nil, fmt.Errorf("attach session %s: %w", sessionID, err)
	}
	L_info("browser: attached to session", "session", sessionID, "addr", s.Addr())
	return s, nil
}

func create(ctx context.Context, opts Options, client *webdriver.Client, driver *driverProcess) (*Session, error) {
	profileDir, ephemeralDir, binary, err := resolveBrowser(opts.Browser)
	if err != nil {
		return nil, err
	}
	dropProfile := func() {
		if ephemeralDir != "" {
			_ = os.RemoveAll(ephemeralDir)
		}
	}

	body, err := buildCapabilities(opts.Browser, profileDir, binary)
	if err != nil {
		dropProfile()
		return nil, err
	}
	raw, err := client.Post(ctx, "/session", body)
	if err != nil {
		dropProfile()
		return nil, fmt.Errorf("create session: %w", err)
	}

	id := gjson.GetBytes(raw, "value.sessionId")
	if id.Type != gjson.String {
		// Legacy JSON wire protocol puts it at the top level.
		id = gjson.GetBytes(raw, "sessionId")
	}
	if id.Type != gjson.String || id.Str == "" {
		dropProfile()
		return nil, fmt.Errorf("%w: new session response has no sessionId", ErrIncorrectSessionID)
	}

	s := newSession(opts, client, driver, id.Str)
	s.initialPending = true
	s.ephemeralDir = ephemeralDir
	L_info("browser: session created", "session", s.id, "addr", s.Addr(), "owned", s.Owned(), "profile", profileDir)
	return s, nil
}

func newSession(opts Options, client *webdriver.Client, driver *driverProcess, id string) *Session {
	device, ok := opts.Browser.ResolveDevice()
	if !ok {
		L_warn("browser: unknown device, emulation disabled", "device", opts.Browser.Device)
	}
	var guard *URLGuard
	if opts.Browser.SafeURLs {
		guard = NewURLGuard()
	}
	return &Session{
		id:          id,
		host:        opts.Host,
		port:        opts.Port,
		client:      client,
		gate:        NewFocusGate(),
		metrics:     opts.Metrics,
		driver:      driver,
		guard:       guard,
		stealth:     opts.Browser.Stealth,
		device:      device,
		closePolicy: opts.Close.normalize(),
		seen:        make(map[string]struct{}),
	}
}

func withDefaults(opts Options) Options {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	def := DefaultDriverConfig()
	if opts.Driver.Binary == "" {
		opts.Driver.Binary = def.Binary
	}
	if opts.Driver.StartTimeout <= 0 {
		opts.Driver.StartTimeout = def.StartTimeout
	}
	return opts
}

func newClient(opts Options) *webdriver.Client {
	return webdriver.NewClient(opts.Host, opts.Port,
		webdriver.WithTimeout(opts.RequestTimeout),
		webdriver.WithMetrics(opts.Metrics),
	)
}

func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// resolveBrowser prepares the user data dir and browser binary.
func resolveBrowser(cfg BrowserConfig) (profileDir, ephemeralDir, binary string, err error) {
	switch {
	case cfg.ProfileDir != "":
		profileDir, err = EnsureProfileDir(cfg.ProfileDir)
	case cfg.Ephemeral || cfg.Profile != "":
		var dir string
		if dir, err = cfg.ResolveProfilesDir(); err != nil {
			return "", "", "", err
		}
		pm := NewProfileManager(dir)
		if cfg.Ephemeral {
			_, profileDir, err = pm.CreateEphemeral()
			ephemeralDir = profileDir
		} else {
			profileDir, err = pm.Ensure(cfg.Profile)
		}
	}
	if err != nil {
		return "", "", "", err
	}

	switch {
	case cfg.Binary != "":
		binary, err = paths.ResolveBinary(cfg.Binary)
	case cfg.AutoDownload:
		var binDir string
		if binDir, err = cfg.ResolveBinDir(); err == nil {
			binary, err = NewDownloader(binDir).EnsureBrowser()
		}
	}
	if err != nil {
		if ephemeralDir != "" {
			_ = os.RemoveAll(ephemeralDir)
		}
		return "", "", "", err
	}
	return profileDir, ephemeralDir, binary, nil
}

// ID returns the backend-issued session id.
func (s *Session) ID() string { return s.id }

// Port returns the backend port.
func (s *Session) Port() int { return s.port }

// Addr returns host:port of the backend.
func (s *Session) Addr() string { return net.JoinHostPort(s.host, strconv.Itoa(s.port)) }

// Owned reports whether Close terminates the backend process.
func (s *Session) Owned() bool { return s.driver != nil }

// Handles lists the backend's current window handles. It does not take the
// gate; the answer may be stale by the time it is used.
func (s *Session) Handles(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.handles(ctx)
}

// Tabs materializes a Tab for every current window. URLs are unknown.
func (s *Session) Tabs(ctx context.Context) ([]*Tab, error) {
	handles, err := s.Handles(ctx)
	if err != nil {
		return nil, err
	}
	tabs := make([]*Tab, 0, len(handles))
	for _, h := range handles {
		tabs = append(tabs, &Tab{session: s, handle: h})
	}
	return tabs, nil
}

// Tab returns the Tab for window id, or ErrIncorrectWindowHandle if the
// backend does not list it.
func (s *Session) Tab(ctx context.Context, id string) (*Tab, error) {
	handles, err := s.Handles(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(handles, id) {
		return nil, fmt.Errorf("%w: %s", ErrIncorrectWindowHandle, id)
	}
	return &Tab{session: s, handle: id}, nil
}

// Open claims a window, navigates it to rawURL and returns its Tab. The
// first Open of a created session uses the window the backend made along
// with the session; every later Open creates a new window.
//
// A window is claimed before it is activated and navigated. If either step
// fails the window stays open but is never returned by a later Open; it is
// still listed by Tabs and closed with the session.
func (s *Session) Open(ctx context.Context, rawURL string) (*Tab, error) {
	if err := s.guard.Check(ctx, rawURL); err != nil {
		return nil, err
	}

	var tab *Tab
	err := s.focus(ctx, "open", func(ctx context.Context) error {
		handle, err := s.claimWindow(ctx)
		if err != nil {
			return err
		}
		if err := s.switchTo(ctx, handle); err != nil {
			return err
		}
		s.suppressQuietly(ctx, handle)
		if err := s.navigate(ctx, rawURL); err != nil {
			return err
		}
		tab = &Tab{session: s, handle: handle, url: rawURL, counted: true}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rawURL, err)
	}

	s.metrics.TabOpened()
	L_debug("browser: tab opened", "session", s.id, "handle", tab.handle, "url", rawURL)
	return tab, nil
}

// claimWindow returns a window handle no earlier Open has returned.
// Caller holds the gate.
func (s *Session) claimWindow(ctx context.Context) (string, error) {
	before, err := s.handles(ctx)
	if err != nil {
		return "", err
	}
	if len(before) == 0 {
		return "", ErrNoWindowHandles
	}

	if s.initialPending {
		h := before[0]
		s.initialPending = false
		s.seen[h] = struct{}{}
		return h, nil
	}

	anchor := s.lastHandle
	if !slices.Contains(before, anchor) {
		anchor = before[len(before)-1]
	}
	if err := s.switchTo(ctx, anchor); err != nil {
		return "", err
	}
	if _, err := s.client.Post(ctx, s.path("/execute/sync"), executeRequest{Script: openBlankScript, Args: []any{}}); err != nil {
		return "", fmt.Errorf("open blank window: %w", err)
	}

	after, err := s.handles(ctx)
	if err != nil {
		return "", err
	}
	if len(after) == 0 {
		return "", ErrNoWindowHandles
	}
	for i := len(after) - 1; i >= 0; i-- {
		h := after[i]
		if slices.Contains(before, h) {
			continue
		}
		if _, dup := s.seen[h]; dup {
			continue
		}
		s.seen[h] = struct{}{}
		return h, nil
	}
	return "", fmt.Errorf("%w: backend opened no new window", ErrNoWindowHandles)
}

// Close ends the backend session and, when owned, stops the driver. Every
// step is attempted even if earlier ones fail, and Close never returns a
// teardown error. Calling Close again is a no-op.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	s.bestEffort(ctx, func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, s.path(""))
		return err
	}, "delete session")

	if s.driver != nil {
		for _, p := range []string{"/shutdown", "/quit"} {
			s.bestEffort(ctx, func(ctx context.Context) error {
				_, err := s.client.Post(ctx, p, nil)
				return err
			}, p)
		}
		s.driver.Stop()
	}

	if s.ephemeralDir != "" {
		if err := os.RemoveAll(s.ephemeralDir); err != nil {
			L_warn("browser: failed to remove ephemeral profile", "path", s.ephemeralDir, "error", err)
		}
	}

	L_info("browser: session closed", "session", s.id, "owned", s.Owned())
	return nil
}

func (s *Session) bestEffort(ctx context.Context, fn func(context.Context) error, what string) {
	ctx, cancel := context.WithTimeout(ctx, teardownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		L_warn("browser: teardown step failed", "session", s.id, "step", what, "error", err)
	}
}

// focus runs fn inside the gate. fn may switch windows freely; no other
// focus-dependent operation can interleave.
func (s *Session) focus(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	start := time.Now()
	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	acquired := time.Now()
	defer func() {
		s.gate.Release()
		s.metrics.ObserveGateHeld(op, time.Since(acquired))
	}()
	s.metrics.ObserveGateWait(acquired.Sub(start))
	L_trace("browser: gate acquired", "op", op, "wait", acquired.Sub(start))

	if s.closed.Load() {
		return ErrSessionClosed
	}
	return fn(ctx)
}

func (s *Session) path(suffix string) string {
	return "/session/" + url.PathEscape(s.id) + suffix
}

func (s *Session) handles(ctx context.Context) ([]string, error) {
	raw, err := s.client.Get(ctx, s.path("/window/handles"))
	if err != nil {
		return nil, err
	}
	v := gjson.GetBytes(raw, "value")
	if !v.IsArray() {
		return nil, fmt.Errorf("%w: value is %s", ErrIncorrectWindowHandles, v.Type)
	}
	var handles []string
	for _, h := range v.Array() {
		if h.Type != gjson.String {
			return nil, fmt.Errorf("%w: entry %s is not a string", ErrIncorrectWindowHandles, h.Raw)
		}
		handles = append(handles, h.Str)
	}
	return handles, nil
}

// switchTo focuses handle. Caller holds the gate.
func (s *Session) switchTo(ctx context.Context, handle string) error {
	if _, err := s.client.Post(ctx, s.path("/window"), map[string]string{"handle": handle}); err != nil {
		return err
	}
	s.lastHandle = handle
	L_trace("browser: focused window", "handle", handle)
	return nil
}

// navigate loads rawURL in the focused window. Caller holds the gate.
func (s *Session) navigate(ctx context.Context, rawURL string) error {
	_, err := s.client.Post(ctx, s.path("/url"), map[string]string{"url": rawURL})
	return err
}

type executeRequest struct {
	Script string `json:"script"`
	Args   []any  `json:"args"`
}

// execute runs script in the focused window and returns the raw "value".
// A response without "value" is ErrUnexpectedResponse; JSON null is a
// valid result. Caller holds the gate.
func (s *Session) execute(ctx context.Context, script string, args []any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := s.client.Post(ctx, s.path("/execute/sync"), executeRequest{Script: script, Args: args})
	if err != nil {
		return nil, err
	}
	v := gjson.GetBytes(raw, "value")
	if !v.Exists() {
		return nil, ErrUnexpectedResponse
	}
	return json.RawMessage(v.Raw), nil
}
