// Package webdrivertest provides an in-process WebDriver backend for tests.
//
// The fake keeps a single session with an ordered list of window handles and
// one focused window, like a real driver. Every request is journaled together
// with the window that was focused when it arrived.
package webdrivertest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roelfdiedericks/tabgate/internal/metrics"
)

// Command is one journaled request.
type Command struct {
	Method   string
	Endpoint string // path with the session id collapsed to {id}
	Focused  string // focused window when the request arrived
	Body     json.RawMessage
}

// ScriptFunc produces the result of execute/sync. Returning ok=false makes the
// response omit the "value" field entirely.
type ScriptFunc func(handle, script string, args []json.RawMessage) (value any, ok bool)

type fault struct {
	remaining int
	drop      bool
	status    int
	code      string
}

// Server is a fake WebDriver backend.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	sessionID     string
	omitSessionID bool
	handles       []string
	focused       string
	urls          map[string]string
	nextHandle    int
	refusals      map[string]int
	deletes       map[string]int
	faults        map[string]*fault
	journal       []Command
	script        ScriptFunc
	latency       time.Duration
	cdpStatus     int
	sessionAlive  bool
	endWithLast   bool
	teardowns     map[string]int
}

// Option configures a Server.
type Option func(*Server)

// WithHandles sets the windows that exist when the session is created.
// Passing no handles models a backend that reports zero windows.
func WithHandles(handles ...string) Option {
	return func(s *Server) { s.handles = slices.Clone(handles) }
}

// WithSessionID sets the id returned by POST /session.
func WithSessionID(id string) Option {
	return func(s *Server) { s.sessionID = id }
}

// WithoutSessionID makes POST /session answer without a sessionId field.
func WithoutSessionID() Option {
	return func(s *Server) { s.omitSessionID = true }
}

// WithScript installs the execute/sync result producer.
func WithScript(fn ScriptFunc) Option {
	return func(s *Server) { s.script = fn }
}

// WithLatency delays every focus-dependent command, widening race windows.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// WithSessionEndingOnLastClose makes closing the last window end the session,
// as chromedriver does. Later session commands answer "invalid session id".
func WithSessionEndingOnLastClose() Option {
	return func(s *Server) { s.endWithLast = true }
}

// NewServer starts a fake backend with one session already created
// and a single initial window "w1" unless WithHandles says otherwise.
func NewServer(opts ...Option) *Server {
	s := &Server{
		sessionID:    "fake-session",
		handles:      []string{"w1"},
		urls:         make(map[string]string),
		refusals:     make(map[string]int),
		deletes:      make(map[string]int),
		faults:       make(map[string]*fault),
		teardowns:    make(map[string]int),
		sessionAlive: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextHandle = len(s.handles) + 1
	if len(s.handles) > 0 {
		s.focused = s.handles[0]
	}

	s.Server = httptest.NewServer(s.routes())
	return s
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := strings.Cut(strings.TrimPrefix(s.URL, "http://"), ":")
	n, _ := strconv.Atoi(port)
	return n
}

// SessionID returns the session id served by the fake.
func (s *Server) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.journalAndFaults)

	r.Get("/status", s.handleStatus)
	r.Post("/session", s.handleNewSession)
	r.Post("/shutdown", s.handleTeardown("shutdown"))
	r.Get("/shutdown", s.handleTeardown("shutdown"))
	r.Post("/quit", s.handleTeardown("quit"))
	r.Get("/quit", s.handleTeardown("quit"))

	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Delete("/", s.handleDeleteSession)
		r.Post("/window", s.handleSwitchWindow)
		r.Delete("/window", s.handleCloseWindow)
		r.Get("/window/handles", s.handleHandles)
		r.Post("/url", s.handleNavigate)
		r.Post("/execute/sync", s.handleExecute)
		r.Post("/goog/cdp/execute", s.handleCDP)
	})
	return r
}

func (s *Server) journalAndFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		endpoint := metrics.Endpoint(r.URL.Path)
		key := r.Method + " " + endpoint

		s.mu.Lock()
		s.journal = append(s.journal, Command{
			Method:   r.Method,
			Endpoint: endpoint,
			Focused:  s.focused,
			Body:     json.RawMessage(body),
		})
		f := s.faults[key]
		if f != nil {
			f.remaining--
			if f.remaining <= 0 {
				delete(s.faults, key)
			}
		}
		s.mu.Unlock()

		if f != nil {
			if f.drop {
				dropConnection(w)
				return
			}
			writeError(w, f.status, f.code, "injected fault")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.sessionAlive && chi.URLParam(r, "sessionID") == s.sessionID
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "invalid session id", "session not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeValue(w, map[string]any{"ready": true, "message": "fake backend ready"})
}

func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionAlive = true
	if s.omitSessionID {
		writeValue(w, map[string]any{"capabilities": map[string]any{}})
		return
	}
	writeValue(w, map[string]any{
		"sessionId":    s.sessionID,
		"capabilities": map[string]any{"browserName": "chrome"},
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.sessionAlive = false
	s.mu.Unlock()
	writeValue(w, nil)
}

func (s *Server) handleTeardown(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		s.teardowns[name]++
		s.mu.Unlock()
		writeValue(w, nil)
	}
}

func (s *Server) handleSwitchWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.handles, req.Handle) {
		writeError(w, http.StatusNotFound, "no such window", "no such window: "+req.Handle)
		return
	}
	s.focused = req.Handle
	writeValue(w, nil)
}

func (s *Server) handleHandles(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	handles := slices.Clone(s.handles)
	s.mu.Unlock()
	if handles == nil {
		handles = []string{}
	}
	writeValue(w, handles)
}

func (s *Server) handleCloseWindow(w http.ResponseWriter, _ *http.Request) {
	s.sleep()

	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.focused
	if !slices.Contains(s.handles, target) {
		writeError(w, http.StatusNotFound, "no such window", "target window already closed")
		return
	}
	s.deletes[target]++
	if s.refusals[target] > 0 {
		// beforeunload: the dialog gets dismissed, the window stays.
		s.refusals[target]--
		writeValue(w, slices.Clone(s.handles))
		return
	}
	s.handles = slices.DeleteFunc(s.handles, func(h string) bool { return h == target })
	delete(s.urls, target)
	s.focused = ""
	if len(s.handles) == 0 && s.endWithLast {
		s.sessionAlive = false
	}
	writeValue(w, append([]string{}, s.handles...))
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}
	s.sleep()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.handles, s.focused) {
		writeError(w, http.StatusNotFound, "no such window", "focused window is gone")
		return
	}
	s.urls[s.focused] = req.URL
	writeValue(w, nil)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Script string            `json:"script"`
		Args   []json.RawMessage `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}
	s.sleep()

	s.mu.Lock()
	handle := s.focused
	if !slices.Contains(s.handles, handle) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "no such window", "focused window is gone")
		return
	}
	if strings.Contains(req.Script, "window.open(") {
		s.handles = append(s.handles, fmt.Sprintf("w%d", s.nextHandle))
		s.nextHandle++
	}
	fn := s.script
	s.mu.Unlock()

	if fn == nil {
		writeValue(w, nil)
		return
	}
	value, ok := fn(handle, req.Script, req.Args)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeValue(w, value)
}

func (s *Server) handleCDP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := s.cdpStatus
	s.mu.Unlock()
	if status != 0 {
		writeError(w, status, "unknown error", "cdp command rejected")
		return
	}
	writeValue(w, map[string]any{})
}

func (s *Server) sleep() {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
}

// RefuseClose makes the next n delete-window calls against handle leave the
// window open, as a page with a beforeunload dialog would.
func (s *Server) RefuseClose(handle string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refusals[handle] = n
}

// RemoveWindow closes a window behind the client's back.
func (s *Server) RemoveWindow(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = slices.DeleteFunc(s.handles, func(h string) bool { return h == handle })
	if s.focused == handle {
		s.focused = ""
	}
}

// SetHandles replaces the window list.
func (s *Server) SetHandles(handles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = slices.Clone(handles)
}

// Fail makes the next n requests matching method and endpoint (session id
// collapsed to {id}) fail. drop=true closes the connection, simulating a
// transport failure; otherwise a 500 "unknown error" is returned.
func (s *Server) Fail(method, endpoint string, n int, drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method+" "+endpoint] = &fault{remaining: n, drop: drop, status: http.StatusInternalServerError, code: "unknown error"}
}

// FailCode makes the next n requests matching method and endpoint answer
// with status and the given W3C error code.
func (s *Server) FailCode(method, endpoint string, n, status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method+" "+endpoint] = &fault{remaining: n, status: status, code: code}
}

// FailCDP makes the CDP passthrough answer with status.
func (s *Server) FailCDP(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cdpStatus = status
}

// Handles returns the current window list.
func (s *Server) Handles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.handles)
}

// Focused returns the focused window.
func (s *Server) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// URLOf returns the last URL navigated to in a window.
func (s *Server) URLOf(handle string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urls[handle]
}

// Deletes returns how many delete-window calls targeted handle.
func (s *Server) Deletes(handle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes[handle]
}

// Teardowns returns how many times /shutdown or /quit was hit.
func (s *Server) Teardowns(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardowns[name]
}

// SessionAlive reports whether DELETE /session has not been received.
func (s *Server) SessionAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionAlive
}

// Journal returns a copy of all requests received so far.
func (s *Server) Journal() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.journal)
}

// Commands returns journaled requests for one method and endpoint.
func (s *Server) Commands(method, endpoint string) []Command {
	var out []Command
	for _, c := range s.Journal() {
		if c.Method == method && c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

func writeValue(w http.ResponseWriter, value any) {
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"value": map[string]any{
		"error":      code,
		"message":    message,
		"stacktrace": "",
	}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unknown error", "cannot drop connection")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
