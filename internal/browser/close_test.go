package browser

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/tabgate/internal/webdriver"
	"github.com/roelfdiedericks/tabgate/internal/webdriver/webdrivertest"
)

func openTwo(t *testing.T, srv *webdrivertest.Server, mutate ...func(*Options)) (*Session, *Tab) {
	t.Helper()
	s := newCreated(t, srv, mutate...)
	_, err := s.Open(context.Background(), "https://example.com/first")
	require.NoError(t, err)
	tab, err := s.Open(context.Background(), "https://example.com/second")
	require.NoError(t, err)
	require.Equal(t, "w2", tab.ID())
	return s, tab
}

func TestCloseRemovesWindow(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	s, tab := openTwo(t, srv)

	require.NoError(t, tab.Close(context.Background()))
	assert.Equal(t, []string{"w1"}, srv.Handles())
	assert.Equal(t, 1, srv.Deletes("w2"))

	deletes := srv.Commands(http.MethodDelete, epWindow)
	require.Len(t, deletes, 1)
	assert.Equal(t, "w2", deletes[0].Focused)
	requireGateFree(t, s)
}

func TestCloseExternallyRemovedWindow(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	s, tab := openTwo(t, srv)

	srv.RemoveWindow("w2")
	require.NoError(t, tab.Close(context.Background()))
	assert.Empty(t, srv.Commands(http.MethodDelete, epWindow), "no delete for a window that is already gone")
	requireGateFree(t, s)
}

func TestCloseRetriesRefusedWindow(t *testing.T) {
	for _, refusals := range []int{1, 3} {
		srv := webdrivertest.NewServer()
		_, tab := openTwo(t, srv)
		srv.RefuseClose("w2", refusals)

		require.NoError(t, tab.Close(context.Background()))
		assert.Equal(t, refusals+1, srv.Deletes("w2"))
		assert.NotContains(t, srv.Handles(), "w2")

		// Each attempt re-focuses the window before deleting.
		for _, cmd := range srv.Commands(http.MethodDelete, epWindow) {
			assert.Equal(t, "w2", cmd.Focused)
		}
		srv.Close()
	}
}

func TestCloseTimeout(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	s, tab := openTwo(t, srv, func(o *Options) { o.Close.MaxAttempts = 3 })
	srv.RefuseClose("w2", 100)

	err := tab.Close(context.Background())
	require.ErrorIs(t, err, ErrCloseTimeout)
	assert.Equal(t, 3, srv.Deletes("w2"))
	assert.Contains(t, srv.Handles(), "w2")
	requireGateFree(t, s)
}

func TestCloseToleratesBackendErrorOnDelete(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	_, tab := openTwo(t, srv)
	srv.Fail(http.MethodDelete, epWindow, 1, false)

	require.NoError(t, tab.Close(context.Background()))
	assert.Len(t, srv.Commands(http.MethodDelete, epWindow), 2)
	assert.NotContains(t, srv.Handles(), "w2")
}

func TestCloseTransportFailureIsFatal(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	s, tab := openTwo(t, srv)
	srv.Fail(http.MethodDelete, epWindow, 1, true)

	err := tab.Close(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCloseTimeout)
	assert.False(t, webdriver.IsBackendError(err))
	assert.Len(t, srv.Commands(http.MethodDelete, epWindow), 1)
	requireGateFree(t, s)
}

func TestCloseBackoffHonoursContext(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	s, tab := openTwo(t, srv, func(o *Options) {
		o.Close = ClosePolicy{MaxAttempts: 50, Delay: time.Second, MaxDelay: time.Second}
	})
	srv.RefuseClose("w2", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := tab.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, srv.Deletes("w2"))
	requireGateFree(t, s)
}

func TestCloseHoldsGateForWholeLoop(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	s, tab := openTwo(t, srv, func(o *Options) {
		o.Close = ClosePolicy{MaxAttempts: 10, Delay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	})
	srv.RefuseClose("w2", 3)

	done := make(chan error, 1)
	go func() { done <- tab.Close(context.Background()) }()

	// While the loop backs off, nobody else may get in.
	require.Eventually(t, func() bool { return srv.Deletes("w2") >= 1 }, time.Second, time.Millisecond)
	assert.True(t, s.gate.Held())
	assert.False(t, s.gate.TryAcquire())

	require.NoError(t, <-done)
	assert.Equal(t, 4, srv.Deletes("w2"))
	requireGateFree(t, s)
}

func TestClosePolicyBackoff(t *testing.T) {
	p := ClosePolicy{MaxAttempts: 10, Delay: 100 * time.Millisecond, MaxDelay: time.Second}.normalize()
	assert.Equal(t, 100*time.Millisecond, p.backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.backoff(3))
	assert.Equal(t, 800*time.Millisecond, p.backoff(4))
	assert.Equal(t, time.Second, p.backoff(5))
	assert.Equal(t, time.Second, p.backoff(30))

	zero := ClosePolicy{}.normalize()
	assert.Equal(t, DefaultClosePolicy().MaxAttempts, zero.MaxAttempts)
	assert.Zero(t, zero.backoff(3))
}

func TestCloseStateString(t *testing.T) {
	assert.Equal(t, "activating", closeActivating.String())
	assert.Equal(t, "closing", closeClosing.String())
	assert.Equal(t, "verifying", closeVerifying.String())
	assert.Equal(t, "closeState(9)", closeState(9).String())
}

func TestCloseLastWindowEndingSession(t *testing.T) {
	srv := webdrivertest.NewServer(webdrivertest.WithSessionEndingOnLastClose())
	defer srv.Close()
	s := newCreated(t, srv)

	tab, err := s.Open(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "w1", tab.ID())
	listed := len(srv.Commands(http.MethodGet, epHandles))

	require.NoError(t, tab.Close(context.Background()))
	assert.Empty(t, srv.Handles())
	assert.False(t, srv.SessionAlive())
	assert.Len(t, srv.Commands(http.MethodGet, epHandles), listed, "no verification once the reply lists no windows")
	requireGateFree(t, s)

	// Teardown still succeeds against the ended session.
	require.NoError(t, s.Close(context.Background()))
}

func TestCloseVerifyAfterSessionEnded(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	s, tab := openTwo(t, srv)
	srv.FailCode(http.MethodGet, epHandles, 1, http.StatusNotFound, webdriver.CodeInvalidSessionID)

	require.NoError(t, tab.Close(context.Background()))
	assert.Equal(t, 1, srv.Deletes("w2"))
	requireGateFree(t, s)
}

func TestCloseInvalidSessionWithoutDelete(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	_, tab := openTwo(t, srv)
	srv.Fail(http.MethodDelete, epWindow, 1, false)
	srv.FailCode(http.MethodGet, epHandles, 1, http.StatusNotFound, webdriver.CodeInvalidSessionID)

	err := tab.Close(context.Background())
	require.Error(t, err)
	assert.True(t, webdriver.IsCode(err, webdriver.CodeInvalidSessionID))
}
