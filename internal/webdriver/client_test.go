package webdriver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/roelfdiedericks/tabgate/internal/metrics"
	"github.com/roelfdiedericks/tabgate/internal/webdriver"
	"github.com/roelfdiedericks/tabgate/internal/webdriver/webdrivertest"
)

func TestClientGet(t *testing.T) {
	srv := webdrivertest.NewServer(webdrivertest.WithHandles("w1", "w2"))
	defer srv.Close()

	c := webdriver.NewClient("", srv.Port())
	raw, err := c.Get(context.Background(), "/session/"+srv.SessionID()+"/window/handles")
	require.NoError(t, err)

	var got []string
	for _, h := range gjson.GetBytes(raw, "value").Array() {
		got = append(got, h.String())
	}
	assert.Equal(t, []string{"w1", "w2"}, got)
}

func TestClientPostNilBodySendsEmptyObject(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()

	c := webdriver.NewClientURL(srv.URL + "/")
	_, err := c.Post(context.Background(), "/shutdown", nil)
	require.NoError(t, err)

	cmds := srv.Commands(http.MethodPost, "/shutdown")
	require.Len(t, cmds, 1)
	assert.JSONEq(t, `{}`, string(cmds[0].Body))
	assert.Equal(t, 1, srv.Teardowns("shutdown"))
}

func TestClientBackendError(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()

	c := webdriver.NewClient("127.0.0.1", srv.Port())
	_, err := c.Get(context.Background(), "/session/bogus/window/handles")
	require.Error(t, err)

	var we *webdriver.Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, http.StatusNotFound, we.StatusCode)
	assert.Equal(t, webdriver.CodeInvalidSessionID, we.Code)
	assert.Equal(t, "session not found", we.Message)
	assert.True(t, webdriver.IsBackendError(err))
	assert.True(t, webdriver.IsCode(err, webdriver.CodeInvalidSessionID))
	assert.False(t, webdriver.IsNoSuchWindow(err))
}

func TestClientTransportError(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()
	srv.Fail(http.MethodPost, "/shutdown", 1, true)

	c := webdriver.NewClient("127.0.0.1", srv.Port())
	_, err := c.Post(context.Background(), "/shutdown", nil)
	require.Error(t, err)
	assert.False(t, webdriver.IsBackendError(err))

	// The fault is spent.
	_, err = c.Post(context.Background(), "/shutdown", nil)
	require.NoError(t, err)
}

func TestClientRejectsNonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>proxy</html>"))
	}))
	defer ts.Close()

	c := webdriver.NewClientURL(ts.URL)
	_, err := c.Get(context.Background(), "/status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not JSON")
	assert.False(t, webdriver.IsBackendError(err))
}

func TestClientErrorWithoutJSONBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := webdriver.NewClientURL(ts.URL).Get(context.Background(), "/status")
	var we *webdriver.Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, http.StatusBadGateway, we.StatusCode)
	assert.Empty(t, we.Code)
	assert.Equal(t, "webdriver: GET /status: 502 Bad Gateway", err.Error())
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  webdriver.Error
		want string
	}{
		{
			name: "code and message",
			err:  webdriver.Error{Method: "DELETE", Path: "/session/x/window", StatusCode: 404, Code: "no such window", Message: "gone"},
			want: "webdriver: DELETE /session/x/window: 404 Not Found: no such window: gone",
		},
		{
			name: "code only",
			err:  webdriver.Error{Method: "GET", Path: "/status", StatusCode: 500, Code: "unknown error"},
			want: "webdriver: GET /status: 500 Internal Server Error: unknown error",
		},
		{
			name: "unknown status",
			err:  webdriver.Error{Method: "GET", Path: "/status", StatusCode: 599},
			want: "webdriver: GET /status: 599",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestClientRecordsMetrics(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()

	rec := metrics.New()
	c := webdriver.NewClient("", srv.Port(), webdriver.WithMetrics(rec), webdriver.WithTimeout(5*time.Second))
	ctx := context.Background()

	_, err := c.Get(ctx, "/session/"+srv.SessionID()+"/window/handles")
	require.NoError(t, err)
	_, err = c.Get(ctx, "/session/bogus/window/handles")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Commands.WithLabelValues("GET", "/session/{id}/window/handles", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Commands.WithLabelValues("GET", "/session/{id}/window/handles", "error")))
}

func TestStatusAndWaitReady(t *testing.T) {
	srv := webdrivertest.NewServer()
	defer srv.Close()

	c := webdriver.NewClient("", srv.Port())
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Ready)
	assert.Equal(t, "fake backend ready", st.Message)

	require.NoError(t, c.WaitReady(context.Background(), time.Second, 10*time.Millisecond))
}

func TestWaitReadyTimesOut(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":{"ready":false,"message":"starting"}}`))
	}))
	defer ts.Close()

	c := webdriver.NewClientURL(ts.URL)
	start := time.Now()
	err := c.WaitReady(context.Background(), 150*time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready after")
	assert.Less(t, time.Since(start), 2*time.Second)
}
