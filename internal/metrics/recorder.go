// Package metrics exposes Prometheus collectors for the focus gate, backend
// commands and the close protocol.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabgate"

// Recorder groups every collector. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	GateWait     prometheus.Histogram
	GateHeld     *prometheus.HistogramVec
	Commands     *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
	CloseTries   prometheus.Histogram
	CloseResults *prometheus.CounterVec
	Suppression  *prometheus.CounterVec
	OpenTabs     prometheus.Gauge
}

// New creates a Recorder registered on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		GateWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire the focus gate",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		GateHeld: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "held_seconds",
			Help:      "Time the focus gate was held, by operation",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webdriver",
			Name:      "commands_total",
			Help:      "Backend commands issued, by method, endpoint and outcome",
		}, []string{"method", "endpoint", "outcome"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webdriver",
			Name:      "command_seconds",
			Help:      "Backend command round-trip latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"method", "endpoint"}),
		CloseTries: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tab",
			Name:      "close_attempts",
			Help:      "Delete-window attempts needed per tab close",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		CloseResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tab",
			Name:      "close_total",
			Help:      "Tab close outcomes",
		}, []string{"result"}),
		Suppression: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cdp",
			Name:      "suppression_total",
			Help:      "Automation suppression command outcomes",
		}, []string{"result"}),
		OpenTabs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tab",
			Name:      "open",
			Help:      "Tabs opened and not yet closed",
		}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveGateWait records how long an acquire waited.
func (r *Recorder) ObserveGateWait(d time.Duration) {
	if r == nil {
		return
	}
	r.GateWait.Observe(d.Seconds())
}

// ObserveGateHeld records the length of a critical section.
func (r *Recorder) ObserveGateHeld(op string, d time.Duration) {
	if r == nil {
		return
	}
	r.GateHeld.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveCommand records one backend round trip.
func (r *Recorder) ObserveCommand(method, path string, d time.Duration, err error) {
	if r == nil {
		return
	}
	endpoint := Endpoint(path)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.Commands.WithLabelValues(method, endpoint, outcome).Inc()
	r.Latency.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// ObserveClose records a finished close protocol run.
func (r *Recorder) ObserveClose(attempts int, result string) {
	if r == nil {
		return
	}
	if attempts > 0 {
		r.CloseTries.Observe(float64(attempts))
	}
	r.CloseResults.WithLabelValues(result).Inc()
}

// ObserveSuppression counts one suppression run.
func (r *Recorder) ObserveSuppression(result string) {
	if r == nil {
		return
	}
	r.Suppression.WithLabelValues(result).Inc()
}

// TabOpened and TabClosed track the open tab gauge.
func (r *Recorder) TabOpened() {
	if r == nil {
		return
	}
	r.OpenTabs.Inc()
}

func (r *Recorder) TabClosed() {
	if r == nil {
		return
	}
	r.OpenTabs.Dec()
}

// Endpoint collapses a request path into a low-cardinality label:
// "/session/abc/window/handles" -> "/session/{id}/window/handles".
func Endpoint(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "session" {
		parts[1] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}
