// Package promhandler is a concrete eventhandler.Handler backed by
// Prometheus counters and histograms, exercising the event-handler
// capability with a real sink instead of only eventhandler.Noop. It is
// grounded in the same registration-once pattern as the teacher's
// metrics.go (sync.Once-guarded Register) adapted from the teacher's
// bespoke DurationMetric/ResultMetric interfaces to client_golang's
// native collector types.
package promhandler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/costinm/h2engine/eventhandler"
)

// Handler counts requests, responses and errors and observes stream
// lifetime. S is left as the threaded-through state type so this handler
// can be chained with others via eventhandler.Chain.
type Handler[S any] struct {
	requests   *prometheus.CounterVec
	responses  *prometheus.CounterVec
	errors     prometheus.Counter
	streamTime prometheus.Histogram

	starts sync.Map // ref (string) -> time.Time of request_start, guards double-observe
}

var registerOnce sync.Once

// New creates a Handler. The first call in a process registers that
// Handler's collectors with reg (pass prometheus.DefaultRegisterer for the
// global registry); later calls register nothing, so the collectors of the
// Handlers they return are not attached to any registry. Safe to call
// multiple times per process.
func New[S any](reg prometheus.Registerer) *Handler[S] {
	h := &Handler[S]{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h2engine",
			Name:      "requests_total",
			Help:      "HTTP/2 requests started, by method.",
		}, []string{"method"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h2engine",
			Name:      "responses_total",
			Help:      "HTTP/2 responses received, by status class.",
		}, []string{"class"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "h2engine",
			Name:      "stream_errors_total",
			Help:      "Engine terminations carrying an error cause; per-stream resets are not counted.",
		}),
		streamTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "h2engine",
			Name:      "stream_duration_seconds",
			Help:      "Time from request_start to response_end/error.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	registerOnce.Do(func() {
		reg.MustRegister(h.requests, h.responses, h.errors, h.streamTime)
	})
	return h
}

func (h *Handler[S]) HandleEvent(evt eventhandler.Event, state S) S {
	switch evt.Kind {
	case eventhandler.RequestStart:
		h.requests.WithLabelValues(evt.Method).Inc()
		h.starts.Store(evt.Ref, time.Now())
	case eventhandler.ResponseHeaders:
		h.responses.WithLabelValues(statusClass(evt.Status)).Inc()
	case eventhandler.ResponseEnd:
		h.observeDuration(evt.Ref)
	case eventhandler.Terminate:
		if evt.Cause != nil {
			h.errors.Inc()
		}
		// Connection is going down: every outstanding stream's lifetime
		// ends now, none of them will see their own response_end.
		h.starts.Range(func(ref, _ interface{}) bool {
			h.observeDuration(ref.(string))
			return true
		})
	}
	return state
}

// observeDuration records the elapsed time since ref's request_start, if
// still outstanding, and clears the marker so it is only observed once.
func (h *Handler[S]) observeDuration(ref string) {
	start, ok := h.starts.LoadAndDelete(ref)
	if !ok {
		return
	}
	h.streamTime.Observe(time.Since(start.(time.Time)).Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status >= 100:
		return "1xx"
	default:
		return "unknown"
	}
}
