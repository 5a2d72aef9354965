package promhandler

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/costinm/h2engine/eventhandler"
)

// sampleCount reports how many observations h has recorded.
func sampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("reading histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRequestStartIncrementsByMethod(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New[int](reg)

	h.HandleEvent(eventhandler.Event{Kind: eventhandler.RequestStart, Ref: "a", Method: "GET"}, 0)
	h.HandleEvent(eventhandler.Event{Kind: eventhandler.RequestStart, Ref: "b", Method: "GET"}, 0)
	h.HandleEvent(eventhandler.Event{Kind: eventhandler.RequestStart, Ref: "c", Method: "POST"}, 0)

	if got := testutil.ToFloat64(h.requests.WithLabelValues("GET")); got != 2 {
		t.Fatalf("want 2 GET requests, got %v", got)
	}
	if got := testutil.ToFloat64(h.requests.WithLabelValues("POST")); got != 1 {
		t.Fatalf("want 1 POST request, got %v", got)
	}
}

func TestResponseHeadersBucketsByStatusClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New[int](reg)

	h.HandleEvent(eventhandler.Event{Kind: eventhandler.ResponseHeaders, Ref: "a", Status: 204}, 0)
	h.HandleEvent(eventhandler.Event{Kind: eventhandler.ResponseHeaders, Ref: "b", Status: 404}, 0)

	if got := testutil.ToFloat64(h.responses.WithLabelValues("2xx")); got != 1 {
		t.Fatalf("want 1 2xx response, got %v", got)
	}
	if got := testutil.ToFloat64(h.responses.WithLabelValues("4xx")); got != 1 {
		t.Fatalf("want 1 4xx response, got %v", got)
	}
}

func TestStreamDurationObservedOnResponseEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New[int](reg)

	h.HandleEvent(eventhandler.Event{Kind: eventhandler.RequestStart, Ref: "a", Method: "GET"}, 0)
	time.Sleep(time.Millisecond)
	h.HandleEvent(eventhandler.Event{Kind: eventhandler.ResponseEnd, Ref: "a"}, 0)

	if got := sampleCount(t, h.streamTime); got != 1 {
		t.Fatalf("want 1 observation recorded, got %d", got)
	}
	if _, ok := h.starts.Load("a"); ok {
		t.Fatalf("want start marker cleared after observing duration")
	}
}

func TestStreamDurationNotDoubleObserved(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New[int](reg)

	h.HandleEvent(eventhandler.Event{Kind: eventhandler.RequestStart, Ref: "a", Method: "GET"}, 0)
	h.HandleEvent(eventhandler.Event{Kind: eventhandler.ResponseEnd, Ref: "a"}, 0)
	// A second response_end for the same ref (e.g. trailers after data fin)
	// must not add a second observation: the marker was already cleared.
	h.HandleEvent(eventhandler.Event{Kind: eventhandler.ResponseEnd, Ref: "a"}, 0)

	if got := sampleCount(t, h.streamTime); got != 1 {
		t.Fatalf("want 1 sample recorded, got %d", got)
	}
}

func TestTerminateObservesOutstandingStreamsAndIncrementsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New[int](reg)

	h.HandleEvent(eventhandler.Event{Kind: eventhandler.RequestStart, Ref: "a", Method: "GET"}, 0)
	h.HandleEvent(eventhandler.Event{Kind: eventhandler.RequestStart, Ref: "b", Method: "GET"}, 0)
	h.HandleEvent(eventhandler.Event{Kind: eventhandler.ResponseEnd, Ref: "a"}, 0)

	h.HandleEvent(eventhandler.Event{Kind: eventhandler.Terminate, Cause: errStub{}}, 0)

	if got := testutil.ToFloat64(h.errors); got != 1 {
		t.Fatalf("want 1 error counted, got %v", got)
	}
	if got := testutil.CollectAndCount(h.streamTime); got != 2 {
		t.Fatalf("want both streams' durations observed (a at response_end, b at terminate), got %d", got)
	}
	if _, ok := h.starts.Load("b"); ok {
		t.Fatalf("want terminate to drain outstanding start markers")
	}
}

type errStub struct{}

func (errStub) Error() string { return "stub" }
