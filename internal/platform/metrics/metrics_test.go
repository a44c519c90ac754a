package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_nil_is_noop(t *testing.T) {
	var m *Metrics
	m.IncRequests()
	m.IncErrors()
	m.IncStreamsStarted(true)
	m.IncFastPath()
	m.IncResolutionFailures()
	m.IncTranscodeFailures()
	m.IncSessionsEnded()
	m.ObserveFiniteTranscode(1.5)
	m.SetActiveStreams(3)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncStreamsStarted(true)
	m.IncStreamsStarted(false)
	m.IncStreamsStarted(false)
	m.IncFastPath()
	m.ObserveFiniteTranscode(3)

	body := scrape(t, m, func() { m.SetActiveStreams(4) })

	for _, want := range []string{
		`hls_streams_started_total{kind="live"} 1`,
		`hls_streams_started_total{kind="finite"} 2`,
		`hls_stream_fast_path_total 1`,
		`hls_active_streams 4`,
		`hls_finite_transcode_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	mw := RequestMiddleware(m)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/stream", nil),
		httptest.NewRequest(http.MethodGet, "/missing", nil),
		httptest.NewRequest(http.MethodGet, "/metrics", nil),
		httptest.NewRequest(http.MethodOptions, "/stream", nil),
	} {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	body := scrape(t, m, nil)
	if !strings.Contains(body, "hls_requests_total 2") {
		t.Errorf("expected 2 counted requests:\n%s", body)
	}
	if !strings.Contains(body, "hls_errors_total 1") {
		t.Errorf("expected 1 error:\n%s", body)
	}
}
