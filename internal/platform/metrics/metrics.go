package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the gateway.
// All methods are no-ops on a nil *Metrics so callers may pass nil in tests.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	streamsStartedTotal    *prometheus.CounterVec
	fastPathTotal          prometheus.Counter
	resolutionFailures     prometheus.Counter
	transcodeFailures      prometheus.Counter
	sessionsEndedTotal     prometheus.Counter
	activeStreams          prometheus.Gauge
	finiteTranscodeSeconds prometheus.Histogram
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	streamsStartedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_streams_started_total",
		Help: "Transcoder processes spawned, by source kind (live or finite)",
	}, []string{"kind"})
	fastPathTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_stream_fast_path_total",
		Help: "Stream requests answered from an already active live session",
	})
	resolutionFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_resolution_failures_total",
		Help: "Sources the resolution tool could not resolve to a media URL",
	})
	transcodeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_transcode_failures_total",
		Help: "Transcoder processes that failed to start or exited non-zero",
	})
	sessionsEndedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_sessions_ended_total",
		Help: "Live sessions removed after their transcoder exited",
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_streams",
		Help: "Number of live sessions currently in the registry",
	})
	transcodeSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hls_finite_transcode_seconds",
		Help:    "Wall time of finite-asset transcodes",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		streamsStartedTotal,
		fastPathTotal,
		resolutionFailures,
		transcodeFailures,
		sessionsEndedTotal,
		activeStreams,
		transcodeSeconds,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		errorsTotal:            errorsTotal,
		streamsStartedTotal:    streamsStartedTotal,
		fastPathTotal:          fastPathTotal,
		resolutionFailures:     resolutionFailures,
		transcodeFailures:      transcodeFailures,
		sessionsEndedTotal:     sessionsEndedTotal,
		activeStreams:          activeStreams,
		finiteTranscodeSeconds: transcodeSeconds,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// IncStreamsStarted counts a spawned transcoder.
func (m *Metrics) IncStreamsStarted(live bool) {
	if m == nil {
		return
	}
	kind := "finite"
	if live {
		kind = "live"
	}
	m.streamsStartedTotal.WithLabelValues(kind).Inc()
}

// IncFastPath counts a request served by an existing live session.
func (m *Metrics) IncFastPath() {
	if m != nil {
		m.fastPathTotal.Inc()
	}
}

// IncResolutionFailures counts a failed media URL resolution.
func (m *Metrics) IncResolutionFailures() {
	if m != nil {
		m.resolutionFailures.Inc()
	}
}

// IncTranscodeFailures counts a transcoder that failed to start or exited non-zero.
func (m *Metrics) IncTranscodeFailures() {
	if m != nil {
		m.transcodeFailures.Inc()
	}
}

// IncSessionsEnded counts a live session that was cleaned up.
func (m *Metrics) IncSessionsEnded() {
	if m != nil {
		m.sessionsEndedTotal.Inc()
	}
}

// ObserveFiniteTranscode records how long a finite transcode took.
func (m *Metrics) ObserveFiniteTranscode(seconds float64) {
	if m != nil {
		m.finiteTranscodeSeconds.Observe(seconds)
	}
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	if m != nil {
		m.activeStreams.Set(float64(n))
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
