package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	borrowOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "lending",
			Name:      "borrows_total",
			Help:      "Total number of borrow operations by outcome.",
		},
		[]string{"outcome"},
	)

	returnOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "lending",
			Name:      "returns_total",
			Help:      "Total number of return operations by outcome.",
		},
		[]string{"outcome"},
	)

	borrowRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "lending",
			Name:      "borrow_retries_total",
			Help:      "Total number of borrow attempts retried after a transient storage conflict.",
		},
	)

	returnRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "lending",
			Name:      "return_retries_total",
			Help:      "Total number of return attempts retried after a transient storage conflict.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		borrowOutcomes,
		returnOutcomes,
		borrowRetries,
		returnRetries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordBorrow records the outcome of a borrow operation.
func RecordBorrow(outcome string) {
	borrowOutcomes.WithLabelValues(outcome).Inc()
}

// RecordReturn records the outcome of a return operation.
func RecordReturn(outcome string) {
	returnOutcomes.WithLabelValues(outcome).Inc()
}

// RecordBorrowRetry records a transparent retry of a borrow transaction.
func RecordBorrowRetry() {
	borrowRetries.Inc()
}

// RecordReturnRetry records a transparent retry of a return transaction.
func RecordReturnRetry() {
	returnRetries.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource IDs so metrics stay low-cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "books", "categories", "users":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		return "/" + parts[0] + "/:id"
	case "borrows":
		if len(parts) == 1 {
			return "/borrows"
		}
		if parts[1] == "user" {
			return "/borrows/user/:id"
		}
		if len(parts) == 3 && parts[2] == "return" {
			return "/borrows/:id/return"
		}
		return "/borrows/:id"
	default:
		return "/" + parts[0]
	}
}
