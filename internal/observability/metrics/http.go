package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "soloracle"

// Registry owns the process collectors. All methods are safe on a nil
// receiver so instrumentation stays optional.
type Registry struct {
	reg           *prometheus.Registry
	httpRequests  *prometheus.CounterVec
	httpErrors    *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	derivations   *prometheus.CounterVec
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	transactions  *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		derivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derivations_total",
			Help:      "Derived address computations by outcome.",
		}, []string{"source", "outcome"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_queries_total",
			Help:      "Oracle queries by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_query_duration_seconds",
			Help:      "Wall time from resolution to response or timeout.",
			Buckets:   []float64{0.5, 1, 3, 6, 12, 20, 30, 45, 60},
		}, []string{"outcome"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Submitted transactions by instruction and outcome.",
		}, []string{"instruction", "outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Processed query tasks by final stage.",
		}, []string{"stage"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Query ids waiting in the task queue at the last sample.",
		}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests, r.httpErrors, r.httpDuration,
		r.derivations, r.queries, r.queryDuration, r.transactions,
		r.tasks, r.queueDepth,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler exposes the metrics in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		r.httpErrors.WithLabelValues(handler, method).Inc()
	}
	r.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveDerivation counts a derivation request from source.
func (r *Registry) ObserveDerivation(source string, err error) {
	if r == nil {
		return
	}
	r.derivations.WithLabelValues(source, outcomeOf(err)).Inc()
}

// ObserveQuery records the outcome of one oracle query.
func (r *Registry) ObserveQuery(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.queries.WithLabelValues(outcome).Inc()
	r.queryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveTransaction counts a submitted transaction.
func (r *Registry) ObserveTransaction(instruction string, err error) {
	if r == nil {
		return
	}
	r.transactions.WithLabelValues(instruction, outcomeOf(err)).Inc()
}

// ObserveTask counts a task that left the processor at stage.
func (r *Registry) ObserveTask(stage string) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(stage).Inc()
}

// SetQueueDepth records the latest queue depth sample.
func (r *Registry) SetQueueDepth(depth int64) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(depth))
}

// Middleware wraps next and records request count, errors and latency
// under the handler label.
func (r *Registry) Middleware(handler string, next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.ObserveHTTPRequest(handler, req.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
