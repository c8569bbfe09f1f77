package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	rbacChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_checks_total",
			Help: "Permission checks by resource, action and decision.",
		},
		[]string{"resource", "action", "decision"},
	)

	rbacDecisionCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_decision_cache_total",
			Help: "Decision cache lookups by result.",
		},
		[]string{"result"},
	)

	rbacMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_mutations_total",
			Help: "Successful writes by entity and operation.",
		},
		[]string{"entity", "op"},
	)

	initOnce sync.Once
)

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			rbacChecksTotal, rbacDecisionCache, rbacMutationsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCheck counts one permission check. cached marks answers served from
// the decision cache; misses are counted when cached is false.
func RecordCheck(resource, action string, allowed, cached bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	rbacChecksTotal.WithLabelValues(resource, action, decision).Inc()
	if cached {
		rbacDecisionCache.WithLabelValues("hit").Inc()
	} else {
		rbacDecisionCache.WithLabelValues("miss").Inc()
	}
}

func RecordMutation(entity, op string) {
	rbacMutationsTotal.WithLabelValues(entity, op).Inc()
}

// Instrument is a mux middleware measuring RPS, latency and in-flight
// requests. Requests are labelled by route template so ids do not explode
// the label set.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := RouteLabel(r)
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// RouteLabel returns the matched route template, or "unmatched".
func RouteLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush on the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
