package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons for runsRejected.
const (
	rejectDecode     = "decode"
	rejectValidation = "validation"
)

// Store operations for storeErrors.
const (
	opInsert = "insert"
	opList   = "list"
	opGet    = "get"
)

type metrics struct {
	runsIngested    prometheus.Counter
	runsRejected    *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	archiveErrors   prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// newMetrics registers the server collectors on reg. Each server gets its
// own registry so several can coexist in one process.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	m := &metrics{
		runsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "dperf_runs_ingested_total",
			Help: "Total number of runs stored",
		}),
		runsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dperf_runs_rejected_total",
			Help: "Total number of submitted runs rejected before storage",
		}, []string{"reason"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dperf_store_errors_total",
			Help: "Total number of failed store operations",
		}, []string{"operation"}),
		archiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dperf_archive_errors_total",
			Help: "Total number of runs that could not be archived",
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dperf_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	for _, reason := range []string{rejectDecode, rejectValidation} {
		m.runsRejected.WithLabelValues(reason).Add(0)
	}

	for _, op := range []string{opInsert, opList, opGet} {
		m.storeErrors.WithLabelValues(op).Add(0)
	}

	return m
}

// instrument records request durations labelled by the matched route
// pattern rather than the raw path.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
