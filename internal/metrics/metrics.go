package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstudio_lock_acquisitions_total",
		Help: "Generation lock acquire attempts by outcome (acquired, reclaimed, held)",
	}, []string{"asset_type", "outcome"})

	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstudio_ledger_operations_total",
		Help: "Credit ledger operations by type and outcome",
	}, []string{"type", "outcome"})

	LedgerCredits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstudio_ledger_credits_total",
		Help: "Credits moved by applied ledger operations",
	}, []string{"type", "source"})

	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstudio_generations_total",
		Help: "Generation requests by asset type and outcome",
	}, []string{"asset_type", "outcome"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genstudio_generation_duration_seconds",
		Help:    "Time from provider submit to terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"asset_type"})

	LocksPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genstudio_locks_purged_total",
		Help: "Expired generation locks removed by housekeeping",
	})

	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genstudio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genstudio_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"method", "endpoint"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records request count and latency under the given endpoint label.
func Instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpLatency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpReqTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
