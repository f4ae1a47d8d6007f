package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prizepay"

var (
	// Registry holds the application collectors exposed on /metrics.
	Registry = prometheus.NewRegistry()

	payoutOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payouts",
			Name:      "outcomes_total",
			Help:      "Payout execution outcomes by trigger, status and failure reason.",
		},
		[]string{"trigger", "status", "reason"},
	)

	payoutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payouts",
			Name:      "execution_duration_seconds",
			Help:      "Time from claim to recorded outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~51s
		},
		[]string{"status"},
	)

	payoutSubmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payouts",
			Name:      "submissions_total",
			Help:      "Transfers broadcast to the ledger.",
		},
	)

	persistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payouts",
			Name:      "persistence_failures_total",
			Help:      "Outcomes that could not be written back after a ledger call.",
		},
	)

	treasuryBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "balance_lamports",
			Help:      "Last observed treasury balance.",
		},
	)

	workerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "ticks_total",
			Help:      "Payout worker drain cycles.",
		},
		[]string{"result"},
	)

	reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "resolved_total",
			Help:      "Payouts moved on by the reconciliation sweep.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		payoutOutcomes,
		payoutDuration,
		payoutSubmissions,
		persistenceFailures,
		treasuryBalance,
		workerTicks,
		reconciled,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordOutcome(trigger, status, reason string, started time.Time) {
	payoutOutcomes.WithLabelValues(trigger, status, reason).Inc()
	payoutDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

func RecordSubmission() {
	payoutSubmissions.Inc()
}

func RecordPersistenceFailure() {
	persistenceFailures.Inc()
}

func SetTreasuryBalance(lamports uint64) {
	treasuryBalance.Set(float64(lamports))
}

func RecordWorkerTick(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	workerTicks.WithLabelValues(result).Inc()
}

func RecordReconciled(status string) {
	reconciled.WithLabelValues(status).Inc()
}

// GinMiddleware records request counts and latency by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
