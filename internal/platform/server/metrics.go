package server

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/notify"
)

// Metrics implements ledger.Observer and feeds the idempotency cleanup
// worker and the notification dispatcher.
type Metrics struct {
	cleanupRunsTotal       *prometheus.CounterVec
	cleanupDeletedTotal    prometheus.Counter
	cleanupLastDeleted     prometheus.Gauge
	cleanupLastRunUnix     prometheus.Gauge
	idempotencyKeys        *prometheus.GaugeVec
	operationsTotal        *prometheus.CounterVec
	transferFailuresTotal  *prometheus.CounterVec
	reapedTotal            prometheus.Counter
	notificationsTotal     *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		cleanupRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_ledger",
				Subsystem: "idempotency",
				Name:      "cleanup_runs_total",
				Help:      "Total cleanup runs partitioned by result.",
			},
			[]string{"result"},
		),
		cleanupDeletedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "open_ledger",
				Subsystem: "idempotency",
				Name:      "cleanup_deleted_total",
				Help:      "Total number of expired idempotency keys deleted.",
			},
		),
		cleanupLastDeleted: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "open_ledger",
				Subsystem: "idempotency",
				Name:      "cleanup_last_deleted",
				Help:      "Number of keys deleted in the most recent cleanup run.",
			},
		),
		cleanupLastRunUnix: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "open_ledger",
				Subsystem: "idempotency",
				Name:      "cleanup_last_run_unix",
				Help:      "Unix time of the most recent cleanup run.",
			},
		),
		idempotencyKeys: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "open_ledger",
				Subsystem: "idempotency",
				Name:      "keys",
				Help:      "Current count of live idempotency keys by state.",
			},
			[]string{"state"},
		),
		operationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_ledger",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations by operation and outcome code.",
			},
			[]string{"operation", "outcome"},
		),
		transferFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_ledger",
				Subsystem: "engine",
				Name:      "transfer_failures_total",
				Help:      "Transfers moved to Failed, by persisted failure reason.",
			},
			[]string{"reason"},
		),
		reapedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "open_ledger",
				Subsystem: "engine",
				Name:      "reaped_transfers_total",
				Help:      "Expired pending transfers failed by the reaper.",
			},
		),
		notificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_ledger",
				Subsystem: "notify",
				Name:      "deliveries_total",
				Help:      "Notification delivery attempts by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "open_ledger",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method and status code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSec: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "open_ledger",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

func (m *Metrics) ObserveIdempotencyCleanup(deleted int64, err error) {
	if m == nil {
		return
	}
	m.cleanupLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	m.cleanupLastDeleted.Set(float64(deleted))
	if err != nil {
		m.cleanupRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRunsTotal.WithLabelValues("success").Inc()
	if deleted > 0 {
		m.cleanupDeletedTotal.Add(float64(deleted))
	}
}

type idempotencyCounter interface {
	Counts(ctx context.Context) (map[idempotency.State]int64, error)
}

func (m *Metrics) RefreshIdempotencyCounts(ctx context.Context, store idempotencyCounter) {
	if m == nil || store == nil {
		return
	}
	counts, err := store.Counts(ctx)
	if err != nil {
		return
	}
	for state, n := range counts {
		m.idempotencyKeys.WithLabelValues(string(state)).Set(float64(n))
	}
}

func (m *Metrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveTransferFailure(reason string) {
	if m == nil {
		return
	}
	m.transferFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveReaped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reapedTotal.Add(float64(count))
}

func (m *Metrics) ObserveNotification(kind notify.Kind, outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) observeHTTP(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDurationSec.WithLabelValues(method).Observe(elapsed.Seconds())
}
