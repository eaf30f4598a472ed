package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/notify"
)

var (
	metricsTestOnce sync.Once
	metricsTestInst *Metrics
)

func metricsForTest() *Metrics {
	metricsTestOnce.Do(func() {
		metricsTestInst = NewMetrics()
	})
	return metricsTestInst
}

func findMetric(t *testing.T, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if metricLabelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	if m := findMetric(t, name, labels); m != nil && m.GetCounter() != nil {
		return m.GetCounter().GetValue()
	}
	return 0
}

func gaugeValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	if m := findMetric(t, name, labels); m != nil && m.GetGauge() != nil {
		return m.GetGauge().GetValue()
	}
	return 0
}

func metricLabelsMatch(metric *dto.Metric, expected map[string]string) bool {
	actual := make(map[string]string, len(metric.GetLabel()))
	for _, lp := range metric.GetLabel() {
		actual[lp.GetName()] = lp.GetValue()
	}
	for k, v := range expected {
		if actual[k] != v {
			return false
		}
	}
	return true
}

func TestMetricsImplementsEngineObserver(t *testing.T) {
	var _ ledger.Observer = metricsForTest()
}

func TestMetricsObserveOperationsAndFailures(t *testing.T) {
	m := metricsForTest()
	labels := map[string]string{"operation": "withdraw", "outcome": ledger.CodeInsufficientFunds}
	before := counterValue(t, "open_ledger_engine_operations_total", labels)
	m.ObserveOperation("withdraw", ledger.CodeInsufficientFunds)
	if after := counterValue(t, "open_ledger_engine_operations_total", labels); after != before+1 {
		t.Fatalf("operations counter before=%f after=%f", before, after)
	}

	reason := map[string]string{"reason": string(ledger.ReasonOTPExpired)}
	before = counterValue(t, "open_ledger_engine_transfer_failures_total", reason)
	m.ObserveTransferFailure(string(ledger.ReasonOTPExpired))
	if after := counterValue(t, "open_ledger_engine_transfer_failures_total", reason); after != before+1 {
		t.Fatalf("transfer failure counter before=%f after=%f", before, after)
	}

	before = counterValue(t, "open_ledger_engine_reaped_transfers_total", nil)
	m.ObserveReaped(3)
	m.ObserveReaped(0)
	if after := counterValue(t, "open_ledger_engine_reaped_transfers_total", nil); after != before+3 {
		t.Fatalf("reaped counter before=%f after=%f", before, after)
	}
}

func TestMetricsObserveIdempotencyCleanup(t *testing.T) {
	m := metricsForTest()
	beforeOK := counterValue(t, "open_ledger_idempotency_cleanup_runs_total", map[string]string{"result": "success"})
	beforeErr := counterValue(t, "open_ledger_idempotency_cleanup_runs_total", map[string]string{"result": "error"})
	beforeDeleted := counterValue(t, "open_ledger_idempotency_cleanup_deleted_total", nil)

	m.ObserveIdempotencyCleanup(4, nil)
	m.ObserveIdempotencyCleanup(0, errors.New("db down"))

	if got := counterValue(t, "open_ledger_idempotency_cleanup_runs_total", map[string]string{"result": "success"}); got != beforeOK+1 {
		t.Fatalf("success runs=%f", got)
	}
	if got := counterValue(t, "open_ledger_idempotency_cleanup_runs_total", map[string]string{"result": "error"}); got != beforeErr+1 {
		t.Fatalf("error runs=%f", got)
	}
	if got := counterValue(t, "open_ledger_idempotency_cleanup_deleted_total", nil); got != beforeDeleted+4 {
		t.Fatalf("deleted=%f", got)
	}
}

func TestMetricsRefreshIdempotencyCounts(t *testing.T) {
	m := metricsForTest()
	store := idempotency.NewMemoryStore()
	guard := idempotency.NewGuard(store, clock.NewManual(time.Now()), time.Hour)
	for i := 0; i < 2; i++ {
		_, _, err := guard.Do(context.Background(), idempotency.Request{
			Key: newKey(), UserID: "u", Endpoint: idempotency.EndpointWithdraw, RequestHash: "h",
		}, func(context.Context) (idempotency.Response, error) {
			return idempotency.Response{Code: 201, Body: []byte(`{}`)}, nil
		})
		if err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	m.RefreshIdempotencyCounts(context.Background(), store)
	if got := gaugeValue(t, "open_ledger_idempotency_keys", map[string]string{"state": string(idempotency.StateCompleted)}); got != 2 {
		t.Fatalf("completed keys gauge=%f", got)
	}
}

func TestMetricsObserveNotification(t *testing.T) {
	m := metricsForTest()
	labels := map[string]string{"kind": string(notify.KindOTP), "outcome": "sent"}
	before := counterValue(t, "open_ledger_notify_deliveries_total", labels)
	m.ObserveNotification(notify.KindOTP, "sent")
	if after := counterValue(t, "open_ledger_notify_deliveries_total", labels); after != before+1 {
		t.Fatalf("notification counter before=%f after=%f", before, after)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("deposit", "ok")
	m.ObserveTransferFailure("x")
	m.ObserveReaped(1)
	m.ObserveNotification(notify.KindOTP, "sent")
	m.ObserveIdempotencyCleanup(1, nil)
	m.observeHTTP("GET", 200, time.Millisecond)
}
