package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPaymentMetricsCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPaymentMetrics(reg)
	metrics.ObserveReconciliation(PathWebhook, OutcomeGranted)
	metrics.ObserveReconciliation(PathWebhook, OutcomeDuplicate)
	metrics.ObserveReconciliation(PathPoll, OutcomeGranted)
	metrics.ObserveReconciliation(PathWebhook, OutcomeDuplicate)
	metrics.ObserveDownload("success")
	metrics.ObserveDownload("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	got, err := fetchCounterWithLabels(mfs, "projecthub_reconciliation_outcomes_total", map[string]string{"path": PathWebhook, "outcome": OutcomeDuplicate})
	if err != nil {
		t.Fatalf("fetch reconciliation: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2 duplicate webhook reconciliations, got %f", got)
	}

	got, err = fetchCounterWithLabels(mfs, "projecthub_reconciliation_outcomes_total", map[string]string{"path": PathPoll, "outcome": OutcomeGranted})
	if err != nil {
		t.Fatalf("fetch poll reconciliation: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1 poll grant, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "projecthub_downloads_total", "result", "unknown"); err != nil {
		t.Fatalf("fetch downloads: %v", err)
	} else if got != 1 {
		t.Fatalf("expected unknown result counted once, got %f", got)
	}
}

func TestPaymentMetricsNilSafe(t *testing.T) {
	var metrics *PaymentMetrics
	metrics.ObserveReconciliation(PathPoll, OutcomeError)
	metrics.ObserveDownload("success")

	unregistered := NewPaymentMetrics(nil)
	unregistered.ObserveDownload("success")
}
