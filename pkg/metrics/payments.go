package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reconciliation paths.
const (
	PathWebhook = "webhook"
	PathPoll    = "poll"
	PathSweep   = "sweep"
	PathAdmin   = "admin"
)

// Reconciliation outcomes.
const (
	OutcomeGranted   = "granted"
	OutcomeHealed    = "healed"
	OutcomeDuplicate = "duplicate"
	OutcomePending   = "pending"
	OutcomeFailed    = "failed"
	OutcomeRefunded  = "refunded"
	OutcomeRejected  = "rejected"
	OutcomeIgnored   = "ignored"
	OutcomeDeferred  = "deferred"
	OutcomeError     = "error"
)

// Download redemption results.
const (
	DownloadServed       = "served"
	DownloadNotFound     = "not_found"
	DownloadExpired      = "expired"
	DownloadLimitReached = "limit_reached"
	DownloadExhausted    = "exhausted"
	DownloadStorageError = "storage_error"
	DownloadError        = "error"
)

// PaymentMetrics counts reconciliation outcomes and download redemptions.
type PaymentMetrics struct {
	reconciliations *prometheus.CounterVec
	downloads       *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment counters on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_outcomes_total",
		Help:      "Reconciliation results by entry path and outcome.",
	}, []string{"path", "outcome"})
	downloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Download token redemptions by result.",
	}, []string{"result"})
	reg.MustRegister(reconciliations, downloads)
	return &PaymentMetrics{
		reconciliations: reconciliations,
		downloads:       downloads,
	}
}

// ObserveReconciliation counts one reconciliation result.
func (m *PaymentMetrics) ObserveReconciliation(path, outcome string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(path), normalizeLabel(outcome)).Inc()
}

// ObserveDownload counts one redemption attempt.
func (m *PaymentMetrics) ObserveDownload(result string) {
	if m == nil || m.downloads == nil {
		return
	}
	m.downloads.WithLabelValues(normalizeLabel(result)).Inc()
}
