package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planforge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planforge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CreditsDeductedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planforge_credits_deducted_total",
			Help: "Total credits deducted across all owners",
		},
	)

	CreditsRefundedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planforge_credits_refunded_total",
			Help: "Total credits refunded across all owners",
		},
	)

	CreditsGrantedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planforge_credits_granted_total",
			Help: "Total credits granted, by source",
		},
		[]string{"source"},
	)

	InsufficientCreditsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planforge_insufficient_credits_total",
			Help: "Deduction attempts rejected for insufficient balance",
		},
	)

	LedgerConflictRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planforge_ledger_conflict_retries_total",
			Help: "Ledger operations retried after a serialization conflict",
		},
	)

	LedgerInconsistenciesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planforge_ledger_inconsistencies_total",
			Help: "Detected ledger invariant violations (requires manual reconciliation)",
		},
	)

	LotsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planforge_credit_lots_expired_total",
			Help: "Credit lots flipped to expired by the sweep",
		},
	)

	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planforge_generations_total",
			Help: "Plan generations by final status",
		},
		[]string{"status"},
	)

	RefundFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planforge_refund_failures_total",
			Help: "Refunds that failed and were flagged for manual reconciliation",
		},
	)

	StuckChargesReconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planforge_stuck_charges_reconciled_total",
			Help: "Charged generations force-refunded by the reconciliation sweep",
		},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planforge_emails_sent_total",
			Help: "Total number of emails sent",
		},
		[]string{"type", "status"},
	)

	EmailQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "planforge_email_queue_length",
			Help: "Current length of email queue",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordDeduction(credits int64) {
	CreditsDeductedTotal.Add(float64(credits))
}

func RecordRefund(credits int64) {
	CreditsRefundedTotal.Add(float64(credits))
}

func RecordGrant(source string, credits int64) {
	CreditsGrantedTotal.WithLabelValues(source).Add(float64(credits))
}

func RecordGeneration(status string) {
	GenerationsTotal.WithLabelValues(status).Inc()
}

func RecordEmail(emailType, status string) {
	EmailsSentTotal.WithLabelValues(emailType, status).Inc()
}
