package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "billing"

// Metrics holds the billing pipeline's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	messagesProcessed *prometheus.CounterVec
	debits            *prometheus.CounterVec
	creditsCharged    prometheus.Counter
	topups            prometheus.Counter
	alerts            *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_processed_total",
				Help:      "Messages run through the billing processor, by outcome",
			},
			[]string{"outcome"},
		),
		debits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "debits_total",
				Help:      "Wallet debit attempts, by result",
			},
			[]string{"result"},
		),
		creditsCharged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_charged_total",
				Help:      "Credits debited from wallets",
			},
		),
		topups: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_credits_total",
				Help:      "Manual wallet top-ups",
			},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_emitted_total",
				Help:      "Balance alerts emitted, by type",
			},
			[]string{"type"},
		),
		reconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Batch reconciliation runs, by status",
			},
			[]string{"status"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of batch reconciliation runs",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(
		m.messagesProcessed,
		m.debits,
		m.creditsCharged,
		m.topups,
		m.alerts,
		m.reconcileRuns,
		m.reconcileDuration,
	)

	return m
}

func (m *Metrics) MessageProcessed(outcome string) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Debit(result string, credits int64) {
	if m == nil {
		return
	}
	m.debits.WithLabelValues(result).Inc()
	if result == "success" && credits > 0 {
		m.creditsCharged.Add(float64(credits))
	}
}

func (m *Metrics) Topup() {
	if m == nil {
		return
	}
	m.topups.Inc()
}

func (m *Metrics) Alert(alertType string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType).Inc()
}

func (m *Metrics) ReconcileRun(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(status).Inc()
	m.reconcileDuration.Observe(elapsed.Seconds())
}
