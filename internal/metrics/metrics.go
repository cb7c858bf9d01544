package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Ledger
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Transactions recorded, by type and resulting status",
		},
		[]string{"type", "status"}, // deposit|funding|transfer|reversal ...
	)
	TransactionsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_transactions_failed_total",
			Help: "Operations rejected with a failed decision",
		},
	)
	PostingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_postings_total",
			Help: "Ledger postings written, by role",
		},
		[]string{"role"},
	)
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_gate_decisions_total",
			Help: "Transaction gate decisions",
		},
		[]string{"operation", "status"},
	)
	ReconcileDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_reconcile_drifted_accounts",
			Help: "Accounts whose cached balance drifted in the last reconcile pass",
		},
	)
	OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_outbox_published_total",
			Help: "Outbox relay publish attempts",
		},
		[]string{"result"},
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(HTTPLatency)
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(TransactionsFailed)
	prometheus.MustRegister(PostingsTotal)
	prometheus.MustRegister(GateDecisions)
	prometheus.MustRegister(ReconcileDrift)
	prometheus.MustRegister(OutboxPublished)
	prometheus.MustRegister(WorkerQueueDepth)
}
