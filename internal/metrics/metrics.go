package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Payment confirmation metrics
	// ============================================
	ConfirmationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_confirmation_checks_total",
			Help: "Total number of payment confirmation checks run",
		},
		[]string{"chain", "network"},
	)

	PaymentsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_payments_completed_total",
			Help: "Total number of payment intents confirmed as completed",
		},
		[]string{"chain", "network"},
	)

	ConfirmationCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_confirmation_check_duration_seconds",
			Help:    "Payment confirmation check duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// ============================================
	// Split execution metrics
	// ============================================
	SplitExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_split_executions_total",
			Help: "Total number of split executions by final status",
		},
		[]string{"chain", "status"},
	)

	SplitTransfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_split_transfers_total",
			Help: "Total number of per-recipient transfers by outcome",
		},
		[]string{"chain", "outcome"},
	)

	// ============================================
	// Payment monitor metrics
	// ============================================
	ActiveMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_payment_monitors_active",
		Help: "Number of payment intents currently being monitored",
	})

	// ============================================
	// Explorer / RPC client metrics
	// ============================================
	ExplorerRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_explorer_request_errors_total",
			Help: "Total number of failed explorer/RPC requests (soft failures)",
		},
		[]string{"chain", "strategy"},
	)

	// ============================================
	// NATS notification metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_notifications_published_total",
			Help: "Total number of user notifications published",
		},
		[]string{"type"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_notifications_failed_total",
			Help: "Total number of user notifications that failed to publish",
		},
		[]string{"type"},
	)
)
