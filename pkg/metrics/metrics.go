package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	SandboxesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_sandboxes_total",
			Help: "Total number of sandboxes by status",
		},
		[]string{"status"},
	)

	EnvironmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_environments_total",
			Help: "Total number of environments",
		},
	)

	// Lifecycle metrics
	ProvisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_provisions_total",
			Help: "Total number of sandbox provisioning runs by outcome",
		},
		[]string{"outcome"},
	)

	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_provision_duration_seconds",
			Help:    "Time from sandbox creation to healthy in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	SandboxesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_sandboxes_expired_total",
			Help: "Total number of sandboxes expired by the TTL sweeper",
		},
	)

	SyncCorrections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_sync_corrections_total",
			Help: "Total number of state corrections applied by the sync loop",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Streaming metrics
	WebsocketSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_websocket_sessions",
			Help: "Open WebSocket sessions by kind (logs, terminal)",
		},
		[]string{"kind"},
	)

	LogLinesCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_log_lines_collected_total",
			Help: "Total number of log lines persisted by collectors",
		},
	)

	// Audit metrics
	AuditEntriesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_audit_entries_dropped_total",
			Help: "Total number of audit entries dropped due to a full buffer",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SandboxesTotal)
	prometheus.MustRegister(EnvironmentsTotal)
	prometheus.MustRegister(ProvisionsTotal)
	prometheus.MustRegister(ProvisionDuration)
	prometheus.MustRegister(SandboxesExpired)
	prometheus.MustRegister(SyncCorrections)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(WebsocketSessions)
	prometheus.MustRegister(LogLinesCollected)
	prometheus.MustRegister(AuditEntriesDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
