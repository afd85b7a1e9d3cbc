package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Warden metrics collectors
var (
	// RCON sessions

	RconCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_rcon_commands_total",
			Help: "Total number of RCON round trips",
		},
		[]string{"server", "status"},
	)

	RconCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_rcon_command_duration_seconds",
			Help:    "RCON round trip latency in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"server"},
	)

	RconReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_rcon_reconnect_attempts_total",
			Help: "Total number of RCON reconnect attempts",
		},
		[]string{"server", "status"},
	)

	RconSessionsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_rcon_sessions_online",
			Help: "Number of authenticated RCON sessions",
		},
	)

	// Command pipeline

	CommandsExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_commands_executed_total",
			Help: "Total number of admin commands by outcome",
		},
		[]string{"command", "source", "outcome"},
	)

	AuthzDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_authz_denials_total",
			Help: "Total number of denied commands by reason",
		},
		[]string{"reason"},
	)

	BreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_breaker_trips_total",
			Help: "Total number of emergency shutdowns triggered",
		},
		[]string{"command", "scope"},
	)

	DisabledCommands = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_disabled_commands",
			Help: "Number of commands currently disabled",
		},
	)

	// Log stream

	LogLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_log_lines_total",
			Help: "Total number of game log lines processed",
		},
		[]string{"server", "kind"},
	)

	LogRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_log_rotations_total",
			Help: "Total number of detected log rotations",
		},
		[]string{"server"},
	)

	PlayersOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_players_online",
			Help: "Players currently connected",
		},
		[]string{"server"},
	)

	ServerTasksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_server_tasks_dropped_total",
			Help: "Total number of chat commands and ban checks dropped because a server's queue was full",
		},
		[]string{"server"},
	)

	TempBanKicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_tempban_kicks_total",
			Help: "Total number of temp-banned players removed on join",
		},
		[]string{"server"},
	)

	// Fan-out

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"event"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_websocket_clients",
			Help: "Connected WebSocket viewers",
		},
	)

	WebSocketDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_websocket_drops_total",
			Help: "Total number of WebSocket clients dropped",
		},
		[]string{"reason"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"status"},
	)

	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_audit_write_failures_total",
			Help: "Total number of audit records that could not be persisted",
		},
	)
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Snapshot flattens the warden_ metric families into name{labels} -> value.
// Histograms report their sample count and sum.
func Snapshot() (map[string]float64, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, "warden_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := name + labelString(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[key] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[key] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
				out[key+"_sum"] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return out, nil
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
