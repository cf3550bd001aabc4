package common

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Process wide counters exposed in the Prometheus text format, see WriteMetrics.
var (
	ClientRequestsSent    = metrics.NewCounter(`mprpc_client_requests_total`)
	ClientNotifications   = metrics.NewCounter(`mprpc_client_notifications_total`)
	ClientResponses       = metrics.NewCounter(`mprpc_client_responses_total`)
	ClientOrphanResponses = metrics.NewCounter(`mprpc_client_orphan_responses_total`)
	ClientTimeouts        = metrics.NewCounter(`mprpc_client_timeouts_total`)

	ServerRequests      = metrics.NewCounter(`mprpc_server_requests_total`)
	ServerNotifications = metrics.NewCounter(`mprpc_server_notifications_total`)
	ServerErrors        = metrics.NewCounter(`mprpc_server_error_responses_total`)
	ServerRefusedConns  = metrics.NewCounter(`mprpc_server_refused_connections_total`)
	ServerThrottled     = metrics.NewCounter(`mprpc_server_throttled_requests_total`)
	ServerDispatchTime  = metrics.NewHistogram(`mprpc_server_dispatch_duration_seconds`)

	TransportErrors = metrics.NewCounter(`mprpc_transport_errors_total`)
)

// ProtocolErrors returns the counter of rejected messages for one side ("client" or "server")
func ProtocolErrors(side string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`mprpc_protocol_errors_total{side=%q}`, side))
}

// BytesReceived returns the counter of received bytes for one side
func BytesReceived(side string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`mprpc_received_bytes_total{side=%q}`, side))
}

// BytesSent returns the counter of sent bytes for one side
func BytesSent(side string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`mprpc_sent_bytes_total{side=%q}`, side))
}

// WriteMetrics writes all metrics in the Prometheus text format
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
