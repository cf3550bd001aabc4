package base

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/rcrowley/go-metrics"
)

// Statistics is a snapshot of the counters of one transport manager
type Statistics struct {
	Side string

	ActiveTransports   int64
	Connections        int64
	RefusedConnections int64

	// Messages counts requests and notifications (sent by a client, received by a server)
	Messages     int64
	MessageRate1 float64
	Responses    int64
	Orphans      int64

	ProtocolErrors  int64
	TransportErrors int64

	BytesSent     int64
	BytesReceived int64

	// LatencyMean and LatencyP99 cover round trips (client) or handler executions (server)
	LatencyMean time.Duration
	LatencyP99  time.Duration
}

// String returns a formatted string representation of the statistics
func (s Statistics) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection(s.Side + " transports")
	addField("Active", fmt.Sprintf("%d", s.ActiveTransports))
	addField("Connections", fmt.Sprintf("%d (%d refused)", s.Connections, s.RefusedConnections))

	addSection("Messages")
	addField("Messages", fmt.Sprintf("%d (%.1f/s)", s.Messages, s.MessageRate1))
	addField("Responses", fmt.Sprintf("%d", s.Responses))
	addField("Orphans", fmt.Sprintf("%d", s.Orphans))
	addField("Latency", fmt.Sprintf("mean %s, p99 %s", s.LatencyMean, s.LatencyP99))

	addSection("Errors")
	addField("Protocol", fmt.Sprintf("%d", s.ProtocolErrors))
	addField("Transport", fmt.Sprintf("%d", s.TransportErrors))

	addSection("Traffic")
	addField("Sent", fmt.Sprintf("%d bytes", s.BytesSent))
	addField("Received", fmt.Sprintf("%d bytes", s.BytesReceived))

	return sb.String()
}

// managerStats keeps the per-manager registry and mirrors every update into the
// process wide counters of the common package
type managerStats struct {
	side     string
	registry metrics.Registry

	active          metrics.Counter
	connections     metrics.Counter
	refused         metrics.Counter
	messages        metrics.Meter
	responses       metrics.Counter
	orphans         metrics.Counter
	protocolErrors  metrics.Counter
	transportErrors metrics.Counter
	bytesSent       metrics.Counter
	bytesReceived   metrics.Counter
	latency         metrics.Timer
}

func newManagerStats(side string) *managerStats {
	r := metrics.NewRegistry()
	return &managerStats{
		side:            side,
		registry:        r,
		active:          metrics.NewRegisteredCounter("transports.active", r),
		connections:     metrics.NewRegisteredCounter("transports.connections", r),
		refused:         metrics.NewRegisteredCounter("transports.refused", r),
		messages:        metrics.NewRegisteredMeter("messages", r),
		responses:       metrics.NewRegisteredCounter("responses", r),
		orphans:         metrics.NewRegisteredCounter("responses.orphan", r),
		protocolErrors:  metrics.NewRegisteredCounter("errors.protocol", r),
		transportErrors: metrics.NewRegisteredCounter("errors.transport", r),
		bytesSent:       metrics.NewRegisteredCounter("bytes.sent", r),
		bytesReceived:   metrics.NewRegisteredCounter("bytes.received", r),
		latency:         metrics.NewRegisteredTimer("latency", r),
	}
}

func (s *managerStats) sent(n int64) {
	if n > 0 {
		s.bytesSent.Inc(n)
		common.BytesSent(s.side).Add(int(n))
	}
}

func (s *managerStats) received(n int) {
	if n > 0 {
		s.bytesReceived.Inc(int64(n))
		common.BytesReceived(s.side).Add(n)
	}
}

func (s *managerStats) protocolError() {
	s.protocolErrors.Inc(1)
	common.ProtocolErrors(s.side).Inc()
}

func (s *managerStats) transportError() {
	s.transportErrors.Inc(1)
	common.TransportErrors.Inc()
}

func (s *managerStats) snapshot() Statistics {
	return Statistics{
		Side:               s.side,
		ActiveTransports:   s.active.Count(),
		Connections:        s.connections.Count(),
		RefusedConnections: s.refused.Count(),
		Messages:           s.messages.Count(),
		MessageRate1:       s.messages.Rate1(),
		Responses:          s.responses.Count(),
		Orphans:            s.orphans.Count(),
		ProtocolErrors:     s.protocolErrors.Count(),
		TransportErrors:    s.transportErrors.Count(),
		BytesSent:          s.bytesSent.Count(),
		BytesReceived:      s.bytesReceived.Count(),
		LatencyMean:        time.Duration(s.latency.Mean()),
		LatencyP99:         time.Duration(s.latency.Percentile(0.99)),
	}
}

// stop releases the meters of the registry
func (s *managerStats) stop() {
	s.registry.UnregisterAll()
}
