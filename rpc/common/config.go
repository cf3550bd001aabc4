package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/pool"
)

const (
	DefaultReceiveBufferSize        = 64 * 1024
	DefaultMaximumConcurrentRequest = 1024
	DefaultMinimumConcurrentRequest = 2
	DefaultMaximumConnection        = 128
	DefaultMaxWorkersPerConnection  = 64
)

// --------------------------------------------------------------------------
// Socket settings shared by client and server
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	// TCPLingerSec is applied when >= 0
	TCPLingerSec int
}

// DumpConf configures how rejected messages are written to disk
type DumpConf struct {
	Enabled   bool
	Directory string
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of an RPC server
type ServerConfig struct {
	// Transport is one of tcp, unix, inproc
	Transport string
	Endpoint  string

	MinimumConnection        int
	MaximumConnection        int
	MinimumConcurrentRequest int
	MaximumConcurrentRequest int
	MaxWorkersPerConnection  int
	ReceiveBufferSize        int

	// ExecutionTimeoutSecond bounds a single invocation, zero disables the bound
	ExecutionTimeoutSecond int64

	// RateLimit is the number of dispatched requests per second, zero disables throttling
	RateLimit float64
	RateBurst int

	IsDebugMode bool
	Dump        DumpConf

	SocketConf SocketConf
	TCPConf    TCPConf

	LogLevel        string
	MetricsEndpoint string
}

// DefaultServerConfig returns a configuration with the default pool sizes
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Transport:                "tcp",
		Endpoint:                 "0.0.0.0:18800",
		MinimumConnection:        1,
		MaximumConnection:        DefaultMaximumConnection,
		MinimumConcurrentRequest: DefaultMinimumConcurrentRequest,
		MaximumConcurrentRequest: DefaultMaximumConcurrentRequest,
		MaxWorkersPerConnection:  DefaultMaxWorkersPerConnection,
		ReceiveBufferSize:        DefaultReceiveBufferSize,
		TCPConf:                  TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		LogLevel:                 "info",
	}
}

// ExecutionTimeout returns the invocation timeout
func (c *ServerConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutSecond) * time.Second
}

// TransportPoolConfig derives the pool of server transports. Surplus connections are refused.
func (c *ServerConfig) TransportPoolConfig() pool.Config {
	return pool.Config{
		Name:             "server-transports",
		MinimumReserved:  clamp(c.MinimumConnection, 0, atLeastOne(c.MaximumConnection)),
		MaximumPooled:    atLeastOne(c.MaximumConnection),
		ExhaustionPolicy: pool.Fail,
	}
}

// RequestContextPoolConfig derives the pool of inbound request contexts. A connection
// holds its request context while it is open, so the pool is sized like the transports.
func (c *ServerConfig) RequestContextPoolConfig() pool.Config {
	transports := c.TransportPoolConfig()
	transports.Name = "server-request-contexts"
	return transports
}

// ResponseContextPoolConfig derives the pool of outbound response contexts
func (c *ServerConfig) ResponseContextPoolConfig() pool.Config {
	return concurrentRequestPool("server-response-contexts", c.MinimumConcurrentRequest, c.MaximumConcurrentRequest)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Transport", c.Transport)
	addField("Endpoint", c.Endpoint)
	addField("Execution Timeout", fmt.Sprintf("%d sec", c.ExecutionTimeoutSecond))
	addField("Debug Mode", strconv.FormatBool(c.IsDebugMode))

	addSection("Limits")
	addField("Connections", fmt.Sprintf("%d - %d", c.MinimumConnection, c.MaximumConnection))
	addField("Concurrent Requests", fmt.Sprintf("%d - %d", c.MinimumConcurrentRequest, c.MaximumConcurrentRequest))
	addField("Workers Per Connection", strconv.Itoa(c.MaxWorkersPerConnection))
	addField("Receive Buffer", fmt.Sprintf("%d KB", c.ReceiveBufferSize/1024))
	if c.RateLimit > 0 {
		addField("Rate Limit", fmt.Sprintf("%.1f req/s (burst %d)", c.RateLimit, c.RateBurst))
	} else {
		addField("Rate Limit", "disabled")
	}

	addSection("Diagnostics")
	addField("Dump Corrupt Request", strconv.FormatBool(c.Dump.Enabled))
	if c.Dump.Enabled {
		addField("Dump Directory", c.Dump.Directory)
	}
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of an RPC client
type ClientConfig struct {
	// Transport is one of tcp, unix, inproc
	Transport              string
	Endpoints              []string
	ConnectionsPerEndpoint int

	// TimeoutSecond is the default wait timeout of a call, zero waits for the caller's context
	TimeoutSecond        int
	ConnectTimeoutSecond int

	MinimumConcurrentRequest int
	MaximumConcurrentRequest int
	ReceiveBufferSize        int

	IsDebugMode bool
	Dump        DumpConf

	SocketConf SocketConf
	TCPConf    TCPConf

	LogLevel string
}

// DefaultClientConfig returns a configuration with the default pool sizes
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport:                "tcp",
		Endpoints:                []string{"localhost:18800"},
		ConnectionsPerEndpoint:   1,
		TimeoutSecond:            10,
		ConnectTimeoutSecond:     5,
		MinimumConcurrentRequest: DefaultMinimumConcurrentRequest,
		MaximumConcurrentRequest: DefaultMaximumConcurrentRequest,
		ReceiveBufferSize:        DefaultReceiveBufferSize,
		TCPConf:                  TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		LogLevel:                 "info",
	}
}

// Timeout returns the default call timeout
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ConnectTimeout returns the timeout of a single connection attempt
func (c *ClientConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecond) * time.Second
}

// TransportPoolConfig derives the pool of client transports
func (c *ClientConfig) TransportPoolConfig() pool.Config {
	max := atLeastOne(len(c.Endpoints) * atLeastOne(c.ConnectionsPerEndpoint))
	return pool.Config{
		Name:             "client-transports",
		MaximumPooled:    max,
		ExhaustionPolicy: pool.BlockUntilAvailable,
	}
}

// RequestContextPoolConfig derives the pool of outbound request contexts
func (c *ClientConfig) RequestContextPoolConfig() pool.Config {
	return concurrentRequestPool("client-request-contexts", c.MinimumConcurrentRequest, c.MaximumConcurrentRequest)
}

// ResponseContextPoolConfig derives the pool of inbound response contexts (one per connection)
func (c *ClientConfig) ResponseContextPoolConfig() pool.Config {
	return pool.Config{
		Name:             "client-response-contexts",
		MaximumPooled:    c.TransportPoolConfig().MaximumPooled,
		ExhaustionPolicy: pool.BlockUntilAvailable,
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Transport", c.Transport)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Connect Timeout", fmt.Sprintf("%d sec", c.ConnectTimeoutSecond))
	addField("Connections Per Endpoint", strconv.Itoa(atLeastOne(c.ConnectionsPerEndpoint)))
	addField("Concurrent Requests", fmt.Sprintf("%d - %d", c.MinimumConcurrentRequest, c.MaximumConcurrentRequest))
	addField("Debug Mode", strconv.FormatBool(c.IsDebugMode))

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func concurrentRequestPool(name string, min, max int) pool.Config {
	max = atLeastOne(max)
	return pool.Config{
		Name:             name,
		MinimumReserved:  clamp(min, 0, max),
		MaximumPooled:    max,
		ExhaustionPolicy: pool.BlockUntilAvailable,
	}
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
