package util

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/inproc"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/tcp"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of environment variables, e.g. MPRPC_ENDPOINT
	EnvPrefix = "mprpc"

	// CloseTimeout bounds the graceful close of a command's client
	CloseTimeout = 5 * time.Second
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and configures viper to read MPRPC_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of a call, 0 waits forever"))

	key = "connect-timeout"
	cmd.PersistentFlags().Int(key, 5, WrapString("The timeout in seconds of establishing a connection"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "localhost:18800", WrapString("The address of the server. Multiple endpoints can be specified as a comma-separated list and are used round-robin"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint"))

	key = "max-concurrent-requests"
	cmd.PersistentFlags().Int(key, common.DefaultMaximumConcurrentRequest, WrapString("Maximum number of requests being encoded at the same time"))

	key = "receive-buffer"
	cmd.PersistentFlags().Int(key, common.DefaultReceiveBufferSize/1024, WrapString("The size of a receive chunk (in KB)"))

	key = "debug"
	cmd.PersistentFlags().Bool(key, false, WrapString("Enable debug mode (invariant violations panic)"))

	key = "dump-corrupt"
	cmd.PersistentFlags().Bool(key, false, WrapString("Write the bytes of rejected responses to the dump directory"))

	key = "dump-dir"
	cmd.PersistentFlags().String(key, "", WrapString("Directory for dumps of rejected messages (default: temp dir)"))

	setupSocketFlags(cmd)
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := common.DefaultClientConfig()
	conf.Transport = viper.GetString("transport")
	conf.Endpoints = strings.Split(viper.GetString("endpoints"), ",")
	conf.ConnectionsPerEndpoint = viper.GetInt("conn-per-endpoint")
	conf.TimeoutSecond = viper.GetInt("timeout")
	conf.ConnectTimeoutSecond = viper.GetInt("connect-timeout")
	conf.MaximumConcurrentRequest = viper.GetInt("max-concurrent-requests")
	conf.ReceiveBufferSize = viper.GetInt("receive-buffer") * 1024
	conf.IsDebugMode = viper.GetBool("debug")
	conf.Dump = common.DumpConf{Enabled: viper.GetBool("dump-corrupt"), Directory: viper.GetString("dump-dir")}
	conf.SocketConf, conf.TCPConf = getSocketConfig()
	conf.LogLevel = viper.GetString("log-level")
	return &conf
}

// --------------------------------------------------------------------------
// Server configuration
// --------------------------------------------------------------------------

// SetupRPCServerFlags adds the server flags to a command
func SetupRPCServerFlags(cmd *cobra.Command) {
	defaults := common.DefaultServerConfig()

	key := "endpoint"
	cmd.PersistentFlags().String(key, defaults.Endpoint, WrapString("The address on which the server will listen (e.g. 0.0.0.0:18800, /tmp/mprpc.sock, any name for inproc)"))

	key = "max-connections"
	cmd.PersistentFlags().Int(key, defaults.MaximumConnection, WrapString("Maximum number of connections, surplus connections are refused"))

	key = "min-concurrent-requests"
	cmd.PersistentFlags().Int(key, defaults.MinimumConcurrentRequest, WrapString("Number of request contexts reserved at startup"))

	key = "max-concurrent-requests"
	cmd.PersistentFlags().Int(key, defaults.MaximumConcurrentRequest, WrapString("Maximum number of responses being serialized at the same time"))

	key = "workers-per-connection"
	cmd.PersistentFlags().Int(key, defaults.MaxWorkersPerConnection, WrapString("Maximum number of concurrent invocations per connection"))

	key = "receive-buffer"
	cmd.PersistentFlags().Int(key, defaults.ReceiveBufferSize/1024, WrapString("The size of a receive chunk (in KB)"))

	key = "execution-timeout"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Timeout of a single invocation in seconds, 0 disables the timeout"))

	key = "rate-limit"
	cmd.PersistentFlags().Float64(key, 0, WrapString("Maximum dispatched requests per second, 0 disables throttling"))

	key = "rate-burst"
	cmd.PersistentFlags().Int(key, 100, WrapString("Burst size of the rate limit"))

	key = "debug"
	cmd.PersistentFlags().Bool(key, false, WrapString("Enable debug mode (debug information in error responses, invariant violations panic)"))

	key = "dump-corrupt"
	cmd.PersistentFlags().Bool(key, false, WrapString("Write the bytes of rejected requests to the dump directory"))

	key = "dump-dir"
	cmd.PersistentFlags().String(key, "", WrapString("Directory for dumps of rejected messages (default: temp dir)"))

	key = "metrics-endpoint"
	cmd.PersistentFlags().String(key, "", WrapString("Address of an HTTP endpoint serving /metrics in the Prometheus format (e.g. :9100), empty disables it"))

	setupSocketFlags(cmd)
}

// GetServerConfig reads server configuration from viper
func GetServerConfig() *common.ServerConfig {
	conf := common.DefaultServerConfig()
	conf.Transport = viper.GetString("transport")
	conf.Endpoint = viper.GetString("endpoint")
	conf.MaximumConnection = viper.GetInt("max-connections")
	conf.MinimumConcurrentRequest = viper.GetInt("min-concurrent-requests")
	conf.MaximumConcurrentRequest = viper.GetInt("max-concurrent-requests")
	conf.MaxWorkersPerConnection = viper.GetInt("workers-per-connection")
	conf.ReceiveBufferSize = viper.GetInt("receive-buffer") * 1024
	conf.ExecutionTimeoutSecond = viper.GetInt64("execution-timeout")
	conf.RateLimit = viper.GetFloat64("rate-limit")
	conf.RateBurst = viper.GetInt("rate-burst")
	conf.IsDebugMode = viper.GetBool("debug")
	conf.Dump = common.DumpConf{Enabled: viper.GetBool("dump-corrupt"), Directory: viper.GetString("dump-dir")}
	conf.MetricsEndpoint = viper.GetString("metrics-endpoint")
	conf.SocketConf, conf.TCPConf = getSocketConfig()
	conf.LogLevel = viper.GetString("log-level")
	return &conf
}

// --------------------------------------------------------------------------
// Factories
// --------------------------------------------------------------------------

// GetSerializer creates the serializer named by the serializer flag
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetClientConnector creates the client connector named by config.Transport
func GetClientConnector(config *common.ClientConfig) (base.IClientConnector, error) {
	switch config.Transport {
	case "tcp":
		return tcp.NewClientConnector(*config), nil
	case "unix":
		return unix.NewClientConnector(), nil
	case "inproc":
		return inproc.NewClientConnector(inproc.Options{}), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of: tcp, unix, inproc)", config.Transport)
	}
}

// GetServerConnector creates the server connector named by config.Transport
func GetServerConnector(config *common.ServerConfig) (base.IServerConnector, error) {
	switch config.Transport {
	case "tcp":
		return tcp.NewServerConnector(), nil
	case "unix":
		return unix.NewServerConnector(), nil
	case "inproc":
		return inproc.NewServerConnector(inproc.Options{}), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of: tcp, unix, inproc)", config.Transport)
	}
}

// InitLogging directs log output to stderr and applies the log-level flag
func InitLogging() {
	common.SetLogOutput(os.Stderr)
	common.InitLoggers(viper.GetString("log-level"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func setupSocketFlags(cmd *cobra.Command) {
	key := "write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket write buffer (in KB, 0 keeps the OS default)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket read buffer (in KB, 0 keeps the OS default)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, only for tcp, -1 keeps the OS default)"))
}

func getSocketConfig() (common.SocketConf, common.TCPConf) {
	return common.SocketConf{
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		}, common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		}
}
