package unix

import (
	"fmt"
	"net"
	"os"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
)

// serverConnector implements the IServerConnector interface for Unix sockets
type serverConnector struct{}

// NewServerConnector creates a Unix domain socket listener factory
func NewServerConnector() base.IServerConnector {
	return &serverConnector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "unix"
}

func (c *serverConnector) Listen(config common.ServerConfig) (transport.IListener, error) {
	socketPath := config.Endpoint

	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}

	return base.WrapListener(listener, func(conn net.Conn) error {
		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			return nil
		}
		if config.SocketConf.WriteBufferSize > 0 {
			if err := unixConn.SetWriteBuffer(config.SocketConf.WriteBufferSize); err != nil {
				return err
			}
		}
		if config.SocketConf.ReadBufferSize > 0 {
			return unixConn.SetReadBuffer(config.SocketConf.ReadBufferSize)
		}
		return nil
	}), nil
}
