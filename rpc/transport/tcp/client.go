package tcp

import (
	"context"
	"net"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct {
	socket common.SocketConf
	tcp    common.TCPConf
	dialer net.Dialer
}

// NewClientConnector creates a TCP connector applying the socket options of config
func NewClientConnector(config common.ClientConfig) base.IClientConnector {
	c := &clientConnector{socket: config.SocketConf, tcp: config.TCPConf}
	if config.TCPConf.TCPKeepAliveSec > 0 {
		c.dialer.KeepAlive = time.Duration(config.TCPConf.TCPKeepAliveSec) * time.Second
	}
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (transport.IConnection, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	if err := upgradeConnection(conn, c.socket, c.tcp); err != nil {
		base.Logger.Warningf("Failed to apply socket options to %s: %v", endpoint, err)
	}
	return base.WrapConn(conn), nil
}
