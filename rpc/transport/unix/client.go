package unix

import (
	"context"
	"net"

	"github.com/ValentinKolb/msgpackrpc/rpc/transport"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct {
	dialer net.Dialer
}

// NewClientConnector creates a Unix domain socket connector
func NewClientConnector() base.IClientConnector {
	return &clientConnector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (transport.IConnection, error) {
	conn, err := c.dialer.DialContext(ctx, "unix", endpoint)
	if err != nil {
		return nil, err
	}
	return base.WrapConn(conn), nil
}
