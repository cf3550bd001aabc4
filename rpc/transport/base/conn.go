package base

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(ctx context.Context, endpoint string) (transport.IConnection, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener bound to config.Endpoint
	Listen(config common.ServerConfig) (transport.IListener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// net.Conn adapter
// -----------------------------------------------------------

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

// netConnection adapts a net.Conn to transport.IConnection
type netConnection struct {
	conn      net.Conn
	remote    string
	closeOnce sync.Once
	closeErr  error
}

// WrapConn adapts a net.Conn (TCP, Unix) to transport.IConnection
func WrapConn(conn net.Conn) transport.IConnection {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	if remote == "" || remote == "@" {
		if addr := conn.LocalAddr(); addr != nil {
			remote = addr.String()
		}
	}
	return &netConnection{conn: conn, remote: remote}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *netConnection) Send(bufs net.Buffers) (int64, error) {
	return bufs.WriteTo(c.conn)
}

func (c *netConnection) Receive(p []byte) (int, error) {
	return c.conn.Read(p)
}

func (c *netConnection) Shutdown(d transport.Direction) error {
	var errs []error
	if d == transport.ShutdownReceive || d == transport.ShutdownBoth {
		if cr, ok := c.conn.(closeReader); ok {
			errs = append(errs, cr.CloseRead())
		} else {
			// wakes up a blocked Read with a deadline error
			errs = append(errs, c.conn.SetReadDeadline(time.Now()))
		}
	}
	if d == transport.ShutdownSend || d == transport.ShutdownBoth {
		if cw, ok := c.conn.(closeWriter); ok {
			errs = append(errs, cw.CloseWrite())
		}
	}
	return errors.Join(errs...)
}

func (c *netConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *netConnection) RemoteAddr() string {
	return c.remote
}

// -----------------------------------------------------------
// net.Listener adapter
// -----------------------------------------------------------

// netListener adapts a net.Listener and applies upgrade to every accepted connection
type netListener struct {
	listener net.Listener
	upgrade  func(net.Conn) error
}

// WrapListener adapts a net.Listener to transport.IListener. upgrade (optional) applies
// socket options to accepted connections.
func WrapListener(l net.Listener, upgrade func(net.Conn) error) transport.IListener {
	return &netListener{listener: l, upgrade: upgrade}
}

func (l *netListener) Accept() (transport.IConnection, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	if l.upgrade != nil {
		if err := l.upgrade(conn); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}
	}
	return WrapConn(conn), nil
}

func (l *netListener) Close() error {
	return l.listener.Close()
}

func (l *netListener) Addr() string {
	return l.listener.Addr().String()
}
