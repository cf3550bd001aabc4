package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/msgpackrpc/rpc/protocol"
)

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Direction selects the half of a connection affected by Shutdown
type Direction int

const (
	// ShutdownReceive stops receiving, pending and future Receive calls return io.EOF
	ShutdownReceive Direction = iota
	// ShutdownSend signals the end of the outbound stream to the peer
	ShutdownSend
	// ShutdownBoth shuts down both directions
	ShutdownBoth
)

func (d Direction) String() string {
	switch d {
	case ShutdownReceive:
		return "receive"
	case ShutdownSend:
		return "send"
	case ShutdownBoth:
		return "both"
	default:
		return "unknown"
	}
}

// IConnection is the capability set the transport managers need from a stream socket
type IConnection interface {
	// Send writes every buffer, it returns the number of bytes written
	Send(bufs net.Buffers) (int64, error)
	// Receive reads into p. io.EOF (or 0 bytes without an error) reports an orderly close.
	Receive(p []byte) (int, error)
	// Shutdown closes one direction of the connection
	Shutdown(d Direction) error
	// Close releases the connection
	Close() error
	// RemoteAddr returns the address of the peer
	RemoteAddr() string
}

// IListener accepts inbound connections
type IListener interface {
	// Accept blocks until a connection arrives or the listener is closed
	Accept() (IConnection, error)
	// Close stops the listener, blocked Accept calls return an error
	Close() error
	// Addr returns the address the listener is bound to
	Addr() string
}

// --------------------------------------------------------------------------
// Server Handler
// --------------------------------------------------------------------------

// ServerHandleFunc executes one decoded invocation. It is called by the server transport on
// a worker goroutine. The returned error is converted with common.ToRPCError; the result is
// ignored for notifications.
type ServerHandleFunc func(ctx context.Context, inv *protocol.Invocation) (result interface{}, err error)
