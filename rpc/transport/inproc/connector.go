package inproc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
	"github.com/puzpuzpuz/xsync/v3"
)

// Options configures one side of the in-process transport
type Options struct {
	// ChunkSize limits the number of bytes a single Receive returns, zero means unlimited.
	// Small values split messages across many reads.
	ChunkSize int
}

var (
	listeners = xsync.NewMapOf[string, *listener]()
	clientIDs atomic.Int64
)

// -----------------------------------------------------------
// Listener
// -----------------------------------------------------------

type listener struct {
	name      string
	options   Options
	accept    chan transport.IConnection
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *listener) Accept() (transport.IConnection, error) {
	select {
	case conn := <-l.accept:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		listeners.Compute(l.name, func(current *listener, loaded bool) (*listener, bool) {
			// a newer listener may already own the name
			return current, !loaded || current == l
		})
	})
	return nil
}

func (l *listener) Addr() string {
	return l.name
}

// -----------------------------------------------------------
// Connectors
// -----------------------------------------------------------

type clientConnector struct {
	options Options
}

// NewClientConnector creates a connector for listeners registered in this process
func NewClientConnector(options Options) base.IClientConnector {
	return &clientConnector{options: options}
}

func (c *clientConnector) GetName() string {
	return "inproc"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (transport.IConnection, error) {
	l, ok := listeners.Load(endpoint)
	if !ok {
		return nil, fmt.Errorf("inproc: no listener for %q: %w", endpoint, net.ErrClosed)
	}

	client, server := newPair(endpoint, fmt.Sprintf("inproc-client-%d", clientIDs.Add(1)),
		c.options.ChunkSize, l.options.ChunkSize)

	select {
	case l.accept <- server:
		return client, nil
	case <-l.closed:
		return nil, fmt.Errorf("inproc: listener %q closed: %w", endpoint, net.ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type serverConnector struct {
	options Options
}

// NewServerConnector creates a listener factory registering config.Endpoint in this process
func NewServerConnector(options Options) base.IServerConnector {
	return &serverConnector{options: options}
}

func (c *serverConnector) GetName() string {
	return "inproc"
}

func (c *serverConnector) Listen(config common.ServerConfig) (transport.IListener, error) {
	l := &listener{
		name:    config.Endpoint,
		options: c.options,
		accept:  make(chan transport.IConnection),
		closed:  make(chan struct{}),
	}
	if _, loaded := listeners.LoadOrStore(config.Endpoint, l); loaded {
		return nil, fmt.Errorf("inproc: endpoint %q already in use", config.Endpoint)
	}
	return l, nil
}
