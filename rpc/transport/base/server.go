package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/pool"
	"github.com/ValentinKolb/msgpackrpc/rpc/protocol"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// acceptBackoff is the pause after a failed Accept
const acceptBackoff = 10 * time.Millisecond

// -----------------------------------------------------------
// Server Transport Manager
// -----------------------------------------------------------

// ServerTransportManager accepts connections, decodes their requests and runs the
// registered handler on a bounded number of workers per connection
type ServerTransportManager struct {
	connector  IServerConnector
	config     common.ServerConfig
	serializer serializer.IRPCSerializer
	handler    transport.ServerHandleFunc
	handlers   Handlers
	dumper     *protocol.Dumper

	transports       *pool.Pool[serverConn]
	requestContexts  *pool.Pool[protocol.ServerRequestContext]
	responseContexts *pool.Pool[protocol.ServerResponseContext]
	chunks           *chunkPool

	sessions   atomic.Int64
	active     *xsync.MapOf[*serverConn, activeTransport]
	inShutdown atomic.Bool
	conns      sync.WaitGroup

	mu        sync.Mutex
	listener  transport.IListener
	ready     chan struct{}
	readyOnce sync.Once
	stopped   chan struct{}
	stopOnce  sync.Once

	stats *managerStats
}

// NewServerTransportManager creates a manager listening through connector
func NewServerTransportManager(connector IServerConnector, config common.ServerConfig, s serializer.IRPCSerializer, handlers Handlers) (*ServerTransportManager, error) {
	m := &ServerTransportManager{
		connector:  connector,
		config:     config,
		serializer: s,
		handlers:   handlers,
		dumper:     protocol.NewDumper(config.Dump),
		chunks:     newChunkPool(config.ReceiveBufferSize),
		active:     xsync.NewMapOf[*serverConn, activeTransport](),
		ready:      make(chan struct{}),
		stopped:    make(chan struct{}),
		stats:      newManagerStats("server"),
	}

	var err error
	m.transports, err = pool.New(config.TransportPoolConfig(),
		func() *serverConn { return &serverConn{} },
		func(c *serverConn) { *c = serverConn{} },
	)
	if err != nil {
		return nil, err
	}
	m.requestContexts, err = pool.New(config.RequestContextPoolConfig(),
		func() *protocol.ServerRequestContext {
			return protocol.NewServerRequestContext(&m.sessions, config.IsDebugMode)
		},
		(*protocol.ServerRequestContext).Clear,
	)
	if err != nil {
		return nil, err
	}
	m.responseContexts, err = pool.New(config.ResponseContextPoolConfig(),
		func() *protocol.ServerResponseContext {
			return protocol.NewServerResponseContext(&m.sessions, config.IsDebugMode, s)
		},
		(*protocol.ServerResponseContext).Clear,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// RegisterHandler sets the function invoked for every request and notification
func (m *ServerTransportManager) RegisterHandler(handler transport.ServerHandleFunc) {
	m.handler = handler
}

// Listen creates a listener with the connector and serves it until ctx is done or
// Shutdown is called
func (m *ServerTransportManager) Listen(ctx context.Context) error {
	listener, err := m.connector.Listen(m.config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return m.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is done or Shutdown is called
func (m *ServerTransportManager) Serve(ctx context.Context, listener transport.IListener) error {
	if m.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	if m.inShutdown.Load() {
		_ = listener.Close()
		return common.ErrShutdown
	}

	m.mu.Lock()
	m.listener = listener
	m.mu.Unlock()
	m.readyOnce.Do(func() { close(m.ready) })
	common.Trace(m.handlers.Tracer, common.TraceStartListen, "listening on %s", listener.Addr())
	Logger.Infof("Starting %s server on %s with %d workers per connection",
		m.connector.GetName(), listener.Addr(), m.workersPerConnection())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			m.BeginShutdown()
		case <-m.stopped:
		}
		return listener.Close()
	})
	g.Go(func() error {
		return m.acceptLoop(gctx, listener)
	})

	err := g.Wait()
	if m.inShutdown.Load() && (err == nil || errors.Is(err, net.ErrClosed)) {
		return nil
	}
	return err
}

// Ready is closed once the listener accepts connections
func (m *ServerTransportManager) Ready() <-chan struct{} {
	return m.ready
}

// Addr returns the address of the listener, empty before Serve
func (m *ServerTransportManager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr()
}

// BeginShutdown stops accepting connections and stops receiving on every connection.
// Invocations in flight complete and their responses are still sent.
func (m *ServerTransportManager) BeginShutdown() {
	if m.inShutdown.Swap(true) {
		return
	}
	m.stopOnce.Do(func() { close(m.stopped) })

	m.mu.Lock()
	if m.listener != nil {
		_ = m.listener.Close()
	}
	m.mu.Unlock()

	m.active.Range(func(_ *serverConn, at activeTransport) bool {
		if err := at.conn.Shutdown(transport.ShutdownReceive); err != nil {
			Logger.Debugf("Shutdown of receive direction from %s failed: %v", at.conn.RemoteAddr(), err)
		}
		return true
	})
}

// Shutdown begins the shutdown and waits until every connection drained. When ctx is
// done first the remaining connections are closed.
func (m *ServerTransportManager) Shutdown(ctx context.Context) error {
	m.BeginShutdown()

	drained := make(chan struct{})
	go func() {
		m.conns.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		m.active.Range(func(_ *serverConn, at activeTransport) bool {
			at.cancel()
			_ = at.conn.Close()
			return true
		})
		<-drained
		err = ctx.Err()
	}

	m.transports.Close()
	m.requestContexts.Close()
	m.responseContexts.Close()
	m.stats.stop()
	Logger.Infof("Server on %s stopped", m.Addr())
	return err
}

// IsInShutdown reports whether BeginShutdown was called
func (m *ServerTransportManager) IsInShutdown() bool {
	return m.inShutdown.Load()
}

// ReturnTransport returns a finished transport and its request context to the pools.
// A handle can be returned once, later returns fail with pool.ErrNotLeased.
func (m *ServerTransportManager) ReturnTransport(t *ServerTransport) error {
	if t == nil || t.manager != m {
		return common.ErrForeignTransport
	}
	if !t.returned.CompareAndSwap(false, true) {
		return common.Invariant(m.config.IsDebugMode,
			fmt.Errorf("%w: connection from %s was already returned", pool.ErrNotLeased, t.remote))
	}

	c := t.lease.Value()
	if c == nil {
		return common.Invariant(m.config.IsDebugMode,
			fmt.Errorf("%w: connection from %s is stale", pool.ErrNotLeased, t.remote))
	}
	if err := m.requestContexts.Return(c.reqLease); err != nil {
		return common.Invariant(m.config.IsDebugMode, fmt.Errorf("failed to return request context: %w", err))
	}
	if err := m.transports.Return(t.lease); err != nil {
		return common.Invariant(m.config.IsDebugMode, fmt.Errorf("failed to return transport: %w", err))
	}
	return nil
}

// ActiveTransports returns the number of open connections
func (m *ServerTransportManager) ActiveTransports() int {
	return m.active.Size()
}

// Statistics returns a snapshot of the manager counters
func (m *ServerTransportManager) Statistics() Statistics {
	return m.stats.snapshot()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (m *ServerTransportManager) workersPerConnection() int {
	if m.config.MaxWorkersPerConnection < 1 {
		return 1
	}
	return m.config.MaxWorkersPerConnection
}

// acceptLoop accepts connections until the listener is closed
func (m *ServerTransportManager) acceptLoop(ctx context.Context, listener transport.IListener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if m.inShutdown.Load() || ctx.Err() != nil {
				return nil
			}
			te := common.NewTransportError(common.OpAccept, listener.Addr(), err)
			m.transportError(te)
			if errors.Is(err, net.ErrClosed) {
				return te
			}
			time.Sleep(acceptBackoff)
			continue
		}
		common.Trace(m.handlers.Tracer, common.TraceAcceptInboundTcp, "accepted connection from %s", conn.RemoteAddr())

		if m.inShutdown.Load() {
			_ = conn.Close()
			continue
		}
		m.startTransport(ctx, conn)
	}
}

// startTransport binds conn to pooled resources and starts serving it.
// Connections the pools have no room for are refused, the accept loop never waits.
func (m *ServerTransportManager) startTransport(ctx context.Context, conn transport.IConnection) {
	lease, err := m.transports.Borrow(ctx)
	if err != nil {
		m.refuse(conn, err)
		return
	}

	reqLease, err := m.requestContexts.Borrow(ctx)
	if err != nil {
		recycle(m.transports, lease, m.config.IsDebugMode)
		m.refuse(conn, err)
		return
	}

	c := lease.Value()
	c.manager = m
	c.conn = conn
	c.remote = conn.RemoteAddr()
	c.reqLease = reqLease
	c.queue = NewSendQueue[outboundFrame]()
	c.workers = make(chan struct{}, m.workersPerConnection())
	c.ctx, c.cancel = context.WithCancel(context.Background())

	rc := reqLease.Value()
	rc.RenewSessionID()
	if err := rc.Bind(c); err != nil {
		Logger.Errorf("Failed to bind request context: %v", err)
	}
	c.pipeline = protocol.NewRequestPipeline(rc, m.serializer, c.dispatch, protocol.PipelineHandlers{
		OnProtocolError: m.protocolError,
		Recycle:         m.chunks.put,
		Tracer:          m.handlers.Tracer,
	})

	t := &ServerTransport{manager: m, lease: lease, remote: c.remote}

	m.active.Store(c, activeTransport{conn: conn, cancel: c.cancel})
	m.stats.active.Inc(1)
	m.stats.connections.Inc(1)
	common.Trace(m.handlers.Tracer, common.TraceBoundSocket, "session %d bound to %s", rc.SessionID(), c.remote)
	Logger.Debugf("Accepted connection from %s (session %d)", c.remote, rc.SessionID())

	m.conns.Add(1)
	go func() {
		defer m.conns.Done()
		c.serve()
		if err := m.ReturnTransport(t); err != nil {
			Logger.Errorf("Failed to return transport: %v", err)
		}
	}()

	// a shutdown that enumerated the active set before the Store above must still reach c
	if m.inShutdown.Load() {
		c.beginShutdown()
	}
}

// refuse closes a connection the pools have no room for
func (m *ServerTransportManager) refuse(conn transport.IConnection, err error) {
	m.stats.refused.Inc(1)
	common.ServerRefusedConns.Inc()
	Logger.Warningf("Refused connection from %s: %v", conn.RemoteAddr(), err)
	_ = conn.Close()
}

func (m *ServerTransportManager) transportError(te *common.TransportError) {
	m.stats.transportError()
	common.Trace(m.handlers.Tracer, common.TraceSocketError, "%v", te)
	Logger.Errorf("Socket error: %v", te)
	if m.handlers.OnTransportError != nil {
		m.handlers.OnTransportError(te)
	}
}

func (m *ServerTransportManager) protocolError(perr *protocol.ProtocolError) {
	m.stats.protocolError()
	Logger.Warningf("Rejected request: %v", perr)
	if m.dumper.Enabled() {
		if path, err := m.dumper.Dump("request", perr); err != nil {
			Logger.Errorf("Failed to dump rejected request: %v", err)
		} else {
			Logger.Infof("Dumped rejected request to %s", path)
		}
	}
	if m.handlers.OnProtocolError != nil {
		m.handlers.OnProtocolError(perr)
	}
}

// -----------------------------------------------------------
// Server Transport
// -----------------------------------------------------------

// activeTransport is what shutdown needs of a running transport
type activeTransport struct {
	conn   transport.IConnection
	cancel context.CancelFunc
}

// outboundFrame is a serialized response waiting for the writer goroutine
type outboundFrame struct {
	lease pool.Lease[protocol.ServerResponseContext]
}

// ServerTransport is the handle of one accepted connection. Its state lives in a pooled
// serverConn addressed by the lease.
type ServerTransport struct {
	manager  *ServerTransportManager
	lease    pool.Lease[serverConn]
	remote   string
	returned atomic.Bool
}

// RemoteAddr returns the address of the client
func (t *ServerTransport) RemoteAddr() string {
	return t.remote
}

// serverConn is the pooled state of one accepted connection
type serverConn struct {
	manager  *ServerTransportManager
	conn     transport.IConnection
	remote   string
	reqLease pool.Lease[protocol.ServerRequestContext]
	pipeline *protocol.RequestPipeline

	queue    *SendQueue[outboundFrame]
	workers  chan struct{}
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	broken   atomic.Bool
}

// RemoteAddr returns the address of the client
func (c *serverConn) RemoteAddr() string {
	return c.remote
}

// serve runs the connection: receive until the client closes or shutdown begins, drain
// the invocations, flush the responses and close
func (c *serverConn) serve() {
	m := c.manager

	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)

	c.receiveLoop()

	c.inflight.Wait()
	c.queue.Close()
	<-writerDone

	if !c.broken.Load() {
		_ = c.conn.Shutdown(transport.ShutdownSend)
	}
	_ = c.conn.Close()
	c.cancel()

	m.active.Delete(c)
	m.stats.active.Dec(1)
	common.Trace(m.handlers.Tracer, common.TraceCloseTransport, "closed connection from %s", c.remote)
	Logger.Debugf("Connection from %s closed", c.remote)
}

func (c *serverConn) beginShutdown() {
	if err := c.conn.Shutdown(transport.ShutdownReceive); err != nil {
		Logger.Debugf("Shutdown of receive direction from %s failed: %v", c.remote, err)
	}
}

// receiveLoop feeds received chunks to the request pipeline until the client closes
// or the manager shuts down
func (c *serverConn) receiveLoop() {
	m := c.manager
	for {
		buf := m.chunks.get()
		n, err := c.conn.Receive(buf)
		stopping := m.inShutdown.Load()
		if n > 0 && !stopping {
			m.stats.received(n)
			c.pipeline.Append(buf[:n])
			c.pipeline.Process(c.ctx)
		} else {
			m.chunks.put(buf)
			if n == 0 && err == nil {
				err = io.EOF
			}
		}

		if err == nil {
			if stopping {
				return
			}
			continue
		}

		if errors.Is(err, io.EOF) || stopping || c.broken.Load() {
			return
		}
		c.broken.Store(true)
		m.transportError(common.NewTransportError(common.OpReceive, c.remote, err))
		return
	}
}

// dispatch runs on the receive goroutine. Refused messages are answered directly, valid
// invocations wait for a worker slot, which throttles reading when every worker is busy.
func (c *serverConn) dispatch(inv *protocol.Invocation) {
	m := c.manager
	if inv.IsNotification() {
		common.ServerNotifications.Inc()
	} else {
		common.ServerRequests.Inc()
	}
	m.stats.messages.Mark(1)

	if inv.Err != nil {
		if !inv.IsNotification() {
			c.respond(inv.MessageID, nil, inv.Err)
		}
		return
	}

	c.workers <- struct{}{}
	c.inflight.Add(1)
	go func() {
		defer func() {
			<-c.workers
			c.inflight.Done()
		}()
		c.invoke(inv)
	}()
}

// invoke calls the handler with the execution timeout and sends the response
func (c *serverConn) invoke(inv *protocol.Invocation) {
	m := c.manager

	ctx := c.ctx
	if timeout := m.config.ExecutionTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.call(ctx, inv)
	m.stats.latency.UpdateSince(start)
	common.ServerDispatchTime.UpdateDuration(start)

	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ctx.Err()
	}

	if inv.IsNotification() {
		if err != nil {
			Logger.Warningf("Notification %q from %s failed: %v", inv.Method, c.remote, err)
		}
		return
	}
	c.respond(inv.MessageID, result, common.ToRPCError(err, m.config.IsDebugMode))
}

// call runs the handler and converts a panic into an error
func (c *serverConn) call(ctx context.Context, inv *protocol.Invocation) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Handler for %q panicked: %v", inv.Method, r)
			result, err = nil, fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return c.manager.handler(ctx, inv)
}

// respond serializes a response into a pooled context and queues it for the writer
func (c *serverConn) respond(id uint32, result interface{}, rpcErr *common.RPCError) {
	m := c.manager

	lease, err := m.responseContexts.Borrow(c.ctx)
	if err != nil {
		Logger.Errorf("Dropped response %d to %s: %v", id, c.remote, err)
		return
	}
	rc := lease.Value()
	if err := rc.Bind(c); err != nil {
		recycle(m.responseContexts, lease, m.config.IsDebugMode)
		return
	}
	if err := rc.Serialize(id, result, rpcErr); err != nil {
		Logger.Errorf("Failed to serialize response %d: %v", id, err)
		recycle(m.responseContexts, lease, m.config.IsDebugMode)
		return
	}
	if rpcErr != nil {
		common.ServerErrors.Inc()
	}
	common.Trace(m.handlers.Tracer, common.TraceSerializeResponse, "serialized response %d (%d bytes)", id, len(rc.Bytes()))

	if !c.queue.Push(&outboundFrame{lease: lease}) {
		recycle(m.responseContexts, lease, m.config.IsDebugMode)
	}
}

// writeLoop is the only writer of the connection
func (c *serverConn) writeLoop(done chan<- struct{}) {
	defer close(done)
	m := c.manager

	for frame := range c.queue.Recv() {
		rc := frame.lease.Value()
		if rc != nil && !c.broken.Load() {
			common.Trace(m.handlers.Tracer, common.TraceSendOutboundData, "sending %d bytes to %s", len(rc.Bytes()), c.remote)
			n, err := c.conn.Send(net.Buffers{rc.Bytes()})
			m.stats.sent(n)
			if err != nil {
				c.broken.Store(true)
				m.transportError(common.NewTransportError(common.OpSend, c.remote, err))
				// unblock the receive loop, the connection cannot answer anymore
				_ = c.conn.Close()
			} else {
				m.stats.responses.Inc(1)
				common.Trace(m.handlers.Tracer, common.TraceSentOutboundData, "sent %d bytes to %s", n, c.remote)
			}
		}
		recycle(m.responseContexts, frame.lease, m.config.IsDebugMode)
	}
}
