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
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("transport/rpc")

// drainInterval is the polling interval while waiting for pending requests during shutdown
const drainInterval = 5 * time.Millisecond

// TransportErrorHandler receives socket level failures
type TransportErrorHandler func(err *common.TransportError)

// Handlers are the optional callbacks of a transport manager
type Handlers struct {
	OnTransportError TransportErrorHandler
	OnProtocolError  func(perr *protocol.ProtocolError)
	Tracer           common.Tracer
}

// -----------------------------------------------------------
// Client Transport Manager
// -----------------------------------------------------------

// ClientTransportManager owns the pools, counters and active connections of a client
type ClientTransportManager struct {
	connector  IClientConnector
	config     common.ClientConfig
	serializer serializer.IRPCSerializer
	handlers   Handlers
	dumper     *protocol.Dumper

	transports       *pool.Pool[clientConn]
	requestContexts  *pool.Pool[protocol.ClientRequestContext]
	responseContexts *pool.Pool[protocol.ClientResponseContext]
	chunks           *chunkPool

	sessions   atomic.Int64
	messageIDs atomic.Uint32
	active     *xsync.MapOf[*clientConn, struct{}]
	inShutdown atomic.Bool

	stats *managerStats
}

// NewClientTransportManager creates a manager connecting through connector
func NewClientTransportManager(connector IClientConnector, config common.ClientConfig, s serializer.IRPCSerializer, handlers Handlers) (*ClientTransportManager, error) {
	m := &ClientTransportManager{
		connector:  connector,
		config:     config,
		serializer: s,
		handlers:   handlers,
		dumper:     protocol.NewDumper(config.Dump),
		chunks:     newChunkPool(config.ReceiveBufferSize),
		active:     xsync.NewMapOf[*clientConn, struct{}](),
		stats:      newManagerStats("client"),
	}

	var err error
	m.transports, err = pool.New(config.TransportPoolConfig(),
		func() *clientConn { return &clientConn{} },
		func(c *clientConn) { *c = clientConn{} },
	)
	if err != nil {
		return nil, err
	}
	m.requestContexts, err = pool.New(config.RequestContextPoolConfig(),
		func() *protocol.ClientRequestContext {
			return protocol.NewClientRequestContext(&m.sessions, config.IsDebugMode, s)
		},
		(*protocol.ClientRequestContext).Clear,
	)
	if err != nil {
		return nil, err
	}
	m.responseContexts, err = pool.New(config.ResponseContextPoolConfig(),
		func() *protocol.ClientResponseContext {
			return protocol.NewClientResponseContext(&m.sessions, config.IsDebugMode)
		},
		(*protocol.ClientResponseContext).Clear,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Connect establishes a connection to endpoint and starts its receive loop
func (m *ClientTransportManager) Connect(ctx context.Context, endpoint string) (*ClientTransport, error) {
	if m.inShutdown.Load() {
		return nil, common.ErrShutdown
	}

	lease, err := m.transports.Borrow(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire transport for %s: %w", endpoint, err)
	}

	connectCtx := ctx
	if timeout := m.config.ConnectTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := m.connector.Connect(connectCtx, endpoint)
	if err != nil {
		recycle(m.transports, lease, m.config.IsDebugMode)
		te := common.NewTransportError(common.OpConnect, endpoint, err)
		m.transportError(te)
		return nil, te
	}

	respLease, err := m.responseContexts.Borrow(ctx)
	if err != nil {
		_ = conn.Close()
		recycle(m.transports, lease, m.config.IsDebugMode)
		return nil, fmt.Errorf("failed to acquire response context: %w", err)
	}

	c := lease.Value()
	c.manager = m
	c.conn = conn
	c.remote = conn.RemoteAddr()
	c.pending = protocol.NewPendingRequestTable(m.config.IsDebugMode)
	c.respLease = respLease
	c.done = make(chan struct{})

	rc := respLease.Value()
	rc.RenewSessionID()
	if err := rc.Bind(c); err != nil {
		_ = conn.Close()
		recycle(m.responseContexts, respLease, m.config.IsDebugMode)
		recycle(m.transports, lease, m.config.IsDebugMode)
		return nil, err
	}
	c.pipeline = protocol.NewResponsePipeline(rc, c.pending, m.serializer, protocol.PipelineHandlers{
		OnProtocolError: m.protocolError,
		OnOrphan:        m.orphan,
		Recycle:         m.chunks.put,
		Tracer:          m.handlers.Tracer,
	})

	t := &ClientTransport{
		manager:  m,
		lease:    lease,
		endpoint: endpoint,
		remote:   c.remote,
		done:     c.done,
	}

	m.active.Store(c, struct{}{})
	m.stats.active.Inc(1)
	m.stats.connections.Inc(1)
	common.Trace(m.handlers.Tracer, common.TraceBoundSocket, "session %d connected to %s via %s", rc.SessionID(), endpoint, m.connector.GetName())
	Logger.Debugf("Connected to %s (session %d) using %s transport", endpoint, rc.SessionID(), m.connector.GetName())

	go c.receiveLoop()

	// a shutdown that enumerated the active set before the Store above must still reach c
	if m.inShutdown.Load() {
		c.inShutdown.Store(true)
	}
	return t, nil
}

// ReturnTransport closes t, waits for its receive loop and returns its resources to the pools.
// A handle can be returned once, later returns fail with pool.ErrNotLeased.
func (m *ClientTransportManager) ReturnTransport(t *ClientTransport) error {
	if t == nil || t.manager != m {
		return common.ErrForeignTransport
	}
	if !t.returned.CompareAndSwap(false, true) {
		return common.Invariant(m.config.IsDebugMode,
			fmt.Errorf("%w: transport to %s was already returned", pool.ErrNotLeased, t.endpoint))
	}

	c := t.lease.Value()
	if c == nil {
		return common.Invariant(m.config.IsDebugMode,
			fmt.Errorf("%w: transport to %s is stale", pool.ErrNotLeased, t.endpoint))
	}
	c.terminate(common.ErrTransportClosed)
	<-t.done

	if err := m.responseContexts.Return(c.respLease); err != nil {
		return common.Invariant(m.config.IsDebugMode, fmt.Errorf("failed to return response context: %w", err))
	}
	if err := m.transports.Return(t.lease); err != nil {
		return common.Invariant(m.config.IsDebugMode, fmt.Errorf("failed to return transport: %w", err))
	}
	return nil
}

// BeginShutdown rejects new requests on every transport, in-flight requests still complete
func (m *ClientTransportManager) BeginShutdown() {
	if m.inShutdown.Swap(true) {
		return
	}
	m.active.Range(func(c *clientConn, _ struct{}) bool {
		c.inShutdown.Store(true)
		return true
	})
}

// Shutdown waits until every transport drained its pending requests and closed,
// or ctx is done
func (m *ClientTransportManager) Shutdown(ctx context.Context) error {
	m.BeginShutdown()

	var g errgroup.Group
	m.active.Range(func(c *clientConn, _ struct{}) bool {
		g.Go(func() error { return c.shutdown(ctx) })
		return true
	})
	err := g.Wait()

	m.transports.Close()
	m.requestContexts.Close()
	m.responseContexts.Close()
	m.stats.stop()
	return err
}

// IsInShutdown reports whether BeginShutdown was called
func (m *ClientTransportManager) IsInShutdown() bool {
	return m.inShutdown.Load()
}

// NextMessageID returns the next message id, ids wrap around at 2^32
func (m *ClientTransportManager) NextMessageID() uint32 {
	return m.messageIDs.Add(1)
}

// ActiveTransports returns the number of open transports
func (m *ClientTransportManager) ActiveTransports() int {
	return m.active.Size()
}

// Statistics returns a snapshot of the manager counters
func (m *ClientTransportManager) Statistics() Statistics {
	return m.stats.snapshot()
}

// Name returns the name of the underlying connector
func (m *ClientTransportManager) Name() string {
	return m.connector.GetName()
}

func (m *ClientTransportManager) transportError(te *common.TransportError) {
	m.stats.transportError()
	common.Trace(m.handlers.Tracer, common.TraceSocketError, "%v", te)
	Logger.Errorf("Socket error: %v", te)
	if m.handlers.OnTransportError != nil {
		m.handlers.OnTransportError(te)
	}
}

func (m *ClientTransportManager) protocolError(perr *protocol.ProtocolError) {
	m.stats.protocolError()
	Logger.Warningf("Rejected response: %v", perr)
	if m.dumper.Enabled() {
		if path, err := m.dumper.Dump("response", perr); err != nil {
			Logger.Errorf("Failed to dump rejected response: %v", err)
		} else {
			Logger.Infof("Dumped rejected response to %s", path)
		}
	}
	if m.handlers.OnProtocolError != nil {
		m.handlers.OnProtocolError(perr)
	}
}

func (m *ClientTransportManager) orphan(resp *protocol.Response) {
	m.stats.orphans.Inc(1)
	common.ClientOrphanResponses.Inc()
	Logger.Warningf("Received response %d without pending request (session %d)", resp.MessageID, resp.SessionID)
}

// -----------------------------------------------------------
// Client Transport
// -----------------------------------------------------------

// ClientTransport is the handle of one client connection. Its state lives in a pooled
// clientConn addressed by the lease. After ReturnTransport every call on the handle fails
// with ErrTransportClosed. Send may be called from any goroutine.
type ClientTransport struct {
	manager  *ClientTransportManager
	lease    pool.Lease[clientConn]
	endpoint string
	remote   string
	done     chan struct{}
	returned atomic.Bool
}

// RemoteAddr returns the address of the server
func (t *ClientTransport) RemoteAddr() string {
	return t.remote
}

// Endpoint returns the endpoint the transport was connected to
func (t *ClientTransport) Endpoint() string {
	return t.endpoint
}

// Send encodes and writes a request. handler is called exactly once with the response,
// a connection error, or never if the request is cancelled first. The returned error
// means the request was not sent and handler will not be called.
func (t *ClientTransport) Send(ctx context.Context, method string, args []interface{}, handler protocol.ResponseHandler) (uint32, error) {
	if handler == nil {
		return 0, fmt.Errorf("%w: nil response handler", common.ErrInvalidArgument)
	}
	c, err := t.live()
	if err != nil {
		return 0, err
	}
	return c.send(ctx, method, args, handler)
}

// Notify encodes and writes a notification, no response is expected
func (t *ClientTransport) Notify(ctx context.Context, method string, args []interface{}) error {
	c, err := t.live()
	if err != nil {
		return err
	}
	return c.notify(ctx, method, args)
}

// Cancel removes a pending request, its handler will not be called.
// It returns false if the request already completed.
func (t *ClientTransport) Cancel(id uint32) bool {
	c := t.lease.Value()
	if c == nil {
		return false
	}
	return c.pending.Remove(id)
}

// Pending returns the number of requests waiting for a response
func (t *ClientTransport) Pending() int {
	c := t.lease.Value()
	if c == nil {
		return 0
	}
	return c.pending.Len()
}

// BeginShutdown rejects new requests, pending requests still complete
func (t *ClientTransport) BeginShutdown() {
	if c := t.lease.Value(); c != nil {
		c.inShutdown.Store(true)
	}
}

// IsInShutdown reports whether BeginShutdown was called
func (t *ClientTransport) IsInShutdown() bool {
	c := t.lease.Value()
	return c == nil || c.inShutdown.Load()
}

// Shutdown waits for pending requests, closes the sending direction and waits for the
// server to close the connection. When ctx is done first the connection is closed.
func (t *ClientTransport) Shutdown(ctx context.Context) error {
	c := t.lease.Value()
	if c == nil {
		return nil
	}
	return c.shutdown(ctx)
}

// Close closes the connection. Pending requests fail with ErrTransportClosed.
func (t *ClientTransport) Close() error {
	if c := t.lease.Value(); c != nil {
		c.terminate(common.ErrTransportClosed)
	}
	return nil
}

// Done is closed when the receive loop of the transport ended
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// live returns the connection state while the handle is still leased
func (t *ClientTransport) live() (*clientConn, error) {
	c := t.lease.Value()
	if c == nil {
		return nil, common.ErrTransportClosed
	}
	if err := c.usable(); err != nil {
		return nil, err
	}
	return c, nil
}

// clientConn is the pooled state of one client connection
type clientConn struct {
	manager   *ClientTransportManager
	conn      transport.IConnection
	remote    string
	pending   *protocol.PendingRequestTable
	respLease pool.Lease[protocol.ClientResponseContext]
	pipeline  *protocol.ResponsePipeline

	writeMu    sync.Mutex
	inShutdown atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
}

// RemoteAddr returns the address of the server
func (c *clientConn) RemoteAddr() string {
	return c.remote
}

func (c *clientConn) send(ctx context.Context, method string, args []interface{}, handler protocol.ResponseHandler) (uint32, error) {
	m := c.manager
	lease, err := m.requestContexts.Borrow(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire request context: %w", err)
	}
	defer recycle(m.requestContexts, lease, m.config.IsDebugMode)

	rc := lease.Value()
	id := m.NextMessageID()
	if err := rc.SetRequest(id, method, args); err != nil {
		return 0, fmt.Errorf("failed to encode request %q: %w", method, err)
	}
	if err := rc.Bind(c); err != nil {
		return 0, err
	}

	started := time.Now()
	wrapped := func(resp *protocol.Response, err error) {
		if err == nil {
			m.stats.responses.Inc(1)
			m.stats.latency.UpdateSince(started)
			common.ClientResponses.Inc()
		}
		handler(resp, err)
	}
	if err := c.pending.Register(id, wrapped); err != nil {
		return 0, err
	}

	if err := c.write(rc.Bytes()); err != nil {
		if c.pending.Remove(id) {
			return 0, err
		}
		// the connection loss already completed the handler
		return id, nil
	}

	m.stats.messages.Mark(1)
	common.ClientRequestsSent.Inc()
	Logger.Debugf("Sent request %d %q to %s", id, method, c.remote)
	return id, nil
}

func (c *clientConn) notify(ctx context.Context, method string, args []interface{}) error {
	m := c.manager
	lease, err := m.requestContexts.Borrow(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire request context: %w", err)
	}
	defer recycle(m.requestContexts, lease, m.config.IsDebugMode)

	rc := lease.Value()
	if err := rc.SetNotification(method, args); err != nil {
		return fmt.Errorf("failed to encode notification %q: %w", method, err)
	}
	if err := c.write(rc.Bytes()); err != nil {
		return err
	}

	m.stats.messages.Mark(1)
	common.ClientNotifications.Inc()
	return nil
}

func (c *clientConn) shutdown(ctx context.Context) error {
	c.inShutdown.Store(true)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for c.pending.Len() > 0 && !c.closed.Load() {
		select {
		case <-ctx.Done():
			c.terminate(common.ErrTransportClosed)
			return ctx.Err()
		case <-ticker.C:
		}
	}

	c.writeMu.Lock()
	err := c.conn.Shutdown(transport.ShutdownSend)
	c.writeMu.Unlock()
	if err != nil && !c.closed.Load() {
		c.manager.transportError(common.NewTransportError(common.OpShutdown, c.remote, err))
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.terminate(common.ErrTransportClosed)
		return ctx.Err()
	}
}

func (c *clientConn) usable() error {
	if c.inShutdown.Load() || c.manager.inShutdown.Load() {
		return common.ErrShutdown
	}
	if c.closed.Load() {
		return common.ErrTransportClosed
	}
	return nil
}

// write sends one encoded message, writes are serialized per connection
func (c *clientConn) write(b []byte) error {
	c.writeMu.Lock()
	n, err := c.conn.Send(net.Buffers{b})
	c.writeMu.Unlock()

	c.manager.stats.sent(n)
	if err != nil {
		te := common.NewTransportError(common.OpSend, c.remote, err)
		c.manager.transportError(te)
		c.terminate(te.ToRPCError())
		return te
	}
	return nil
}

// receiveLoop feeds received chunks to the response pipeline until the connection closes
func (c *clientConn) receiveLoop() {
	m := c.manager
	ctx := context.Background()

	for {
		buf := m.chunks.get()
		n, err := c.conn.Receive(buf)
		if n > 0 {
			m.stats.received(n)
			c.pipeline.Append(buf[:n])
			c.pipeline.Process(ctx)
		} else {
			m.chunks.put(buf)
			if err == nil {
				err = io.EOF
			}
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) || c.closed.Load() {
			Logger.Debugf("Connection to %s closed", c.remote)
			c.terminate(common.ErrTransportClosed)
		} else {
			te := common.NewTransportError(common.OpReceive, c.remote, err)
			m.transportError(te)
			c.terminate(te.ToRPCError())
		}
		close(c.done)
		return
	}
}

// terminate closes the connection once and fails every pending request with err
func (c *clientConn) terminate(err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()

		m := c.manager
		m.active.Delete(c)
		m.stats.active.Dec(1)

		if n := c.pending.FailAll(err); n > 0 {
			Logger.Warningf("Failed %d pending requests on %s: %v", n, c.remote, err)
		}
		common.Trace(m.handlers.Tracer, common.TraceCloseTransport, "closed transport to %s", c.remote)
	})
}

// -----------------------------------------------------------
// Helper
// -----------------------------------------------------------

// recycle returns a lease to its pool. A failed return means the lease was returned
// twice or to the wrong pool, which is an invariant violation.
func recycle[T any](p *pool.Pool[T], l pool.Lease[T], debug bool) {
	if err := common.Invariant(debug, p.Return(l)); err != nil {
		Logger.Errorf("Failed to return lease to %s: %v", p.Name(), err)
	}
}
