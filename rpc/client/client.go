package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/protocol"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/ValentinKolb/msgpackrpc/rpc/transport/base"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// RPCClient sends calls over a fixed set of connections, ConnectionsPerEndpoint for every
// configured endpoint, chosen round-robin. Closed connections are re-established on
// their next use.
type RPCClient struct {
	config  common.ClientConfig
	manager *base.ClientTransportManager

	mu         sync.RWMutex
	transports []*base.ClientTransport
	endpoints  []string
	next       atomic.Uint64
}

// NewRPCClient creates a client and connects every slot
//
// Usage:
//
//	c, err := client.NewRPCClient(
//		config,
//		tcp.NewClientConnector(config),
//		serializer.NewMsgpackSerializer(),
//		base.Handlers{},
//	)
//	var sum int64
//	err = c.CallInto(ctx, &sum, "add", 1, 2)
func NewRPCClient(
	config common.ClientConfig,
	connector base.IClientConnector,
	s serializer.IRPCSerializer,
	handlers base.Handlers,
) (*RPCClient, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", common.ErrInvalidArgument)
	}

	manager, err := base.NewClientTransportManager(connector, config, s, handlers)
	if err != nil {
		return nil, err
	}

	perEndpoint := config.ConnectionsPerEndpoint
	if perEndpoint < 1 {
		perEndpoint = 1
	}

	c := &RPCClient{config: config, manager: manager}
	for _, endpoint := range config.Endpoints {
		for i := 0; i < perEndpoint; i++ {
			c.endpoints = append(c.endpoints, endpoint)
		}
	}
	c.transports = make([]*base.ClientTransport, len(c.endpoints))

	for i, endpoint := range c.endpoints {
		t, err := manager.Connect(context.Background(), endpoint)
		if err != nil {
			_ = c.Close(context.Background())
			return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
		}
		c.transports[i] = t
	}

	Logger.Infof("Connected to %d endpoints with %d connections using %s transport",
		len(config.Endpoints), len(c.transports), manager.Name())
	return c, nil
}

// --------------------------------------------------------------------------
// Calls
// --------------------------------------------------------------------------

// Call sends a request and waits for the response. The wait is bounded by ctx and by
// the configured timeout. A remote error is returned as *common.RPCError together with
// the response.
func (c *RPCClient) Call(ctx context.Context, method string, args ...interface{}) (*protocol.Response, error) {
	if timeout := c.config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type completion struct {
		resp *protocol.Response
		err  error
	}
	done := make(chan completion, 1)

	var id uint32
	idx, t, err := c.withTransport(ctx, func(t *base.ClientTransport) (err error) {
		id, err = t.Send(ctx, method, args, func(resp *protocol.Response, err error) {
			done <- completion{resp, err}
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var result completion
	select {
	case result = <-done:
	case <-ctx.Done():
		if c.cancel(idx, t, id) {
			return nil, c.timeoutError(ctx)
		}
		// the response or the connection loss won the race against the cancellation
		result = <-done
	}

	if result.err != nil {
		return nil, result.err
	}
	if rpcErr := result.resp.Err(); rpcErr != nil {
		return result.resp, rpcErr
	}
	return result.resp, nil
}

// CallInto is Call followed by decoding the result into out
func (c *RPCClient) CallInto(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	resp, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("failed to decode result of %q: %w", method, err)
	}
	return nil
}

// Notify sends a notification, there is no response
func (c *RPCClient) Notify(ctx context.Context, method string, args ...interface{}) error {
	_, _, err := c.withTransport(ctx, func(t *base.ClientTransport) error {
		return t.Notify(ctx, method, args)
	})
	return err
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close waits for pending calls and closes every connection, bounded by ctx
func (c *RPCClient) Close(ctx context.Context) error {
	err := c.manager.Shutdown(ctx)
	Logger.Infof("Client closed")
	return err
}

// Statistics returns the transport statistics of the client
func (c *RPCClient) Statistics() base.Statistics {
	return c.manager.Statistics()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// withTransport runs fn with the next transport in round-robin order. A closed transport
// is reconnected first. The slot cannot be replaced while fn runs.
func (c *RPCClient) withTransport(ctx context.Context, fn func(t *base.ClientTransport) error) (int, *base.ClientTransport, error) {
	if c.manager.IsInShutdown() {
		return 0, nil, common.ErrShutdown
	}

	idx := int((c.next.Add(1) - 1) % uint64(len(c.transports)))
	for attempt := 0; ; attempt++ {
		c.mu.RLock()
		t := c.transports[idx]
		if t != nil && !closed(t) {
			err := fn(t)
			c.mu.RUnlock()
			return idx, t, err
		}
		c.mu.RUnlock()

		if attempt > 0 {
			return idx, nil, common.ErrTransportClosed
		}
		if err := c.reconnect(ctx, idx, t); err != nil {
			return idx, nil, err
		}
	}
}

// cancel removes a pending request unless its transport was already replaced, in which
// case the connection loss completed the request
func (c *RPCClient) cancel(idx int, t *base.ClientTransport, id uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.transports[idx] != t {
		return false
	}
	return t.Cancel(id)
}

// reconnect replaces the transport of a slot, old is returned to the pool
func (c *RPCClient) reconnect(ctx context.Context, idx int, old *base.ClientTransport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have reconnected the slot already
	if current := c.transports[idx]; current != old && current != nil && !closed(current) {
		return nil
	}

	if old != nil {
		if err := c.manager.ReturnTransport(old); err != nil {
			Logger.Warningf("Failed to return transport: %v", err)
		}
		c.transports[idx] = nil
	}

	endpoint := c.endpoints[idx]
	Logger.Infof("Reconnecting to %s", endpoint)
	t, err := c.manager.Connect(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to reconnect to %s: %w", endpoint, err)
	}
	c.transports[idx] = t
	return nil
}

func (c *RPCClient) timeoutError(ctx context.Context) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	common.ClientTimeouts.Inc()
	return common.NewTimeoutError(c.config.Timeout())
}

func closed(t *base.ClientTransport) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}
