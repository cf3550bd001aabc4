// Package client implements the MessagePack-RPC client. An RPCClient owns a
// ClientTransportManager and a fixed set of connections, ConnectionsPerEndpoint
// per configured endpoint, which are used round-robin.
//
// Key Components:
//
//   - NewRPCClient: Connects every connection slot and returns the client.
//
//   - Call / CallInto: Send a request and wait for its response. Requests are
//     pipelined, many calls share one connection and complete out of order.
//
//   - Notify: Sends a notification, no response is awaited.
//
// Timeouts and cancellation:
//
//	The config timeout is applied on top of the caller's context. When the
//	context ends first the pending request is removed from its transport and
//	a late response is dropped as an orphan. A call that ran into the deadline
//	returns a TimeoutError, a canceled call returns the context error.
//
// Reconnection:
//
//	A slot whose connection was lost is reconnected on the next call. Calls
//	pending on the lost connection fail with a TransportError.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	config.Endpoints = []string{"localhost:18800"}
//
//	c, err := client.NewRPCClient(config, tcp.NewClientConnector(config),
//		serializer.NewMsgpackSerializer(), base.Handlers{})
//	if err != nil {
//		return err
//	}
//	defer c.Close(context.Background())
//
//	var sum int64
//	err = c.CallInto(ctx, &sum, "add", 1, 2)
//
// Thread Safety:
//
//	An RPCClient is safe for concurrent use by multiple goroutines.
package client
