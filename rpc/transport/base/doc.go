// Package base implements the connection management of the RPC runtime independent of
// the network protocol (TCP, Unix sockets, in-process pipes). Protocol specific packages
// only provide connectors; everything else lives here.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations.
//     WrapConn and WrapListener adapt the standard net types.
//
//   - ClientTransportManager/ClientTransport: Connects to endpoints, assigns message ids,
//     keeps the pending request table of each connection and runs one receive loop per
//     connection that feeds a protocol.ResponsePipeline.
//
//   - ServerTransportManager/ServerTransport: Accepts connections, feeds a
//     protocol.RequestPipeline per connection and runs invocations on a bounded number of
//     workers. Responses are serialized by the workers and written by a single writer
//     goroutine per connection, fed through a SendQueue.
//
// Resource Handling:
//
//   - Transports, request contexts and response contexts come from pool.Pool instances
//     sized by the configuration. The server refuses connections once its transport pool
//     is exhausted.
//
//   - Receive buffers are recycled through a sync.Pool as soon as the pipeline consumed them.
//
// Shutdown:
//
//	BeginShutdown stops new work. Shutdown additionally waits until pending requests
//	(client) or in-flight invocations (server) are drained, then closes the send
//	direction so the remote side observes an orderly close. When the context passed to
//	Shutdown ends first, the remaining connections are closed and their pending requests
//	fail with a transport error.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use. Each connection has exactly one
//	receiving goroutine and writes are serialized per connection.
package base
