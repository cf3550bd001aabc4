// Package tcp provides the TCP connectors of the RPC runtime. Connection management,
// pooling and the wire protocol live in the base package; this package only dials,
// listens and applies socket options (TCP_NODELAY, keep-alive, linger, buffer sizes)
// from common.TCPConf and common.SocketConf.
//
// TCP is the only transport where a shutdown of one direction (CloseRead/CloseWrite) is
// visible to the peer as a half-close, which the graceful shutdown of the server relies on.
package tcp
