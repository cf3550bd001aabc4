// Package transport defines the contracts between the MessagePack-RPC transport managers
// and the stream sockets they run on.
//
// Key Components:
//
//   - IConnection: the capability set {Send, Receive, Shutdown, Close} a connection must
//     offer. TCP and Unix sockets are adapted in the base package, the inproc package
//     provides an in-memory pair for tests and embedded use.
//
//   - IListener: accepts inbound connections for the server transport manager.
//
//   - ServerHandleFunc: the function the server transport calls for every decoded
//     request and notification.
package transport
