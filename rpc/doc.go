// Package rpc is the root of a MessagePack-RPC runtime. Requests, responses and
// notifications are exchanged over stream connections and decoded incrementally, so
// partial reads and pipelined messages need no framing beyond MessagePack itself.
//
// The package is organized into several subpackages:
//
//   - buffer: Segmented, read-only byte stream over the received chunks.
//
//   - unpack: Resumable MessagePack item reader and skipper on top of the stream.
//
//   - pool: Bounded object pools with generation checked leases.
//
//   - protocol: Message contexts, the request and response pipelines and the table of
//     pending requests.
//
//   - serializer: MessagePack encoding of arguments and results.
//
//   - transport: Connection abstractions with TCP, Unix socket and in-process
//     implementations; base holds the client and server transport managers.
//
//   - client: RPC client with round-robin connections, call timeouts and reconnects.
//
//   - server: Method registry and server.
//
//   - common: Configuration, errors, logging, metrics and tracing.
package rpc
