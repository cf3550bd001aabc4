// Package common provides the types shared by every layer of the RPC runtime.
//
// The package focuses on:
//   - Configuration structures for servers and clients, including the pool sizes derived from them
//   - The RPC error taxonomy sent on the wire and the socket level TransportError
//   - Custom logging implementation integrated with Dragonboat's logger package
//   - Process wide metrics in the Prometheus text format and trace events
//
// Key Components:
//
//   - ServerConfig/ClientConfig: Settings of the transport managers. TransportPoolConfig,
//     RequestContextPoolConfig and ResponseContextPoolConfig derive the pool.Config of
//     each pooled resource.
//
//   - RPCError: Error identifier plus detail map. ToRPCError classifies handler errors,
//     DetailMap produces the result slot of an error response.
//
//   - TransportError: Failed socket operation with the OS error code.
//
//   - Tracer/TraceEvent: Fire-and-forget runtime events with stable numeric ids.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
