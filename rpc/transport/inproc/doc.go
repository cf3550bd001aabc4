// Package inproc provides an in-process transport. Listeners register under their
// endpoint name in a process wide registry and clients connect by that name, so servers
// and clients of one process talk without sockets.
//
// Each direction is a buffered half-pipe with the shutdown semantics of a TCP socket:
// after Shutdown(ShutdownSend) the peer reads the remaining bytes and then io.EOF.
// Options.ChunkSize caps the bytes returned by a single Receive, which makes it simple to
// exercise the resumable decoding of the protocol pipelines.
package inproc
