// Package protocol implements the MessagePack-RPC message layer: pooled message contexts,
// the receive pipelines that turn buffered bytes into responses and invocations, and the
// table correlating requests with their responses.
//
// Envelopes:
//
//	request       [0, msgid, method, args]
//	response      [1, msgid, error, result]
//	notification  [2, method, args]
//
// Pipelines:
//
// ResponsePipeline (client) and RequestPipeline (server) share one stage driver. Each call
// to Process runs stages (UnpackHeader, UnpackType, UnpackID, UnpackMethod/UnpackArguments
// or UnpackError/UnpackResult, Dispatch) until a stage needs more bytes or the buffer is
// drained. A stage that runs out of bytes leaves the pipeline where it is, the next Process
// call continues there. Several messages in one buffer are dispatched in one call.
//
// Arguments, errors and results are never decoded by the pipeline. It skips them, copies
// their bytes and leaves decoding to Arguments and Response.
//
// Rejected messages:
//
// A message with a wrong arity, type tag, id or method is reported to
// PipelineHandlers.OnProtocolError and its remaining elements are skipped. Bytes that are
// not MessagePack at all are reported and the whole buffer is dropped, the connection
// stays open. If the message id was already decoded, the pending request fails with an
// UnexpectedResponseError (client) or a MessageRefusedError is sent back (server).
//
// Contexts:
//
// MessageContext carries session and message ids and the exclusive binding to a transport.
// ClientRequestContext and ServerResponseContext encode outbound messages into their own
// buffer; ClientResponseContext and ServerRequestContext own the receive buffer of a
// connection. Contexts are reused through rpc/pool and are cleared on return.
package protocol
