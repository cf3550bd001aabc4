// Package serializer converts Go values to and from MessagePack for the RPC runtime.
//
// The transport pipeline never materializes arguments, results or errors itself; it
// captures their byte ranges and hands them to an IRPCSerializer on demand. The
// serializer is also used to encode arguments and results into the envelopes.
//
// Key Components:
//
//   - IRPCSerializer: interface consumed by the protocol and server packages.
//
//   - msgpackSerializerImpl: implementation on top of github.com/vmihailenco/msgpack/v5.
//     NewMsgpackSerializer reads `msgpack` struct tags, NewMsgpackJSONTagSerializer
//     reads `json` struct tags. Both write integers in their most compact form and
//     decode interface{} targets loosely (int64, uint64, float64).
//
// Thread Safety:
//
//	Serializers are stateless and safe for concurrent use. Encoders and decoders
//	returned by NewEncoder/NewDecoder are not.
package serializer
