package serializer

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// IRPCSerializer converts between Go values and their MessagePack encoding.
// The transport pipeline only uses it to encode arguments and results and to decode
// the byte ranges captured for arguments, results and errors.
type IRPCSerializer interface {
	// Pack appends the encoding of v to enc
	Pack(enc *msgpack.Encoder, v interface{}) error
	// Unpack decodes the next value of dec into v (which must be a pointer)
	Unpack(dec *msgpack.Decoder, v interface{}) error
	// Marshal encodes v into a new byte slice
	Marshal(v interface{}) ([]byte, error)
	// Unmarshal decodes b into v (which must be a pointer)
	Unmarshal(b []byte, v interface{}) error
	// NewEncoder creates an encoder writing to w, configured like this serializer
	NewEncoder(w io.Writer) *msgpack.Encoder
	// NewDecoder creates a decoder reading from r, configured like this serializer
	NewDecoder(r io.Reader) *msgpack.Decoder
	// Name returns the name of the serializer
	Name() string
}
