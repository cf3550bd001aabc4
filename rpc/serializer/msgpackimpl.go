package serializer

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// NewMsgpackSerializer creates a serializer that honours `msgpack:"..."` struct tags
func NewMsgpackSerializer() IRPCSerializer {
	return &msgpackSerializerImpl{name: "msgpack", structTag: "msgpack"}
}

// NewMsgpackJSONTagSerializer creates a serializer that reads field names from `json:"..."`
// struct tags, for types shared with JSON APIs
func NewMsgpackJSONTagSerializer() IRPCSerializer {
	return &msgpackSerializerImpl{name: "msgpack-json", structTag: "json"}
}

// msgpackSerializerImpl implements the IRPCSerializer interface using vmihailenco/msgpack.
// Integers are written in their most compact form and interface{} targets are decoded
// loosely (int64, uint64, float64, string, []interface{}, map[string]interface{}).
type msgpackSerializerImpl struct {
	name      string
	structTag string
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (s *msgpackSerializerImpl) Pack(enc *msgpack.Encoder, v interface{}) error {
	return enc.Encode(v)
}

func (s *msgpackSerializerImpl) Unpack(dec *msgpack.Decoder, v interface{}) error {
	return dec.Decode(v)
}

func (s *msgpackSerializerImpl) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *msgpackSerializerImpl) Unmarshal(b []byte, v interface{}) error {
	return s.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func (s *msgpackSerializerImpl) NewEncoder(w io.Writer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(w)
	enc.UseCompactInts(true)
	enc.SetCustomStructTag(s.structTag)
	return enc
}

func (s *msgpackSerializerImpl) NewDecoder(r io.Reader) *msgpack.Decoder {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	dec.SetCustomStructTag(s.structTag)
	return dec
}

func (s *msgpackSerializerImpl) Name() string {
	return s.name
}
