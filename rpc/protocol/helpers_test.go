package protocol

import (
	"bytes"
	"context"
	"testing"

	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/vmihailenco/msgpack/v5"
)

// encode returns the concatenated compact encodings of msgs
func encode(t *testing.T, msgs ...interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	enc.SetSortMapKeys(true)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("failed to encode %v: %v", m, err)
		}
	}
	return buf.Bytes()
}

// feed appends data in chunks of the given size and processes after every chunk.
// It returns the result of the last Process call.
func feed(p interface {
	Append([]byte)
	Process(context.Context) bool
}, data []byte, chunk int) bool {
	drained := false
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		// copy so recycled chunks never alias the test input
		c := append([]byte(nil), data[:n]...)
		data = data[n:]
		p.Append(c)
		drained = p.Process(context.Background())
	}
	return drained
}

var testSerializer = serializer.NewMsgpackSerializer()
