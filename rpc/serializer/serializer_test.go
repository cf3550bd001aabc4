package serializer

import (
	"bytes"
	"reflect"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"msgpack":      NewMsgpackSerializer,
	"msgpack-json": NewMsgpackJSONTagSerializer,
}

type point struct {
	X int    `msgpack:"x" json:"px"`
	Y int    `msgpack:"y" json:"py"`
	L string `msgpack:"label,omitempty" json:"label,omitempty"`
}

// testValues returns values covering the shapes passed as arguments and results
func testValues() []interface{} {
	return []interface{}{
		nil,
		true,
		int64(-42),
		uint64(1) << 40,
		3.25,
		"hello",
		[]byte{1, 2, 3},
		[]interface{}{int64(1), "two", []interface{}{int64(3)}},
		map[string]interface{}{"a": int64(1), "b": "c"},
	}
}

// TestSerializerRoundTrip tests that values survive a round trip through interface{} targets
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for i, v := range testValues() {
				data, err := s.Marshal(v)
				if err != nil {
					t.Errorf("failed to marshal value %d: %v", i, err)
					continue
				}

				var out interface{}
				if err := s.Unmarshal(data, &out); err != nil {
					t.Errorf("failed to unmarshal value %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(v, out) {
					t.Errorf("value %d doesn't match after round trip:\nOriginal: %#v\nResult: %#v", i, v, out)
				}
			}
		})
	}
}

// TestStructTags tests that each serializer reads field names from its struct tag
func TestStructTags(t *testing.T) {
	tests := []struct {
		factory func() IRPCSerializer
		key     string
	}{
		{NewMsgpackSerializer, "x"},
		{NewMsgpackJSONTagSerializer, "px"},
	}

	for _, tt := range tests {
		s := tt.factory()
		t.Run(s.Name(), func(t *testing.T) {
			data, err := s.Marshal(point{X: 1, Y: 2})
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var m map[string]interface{}
			if err := s.Unmarshal(data, &m); err != nil {
				t.Fatalf("unmarshal into map failed: %v", err)
			}
			if _, ok := m[tt.key]; !ok {
				t.Errorf("expected key %q in %v", tt.key, m)
			}
			if _, ok := m["label"]; ok {
				t.Errorf("omitempty field was encoded: %v", m)
			}

			var p point
			if err := s.Unmarshal(data, &p); err != nil {
				t.Fatalf("unmarshal into struct failed: %v", err)
			}
			if p.X != 1 || p.Y != 2 {
				t.Errorf("unexpected struct %+v", p)
			}
		})
	}
}

// TestCompactInts tests that small integers use the one byte encoding
func TestCompactInts(t *testing.T) {
	s := NewMsgpackSerializer()
	data, err := s.Marshal(7)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !bytes.Equal(data, []byte{0x07}) {
		t.Errorf("expected positive fixint, got % x", data)
	}
}

// TestPackUnpackStream tests Pack and Unpack on a shared encoder and decoder
func TestPackUnpackStream(t *testing.T) {
	s := NewMsgpackSerializer()
	var buf bytes.Buffer
	enc := s.NewEncoder(&buf)
	for _, v := range []interface{}{"first", int64(2), []string{"third"}} {
		if err := s.Pack(enc, v); err != nil {
			t.Fatalf("pack failed: %v", err)
		}
	}

	dec := s.NewDecoder(&buf)
	var first string
	var second int
	var third []string
	for _, v := range []interface{}{&first, &second, &third} {
		if err := s.Unpack(dec, v); err != nil {
			t.Fatalf("unpack failed: %v", err)
		}
	}
	if first != "first" || second != 2 || len(third) != 1 || third[0] != "third" {
		t.Errorf("unexpected values %q %d %v", first, second, third)
	}
}

func TestByName(t *testing.T) {
	for _, name := range Names {
		s, err := ByName(name)
		if err != nil || s.Name() != name {
			t.Errorf("ByName(%q) = %v, %v", name, s, err)
		}
	}
	if _, err := ByName("gob"); err == nil {
		t.Errorf("expected error for unknown serializer")
	}
}
