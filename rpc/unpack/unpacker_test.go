package unpack

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/msgpackrpc/rpc/buffer"
	"github.com/vmihailenco/msgpack/v5"
)

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return b
}

func TestReadScalars(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		check func(Item) bool
	}{
		{"nil", nil, func(it Item) bool { return it.Kind == KindNil }},
		{"true", true, func(it Item) bool { return it.Kind == KindBool && it.Bool }},
		{"fixint", 7, func(it Item) bool { v, err := it.AsInt32(); return err == nil && v == 7 }},
		{"negative", -300, func(it Item) bool { v, err := it.AsInt32(); return err == nil && v == -300 }},
		{"uint32", uint32(4000000000), func(it Item) bool { v, err := it.AsUint32(); return err == nil && v == 4000000000 }},
		{"float", 1.5, func(it Item) bool { return it.Kind == KindFloat && it.Float == 1.5 }},
		{"string", "hello", func(it Item) bool { s, err := it.AsString(); return err == nil && s == "hello" }},
		{"binary", []byte{1, 2, 3}, func(it Item) bool { return it.Kind == KindBinary && len(it.Bytes) == 3 }},
		{"array", []int{1, 2}, func(it Item) bool { return it.IsArrayHeader() && it.Count == 2 }},
		{"map", map[string]int{"a": 1}, func(it Item) bool { return it.IsMapHeader() && it.ChildCount() == 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := New(buffer.NewSegmentStream(mustMarshal(t, tt.value)))
			ok, err := u.Read()
			if err != nil || !ok {
				t.Fatalf("read failed: %v %v", ok, err)
			}
			if !tt.check(u.Item()) {
				t.Errorf("unexpected item %+v", u.Item())
			}
		})
	}
}

func TestReadNeedsMoreData(t *testing.T) {
	data := mustMarshal(t, "a string longer than one segment")
	stream := buffer.NewSegmentStream()
	u := New(stream)

	for i, b := range data {
		stream.Append([]byte{b})
		ok, err := u.Read()
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		if i < len(data)-1 {
			if ok {
				t.Fatalf("read completed early at byte %d", i)
			}
			if stream.Position() != 0 {
				t.Fatalf("incomplete read did not rewind, position %d", stream.Position())
			}
			continue
		}
		if !ok {
			t.Fatalf("read did not complete with all bytes available")
		}
	}

	if s, _ := u.Item().AsString(); s != "a string longer than one segment" {
		t.Errorf("unexpected string %q", s)
	}
}

func TestSkipIsResumable(t *testing.T) {
	value := map[string]interface{}{
		"list":   []interface{}{1, "two", []byte{3}, map[string]int{"four": 4}},
		"nested": map[string]interface{}{"deep": []string{"a", "b"}},
		"blob":   make([]byte, 300),
	}
	data := append(mustMarshal(t, value), mustMarshal(t, "next")...)

	stream := buffer.NewSegmentStream()
	u := New(stream)

	done := false
	for i := 0; i < len(data) && !done; i++ {
		stream.Append(data[i : i+1])
		ok, err := u.Skip()
		if err != nil {
			t.Fatalf("skip failed at byte %d: %v", i, err)
		}
		done = ok
	}
	if !done {
		t.Fatalf("skip never completed")
	}
	if u.Skipping() {
		t.Errorf("skip state not cleared")
	}

	// the next value starts right after the skipped one
	stream.Append(data[stream.Len():])
	ok, err := u.Read()
	if err != nil || !ok {
		t.Fatalf("read after skip failed: %v %v", ok, err)
	}
	if s, _ := u.Item().AsString(); s != "next" {
		t.Errorf("expected 'next', got %q", s)
	}
}

func TestReadDuringSkipFails(t *testing.T) {
	data := mustMarshal(t, []int{1, 2, 3})
	u := New(buffer.NewSegmentStream(data[:2]))
	if ok, err := u.Skip(); ok || err != nil {
		t.Fatalf("expected incomplete skip, got %v %v", ok, err)
	}
	if _, err := u.Read(); !errors.Is(err, ErrSkipInProgress) {
		t.Errorf("expected ErrSkipInProgress, got %v", err)
	}
}

func TestCountGuard(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"array32", []byte{0xdd, 0x80, 0x00, 0x00, 0x00}},
		{"map32", []byte{0xdf, 0xff, 0xff, 0xff, 0xff}},
		{"str32", []byte{0xdb, 0x80, 0x00, 0x00, 0x01}},
		{"bin32", []byte{0xc6, 0x90, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := New(buffer.NewSegmentStream(tt.data))
			if _, err := u.Read(); !errors.Is(err, ErrCountTooLarge) {
				t.Errorf("read: expected ErrCountTooLarge, got %v", err)
			}
			u = New(buffer.NewSegmentStream(tt.data))
			if _, err := u.Skip(); !errors.Is(err, ErrCountTooLarge) {
				t.Errorf("skip: expected ErrCountTooLarge, got %v", err)
			}
		})
	}
}

func TestInvalidCode(t *testing.T) {
	u := New(buffer.NewSegmentStream([]byte{0xc1}))
	if _, err := u.Read(); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expected ErrInvalidCode, got %v", err)
	}
}

func TestSubtree(t *testing.T) {
	data := mustMarshal(t, []interface{}{1, []int{2, 3}, "x"})
	u := New(buffer.NewSegmentStream(data))
	if ok, err := u.Read(); !ok || err != nil {
		t.Fatalf("read header failed: %v %v", ok, err)
	}
	sub, err := u.ReadSubtree()
	if err != nil {
		t.Fatalf("subtree failed: %v", err)
	}
	if sub.Remaining() != 3 {
		t.Fatalf("expected 3 children, got %d", sub.Remaining())
	}

	if ok, _ := sub.Read(); !ok {
		t.Fatalf("read first child failed")
	}
	if ok, _ := sub.Skip(); !ok {
		t.Fatalf("skip second child failed")
	}
	if ok, _ := sub.Read(); !ok {
		t.Fatalf("read third child failed")
	}
	if s, _ := sub.Item().AsString(); s != "x" {
		t.Errorf("expected 'x', got %q", s)
	}
	if _, err := sub.Read(); !errors.Is(err, ErrSubtreeExhausted) {
		t.Errorf("expected ErrSubtreeExhausted, got %v", err)
	}
}
