package unpack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/ValentinKolb/msgpackrpc/rpc/buffer"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	// ErrInvalidCode is returned for the reserved format byte 0xc1
	ErrInvalidCode = errors.New("unpack: invalid msgpack format code")
	// ErrCountTooLarge is returned when an item count or payload length exceeds math.MaxInt32
	ErrCountTooLarge = errors.New("unpack: item count exceeds int32 range")
	// ErrNotContainer is returned by ReadSubtree when the last item is not an array or map header
	ErrNotContainer = errors.New("unpack: last item is not a container header")
	// ErrSubtreeExhausted is returned when reading past the end of a subtree
	ErrSubtreeExhausted = errors.New("unpack: subtree has no remaining items")
	// ErrSkipInProgress is returned by Read while an incomplete skip is pending
	ErrSkipInProgress = errors.New("unpack: skip in progress")
)

// header is the decoded format byte plus its fixed-size trailer
type header struct {
	item    Item
	payload int64 // bytes following the header (str, bin, ext)
}

// Unpacker is a pull-based MessagePack decoder over a SegmentStream.
// It never blocks: when the buffered bytes do not contain a complete item it reports
// "need more data" (false, nil) and can be called again after the producer appended
// more segments.
//
// Read is atomic per item, an incomplete item rewinds the stream to the item start.
// Skip is resumable, the remaining child counts and payload bytes of an incomplete
// skip are kept in the unpacker and the next call continues from there.
type Unpacker struct {
	stream  *buffer.SegmentStream
	item    Item
	scratch [8]byte
	sub     Subtree

	// skip state
	skipping bool
	pending  []int64
	payload  int64
}

// New creates an unpacker reading from the given stream
func New(stream *buffer.SegmentStream) *Unpacker {
	return &Unpacker{stream: stream}
}

// Reset rebinds the unpacker to a stream and drops all state
func (u *Unpacker) Reset(stream *buffer.SegmentStream) {
	u.stream = stream
	u.item = Item{}
	u.sub = Subtree{}
	u.skipping = false
	u.pending = u.pending[:0]
	u.payload = 0
}

// Stream returns the underlying stream
func (u *Unpacker) Stream() *buffer.SegmentStream {
	return u.stream
}

// Item returns the last item returned by Read
func (u *Unpacker) Item() Item {
	return u.item
}

// Skipping reports whether an incomplete skip is pending
func (u *Unpacker) Skipping() bool {
	return u.skipping
}

// Read reads the next item. Strings, binaries and extensions are read including
// their payload; arrays and maps are read as headers.
func (u *Unpacker) Read() (bool, error) {
	if u.skipping {
		return false, ErrSkipInProgress
	}

	start := u.stream.Position()
	h, ok, err := u.readHeader(start)
	if err != nil || !ok {
		return false, err
	}

	switch h.item.Kind {
	case KindString, KindBinary, KindExt:
		if u.stream.Remaining() < h.payload {
			_ = u.stream.SetPosition(start)
			return false, nil
		}
		h.item.Bytes = make([]byte, h.payload)
		if _, err := io.ReadFull(u.stream, h.item.Bytes); err != nil {
			_ = u.stream.SetPosition(start)
			return false, nil
		}
	}

	u.item = h.item
	return true, nil
}

// Skip skips the next value including all of its children
func (u *Unpacker) Skip() (bool, error) {
	return u.SkipItems(1)
}

// SkipItems skips n sibling values. When a previous call returned false the skip
// continues where it stopped and n is ignored.
func (u *Unpacker) SkipItems(n int64) (bool, error) {
	if !u.skipping {
		if n <= 0 {
			return true, nil
		}
		u.skipping = true
		u.pending = append(u.pending[:0], n)
		u.payload = 0
	}

	for {
		if u.payload > 0 {
			u.payload -= u.stream.Advance(u.payload)
			if u.payload > 0 {
				return false, nil
			}
		}

		for len(u.pending) > 0 && u.pending[len(u.pending)-1] == 0 {
			u.pending = u.pending[:len(u.pending)-1]
		}
		if len(u.pending) == 0 {
			u.skipping = false
			return true, nil
		}

		h, ok, err := u.readHeader(u.stream.Position())
		if err != nil {
			u.skipping = false
			u.pending = u.pending[:0]
			return false, err
		}
		if !ok {
			return false, nil
		}

		u.pending[len(u.pending)-1]--
		if c := h.item.ChildCount(); c > 0 {
			u.pending = append(u.pending, c)
		}
		u.payload = h.payload
	}
}

// ReadSubtree opens a scope over the children of the last read array or map header
func (u *Unpacker) ReadSubtree() (*Subtree, error) {
	if !u.item.IsArrayHeader() && !u.item.IsMapHeader() {
		return nil, ErrNotContainer
	}
	u.sub = Subtree{u: u, remaining: u.item.ChildCount()}
	return &u.sub, nil
}

// --------------------------------------------------------------------------
// Subtree
// --------------------------------------------------------------------------

// Subtree reads the children of one container header
type Subtree struct {
	u         *Unpacker
	remaining int64
}

// Remaining returns the number of children not yet read or skipped
func (s *Subtree) Remaining() int64 {
	return s.remaining
}

// Item returns the last item read through the subtree
func (s *Subtree) Item() Item {
	return s.u.item
}

// Read reads the next child
func (s *Subtree) Read() (bool, error) {
	if s.remaining == 0 {
		return false, ErrSubtreeExhausted
	}
	ok, err := s.u.Read()
	if ok {
		s.remaining--
	}
	return ok, err
}

// Skip skips the next child, resumable like Unpacker.Skip
func (s *Subtree) Skip() (bool, error) {
	if s.remaining == 0 {
		return false, ErrSubtreeExhausted
	}
	ok, err := s.u.Skip()
	if ok {
		s.remaining--
	}
	return ok, err
}

// --------------------------------------------------------------------------
// Format decoding
// --------------------------------------------------------------------------

// readHeader reads one format byte and its fixed-size trailer.
// On insufficient data the stream is rewound to start.
func (u *Unpacker) readHeader(start int64) (header, bool, error) {
	c, err := u.stream.ReadByte()
	if err != nil {
		return header{}, false, nil
	}

	h, extra, err := classify(c)
	if err != nil {
		_ = u.stream.SetPosition(start)
		return header{}, false, err
	}
	if extra == 0 {
		return h, true, nil
	}

	buf := u.scratch[:extra]
	if n, _ := io.ReadFull(u.stream, buf); n < extra {
		_ = u.stream.SetPosition(start)
		return header{}, false, nil
	}
	if err := decodeTrailer(c, buf, &h); err != nil {
		_ = u.stream.SetPosition(start)
		return header{}, false, err
	}
	return h, true, nil
}

// classify decodes everything that is contained in the format byte itself and
// returns the number of trailer bytes that follow it
func classify(c byte) (header, int, error) {
	var h header
	switch {
	case c <= msgpcode.PosFixedNumHigh:
		h.item = Item{Kind: KindUint, Uint: uint64(c)}
		return h, 0, nil
	case c >= msgpcode.NegFixedNumLow:
		h.item = Item{Kind: KindInt, Int: int64(int8(c))}
		return h, 0, nil
	case msgpcode.IsFixedMap(c):
		h.item = Item{Kind: KindMap, Count: int(c & msgpcode.FixedMapMask)}
		return h, 0, nil
	case msgpcode.IsFixedArray(c):
		h.item = Item{Kind: KindArray, Count: int(c & msgpcode.FixedArrayMask)}
		return h, 0, nil
	case msgpcode.IsFixedString(c):
		h.item = Item{Kind: KindString}
		h.payload = int64(c & msgpcode.FixedStrMask)
		return h, 0, nil
	}

	switch c {
	case msgpcode.Nil:
		h.item = Item{Kind: KindNil}
		return h, 0, nil
	case msgpcode.False, msgpcode.True:
		h.item = Item{Kind: KindBool, Bool: c == msgpcode.True}
		return h, 0, nil
	case msgpcode.Uint8, msgpcode.Int8, msgpcode.Str8, msgpcode.Bin8:
		return h, 1, nil
	case msgpcode.Uint16, msgpcode.Int16, msgpcode.Str16, msgpcode.Bin16, msgpcode.Array16, msgpcode.Map16:
		return h, 2, nil
	case msgpcode.Uint32, msgpcode.Int32, msgpcode.Float, msgpcode.Str32, msgpcode.Bin32, msgpcode.Array32, msgpcode.Map32:
		return h, 4, nil
	case msgpcode.Uint64, msgpcode.Int64, msgpcode.Double:
		return h, 8, nil
	case msgpcode.FixExt1, msgpcode.FixExt2, msgpcode.FixExt4, msgpcode.FixExt8, msgpcode.FixExt16:
		return h, 1, nil
	case msgpcode.Ext8:
		return h, 2, nil
	case msgpcode.Ext16:
		return h, 3, nil
	case msgpcode.Ext32:
		return h, 5, nil
	default:
		return h, 0, fmt.Errorf("%w: 0x%02x", ErrInvalidCode, c)
	}
}

// decodeTrailer fills h from the trailer bytes following format byte c
func decodeTrailer(c byte, b []byte, h *header) error {
	be := binary.BigEndian

	switch c {
	case msgpcode.Uint8:
		h.item = Item{Kind: KindUint, Uint: uint64(b[0])}
	case msgpcode.Uint16:
		h.item = Item{Kind: KindUint, Uint: uint64(be.Uint16(b))}
	case msgpcode.Uint32:
		h.item = Item{Kind: KindUint, Uint: uint64(be.Uint32(b))}
	case msgpcode.Uint64:
		h.item = Item{Kind: KindUint, Uint: be.Uint64(b)}
	case msgpcode.Int8:
		h.item = Item{Kind: KindInt, Int: int64(int8(b[0]))}
	case msgpcode.Int16:
		h.item = Item{Kind: KindInt, Int: int64(int16(be.Uint16(b)))}
	case msgpcode.Int32:
		h.item = Item{Kind: KindInt, Int: int64(int32(be.Uint32(b)))}
	case msgpcode.Int64:
		h.item = Item{Kind: KindInt, Int: int64(be.Uint64(b))}
	case msgpcode.Float:
		h.item = Item{Kind: KindFloat, Float: float64(math.Float32frombits(be.Uint32(b)))}
	case msgpcode.Double:
		h.item = Item{Kind: KindFloat, Float: math.Float64frombits(be.Uint64(b))}

	case msgpcode.Str8, msgpcode.Str16, msgpcode.Str32:
		n, err := length(b)
		if err != nil {
			return err
		}
		h.item = Item{Kind: KindString}
		h.payload = n
	case msgpcode.Bin8, msgpcode.Bin16, msgpcode.Bin32:
		n, err := length(b)
		if err != nil {
			return err
		}
		h.item = Item{Kind: KindBinary}
		h.payload = n

	case msgpcode.Array16, msgpcode.Array32:
		n, err := length(b)
		if err != nil {
			return err
		}
		h.item = Item{Kind: KindArray, Count: int(n)}
	case msgpcode.Map16, msgpcode.Map32:
		n, err := length(b)
		if err != nil {
			return err
		}
		h.item = Item{Kind: KindMap, Count: int(n)}

	case msgpcode.FixExt1, msgpcode.FixExt2, msgpcode.FixExt4, msgpcode.FixExt8, msgpcode.FixExt16:
		h.item = Item{Kind: KindExt, ExtType: int8(b[0])}
		h.payload = int64(1) << (c - msgpcode.FixExt1)
	case msgpcode.Ext8, msgpcode.Ext16, msgpcode.Ext32:
		n, err := length(b[:len(b)-1])
		if err != nil {
			return err
		}
		h.item = Item{Kind: KindExt, ExtType: int8(b[len(b)-1])}
		h.payload = n
	}
	return nil
}

// length decodes a big endian 8, 16 or 32 bit length and applies the int32 guard
func length(b []byte) (int64, error) {
	var n uint64
	switch len(b) {
	case 1:
		n = uint64(b[0])
	case 2:
		n = uint64(binary.BigEndian.Uint16(b))
	case 4:
		n = uint64(binary.BigEndian.Uint32(b))
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d", ErrCountTooLarge, n)
	}
	return int64(n), nil
}
