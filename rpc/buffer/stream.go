package buffer

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrOutOfRange is returned when a seek target lies outside [0, Len()]
	ErrOutOfRange = errors.New("buffer: position out of range")
	// ErrReadOnly is returned by every write attempt
	ErrReadOnly = errors.New("buffer: segment stream is read only")
)

// segment is a view [lo, hi) into a receive buffer.
// buf keeps the full backing slice so Compact can hand it back for reuse.
type segment struct {
	buf []byte
	lo  int
	hi  int
}

func (s segment) len() int { return s.hi - s.lo }

// SegmentStream is a seekable, read-only view over an ordered list of byte segments.
// The producer appends segments, the consumer reads and seeks; bytes are never copied
// unless explicitly requested via Bytes or ToArray.
//
// The cursor is (index, offset): index points at the current segment and offset is
// relative to that segment's lo. The cursor is either on a readable byte or exactly
// at the end (index == len(segments), offset == 0).
//
// A SegmentStream is not safe for concurrent use.
type SegmentStream struct {
	segments []segment
	index    int
	offset   int
	length   int64
}

// NewSegmentStream creates a stream over the given segments
func NewSegmentStream(segments ...[]byte) *SegmentStream {
	s := &SegmentStream{}
	for _, seg := range segments {
		s.Append(seg)
	}
	return s
}

// Append adds a segment to the end of the stream. Empty segments are ignored.
func (s *SegmentStream) Append(seg []byte) {
	if len(seg) == 0 {
		return
	}
	s.segments = append(s.segments, segment{buf: seg, lo: 0, hi: len(seg)})
	s.length += int64(len(seg))
}

// Len returns the total number of bytes in the stream
func (s *SegmentStream) Len() int64 {
	return s.length
}

// Remaining returns the number of bytes between the cursor and the end
func (s *SegmentStream) Remaining() int64 {
	return s.length - s.Position()
}

// Position returns the absolute cursor position.
// This walks the segments before the cursor.
func (s *SegmentStream) Position() int64 {
	var pos int64
	for i := 0; i < s.index && i < len(s.segments); i++ {
		pos += int64(s.segments[i].len())
	}
	return pos + int64(s.offset)
}

// SetPosition moves the cursor to an absolute position
func (s *SegmentStream) SetPosition(pos int64) error {
	_, err := s.Seek(pos, io.SeekStart)
	return err
}

// --------------------------------------------------------------------------
// io.Reader, io.ByteReader, io.Seeker, io.Writer
// --------------------------------------------------------------------------

// Read copies up to len(p) bytes starting at the cursor.
// It returns fewer bytes only at the end of the stream and io.EOF once nothing is left.
func (s *SegmentStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) && s.index < len(s.segments) {
		seg := s.segments[s.index]
		c := copy(p[n:], seg.buf[seg.lo+s.offset:seg.hi])
		n += c
		s.offset += c
		if s.offset == seg.len() {
			s.index++
			s.offset = 0
		}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadByte reads a single byte
func (s *SegmentStream) ReadByte() (byte, error) {
	if s.index >= len(s.segments) {
		return 0, io.EOF
	}
	seg := s.segments[s.index]
	b := seg.buf[seg.lo+s.offset]
	s.offset++
	if s.offset == seg.len() {
		s.index++
		s.offset = 0
	}
	return b, nil
}

// Seek moves the cursor relative to the start (io.SeekStart), the current position
// (io.SeekCurrent) or the end (io.SeekEnd). Targets outside [0, Len()] fail with
// ErrOutOfRange and leave the cursor unchanged.
func (s *SegmentStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.Position() + offset
	case io.SeekEnd:
		target = s.length + offset
	default:
		return s.Position(), fmt.Errorf("buffer: invalid whence %d", whence)
	}

	if target < 0 || target > s.length {
		return s.Position(), fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, target, s.length)
	}

	s.index, s.offset = s.locate(target)
	return target, nil
}

// Write always fails, the stream is a read view
func (s *SegmentStream) Write(_ []byte) (int, error) {
	return 0, ErrReadOnly
}

// --------------------------------------------------------------------------
// Helpers for the pipeline
// --------------------------------------------------------------------------

// Advance moves the cursor forward by up to n bytes and returns how far it moved
func (s *SegmentStream) Advance(n int64) int64 {
	var moved int64
	for moved < n && s.index < len(s.segments) {
		avail := int64(s.segments[s.index].len() - s.offset)
		if avail > n-moved {
			s.offset += int(n - moved)
			return n
		}
		moved += avail
		s.index++
		s.offset = 0
	}
	return moved
}

// Bytes returns a copy of the absolute range [start, start+length).
// The copy stays valid after the backing segments are compacted or reused.
func (s *SegmentStream) Bytes(start, length int64) ([]byte, error) {
	if start < 0 || length < 0 || start+length > s.length {
		return nil, fmt.Errorf("%w: range [%d, %d) not in [0, %d]", ErrOutOfRange, start, start+length, s.length)
	}

	out := make([]byte, length)
	idx, off := s.locate(start)
	n := 0
	for int64(n) < length {
		seg := s.segments[idx]
		c := copy(out[n:], seg.buf[seg.lo+off:seg.hi])
		n += c
		idx++
		off = 0
	}
	return out, nil
}

// ToArray returns a copy of every byte in the stream
func (s *SegmentStream) ToArray() []byte {
	out := make([]byte, 0, s.length)
	for _, seg := range s.segments {
		out = append(out, seg.buf[seg.lo:seg.hi]...)
	}
	return out
}

// Compact drops every byte before the cursor. Position becomes 0.
// The backing buffers of fully consumed segments are returned so the caller can recycle them.
func (s *SegmentStream) Compact() [][]byte {
	var released [][]byte
	for i := 0; i < s.index && i < len(s.segments); i++ {
		released = append(released, s.segments[i].buf)
		s.length -= int64(s.segments[i].len())
	}

	remaining := s.segments[s.index:]
	if len(remaining) > 0 && s.offset > 0 {
		remaining[0].lo += s.offset
		s.length -= int64(s.offset)
	}

	// shift down in place so the slice can be reused
	n := copy(s.segments, remaining)
	for i := n; i < len(s.segments); i++ {
		s.segments[i] = segment{}
	}
	s.segments = s.segments[:n]
	s.index = 0
	s.offset = 0
	return released
}

// Reset drops all segments and returns their backing buffers
func (s *SegmentStream) Reset() [][]byte {
	released := make([][]byte, 0, len(s.segments))
	for i := range s.segments {
		released = append(released, s.segments[i].buf)
		s.segments[i] = segment{}
	}
	s.segments = s.segments[:0]
	s.index = 0
	s.offset = 0
	s.length = 0
	return released
}

// SegmentCount returns the number of segments currently held
func (s *SegmentStream) SegmentCount() int {
	return len(s.segments)
}

// locate translates an absolute position in [0, length] into a cursor
func (s *SegmentStream) locate(pos int64) (int, int) {
	for i, seg := range s.segments {
		l := int64(seg.len())
		if pos < l {
			return i, int(pos)
		}
		pos -= l
	}
	return len(s.segments), 0
}
