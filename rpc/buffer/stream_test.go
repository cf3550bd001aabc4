package buffer

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func newTestStream() *SegmentStream {
	return NewSegmentStream([]byte{0, 1, 2}, []byte{}, []byte{3}, []byte{4, 5, 6, 7})
}

func TestReadAcrossSegments(t *testing.T) {
	s := newTestStream()
	if s.Len() != 8 {
		t.Fatalf("expected length 8, got %d", s.Len())
	}

	buf := make([]byte, 5)
	n, err := s.Read(buf)
	if err != nil || n != 5 {
		t.Fatalf("expected 5 bytes, got %d (%v)", n, err)
	}
	if !bytes.Equal(buf, []byte{0, 1, 2, 3, 4}) {
		t.Errorf("unexpected bytes %v", buf)
	}
	if s.Position() != 5 {
		t.Errorf("expected position 5, got %d", s.Position())
	}

	// short read at the end
	n, err = s.Read(buf)
	if err != nil || n != 3 {
		t.Fatalf("expected short read of 3 bytes, got %d (%v)", n, err)
	}
	if !bytes.Equal(buf[:n], []byte{5, 6, 7}) {
		t.Errorf("unexpected bytes %v", buf[:n])
	}

	// eof
	if n, err = s.Read(buf); n != 0 || err != io.EOF {
		t.Errorf("expected EOF, got %d (%v)", n, err)
	}
}

func TestSeekBounds(t *testing.T) {
	s := newTestStream()
	l := s.Len()

	tests := []struct {
		name    string
		offset  int64
		whence  int
		want    int64
		wantErr bool
	}{
		{"start", 0, io.SeekStart, 0, false},
		{"end exactly", l, io.SeekStart, l, false},
		{"past end", l + 1, io.SeekStart, 0, true},
		{"negative", -1, io.SeekStart, 0, true},
		{"from end", -2, io.SeekEnd, l - 2, false},
		{"beyond end from end", 1, io.SeekEnd, 0, true},
		{"segment boundary", 3, io.SeekStart, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.Seek(0, io.SeekStart)
			got, err := s.Seek(tt.offset, tt.whence)
			if tt.wantErr {
				if !errors.Is(err, ErrOutOfRange) {
					t.Errorf("expected ErrOutOfRange, got %v", err)
				}
				if s.Position() != 0 {
					t.Errorf("failed seek moved the cursor to %d", s.Position())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want || s.Position() != tt.want {
				t.Errorf("expected position %d, got %d / %d", tt.want, got, s.Position())
			}
		})
	}

	// seeking to L yields EOF on the next read
	if _, err := s.Seek(l, io.SeekStart); err != nil {
		t.Fatalf("seek to end failed: %v", err)
	}
	if _, err := s.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("expected EOF after seeking to the end, got %v", err)
	}
}

func TestSeekCurrent(t *testing.T) {
	s := newTestStream()
	s.Seek(4, io.SeekStart)
	if pos, err := s.Seek(-3, io.SeekCurrent); err != nil || pos != 1 {
		t.Fatalf("expected 1, got %d (%v)", pos, err)
	}
	b, _ := s.ReadByte()
	if b != 1 {
		t.Errorf("expected byte 1, got %d", b)
	}
}

func TestWriteFails(t *testing.T) {
	s := newTestStream()
	if n, err := s.Write([]byte{1}); n != 0 || !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %d (%v)", n, err)
	}
}

func TestAdvanceAndBytes(t *testing.T) {
	s := newTestStream()
	if moved := s.Advance(6); moved != 6 {
		t.Fatalf("expected to move 6 bytes, moved %d", moved)
	}
	if moved := s.Advance(10); moved != 2 {
		t.Fatalf("expected to move 2 bytes, moved %d", moved)
	}

	b, err := s.Bytes(2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(b, []byte{2, 3, 4, 5}) {
		t.Errorf("unexpected slice %v", b)
	}

	// the slice is a copy
	b[0] = 99
	if s.ToArray()[2] != 2 {
		t.Errorf("Bytes returned an aliasing slice")
	}

	if _, err := s.Bytes(6, 3); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestCompact(t *testing.T) {
	first := []byte{0, 1, 2}
	s := NewSegmentStream(first, []byte{3, 4})
	s.Advance(4)

	released := s.Compact()
	if len(released) != 1 || &released[0][0] != &first[0] {
		t.Fatalf("expected the first segment to be released, got %v", released)
	}
	if s.Len() != 1 || s.Position() != 0 {
		t.Fatalf("expected length 1 at position 0, got %d at %d", s.Len(), s.Position())
	}

	s.Append([]byte{5})
	if got := s.ToArray(); !bytes.Equal(got, []byte{4, 5}) {
		t.Errorf("unexpected content after compaction %v", got)
	}

	s.Advance(2)
	if released = s.Compact(); len(released) != 2 || s.Len() != 0 {
		t.Errorf("expected both segments to be released, got %d (len %d)", len(released), s.Len())
	}
}
