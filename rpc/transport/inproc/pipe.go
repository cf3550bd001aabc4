package inproc

import (
	"io"
	"sync"
)

// halfPipe is one direction of an in-process connection. The writer appends, the reader
// receives at most chunkSize bytes per call.
type halfPipe struct {
	mu        sync.Mutex
	cond      *sync.Cond
	data      []byte
	chunkSize int

	// writeClosed: the reader sees io.EOF once data is drained
	writeClosed bool
	// readClosed: pending and future data is discarded, writes fail
	readClosed bool
}

func newHalfPipe(chunkSize int) *halfPipe {
	p := &halfPipe{chunkSize: chunkSize}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *halfPipe) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readClosed || p.writeClosed {
		return 0, io.ErrClosedPipe
	}
	p.data = append(p.data, b...)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *halfPipe) read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.data) == 0 && !p.writeClosed && !p.readClosed {
		p.cond.Wait()
	}
	if p.readClosed {
		return 0, io.EOF
	}
	if len(p.data) == 0 {
		return 0, io.EOF
	}

	limit := len(b)
	if p.chunkSize > 0 && p.chunkSize < limit {
		limit = p.chunkSize
	}
	n := copy(b[:limit], p.data)
	p.data = p.data[n:]
	if len(p.data) == 0 {
		p.data = nil
	}
	return n, nil
}

func (p *halfPipe) closeWrite() {
	p.mu.Lock()
	p.writeClosed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *halfPipe) closeRead() {
	p.mu.Lock()
	p.readClosed = true
	p.data = nil
	p.cond.Broadcast()
	p.mu.Unlock()
}
