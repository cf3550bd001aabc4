package base

import "sync"

// chunkPool reuses receive buffers. A buffer handed to a pipeline comes back through the
// pipeline's Recycle handler once the stream has consumed every byte of it.
type chunkPool struct {
	size int
	pool sync.Pool
}

func newChunkPool(size int) *chunkPool {
	if size <= 0 {
		size = 4096
	}
	return &chunkPool{size: size}
}

func (p *chunkPool) get() []byte {
	if b, ok := p.pool.Get().(*[]byte); ok {
		return (*b)[:p.size]
	}
	return make([]byte, p.size)
}

func (p *chunkPool) put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
