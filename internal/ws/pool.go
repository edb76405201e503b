package ws

import "sync"

// readBufferSize is the chunk size handed to Read on the transport.
const readBufferSize = 32 << 10

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *bufferPool) Put(b []byte) {
	b = b[:cap(b)]
	p.pool.Put(&b)
}

var readBuffers = newBufferPool(readBufferSize)
