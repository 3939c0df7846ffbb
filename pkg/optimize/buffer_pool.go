package optimize

import (
	"bytes"
	"sync"
)

// BufferPool recycles bytes.Buffers for encoding outbound frames. Buffers
// that grew past maxCap are dropped instead of pinning large frames in memory.
type BufferPool struct {
	pool   sync.Pool
	maxCap int
}

func NewBufferPool(initialCap, maxCap int) *BufferPool {
	if maxCap < initialCap {
		maxCap = initialCap
	}
	return &BufferPool{
		maxCap: maxCap,
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialCap))
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. The caller must not touch buf or any slice
// obtained from buf.Bytes() afterwards.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > p.maxCap {
		return
	}
	p.pool.Put(buf)
}
