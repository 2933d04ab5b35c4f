package utils

import (
	"bytes"
	"sync"
)

// Pools for the scratch space used by the read paths. Sector round-up reads
// and chunk fills reuse buffers instead of allocating per call.

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func GetBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func PutBuffer(buf *bytes.Buffer) {
	buf.Reset()
	bufferPool.Put(buf)
}

type SlicePool struct {
	pool sync.Pool
	size int
}

// NewSlicePool returns a pool of byte slices of the given fixed size.
// Slices come back with stale contents, callers overwrite them fully.
func NewSlicePool(size int) *SlicePool {
	return &SlicePool{
		pool: sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		},
		size: size,
	}
}

func (sp *SlicePool) Get() []byte {
	return sp.pool.Get().([]byte)
}

func (sp *SlicePool) Put(b []byte) {
	if cap(b) < sp.size {
		return
	}
	sp.pool.Put(b[:sp.size])
}

// RoundUp rounds val up to the next multiple of step.
func RoundUp(val int, step int) int {
	rem := val % step
	if rem == 0 {
		return val
	}
	return val + step - rem
}
