// buffer_pool.go implements buffer pooling for framed message writes.
//
// Control frames (Accept, Alert) are tiny; version payloads for a typical
// mod list are a few kilobytes; the large class covers the maximum frame.
package protocol

import "sync"

// BufferPool provides pooled byte slices for framing protocol messages.
// It uses size classes to efficiently handle different message sizes.
type BufferPool struct {
	small  sync.Pool // <= 256 bytes (control frames)
	medium sync.Pool // <= 16KB (typical version payloads, reject reports)
	large  sync.Pool // <= 2MB (maximum frame)
}

// Buffer size class thresholds.
const (
	smallBufferSize  = 256
	mediumBufferSize = 16 * 1024
	largeBufferSize  = 2 * 1024 * 1024
)

// globalBufferPool is the default buffer pool instance.
var globalBufferPool = NewBufferPool()

func newClass(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		small:  newClass(smallBufferSize),
		medium: newClass(mediumBufferSize),
		large:  newClass(largeBufferSize),
	}
}

// Get returns a buffer of at least the requested size.
// The returned buffer may be larger than requested.
// The caller must call Put() when done with the buffer.
func (p *BufferPool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}

	var bufPtr *[]byte

	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// Put returns a buffer to the pool.
// The buffer must have been obtained from Get() on this pool.
// After calling Put, the buffer must not be used.
func (p *BufferPool) Put(buf []byte) {
	c := cap(buf)
	if c == 0 {
		return
	}

	buf = buf[:c]
	bufPtr := &buf

	switch c {
	case smallBufferSize:
		p.small.Put(bufPtr)
	case mediumBufferSize:
		p.medium.Put(bufPtr)
	case largeBufferSize:
		p.large.Put(bufPtr)
	// Non-standard sizes are not returned to pool (they were allocated directly)
	}
}

// PooledBuffer wraps a buffer with automatic pool return.
// Use this for scoped buffer usage with defer.
type PooledBuffer struct {
	buf  []byte
	pool *BufferPool
}

// GetPooled returns a PooledBuffer that will be returned to the pool on Release.
//
//	pb := pool.GetPooled(1024)
//	defer pb.Release()
func (p *BufferPool) GetPooled(size int) *PooledBuffer {
	return &PooledBuffer{
		buf:  p.Get(size),
		pool: p,
	}
}

// Bytes returns the underlying buffer.
func (pb *PooledBuffer) Bytes() []byte {
	return pb.buf
}

// Release returns the buffer to the pool.
// After calling Release, the PooledBuffer must not be used.
func (pb *PooledBuffer) Release() {
	if pb.pool != nil && pb.buf != nil {
		pb.pool.Put(pb.buf)
		pb.buf = nil
	}
}
