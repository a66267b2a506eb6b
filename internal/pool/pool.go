// Package pool provides reusable buffers for record encoding using sync.Pool.
package pool

import (
	"sync"
)

const (
	// DefaultBufferSize is the default size for byte buffers.
	DefaultBufferSize = 64 * 1024 // 64KB

	// maxRetained caps the capacity of buffers returned to a pool so one
	// oversized record does not pin memory for the life of the process.
	maxRetained = 4 * DefaultBufferSize
)

// ByteBuffer wraps a byte slice for pooled reuse.
type ByteBuffer struct {
	Data []byte
}

// Reset clears the buffer for reuse.
func (b *ByteBuffer) Reset() {
	b.Data = b.Data[:0]
}

// Write appends data to the buffer.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.Data = append(b.Data, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (b *ByteBuffer) WriteByte(c byte) error {
	b.Data = append(b.Data, c)
	return nil
}

// Len returns the current length of data in the buffer.
func (b *ByteBuffer) Len() int {
	return len(b.Data)
}

// Bytes returns the underlying byte slice.
func (b *ByteBuffer) Bytes() []byte {
	return b.Data
}

// BufferPool manages reusable byte buffers.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size.
func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	bp := &BufferPool{size: bufferSize}
	bp.pool.New = func() any {
		return &ByteBuffer{
			Data: make([]byte, 0, bufferSize),
		}
	}
	return bp
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() *ByteBuffer {
	return p.pool.Get().(*ByteBuffer)
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf *ByteBuffer) {
	if cap(buf.Data) > maxRetained {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// Global pools for common use cases.
var (
	// Buffers is the shared pool used by line-oriented encoders.
	Buffers = NewBufferPool(DefaultBufferSize)
)
