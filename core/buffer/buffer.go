// Package buffer provides the growable byte buffer used for connection I/O.
//
// A Buffer keeps a read cursor and a write cursor over one backing slice:
//
//	| consumed | readable (Peek) | writable (BeginWrite) |
//	0       readPos          writePos              len(buf)
//
// It is not safe for concurrent use; a connection owns its buffers.
package buffer

import (
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-static/core/pools"
)

const (
	// DefaultSize is the initial capacity of a connection buffer
	DefaultSize = 1024

	spillSize = 65536
)

var spillPool = pools.NewSlabPool(spillSize)

// Buffer is a read/write cursor buffer
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New creates a buffer with the given initial capacity
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{buf: make([]byte, size)}
}

// ReadableBytes returns the number of unread bytes
func (b *Buffer) ReadableBytes() int {
	return b.writePos - b.readPos
}

// WritableBytes returns the free space after the write cursor
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writePos
}

// PrependableBytes returns the space already consumed before the read cursor
func (b *Buffer) PrependableBytes() int {
	return b.readPos
}

// Peek returns the unread region. The slice is invalidated by any
// call that appends to the buffer.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readPos:b.writePos]
}

// BeginWrite returns the writable tail
func (b *Buffer) BeginWrite() []byte {
	return b.buf[b.writePos:]
}

// HasWritten advances the write cursor after bytes were copied into BeginWrite
func (b *Buffer) HasWritten(n int) {
	if n > b.WritableBytes() {
		n = b.WritableBytes()
	}
	b.writePos += n
}

// Retrieve consumes n readable bytes
func (b *Buffer) Retrieve(n int) {
	if n >= b.ReadableBytes() {
		b.RetrieveAll()
		return
	}
	b.readPos += n
}

// RetrieveAll discards all readable bytes and rewinds both cursors
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// Append copies p after the readable region, growing if needed
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	b.writePos += copy(b.buf[b.writePos:], p)
}

// AppendString copies s after the readable region, growing if needed
func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	b.writePos += copy(b.buf[b.writePos:], s)
}

// EnsureWritable makes room for at least n more bytes
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	b.makeSpace(n)
}

func (b *Buffer) makeSpace(n int) {
	readable := b.ReadableBytes()
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.writePos+n+len(b.buf)/2)
		copy(grown, b.buf[b.readPos:b.writePos])
		b.buf = grown
	} else {
		copy(b.buf, b.buf[b.readPos:b.writePos])
	}
	b.readPos = 0
	b.writePos = readable
}

// ReadFd performs one vectored read from fd into the writable tail and a
// pooled spill slab, so a single call can take more than the current
// free space. It returns the byte count or -1 with the errno.
func (b *Buffer) ReadFd(fd int) (int, error) {
	spill := spillPool.Get()
	defer spillPool.Put(spill)

	writable := b.WritableBytes()
	n, err := unix.Readv(fd, [][]byte{b.buf[b.writePos:], *spill})
	if err != nil {
		return -1, err
	}
	if n <= writable {
		b.HasWritten(n)
	} else {
		b.HasWritten(writable)
		b.Append((*spill)[:n-writable])
	}
	return n, nil
}

// SpillStats reports how often ReadFd reused a spill slab
func SpillStats() pools.SlabPoolStats {
	return spillPool.Stats()
}
