package pools

import (
	"sync"
	"sync/atomic"
)

// SlabPool recycles byte slabs of one fixed size. Slabs travel as *[]byte
// so handing one back never allocates a new slice header.
type SlabPool struct {
	size   int
	pool   sync.Pool
	gets   atomic.Uint64
	allocs atomic.Uint64
	drops  atomic.Uint64
}

// SlabPoolStats reports slab traffic
type SlabPoolStats struct {
	Size   int    `json:"size"`
	Gets   uint64 `json:"gets"`
	Allocs uint64 `json:"allocs"`
	Drops  uint64 `json:"drops"`
}

// NewSlabPool creates a pool of size-byte slabs
func NewSlabPool(size int) *SlabPool {
	p := &SlabPool{size: size}
	p.pool.New = func() any {
		p.allocs.Add(1)
		slab := make([]byte, p.size)
		return &slab
	}
	return p
}

// Get returns a full-length slab
func (p *SlabPool) Get() *[]byte {
	p.gets.Add(1)
	slab := p.pool.Get().(*[]byte)
	*slab = (*slab)[:p.size]
	return slab
}

// Put hands a slab back. Slabs that were resliced below the pool size or
// did not come from the pool are left to the GC.
func (p *SlabPool) Put(slab *[]byte) {
	if slab == nil || cap(*slab) != p.size {
		p.drops.Add(1)
		return
	}
	p.pool.Put(slab)
}

// Size returns the slab length
func (p *SlabPool) Size() int {
	return p.size
}

// Stats returns slab counters
func (p *SlabPool) Stats() SlabPoolStats {
	return SlabPoolStats{
		Size:   p.size,
		Gets:   p.gets.Load(),
		Allocs: p.allocs.Load(),
		Drops:  p.drops.Load(),
	}
}
