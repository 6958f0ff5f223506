// Package timer implements the deadline heap used for idle-connection eviction.
package timer

import (
	"container/heap"
	"time"
)

// Callback runs when an entry expires
type Callback func()

type entry struct {
	id       uint64
	deadline time.Time
	cb       Callback
	index    int
}

type entries []*entry

func (h entries) Len() int           { return len(h) }
func (h entries) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h entries) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entries) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entries) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.index = -1
	return e
}

// HeapTimer is a min-heap of deadlines keyed by id.
//
// HeapTimer is not safe for concurrent use. The engine confines it to the
// event loop goroutine.
type HeapTimer struct {
	heap entries
	ref  map[uint64]*entry
	now  func() time.Time
}

// New creates an empty timer
func New() *HeapTimer {
	return &HeapTimer{
		ref: make(map[uint64]*entry),
		now: time.Now,
	}
}

// Add schedules cb to run timeout from now. An existing entry for id
// gets the new deadline and callback.
func (t *HeapTimer) Add(id uint64, timeout time.Duration, cb Callback) {
	deadline := t.now().Add(timeout)
	if e, ok := t.ref[id]; ok {
		e.deadline = deadline
		e.cb = cb
		heap.Fix(&t.heap, e.index)
		return
	}
	e := &entry{id: id, deadline: deadline, cb: cb}
	heap.Push(&t.heap, e)
	t.ref[id] = e
}

// Adjust moves the deadline of id to timeout from now. Unknown ids are ignored.
func (t *HeapTimer) Adjust(id uint64, timeout time.Duration) {
	e, ok := t.ref[id]
	if !ok {
		return
	}
	e.deadline = t.now().Add(timeout)
	heap.Fix(&t.heap, e.index)
}

// Remove drops the entry for id without running its callback
func (t *HeapTimer) Remove(id uint64) {
	e, ok := t.ref[id]
	if !ok {
		return
	}
	heap.Remove(&t.heap, e.index)
	delete(t.ref, id)
}

// Tick pops every expired entry and runs its callback. Callbacks may
// Add, Adjust or Remove entries, including their own id.
func (t *HeapTimer) Tick() {
	now := t.now()
	for len(t.heap) > 0 {
		e := t.heap[0]
		if e.deadline.After(now) {
			break
		}
		heap.Pop(&t.heap)
		delete(t.ref, e.id)
		if e.cb != nil {
			e.cb()
		}
	}
}

// NextTick runs Tick and returns the milliseconds until the nearest
// deadline, or -1 when nothing is scheduled.
func (t *HeapTimer) NextTick() int {
	t.Tick()
	if len(t.heap) == 0 {
		return -1
	}
	d := t.heap[0].deadline.Sub(t.now())
	if d <= 0 {
		return 0
	}
	// Round up so the wait never returns just before the deadline
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// Len returns the number of scheduled entries
func (t *HeapTimer) Len() int {
	return len(t.heap)
}

// Clear drops every entry
func (t *HeapTimer) Clear() {
	t.heap = nil
	t.ref = make(map[uint64]*entry)
}
