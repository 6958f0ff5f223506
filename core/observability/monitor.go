// Package observability keeps per-status response metrics for the engine.
package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// latencyBounds are the upper bounds of the latency buckets; the last
// bucket takes everything above
var latencyBounds = [...]time.Duration{
	50 * time.Microsecond,
	100 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	time.Second,
}

const numBuckets = len(latencyBounds) + 1

// Monitor records how long responses took to synthesize and how large
// they were, grouped by status code. It is safe for concurrent use.
type Monitor struct {
	codes sync.Map // int -> *codeMetrics

	total atomic.Uint64
	bytes atomic.Uint64
}

type codeMetrics struct {
	count         atomic.Uint64
	bytes         atomic.Uint64
	totalDuration atomic.Uint64
	minDuration   atomic.Uint64
	maxDuration   atomic.Uint64
	buckets       [numBuckets]atomic.Uint64
}

// CodeMetrics is a snapshot of one status code
type CodeMetrics struct {
	Code    int                `json:"code"`
	Count   uint64             `json:"count"`
	Bytes   uint64             `json:"bytes"`
	Avg     time.Duration      `json:"avg"`
	Min     time.Duration      `json:"min"`
	Max     time.Duration      `json:"max"`
	Buckets [numBuckets]uint64 `json:"buckets"`
}

// Snapshot is the state of a Monitor at one point in time
type Snapshot struct {
	Total uint64        `json:"total"`
	Bytes uint64        `json:"bytes"`
	Codes []CodeMetrics `json:"codes"`
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Record adds one response of size bytes that took d to build
func (m *Monitor) Record(code int, size int, d time.Duration) {
	val, _ := m.codes.LoadOrStore(code, &codeMetrics{})
	cm := val.(*codeMetrics)

	ns := uint64(d.Nanoseconds())
	cm.count.Add(1)
	cm.bytes.Add(uint64(size))
	cm.totalDuration.Add(ns)
	updateMinMax(cm, ns)
	cm.buckets[bucket(d)].Add(1)

	m.total.Add(1)
	m.bytes.Add(uint64(size))
}

func updateMinMax(cm *codeMetrics, d uint64) {
	for {
		min := cm.minDuration.Load()
		if min != 0 && d >= min {
			break
		}
		if cm.minDuration.CompareAndSwap(min, d) {
			break
		}
	}
	for {
		max := cm.maxDuration.Load()
		if d <= max {
			break
		}
		if cm.maxDuration.CompareAndSwap(max, d) {
			break
		}
	}
}

func bucket(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d < bound {
			return i
		}
	}
	return numBuckets - 1
}

// Snapshot returns the current metrics, codes in ascending order
func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		Total: m.total.Load(),
		Bytes: m.bytes.Load(),
	}
	m.codes.Range(func(key, value any) bool {
		cm := value.(*codeMetrics)
		c := CodeMetrics{
			Code:  key.(int),
			Count: cm.count.Load(),
			Bytes: cm.bytes.Load(),
			Min:   time.Duration(cm.minDuration.Load()),
			Max:   time.Duration(cm.maxDuration.Load()),
		}
		if c.Count > 0 {
			c.Avg = time.Duration(cm.totalDuration.Load() / c.Count)
		}
		for i := range cm.buckets {
			c.Buckets[i] = cm.buckets[i].Load()
		}
		s.Codes = append(s.Codes, c)
		return true
	})
	sort.Slice(s.Codes, func(i, j int) bool { return s.Codes[i].Code < s.Codes[j].Code })
	return s
}

// Count returns how many responses carried code
func (m *Monitor) Count(code int) uint64 {
	if val, ok := m.codes.Load(code); ok {
		return val.(*codeMetrics).count.Load()
	}
	return 0
}
