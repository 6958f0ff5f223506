package pools

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Task represents a unit of work
type Task func()

// WorkerPool implements a work-stealing goroutine pool.
//
// Submit never runs a task on the caller's goroutine: when every worker
// queue is full the task is parked in an unbounded backlog that workers
// drain before blocking. The event loop relies on this to stay free of
// connection I/O.
type WorkerPool struct {
	numWorkers int
	queues     []*workerQueue
	workers    []*worker
	closed     atomic.Bool
	wg         sync.WaitGroup

	backlog backlog
	wake    chan struct{}

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksParked    atomic.Uint64
		stealsSuccess  atomic.Uint64
		stealsFailed   atomic.Uint64
	}
}

// workerQueue is the bounded queue of a single worker
type workerQueue struct {
	tasks chan Task
	id    int
}

// worker represents a goroutine that processes tasks
type worker struct {
	id    int
	pool  *WorkerPool
	queue *workerQueue
}

// backlog is the overflow FIFO shared by all workers
type backlog struct {
	mu sync.Mutex
	q  *queue.Queue
}

func (b *backlog) push(t Task) {
	b.mu.Lock()
	b.q.Add(t)
	b.mu.Unlock()
}

func (b *backlog) pop() Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.Length() == 0 {
		return nil
	}
	return b.q.Remove().(Task)
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// NewWorkerPool creates a new work-stealing worker pool
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	pool := &WorkerPool{
		numWorkers: numWorkers,
		queues:     make([]*workerQueue, numWorkers),
		workers:    make([]*worker, numWorkers),
		backlog:    backlog{q: queue.New()},
		wake:       make(chan struct{}, numWorkers),
	}

	for i := 0; i < numWorkers; i++ {
		pool.queues[i] = &workerQueue{
			tasks: make(chan Task, 256),
			id:    i,
		}
	}

	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:    i,
			pool:  pool,
			queue: pool.queues[i],
		}
		pool.workers[i] = w
		go w.run()
	}

	return pool
}

// Submit submits a task to the pool using round-robin.
// It returns false once the pool is closed.
func (p *WorkerPool) Submit(task Task) bool {
	if task == nil || p.closed.Load() {
		return false
	}

	n := p.stats.tasksSubmitted.Add(1)
	idx := int(n % uint64(p.numWorkers))

	select {
	case p.queues[idx].tasks <- task:
		return true
	default:
	}

	idx = (idx + 1) % p.numWorkers
	select {
	case p.queues[idx].tasks <- task:
		return true
	default:
	}

	// All candidate queues full, park it
	p.stats.tasksParked.Add(1)
	p.backlog.push(task)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (w *worker) exec(task Task) {
	task()
	w.pool.stats.tasksCompleted.Add(1)
}

// worker.run is the main loop for a worker goroutine
func (w *worker) run() {
	defer w.pool.wg.Done()

	for {
		select {
		case task, ok := <-w.queue.tasks:
			if !ok {
				return
			}
			w.exec(task)
			continue
		default:
		}

		if w.trySteal() {
			continue
		}

		if task := w.pool.backlog.pop(); task != nil {
			w.exec(task)
			continue
		}

		select {
		case task, ok := <-w.queue.tasks:
			if !ok {
				return
			}
			w.exec(task)
		case <-w.pool.wake:
		}
	}
}

// trySteal attempts to steal work from another worker
func (w *worker) trySteal() bool {
	numWorkers := w.pool.numWorkers
	start := (w.id + 1) % numWorkers

	for i := 0; i < numWorkers-1; i++ {
		victim := w.pool.queues[(start+i)%numWorkers]

		select {
		case task, ok := <-victim.tasks:
			if ok {
				w.pool.stats.stealsSuccess.Add(1)
				w.exec(task)
				return true
			}
		default:
		}
	}

	w.pool.stats.stealsFailed.Add(1)
	return false
}

// Close stops accepting tasks and waits for the workers to exit. It must
// not race with Submit.
// Tasks still queued when Close is called may be dropped.
func (p *WorkerPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	for _, q := range p.queues {
		close(q.tasks)
	}
	p.wg.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	submitted := p.stats.tasksSubmitted.Load()
	completed := p.stats.tasksCompleted.Load()
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: submitted,
		TasksCompleted: completed,
		TasksPending:   submitted - completed,
		TasksParked:    p.stats.tasksParked.Load(),
		Backlog:        p.backlog.len(),
		StealsSuccess:  p.stats.stealsSuccess.Load(),
		StealsFailed:   p.stats.stealsFailed.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksPending   uint64 `json:"tasks_pending"`
	TasksParked    uint64 `json:"tasks_parked"`
	Backlog        int    `json:"backlog"`
	StealsSuccess  uint64 `json:"steals_success"`
	StealsFailed   uint64 `json:"steals_failed"`
}
