package auxtask

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// cpu arbitrates the expedited domain: at most one expedited task executes at a
// time and the highest-priority waiter always runs next. Preemption is
// cooperative; a running task gives way at its next checkpoint when a waiter of
// equal or higher priority is ready, which also keeps equal priorities from
// starving each other. Tasks whose threads the kernel schedules by priority
// never enter the arbiter.
type cpu struct {
	mu    sync.Mutex
	owner *waiter
	ready waitQueue
	seq   uint64
	// waiting mirrors ready.Len() so polling checkpoints skip the lock
	waiting atomic.Int32
}

type waiter struct {
	priority int
	seq      uint64
	index    int
	grant    chan struct{}
}

func newWaiter(priority int) *waiter {
	return &waiter{priority: priority, index: -1, grant: make(chan struct{}, 1)}
}

// acquire blocks until w owns the cpu
func (c *cpu) acquire(w *waiter) {
	c.mu.Lock()
	if c.owner == nil {
		c.owner = w
		c.mu.Unlock()
		return
	}
	c.enqueue(w)
	c.mu.Unlock()
	<-w.grant
}

// release gives the cpu to the best waiter, if any
func (c *cpu) release(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner != w {
		return
	}
	c.handOff()
}

// yield lets a waiter of equal or higher priority run and blocks until w is
// granted the cpu again. It reports whether w gave the cpu away.
func (c *cpu) yield(w *waiter) bool {
	if c.waiting.Load() == 0 {
		return false
	}
	c.mu.Lock()
	if c.owner != w || c.ready.Len() == 0 || c.ready[0].priority < w.priority {
		c.mu.Unlock()
		return false
	}
	c.enqueue(w)
	c.handOff()
	c.mu.Unlock()
	<-w.grant
	return true
}

// readyCount returns the number of tasks waiting for the cpu
func (c *cpu) readyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Len()
}

func (c *cpu) enqueue(w *waiter) {
	c.seq++
	w.seq = c.seq
	heap.Push(&c.ready, w)
	c.waiting.Add(1)
}

// handOff must be called with mu held
func (c *cpu) handOff() {
	c.owner = nil
	if c.ready.Len() == 0 {
		return
	}
	next := heap.Pop(&c.ready).(*waiter)
	c.waiting.Add(-1)
	c.owner = next
	next.grant <- struct{}{}
}

// waitQueue orders waiters by priority, then by arrival
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}
