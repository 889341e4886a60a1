package uprobe

import (
	"sync"
	"time"
)

// threadQueues runs hits through one FIFO worker per thread, so a handler
// blocking one thread never delays another. A worker that sees no hit for
// idle exits; the next hit for that thread starts a new one.
type threadQueues struct {
	size   int
	idle   time.Duration
	handle func(record)

	mu     sync.Mutex
	queues map[uint64]chan record
	closed bool
	wg     sync.WaitGroup
}

func newThreadQueues(size int, idle time.Duration, handle func(record)) *threadQueues {
	return &threadQueues{
		size:   size,
		idle:   idle,
		handle: handle,
		queues: make(map[uint64]chan record),
	}
}

// push queues rec for its thread. It reports false when the queue is full
// or the queues are closed.
func (q *threadQueues) push(rec record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	tid := rec.tid()
	ch, ok := q.queues[tid]
	if !ok {
		ch = make(chan record, q.size)
		q.queues[tid] = ch
		q.wg.Add(1)
		go q.run(tid, ch)
	}
	select {
	case ch <- rec:
		return true
	default:
		return false
	}
}

// active returns the number of running workers.
func (q *threadQueues) active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}

func (q *threadQueues) run(tid uint64, ch chan record) {
	defer q.wg.Done()
	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			q.handle(rec)
			timer.Reset(q.idle)
		case <-timer.C:
			// push sends under mu, so an empty queue here stays empty.
			q.mu.Lock()
			if len(ch) == 0 && q.queues[tid] == ch {
				delete(q.queues, tid)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			timer.Reset(q.idle)
		}
	}
}

// close stops every worker after its queued hits and waits for them.
func (q *threadQueues) close() {
	q.mu.Lock()
	q.closed = true
	for tid, ch := range q.queues {
		close(ch)
		delete(q.queues, tid)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
