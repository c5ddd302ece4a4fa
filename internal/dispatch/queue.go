// Package dispatch provides the execution contexts used by the playback
// controller and the streaming loader.
package dispatch

import "sync"

// Executor runs posted functions asynchronously.
type Executor interface {
	Post(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Post calls f(fn).
func (f ExecutorFunc) Post(fn func()) { f(fn) }

// Inline runs posted functions immediately on the caller's goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Queue runs posted functions one at a time, in order, on a dedicated
// goroutine. Post never blocks, so it is safe to call from inside a queued
// function.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool

	wake   chan struct{}
	stop   chan struct{}
	exited chan struct{}
}

// NewQueue starts a queue.
func NewQueue() *Queue {
	q := &Queue{
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go q.run()
	return q
}

// Post enqueues fn. Functions posted after Close are dropped.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the queue and waits for it. It returns false if the queue
// was closed before fn ran. Must not be called from a queued function.
func (q *Queue) Do(fn func()) bool {
	ran := make(chan struct{})
	q.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-q.exited:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Close stops the queue after the running function returns and drops the
// rest. It waits for the worker to exit. Must not be called from a queued
// function.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.exited
		return
	}
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	close(q.stop)
	<-q.exited
}

func (q *Queue) run() {
	defer close(q.exited)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
			case <-q.stop:
			}
			continue
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
