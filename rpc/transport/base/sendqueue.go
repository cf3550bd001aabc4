package base

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the send queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// SendQueue is an unbounded lock-free multi-producer single-consumer queue.
// Worker goroutines Push serialized responses, the writer goroutine of the connection
// drains Recv. Items pushed by one producer are delivered in order; items of different
// producers are ordered by the completion of their Push.
type SendQueue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// NewSendQueue creates a queue and starts its delivery goroutine
func NewSendQueue[T any]() *SendQueue[T] {
	sentinel := &node[T]{}

	q := &SendQueue[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends an item. It returns false for nil items and after Close.
func (q *SendQueue[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// a failed CAS means another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.signal()
				return true
			}
		} else {
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin on low contention, yield on high contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// signal wakes the consumer. Holding mu orders the wake-up after the consumer's check.
func (q *SendQueue[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves items from the list to the output channel
func (q *SendQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the items are delivered on. It is closed after Close once
// every pushed item was delivered.
func (q *SendQueue[T]) Recv() <-chan *T {
	return q.out
}

// Close rejects further pushes. Items already queued are still delivered.
func (q *SendQueue[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// IsClosed reports whether Close was called
func (q *SendQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of queued items. It walks the list and is meant for diagnostics.
func (q *SendQueue[T]) Len() int {
	count := 0
	for current := q.head.Load().next.Load(); current != nil; current = current.next.Load() {
		count++
	}
	return count
}
