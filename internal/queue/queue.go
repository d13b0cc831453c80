// Package queue provides the admission-ordering layer for incoming commands.
// Commands dequeue by declared priority, FIFO within the same priority.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/harmonia-ai/harmonia/pkg/models"
)

// ErrQueueFull indicates a bounded queue rejected an enqueue under the
// reject policy.
var ErrQueueFull = errors.New("command queue full")

// ErrQueueClosed indicates the queue was closed while an operation waited.
var ErrQueueClosed = errors.New("command queue closed")

// FullPolicy selects the behavior of Enqueue when a bounded queue is full.
type FullPolicy int

const (
	// FullPolicyBlock makes Enqueue wait until capacity frees.
	FullPolicyBlock FullPolicy = iota
	// FullPolicyReject makes Enqueue fail immediately with ErrQueueFull.
	FullPolicyReject
)

// item pairs a command with its admission sequence number. The sequence
// number breaks ties when two commands share a priority and timestamp.
type item struct {
	cmd *models.QueuedCommand
	seq uint64
}

// commandHeap orders items by (priority key, enqueue time, sequence).
type commandHeap []*item

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	ka, kb := a.cmd.Priority.QueueKey(), b.cmd.Priority.QueueKey()
	if ka != kb {
		return ka < kb
	}
	if !a.cmd.EnqueuedAt.Equal(b.cmd.EnqueuedAt) {
		return a.cmd.EnqueuedAt.Before(b.cmd.EnqueuedAt)
	}
	return a.seq < b.seq
}

func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a priority queue of pending commands with an active-set tracking
// commands handed to the dispatcher but not yet marked complete. Enqueue and
// Dequeue are atomic with respect to each other under concurrent producers
// and consumers.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	heap     commandHeap
	active   map[string]*models.QueuedCommand
	capacity int
	policy   FullPolicy
	seq      uint64
	closed   bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the number of pending commands. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithFullPolicy selects the enqueue behavior for a full bounded queue.
func WithFullPolicy(p FullPolicy) Option {
	return func(q *Queue) {
		q.policy = p
	}
}

// New creates a command queue.
func New(opts ...Option) *Queue {
	q := &Queue{active: make(map[string]*models.QueuedCommand)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue admits a command. For an unbounded queue this never blocks. For a
// bounded queue the configured policy decides between waiting for capacity
// and failing with ErrQueueFull.
func (q *Queue) Enqueue(cmd *models.QueuedCommand) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if q.capacity > 0 && len(q.heap) >= q.capacity {
		if q.policy == FullPolicyReject {
			return ErrQueueFull
		}
		for len(q.heap) >= q.capacity {
			q.notFull.Wait()
			if q.closed {
				return ErrQueueClosed
			}
		}
	}

	q.seq++
	heap.Push(&q.heap, &item{cmd: cmd, seq: q.seq})
	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the highest-priority command, blocking until
// one is available, the context is canceled, or the queue is closed. The
// returned command joins the active set until MarkComplete is called.
func (q *Queue) Dequeue(ctx context.Context) (*models.QueuedCommand, error) {
	// A context watcher wakes the cond wait on cancellation; the done flag
	// stops the watcher once we return.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.notEmpty.Wait()
	}

	it := heap.Pop(&q.heap).(*item)
	q.active[it.cmd.ID] = it.cmd
	q.notFull.Signal()
	return it.cmd, nil
}

// MarkComplete removes the command from the active set. Forgetting to call
// it leaks the active-set entry but does not affect future dequeues.
func (q *Queue) MarkComplete(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, id)
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// ActiveCount returns the number of dequeued commands not yet completed.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Close rejects further enqueues and wakes blocked waiters with
// ErrQueueClosed. Commands already queued can still be drained by Dequeue,
// and in-flight dispatches can still MarkComplete.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
