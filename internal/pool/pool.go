// Package pool provides a bounded set of concurrency slots handed out in
// priority order.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errors.New("pool closed")

// Slot is one unit of concurrency. It must be released exactly once.
type Slot struct {
	id       uint64
	priority int
	released bool
}

// ID returns the slot's acquisition sequence number.
func (s *Slot) ID() uint64 { return s.id }

// Priority returns the clamped priority the slot was acquired with.
func (s *Slot) Priority() int { return s.priority }

type waiter struct {
	ready    chan *Slot
	priority int
}

// Pool hands out at most Capacity slots. Waiters are served lowest priority
// value first and FIFO within a priority.
type Pool struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiting  int
	nextID   uint64
	closed   bool
	queues   []*list.List
}

// New builds a pool. capacity and priorityRange are raised to 1 if smaller.
func New(capacity, priorityRange int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	if priorityRange < 1 {
		priorityRange = 1
	}
	queues := make([]*list.List, priorityRange)
	for i := range queues {
		queues[i] = list.New()
	}
	return &Pool{capacity: capacity, queues: queues}
}

// Capacity returns the maximum number of concurrent slots.
func (p *Pool) Capacity() int { return p.capacity }

// PriorityRange returns the number of priority levels.
func (p *Pool) PriorityRange() int { return len(p.queues) }

// InUse returns the number of slots currently held.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Waiting returns the number of blocked Acquire calls.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

func (p *Pool) clamp(priority int) int {
	if priority < 0 {
		return 0
	}
	if priority >= len(p.queues) {
		return len(p.queues) - 1
	}
	return priority
}

// Acquire blocks until a slot is available, ctx is done, or the pool closes.
func (p *Pool) Acquire(ctx context.Context, priority int) (*Slot, error) {
	priority = p.clamp(priority)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.inUse < p.capacity && p.waiting == 0 {
		slot := p.grantLocked(priority)
		p.mu.Unlock()
		return slot, nil
	}
	w := &waiter{ready: make(chan *Slot, 1), priority: priority}
	elem := p.queues[priority].PushBack(w)
	p.waiting++
	p.mu.Unlock()

	select {
	case slot, ok := <-w.ready:
		if !ok {
			return nil, ErrClosed
		}
		return slot, nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case slot, ok := <-w.ready:
			// Granted concurrently with cancellation; hand it back.
			p.mu.Unlock()
			if ok {
				p.Release(slot)
			}
		default:
			p.queues[priority].Remove(elem)
			p.waiting--
			p.mu.Unlock()
		}
		return nil, fmt.Errorf("acquire slot: %w", ctx.Err())
	}
}

// Release returns slot to the pool and wakes the next waiter, if any.
// Releasing the same slot twice panics.
func (p *Pool) Release(slot *Slot) {
	if slot == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot.released {
		panic(fmt.Sprintf("pool: slot %d released twice", slot.id))
	}
	slot.released = true
	p.inUse--

	if p.closed {
		return
	}
	for _, q := range p.queues {
		front := q.Front()
		if front == nil {
			continue
		}
		q.Remove(front)
		p.waiting--
		w := front.Value.(*waiter) //nolint:forcetypeassert // only waiters are queued
		w.ready <- p.grantLocked(w.priority)
		return
	}
}

// Close wakes every waiter with ErrClosed. Held slots can still be released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, q := range p.queues {
		for e := q.Front(); e != nil; e = e.Next() {
			close(e.Value.(*waiter).ready) //nolint:forcetypeassert // only waiters are queued
		}
		q.Init()
	}
	p.waiting = 0
}

func (p *Pool) grantLocked(priority int) *Slot {
	p.inUse++
	p.nextID++
	return &Slot{id: p.nextID, priority: priority}
}
