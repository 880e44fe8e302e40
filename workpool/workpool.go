// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package workpool provides a bounded pool of worker goroutines with an
// unbounded task queue, and ordered lanes that run tasks serially on a pool.
//
// Workers are started on demand up to the pool size and exit when the queue
// is empty, so an idle pool holds no goroutines.
package workpool

import (
	"sync"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
)

// DefaultSize is the number of workers used when a non-positive size is
// requested.
const DefaultSize = 8

// A Pool runs tasks on a bounded number of goroutines.
type Pool struct {
	tasks *taskgroup.Group

	μ      sync.Mutex
	queue  *queue.Queue[func()]
	size   int
	active int
	closed bool
}

// New constructs a pool with at most n concurrent workers.
// If n ≤ 0, DefaultSize is used.
func New(n int) *Pool {
	if n <= 0 {
		n = DefaultSize
	}
	return &Pool{
		tasks: taskgroup.New(nil),
		queue: queue.New[func()](),
		size:  n,
	}
}

// Go adds task to the queue of p, and reports whether it was accepted.
// Go does not block; it reports false if p is closed.
func (p *Pool) Go(task func()) bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.closed {
		return false
	}
	p.queue.Add(task)
	if p.active < p.size {
		p.active++
		p.tasks.Go(p.worker)
	}
	return true
}

func (p *Pool) worker() error {
	for {
		p.μ.Lock()
		task, ok := p.queue.Pop()
		if !ok {
			p.active--
			p.μ.Unlock()
			return nil
		}
		p.μ.Unlock()
		task()
	}
}

// SetSize changes the maximum number of workers for p. Workers already
// running are not stopped, but no new workers start while the active count
// is at or above the new size. If n ≤ 0, DefaultSize is used.
func (p *Pool) SetSize(n int) {
	if n <= 0 {
		n = DefaultSize
	}
	p.μ.Lock()
	defer p.μ.Unlock()
	p.size = n
}

// Len reports the number of tasks waiting to run.
func (p *Pool) Len() int {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.queue.Len()
}

// Close stops p from accepting new tasks, and blocks until all tasks already
// accepted have finished. Close must not be called from within a task of p.
func (p *Pool) Close() {
	p.μ.Lock()
	p.closed = true
	p.μ.Unlock()
	p.tasks.Wait()
}

// A Lane runs tasks one at a time, in the order they were added, using the
// workers of a pool. At most one task from a lane runs at a time, and at most
// one worker is occupied by the lane.
type Lane struct {
	pool *Pool

	μ       sync.Mutex
	queue   *queue.Queue[func()]
	running bool
}

// NewLane constructs a new empty lane that runs its tasks on p.
func NewLane(p *Pool) *Lane {
	return &Lane{pool: p, queue: queue.New[func()]()}
}

// Go adds task to the end of the lane, and reports whether it was accepted.
// Go does not block.
func (l *Lane) Go(task func()) bool {
	l.μ.Lock()
	l.queue.Add(task)
	if l.running {
		l.μ.Unlock()
		return true
	}
	l.running = true
	l.μ.Unlock()

	if !l.pool.Go(l.drain) {
		l.μ.Lock()
		defer l.μ.Unlock()
		l.running = false
		for !l.queue.IsEmpty() {
			l.queue.Pop()
		}
		return false
	}
	return true
}

// Idle reports whether l has no queued or running tasks.
func (l *Lane) Idle() bool {
	l.μ.Lock()
	defer l.μ.Unlock()
	return !l.running
}

// drain runs tasks from the lane until it is empty. The check for an empty
// queue and the clearing of the running flag happen under one lock, so a
// task added concurrently either is seen here or starts a new drain.
func (l *Lane) drain() {
	for {
		l.μ.Lock()
		task, ok := l.queue.Pop()
		if !ok {
			l.running = false
			l.μ.Unlock()
			return
		}
		l.μ.Unlock()
		task()
	}
}
