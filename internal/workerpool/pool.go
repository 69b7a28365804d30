// Package workerpool provides a bounded, context-scoped goroutine pool used
// both by the evaluation dispatcher and the submission engine: one pool
// for evaluation, a distinct pool for submission.
package workerpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work submitted to a Pool.
type Task func(ctx context.Context)

// Pool runs submitted tasks across a fixed number of worker goroutines.
// Unlike a persisted job queue, tasks are purely in-memory and lost on
// Stop — callers needing durability (ticks, runs) persist before
// submitting the task, not after.
type Pool struct {
	workers int
	tasks   chan Task
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active int
}

// New creates a pool with the given worker count and an unbuffered intake.
// workers <= 0 is treated as 1: zero workers would mean the pool can never
// make progress.
func New(workers int, logger *zap.SugaredLogger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan Task),
		logger:  logger,
	}
}

// Start launches the worker goroutines, deriving their lifetime from parentCtx.
func (p *Pool) Start(parentCtx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx, p.cancel = context.WithCancel(parentCtx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.mu.Lock()
			p.active++
			p.mu.Unlock()

			task(p.ctx)

			p.mu.Lock()
			p.active--
			p.mu.Unlock()
		}
	}
}

// Submit enqueues a task for execution. Blocks until a worker picks it up
// or the pool's context is done, whichever comes first.
func (p *Pool) Submit(task Task) {
	select {
	case p.tasks <- task:
	case <-p.ctx.Done():
	}
}

// TrySubmit enqueues a task only if a worker is immediately available,
// reporting false instead of blocking. Used by the iteration loop so that a
// sensor dispatched while every worker is busy is skipped for this pass
// rather than queued.
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// ActiveCount reports how many workers are currently executing a task.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Stop cancels outstanding work and waits up to timeout for workers to
// drain. Returns false if the timeout elapsed first.
func (p *Pool) Stop(timeout time.Duration) bool {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		if p.logger != nil {
			p.logger.Warnw("worker pool did not drain before timeout", "timeout", timeout)
		}
		return false
	}
}
