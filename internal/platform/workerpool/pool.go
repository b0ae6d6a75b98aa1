// Package workerpool runs detached background work on a fixed number of
// goroutines. Each submission returns a Task whose completion can be awaited,
// so callers and tests observe a determinate end instead of sleeping.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Submit after Shutdown has begun.
var ErrClosed = errors.New("worker pool closed")

// Task is the completion handle of a submitted job.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Name returns the label given at submission.
func (t *Task) Name() string { return t.name }

// Done is closed when the job has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the job's error. Only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	task *Task
}

// Pool is a bounded set of workers fed by a bounded queue.
type Pool struct {
	jobs   chan job
	group  errgroup.Group
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New starts workers goroutines reading from a queue of queueSize jobs.
func New(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		jobs:   make(chan job, queueSize),
		logger: logger,
	}
	for range workers {
		p.group.Go(func() error {
			for j := range p.jobs {
				p.run(j)
			}
			return nil
		})
	}
	return p
}

func (p *Pool) run(j job) {
	defer close(j.task.done)
	defer func() {
		if r := recover(); r != nil {
			j.task.err = fmt.Errorf("task %s panicked: %v", j.task.name, r)
			if p.logger != nil {
				p.logger.ErrorContext(j.ctx, "background task panicked",
					"task", j.task.name,
					"panic", r,
				)
			}
		}
	}()
	j.task.err = j.fn(j.ctx)
}

// Submit enqueues fn to run with runCtx. It blocks while the queue is full
// until a slot frees or submitCtx ends.
func (p *Pool) Submit(submitCtx, runCtx context.Context, name string, fn func(ctx context.Context) error) (*Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	task := &Task{name: name, done: make(chan struct{})}
	select {
	case p.jobs <- job{ctx: runCtx, fn: fn, task: task}:
		return task, nil
	case <-submitCtx.Done():
		return nil, submitCtx.Err()
	}
}

// Shutdown stops accepting work and waits for queued jobs to drain or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
