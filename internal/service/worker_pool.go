package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// WorkerPool bounds how many CPU heavy jobs (image decode and resize) run at
// once. Callers block in Do until a worker has finished their job.
type WorkerPool struct {
	workers   int
	jobQueue  chan job
	once      sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

type job struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan job),
		closed:   make(chan struct{}),
	}
}

// Start launches the workers. Calling it again is a no-op.
func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

// Workers returns the configured concurrency.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) worker() {
	for {
		select {
		case <-wp.closed:
			return
		case j := <-wp.jobQueue:
			j.done <- wp.run(j)
		}
	}
}

func (wp *WorkerPool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	// The caller may have given up while the job sat in the queue.
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn()
}

// Do runs fn on a worker and returns its error. It returns ctx.Err() if no
// worker picks the job up before ctx is done.
func (wp *WorkerPool) Do(ctx context.Context, fn func() error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case wp.jobQueue <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.closed:
		return fmt.Errorf("worker pool is closed")
	}

	return <-j.done
}

// Close stops the workers once their current job is done.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() { close(wp.closed) })
}
