package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerStopped is returned for work submitted after Stop.
var ErrWorkerStopped = errors.New("worker stopped")

// job is one closure queued for the worker goroutine.
type job struct {
	ctx   context.Context
	fn    func() any
	reply chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// VMWorker runs every closure that touches an Env on one goroutine. An
// Env is single-threaded and sessions share the worker, so handlers for
// different sessions are serialized too.
type VMWorker struct {
	jobs chan job
	quit chan struct{}
	once sync.Once
}

// NewVMWorker starts a worker.
func NewVMWorker() *VMWorker {
	w := &VMWorker{
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *VMWorker) loop() {
	for {
		select {
		case j := <-w.jobs:
			// A caller that gave up while the job was queued does not
			// want its side effects.
			if err := j.ctx.Err(); err != nil {
				j.reply <- jobResult{err: err}
				continue
			}
			j.reply <- run(j.fn)
		case <-w.quit:
			return
		}
	}
}

// run calls fn, turning a panic into an error so one bad request cannot
// take the worker down.
func run(fn func() any) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker panic: %v", r)
			res.err = fmt.Errorf("evaluation panicked: %v", r)
		}
	}()
	res.value = fn()
	return res
}

// Do runs fn on the worker and returns its value. It returns early with
// ctx's error if ctx ends first; a job already running still completes.
func (w *VMWorker) Do(ctx context.Context, fn func() any) (any, error) {
	select {
	case <-w.quit:
		return nil, ErrWorkerStopped
	default:
	}
	j := job{ctx: ctx, fn: fn, reply: make(chan jobResult, 1)}
	select {
	case w.jobs <- j:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.reply:
		return r.value, r.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends the worker. Queued jobs are dropped. Stop may be called more
// than once.
func (w *VMWorker) Stop() {
	w.once.Do(func() { close(w.quit) })
}
