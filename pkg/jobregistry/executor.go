package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrExecutorClosed is returned by Submit after Close.
var ErrExecutorClosed = errors.New("executor is closed")

// RunFunc executes one job to completion.
type RunFunc func(ctx context.Context, jobID string) error

// Executor runs submitted jobs on a bounded pool of goroutines.
//
// Each job runs on exactly one worker. Jobs run on a context detached from
// the submitter, so a caller that returns (or an HTTP request that ends)
// does not cancel in-flight work.
type Executor struct {
	run     RunFunc
	sem     chan struct{}
	wg      sync.WaitGroup
	onError func(jobID string, err error)

	mu     sync.Mutex
	closed bool

	queued  atomic.Int64
	running atomic.Int64
}

// NewExecutor creates an executor with the given worker count (minimum 1).
// onError, if non-nil, receives run errors and recovered panics.
func NewExecutor(workers int, run RunFunc, onError func(jobID string, err error)) *Executor {
	if workers <= 0 {
		workers = 1
	}
	return &Executor{
		run:     run,
		sem:     make(chan struct{}, workers),
		onError: onError,
	}
}

// Submit schedules jobID and returns without waiting for a worker.
func (e *Executor) Submit(jobID string) error {
	if e == nil || e.run == nil {
		return fmt.Errorf("executor is not initialized")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	e.queued.Add(1)
	go func() {
		defer e.wg.Done()
		e.sem <- struct{}{}
		e.queued.Add(-1)
		e.running.Add(1)
		defer func() {
			e.running.Add(-1)
			<-e.sem
		}()
		e.execute(jobID)
	}()
	return nil
}

func (e *Executor) execute(jobID string) {
	defer func() {
		if r := recover(); r != nil {
			e.report(jobID, fmt.Errorf("job panicked: %v", r))
		}
	}()
	if err := e.run(context.Background(), jobID); err != nil {
		e.report(jobID, err)
	}
}

func (e *Executor) report(jobID string, err error) {
	if e.onError != nil {
		e.onError(jobID, err)
	}
}

// Wait blocks until every submitted job has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close stops accepting jobs and waits for in-flight ones.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// Stats reports queued and running job counts.
func (e *Executor) Stats() (queued, running int64) {
	return e.queued.Load(), e.running.Load()
}
