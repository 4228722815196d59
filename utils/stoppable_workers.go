// Package utils holds small concurrency helpers shared by the controller packages.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers is a collection of goroutines that can be stopped at a later time.
type StoppableWorkers interface {
	AddWorkers(...func(context.Context))
	Stop()
	Context() context.Context
	// Done is closed once Stop has been called or every worker has returned on its own.
	Done() <-chan struct{}
}

// stoppableWorkersImpl is the implementation of StoppableWorkers. The linter will complain if you
// try to make a copy of something that contains a sync.WaitGroup (and returning a value at the end
// of NewStoppableWorkers() would make a copy of it), so we do everything through the
// StoppableWorkers interface to avoid making copies (since interfaces do everything by pointer).
type stoppableWorkersImpl struct {
	mu                      sync.Mutex
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup

	running  int
	done     chan struct{}
	doneOnce sync.Once
}

// NewStoppableWorkers runs the functions in separate goroutines. They can be stopped later.
func NewStoppableWorkers(funcs ...func(context.Context)) StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	workers := &stoppableWorkersImpl{cancelCtx: cancelCtx, cancelFunc: cancelFunc, done: make(chan struct{})}
	workers.AddWorkers(funcs...)
	return workers
}

// AddWorkers starts up additional goroutines for each function passed in. If you call this after
// calling Stop(), it will return immediately without starting any new goroutines.
func (sw *stoppableWorkersImpl) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil { // We've already stopped everything.
		return
	}

	sw.activeBackgroundWorkers.Add(len(funcs))
	sw.running += len(funcs)
	for _, f := range funcs {
		f := f
		goutils.PanicCapturingGo(func() {
			defer sw.workerDone()
			f(sw.cancelCtx)
		})
	}
}

func (sw *stoppableWorkersImpl) workerDone() {
	sw.mu.Lock()
	sw.running--
	if sw.running == 0 {
		sw.closeDone()
	}
	sw.mu.Unlock()
	sw.activeBackgroundWorkers.Done()
}

func (sw *stoppableWorkersImpl) closeDone() {
	sw.doneOnce.Do(func() { close(sw.done) })
}

// Stop shuts down all the goroutines we started up.
func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	sw.cancelFunc()
	sw.mu.Unlock()

	sw.activeBackgroundWorkers.Wait()
	sw.closeDone()
}

// Context gets the context the workers are checking on. Using this function is expected to be
// rare: usually you shouldn't need to interact with the context directly.
func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.cancelCtx
}

func (sw *stoppableWorkersImpl) Done() <-chan struct{} {
	return sw.done
}
