// Package engine hosts the single cooperative worker loop that a mount's
// folder-tree work is serialized on: folder listings and the Later
// scheduler's regular tick, which fires the AutoStore backstop flushes
// (debounce-timer flushes run on the store's own goroutine). FUSE callbacks
// run on their own kernel-dispatched goroutines and never touch that state
// directly; instead they call RunSync, which hands a closure to the engine
// loop over a channel and blocks until it has run there and produced a
// result. This is the Go analogue of example-main.py's thread_loop /
// wait_async bridge, where a background thread runs an asyncio event loop
// and FUSE request-handling threads submit coroutines to it with
// asyncio.run_coroutine_threadsafe and block on the returned future.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ash2txt/htreefs/internal/later"
	"github.com/ash2txt/htreefs/internal/logger"
)

// job is one unit of work submitted to the engine's worker loop. An
// ordinary job runs with the loop's own context and is awaited to
// completion on shutdown. A cancel-on-quit job carries its own cancellable
// context, derived from the context it was submitted with, and is
// cancelled -- rather than awaited to natural completion -- as the first
// step of Shutdown. Which class a job belongs to is carried as a flag on
// the job itself, matching the original loop's "the distinction is carried
// as an attribute/flag on the task."
type job struct {
	fn           func(ctx context.Context) (any, error)
	ctx          context.Context
	cancel       context.CancelFunc
	result       chan jobResult
	cancelOnQuit bool
}

type jobResult struct {
	v   any
	err error
}

// Engine runs one worker goroutine that serializes access to the folder
// tree and drives the Later scheduler's tick.
type Engine struct {
	jobs         chan *job
	later        *later.Later
	tickInterval time.Duration
	log          *logger.Logger

	stop    chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	exiting  bool
	pending  map[*job]struct{} // cancel-on-quit jobs not yet completed
	submitWG sync.WaitGroup    // in-flight attempts to enqueue into jobs
}

// New returns an Engine whose loop has not yet been started; call Run to
// start it. queueSize bounds how many RunSync calls may be queued awaiting
// the worker goroutine before callers block submitting a new one.
func New(queueSize int, lt *later.Later, tickInterval time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		jobs:         make(chan *job, queueSize),
		later:        lt,
		tickInterval: tickInterval,
		log:          log,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		pending:      make(map[*job]struct{}),
	}
}

// Run drives the engine's single worker loop until ctx is cancelled or
// Shutdown is called. It is intended to run for the lifetime of the mount
// in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain(ctx)
			return
		case <-e.stop:
			e.drain(ctx)
			return
		case j := <-e.jobs:
			e.runJob(ctx, j)
		case <-ticker.C:
			if e.later != nil {
				e.later.DoRegularly(ctx, false)
			}
		}
	}
}

// drain runs every job still sitting in the queue at the moment the loop is
// asked to stop. Without this, a job a submitter enqueues in the same
// select round the stop signal fires could be passed over -- select chooses
// pseudo-randomly among ready cases -- stranding that submitter's RunSync
// call blocked forever on a result nobody will ever send. Draining
// guarantees every job that made it into the channel runs exactly once,
// matching the shutdown protocol's "remaining non-done tasks are awaited."
func (e *Engine) drain(ctx context.Context) {
	for {
		select {
		case j := <-e.jobs:
			e.runJob(ctx, j)
		default:
			return
		}
	}
}

func (e *Engine) runJob(ctx context.Context, j *job) {
	runCtx := ctx
	if j.ctx != nil {
		runCtx = j.ctx
	}
	defer func() {
		if j.cancelOnQuit {
			e.mu.Lock()
			delete(e.pending, j)
			e.mu.Unlock()
		}
		if r := recover(); r != nil {
			e.deliver(j, jobResult{err: fmt.Errorf("engine: job panicked: %v", r)})
		}
	}()
	v, err := j.fn(runCtx)
	e.deliver(j, jobResult{v: v, err: err})
}

func (e *Engine) deliver(j *job, r jobResult) {
	if j.result != nil {
		j.result <- r
	}
}

// trySubmit enqueues j onto the worker loop's job channel. Unless
// privileged, it refuses once the engine has started shutting down. A
// cancel-on-quit job is registered in e.pending before the enqueue attempt
// and deregistered (with its context cancelled) if the attempt fails, so
// Shutdown never has to distinguish "queued" from "never submitted."
func (e *Engine) trySubmit(ctx context.Context, j *job, privileged bool) bool {
	e.mu.Lock()
	if e.exiting && !privileged {
		e.mu.Unlock()
		if j.cancelOnQuit {
			j.cancel()
		}
		return false
	}
	if j.cancelOnQuit {
		e.pending[j] = struct{}{}
	}
	e.submitWG.Add(1)
	e.mu.Unlock()
	defer e.submitWG.Done()

	ok := false
	select {
	case e.jobs <- j:
		ok = true
	case <-ctx.Done():
	case <-e.stop:
	}

	if !ok && j.cancelOnQuit {
		e.mu.Lock()
		delete(e.pending, j)
		e.mu.Unlock()
		j.cancel()
	}
	return ok
}

// RunSync submits fn to run on the engine's worker goroutine and blocks the
// calling goroutine until it completes, returning its result. This is the
// bridge every FUSE callback uses to touch folder-tree state safely from an
// arbitrary kernel-dispatched goroutine. fn is an ordinary task: once
// submitted it is awaited to completion on Shutdown rather than cancelled.
func (e *Engine) RunSync(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return e.run(ctx, fn, false)
}

func (e *Engine) run(ctx context.Context, fn func(ctx context.Context) (any, error), privileged bool) (any, error) {
	j := &job{fn: fn, result: make(chan jobResult, 1)}
	if !e.trySubmit(ctx, j, privileged) {
		return nil, fmt.Errorf("engine: shut down")
	}

	select {
	case r := <-j.result:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitCancelOnQuit enqueues fn to run on the worker loop without blocking
// the caller for a result, as a cancel-on-quit task: fn's context (derived
// from ctx) is cancelled, and fn is no longer waited on to finish
// naturally, as soon as Shutdown begins. Intended for background work that
// should not hold up an orderly shutdown.
func (e *Engine) SubmitCancelOnQuit(ctx context.Context, fn func(ctx context.Context) (any, error)) {
	taskCtx, cancel := context.WithCancel(ctx)
	j := &job{fn: fn, ctx: taskCtx, cancel: cancel, cancelOnQuit: true}
	e.trySubmit(context.Background(), j, false)
}

// Shutdown implements the shutdown protocol: (1) mark the engine exiting so
// no new ordinary or cancel-on-quit task is accepted; (2) cancel every
// outstanding cancel-on-quit task; (3) force one Later tick so every
// AutoStore flushes; (4) close the loop and join the worker goroutine,
// which drains and runs every job still queued -- including the
// just-cancelled cancel-on-quit ones, which return promptly once their
// context is done, and any ordinary tasks, which are awaited to completion.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	e.exiting = true
	for j := range e.pending {
		j.cancel()
	}
	e.mu.Unlock()

	if e.later != nil {
		_, err := e.run(ctx, func(ctx context.Context) (any, error) {
			e.later.DoRegularly(ctx, true)
			return nil, nil
		}, true)
		if err != nil && e.log != nil {
			e.log.Warn("engine: forced flush during shutdown failed", "error", err)
		}
	}

	e.submitWG.Wait()
	close(e.stop)
	<-e.stopped
}
