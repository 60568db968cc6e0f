// Package eventloop serializes application work onto one goroutine.
//
// Hotkey events, timer ticks, IPC commands, tray clicks and background
// completions are all posted here so the hotkey matcher and the visibility
// controller never run concurrently.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"overai/internal/workerutil"
)

const defaultQueueSize = 64

// ErrStopped is returned when work is submitted to a stopped loop.
var ErrStopped = errors.New("event loop stopped")

// Loop runs posted funcs one at a time in FIFO order.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New returns a loop with a queue of queueSize pending tasks. Non-positive
// sizes use 64.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Loop{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the loop goroutine. It runs until ctx is cancelled or Stop
// is called. Calling Start twice is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		slog.Debug("[DEBUG-loop] Start called twice, ignoring")
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	workerutil.RunWithPanicRecovery(ctx, "event-loop", &l.wg, l.run, workerutil.RecoveryOptions{
		IsShutdown: l.stopped.Load,
		OnFatal: func(worker string, maxRetries int) {
			slog.Error("[DEBUG-loop] event loop stopped permanently", "worker", worker, "maxRetries", maxRetries)
			l.Stop()
		},
	})
	go func() {
		<-ctx.Done()
		l.Stop()
	}()
}

func (l *Loop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case fn := <-l.tasks:
			// A panicking task is logged and the loop moves on.
			workerutil.RecoverTask("event-loop-task", fn)
		}
	}
}

// Post queues fn. It blocks while the queue is full and returns false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil || l.stopped.Load() {
		return false
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for its result. It must not be called
// from a task already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	posted := l.Post(func() {
		var err error
		if workerutil.RecoverTask("event-loop-call", func() { err = fn() }) {
			err = errors.New("task panicked")
		}
		result <- err
	})
	if !posted {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait for event loop: %w", ctx.Err())
	case <-l.done:
		// The task may have finished just before the loop stopped.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Every posts fn every d until ctx is done or the loop stops. A tick is
// skipped while the previous one is still queued.
func (l *Loop) Every(ctx context.Context, d time.Duration, fn func()) {
	if d <= 0 || fn == nil {
		slog.Warn("[DEBUG-loop] Every called with invalid arguments", "interval", d, "nilFn", fn == nil)
		return
	}
	var pending atomic.Bool
	l.wg.Go(func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case <-ticker.C:
				if !pending.CompareAndSwap(false, true) {
					continue
				}
				if !l.Post(func() {
					defer pending.Store(false)
					fn()
				}) {
					return
				}
			}
		}
	})
}

// Stop ends the loop and waits for its goroutines. Queued tasks that have
// not started are dropped. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		close(l.done)
		if l.cancel != nil {
			l.cancel()
		}
	})
}

// Wait blocks until the loop goroutines have exited or timeout elapses. It
// reports whether they exited.
func (l *Loop) Wait(timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
		return true
	case <-timer.C:
		slog.Warn("[DEBUG-loop] timed out waiting for event loop to exit", "timeout", timeout)
		return false
	}
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} { return l.done }
