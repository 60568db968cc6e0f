package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"overai/internal/workerutil"
)

// ErrPanicked is passed to a completion whose work function panicked.
var ErrPanicked = errors.New("request handler panicked")

// Dispatcher runs network calls off the event loop and posts their results
// back onto it.
//
// Requests are neither deduplicated nor ordered: two overlapping chats may
// complete in either order, and nothing is retried or cancelled early.
type Dispatcher struct {
	post   func(func()) bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher posts completions through post, typically eventloop.Loop.Post.
func NewDispatcher(post func(func()) bool) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{post: post, ctx: ctx, cancel: cancel}
}

// Go runs work on a new goroutine and then posts done(result, err) to the
// loop. done is dropped when the loop has stopped. A panic in work is
// reported to done as an error.
func (d *Dispatcher) Go(name string, work func(ctx context.Context) (string, error), done func(string, error)) {
	d.wg.Go(func() {
		var (
			out string
			err error
		)
		if workerutil.RecoverTask(name, func() { out, err = work(d.ctx) }) {
			err = ErrPanicked
		}
		if done == nil {
			return
		}
		if !d.post(func() { done(out, err) }) {
			slog.Debug("[DEBUG-llm] completion dropped: event loop stopped", "task", name)
		}
	})
}

// Close cancels in-flight calls and waits for their goroutines.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
