// Package workerutil runs long-lived background goroutines (event loop, chat
// bridge, IPC accept loop) with panic recovery and bounded restarts.
package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultMaxRetries     = 10
)

// RecoveryOptions tunes RunWithPanicRecovery. Zero numeric fields take the
// defaults (100ms, 5s, 10 retries). MaxRetries of 1 means run once.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// OnPanic runs after each recovered panic, before the backoff wait.
	// attempt is 1-based.
	OnPanic func(worker string, attempt int)
	// OnFatal runs once the worker has panicked MaxRetries times.
	OnFatal func(worker string, maxRetries int)
	// IsShutdown stops restarts while the app is quitting.
	IsShutdown func() bool
}

func (opts RecoveryOptions) withDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-PANIC] MaxBackoff below InitialBackoff, raising it",
			"initialBackoff", opts.InitialBackoff, "maxBackoff", opts.MaxBackoff)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery starts fn on a goroutine tracked by wg. A panic is
// logged with its stack and fn is restarted after an exponential backoff. A
// normal return or a cancelled ctx ends the worker.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	opts = opts.withDefaults()
	wg.Go(func() {
		supervise(ctx, name, fn, opts)
	})
}

func supervise(ctx context.Context, name string, fn func(ctx context.Context), opts RecoveryOptions) {
	delay := opts.InitialBackoff
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if !RecoverTask(name, func() { fn(ctx) }) || ctx.Err() != nil {
			return
		}
		// The app context may already be gone; skip OnPanic during shutdown.
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-PANIC] shutting down, worker not restarted", "worker", name)
			return
		}
		slog.Warn("[DEBUG-PANIC] restarting worker", "worker", name, "attempt", attempt, "delay", delay)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt)
		}
		if attempt == opts.MaxRetries {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	slog.Error("[DEBUG-PANIC] worker gave up after repeated panics", "worker", name, "maxRetries", opts.MaxRetries)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

// RecoverTask runs fn and reports whether it panicked. The panic value and
// stack are logged under name.
func RecoverTask(name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] recovered from panic",
				"worker", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			panicked = true
		}
	}()
	fn()
	return false
}

// nextBackoff doubles current up to maxBackoff, guarding against overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
