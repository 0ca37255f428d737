// Package watcher captures the logs of compose services while caller code
// runs, so that a failure inside the watched scope can be reported together
// with what the services printed.
//
// A Watcher owns at most one background goroutine reading
// `docker compose logs`. Open starts it (optionally waiting for the first
// line), Close stops it and waits until it has exited.
//
//	w := d.NewWatcher("web")
//	err := w.Watch(ctx, func(ctx context.Context) error {
//	    return callTheService(ctx)
//	})
//	// err is a *ScopeError carrying the web logs if callTheService failed
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/artpar/stagehand/internal/core/logs"
	"github.com/artpar/stagehand/internal/shell/composecli"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrAlreadyOpen = errors.New("watcher is already open")
	ErrStreamEnded = errors.New("log stream ended before the first line")
)

// ScopeError is a failure of the watched scope together with the logs the
// watcher captured while it ran.
type ScopeError struct {
	Err           error
	Services      []string
	Logs          []logs.Line
	CaptureStdout bool
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%v\n\n%s", e.Err, logs.FormatCaptured(e.Services, e.Excerpt()))
}

func (e *ScopeError) Unwrap() error {
	return e.Err
}

// Excerpt returns the captured lines shown in the message.
func (e *ScopeError) Excerpt() []string {
	return logs.Excerpt(e.Logs, e.CaptureStdout)
}

// =============================================================================
// Watcher
// =============================================================================

// State is the position of a Watcher in its session.
type State string

const (
	StateIdle     State = "idle"
	StateWatching State = "watching" // goroutine started, waiting for first line
	StateArmed    State = "armed"    // Open returned
	StateDraining State = "draining" // Close in progress
)

// LogSource streams service logs.
type LogSource interface {
	StreamLogs(ctx context.Context, opts composecli.LogsOptions) logs.Stream
}

// Provider returns the source to read from when a session opens.
type Provider func() (LogSource, error)

// Static returns a Provider that always yields source.
func Static(source LogSource) Provider {
	return func() (LogSource, error) { return source, nil }
}

// Watcher is a reusable log capture session for one or more services.
type Watcher struct {
	provider Provider
	services []string
	opts     Options
	logger   *slog.Logger

	buf logs.Buffer

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	next    *logs.Signal
	taskErr error
}

// New creates an idle Watcher.
func New(provider Provider, services []string, opts ...Option) *Watcher {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.WaitForLogsTimeout <= 0 {
		o.WaitForLogsTimeout = DefaultWaitForLogsTimeout
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		provider: provider,
		services: slices.Clone(services),
		opts:     o,
		logger:   logger.With("component", "log_watcher", "services", services),
		state:    StateIdle,
	}
}

// Services returns the watched services.
func (w *Watcher) Services() []string {
	return slices.Clone(w.services)
}

// State returns the current session state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Logs returns a copy of the lines captured in the current or last session.
// While the session is open the result may already be outdated.
func (w *Watcher) Logs() []logs.Line {
	return w.buf.Snapshot()
}

// Open clears the captured lines and starts reading the log stream. The stream
// runs until Close; ctx only bounds the wait for the first line.
func (w *Watcher) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrAlreadyOpen
	}
	source, err := w.provider()
	if err != nil {
		w.mu.Unlock()
		return err
	}

	w.buf.Reset()
	first := logs.NewSignal()
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	w.cancel = cancel
	w.done = done
	w.next = logs.NewSignal()
	w.taskErr = nil
	w.state = StateWatching
	w.mu.Unlock()

	go w.run(taskCtx, source, first, done)

	if w.opts.WaitForFirstLog {
		select {
		case <-first.Done():
		case <-done:
			if !first.Fired() {
				err := w.release()
				if err == nil {
					err = ErrStreamEnded
				}
				return err
			}
		case <-ctx.Done():
			_ = w.release()
			return ctx.Err()
		}
		w.logger.Debug("first log line received")
	}

	w.mu.Lock()
	w.next = logs.NewSignal()
	w.state = StateArmed
	w.mu.Unlock()
	return nil
}

// Close ends the session. When scopeErr is non-nil and AppendToError is set,
// the goroutine is stopped and a *ScopeError wrapping scopeErr is returned.
// Otherwise Close optionally waits for one more line, stops the goroutine and
// returns scopeErr, or the error that ended the stream.
func (w *Watcher) Close(ctx context.Context, scopeErr error) error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return scopeErr
	}
	w.state = StateDraining
	next, done := w.next, w.done
	w.mu.Unlock()

	if scopeErr != nil && w.opts.AppendToError {
		if taskErr := w.release(); taskErr != nil {
			w.logger.Warn("log stream failed", "error", taskErr)
		}
		return &ScopeError{
			Err:           scopeErr,
			Services:      w.Services(),
			Logs:          w.Logs(),
			CaptureStdout: w.opts.CaptureStdout,
		}
	}

	if scopeErr == nil && w.opts.WaitForLogs {
		timer := time.NewTimer(w.opts.WaitForLogsTimeout)
		select {
		case <-next.Done():
		case <-done:
		case <-ctx.Done():
		case <-timer.C:
			w.logger.Debug("no further logs before timeout", "timeout", w.opts.WaitForLogsTimeout)
		}
		timer.Stop()
	}

	taskErr := w.release()
	if scopeErr != nil {
		if taskErr != nil {
			w.logger.Warn("log stream failed", "error", taskErr)
		}
		return scopeErr
	}
	return taskErr
}

// Watch opens the watcher, runs fn and closes the watcher with fn's result.
// The goroutine is released even if fn panics.
func (w *Watcher) Watch(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := w.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = w.release()
			panic(r)
		}
	}()
	return w.Close(ctx, fn(ctx))
}

// run reads the stream until it ends or the session is cancelled.
func (w *Watcher) run(ctx context.Context, source LogSource, first *logs.Signal, done chan struct{}) {
	defer close(done)

	stream := source.StreamLogs(ctx, composecli.LogsOptions{
		Services:    w.services,
		Tail:        w.opts.Tail,
		Follow:      w.opts.Follow,
		NoLogPrefix: w.opts.NoLogPrefix,
		Timestamps:  w.opts.Timestamps,
		Since:       w.opts.Since,
		Until:       w.opts.Until,
	})
	for line, err := range stream {
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				w.mu.Lock()
				w.taskErr = err
				w.mu.Unlock()
			}
			return
		}
		w.buf.Append(line)
		if w.opts.OnLog != nil {
			w.opts.OnLog(line)
		}
		first.Fire()
		w.mu.Lock()
		next := w.next
		w.mu.Unlock()
		next.Fire()
	}
}

// release cancels the goroutine, waits for it to exit and returns the error
// that ended the stream, if any.
func (w *Watcher) release() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.taskErr
	w.cancel = nil
	w.done = nil
	w.taskErr = nil
	w.state = StateIdle
	return err
}
