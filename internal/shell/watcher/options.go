package watcher

import (
	"log/slog"
	"time"

	"github.com/artpar/stagehand/internal/core/logs"
)

// DefaultWaitForLogsTimeout bounds the wait for one more line on Close.
const DefaultWaitForLogsTimeout = 10 * time.Second

// Options configures a Watcher.
type Options struct {
	// Stream filters, passed to `docker compose logs`.
	Tail        int
	Follow      bool
	NoLogPrefix bool
	Timestamps  bool
	Since       string
	Until       string

	// WaitForFirstLog makes Open block until the first line was captured.
	WaitForFirstLog bool
	// WaitForLogs makes a clean Close wait for one more line, at most
	// WaitForLogsTimeout. Running out of time is not an error.
	WaitForLogs        bool
	WaitForLogsTimeout time.Duration
	// CaptureStdout includes stdout lines in failure excerpts; otherwise only
	// stderr lines are shown.
	CaptureStdout bool
	// AppendToError makes Close wrap a failure of the watched scope in a
	// ScopeError carrying the captured logs.
	AppendToError bool
	// OnLog receives every line as it is captured.
	OnLog func(logs.Line)

	Logger *slog.Logger
}

// DefaultOptions follows the stream, waits for the first line and attaches
// all captured lines to failures.
func DefaultOptions() Options {
	return Options{
		Follow:             true,
		WaitForFirstLog:    true,
		WaitForLogsTimeout: DefaultWaitForLogsTimeout,
		CaptureStdout:      true,
		AppendToError:      true,
	}
}

// Option adjusts Options.
type Option func(*Options)

// WithTail limits the history replayed on open to n lines per container.
func WithTail(n int) Option {
	return func(o *Options) { o.Tail = n }
}

// WithFollow sets whether the stream keeps following new output.
func WithFollow(follow bool) Option {
	return func(o *Options) { o.Follow = follow }
}

// WithTimestamps prefixes lines with their timestamp.
func WithTimestamps() Option {
	return func(o *Options) { o.Timestamps = true }
}

// WithoutLogPrefix drops the "service-1  | " prefix.
func WithoutLogPrefix() Option {
	return func(o *Options) { o.NoLogPrefix = true }
}

// WithTimeRange limits the stream to [since, until]. Empty bounds are open.
func WithTimeRange(since, until string) Option {
	return func(o *Options) {
		o.Since = since
		o.Until = until
	}
}

// WithWaitForFirstLog sets whether Open waits for the first line.
func WithWaitForFirstLog(wait bool) Option {
	return func(o *Options) { o.WaitForFirstLog = wait }
}

// WithWaitForLogs makes a clean Close wait up to timeout for one more line.
func WithWaitForLogs(timeout time.Duration) Option {
	return func(o *Options) {
		o.WaitForLogs = true
		if timeout > 0 {
			o.WaitForLogsTimeout = timeout
		}
	}
}

// WithCaptureStdout sets whether stdout lines appear in failure excerpts.
func WithCaptureStdout(capture bool) Option {
	return func(o *Options) { o.CaptureStdout = capture }
}

// WithAppendToError sets whether scope failures are wrapped in a ScopeError.
func WithAppendToError(appendLogs bool) Option {
	return func(o *Options) { o.AppendToError = appendLogs }
}

// WithOnLog forwards every captured line to fn from the watcher's goroutine.
func WithOnLog(fn func(logs.Line)) Option {
	return func(o *Options) { o.OnLog = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}
