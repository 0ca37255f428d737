// Package status reports the progress of lifecycle phases. Each phase gets a
// Helper that brackets its output between Start and Done.
package status

import (
	"context"
	"log/slog"
	"time"
)

// Logger hands out a Helper per phase.
type Logger interface {
	Status(label string) Helper
}

// Helper reports the progress of one phase.
type Helper interface {
	Start()
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
	// Print forwards one line of command output.
	Print(line string)
	// Done closes the phase; a non-nil err marks it failed.
	Done(err error)
}

// =============================================================================
// slog Sink
// =============================================================================

// SlogLogger writes phase progress as structured log records.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a SlogLogger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Status returns a Helper whose records carry the phase label.
func (l *SlogLogger) Status(label string) Helper {
	return &slogHelper{
		logger: l.logger.With("status", label),
		label:  label,
	}
}

type slogHelper struct {
	logger  *slog.Logger
	label   string
	started time.Time
}

func (h *slogHelper) Start() {
	h.started = time.Now()
	h.logger.Info("Start... " + h.label)
}

func (h *slogHelper) Info(msg string, args ...any)  { h.logger.Info(msg, args...) }
func (h *slogHelper) Warn(msg string, args ...any)  { h.logger.Warn(msg, args...) }
func (h *slogHelper) Error(msg string, args ...any) { h.logger.Error(msg, args...) }
func (h *slogHelper) Debug(msg string, args ...any) { h.logger.Debug(msg, args...) }

func (h *slogHelper) Print(line string) {
	h.logger.Log(context.Background(), slog.LevelInfo, line, "output", true)
}

func (h *slogHelper) Done(err error) {
	elapsed := time.Duration(0)
	if !h.started.IsZero() {
		elapsed = time.Since(h.started).Round(time.Millisecond)
	}
	if err != nil {
		h.logger.Error("Failed... "+h.label, "error", err, "elapsed", elapsed)
		return
	}
	h.logger.Info("Done... "+h.label, "elapsed", elapsed)
}

// =============================================================================
// Discard Sink
// =============================================================================

// Discard drops everything.
var Discard Logger = discardLogger{}

type discardLogger struct{}

func (discardLogger) Status(string) Helper { return discardHelper{} }

type discardHelper struct{}

func (discardHelper) Start()               {}
func (discardHelper) Info(string, ...any)  {}
func (discardHelper) Warn(string, ...any)  {}
func (discardHelper) Error(string, ...any) {}
func (discardHelper) Debug(string, ...any) {}
func (discardHelper) Print(string)         {}
func (discardHelper) Done(error)           {}
