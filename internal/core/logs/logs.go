// Package logs holds the values exchanged between the compose tool and its
// consumers: output lines tagged with the stream they came from, the ordered
// buffer a watcher fills, and the one-shot signal used to rendezvous with the
// first line.
package logs

import (
	"fmt"
	"iter"
	"strings"
	"sync"
)

// =============================================================================
// Lines
// =============================================================================

// StreamKind identifies which output stream of a process produced a line.
type StreamKind string

const (
	Stdout StreamKind = "STDOUT"
	Stderr StreamKind = "STDERR"
)

// Line is a single line of process output.
type Line struct {
	Stream StreamKind `json:"stream"`
	Text   string     `json:"text"`
}

// String returns the line prefixed with its stream.
func (l Line) String() string {
	return fmt.Sprintf("%s: %s", l.Stream, l.Text)
}

// Stream is a lazy sequence of output lines. A non-nil error is yielded at most
// once, as the final element, when the producing command fails.
type Stream = iter.Seq2[Line, error]

// Collect drains s and returns every line in order. It stops at the first error.
func Collect(s Stream) ([]Line, error) {
	var out []Line
	for line, err := range s {
		if err != nil {
			return out, err
		}
		out = append(out, line)
	}
	return out, nil
}

// Texts returns the text of each line.
func Texts(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

// =============================================================================
// Buffer
// =============================================================================

// Buffer is an append-only, ordered sequence of lines safe for one writer and
// any number of readers. Readers get snapshots.
type Buffer struct {
	mu    sync.RWMutex
	lines []Line
}

// Append adds a line at the end.
func (b *Buffer) Append(l Line) {
	b.mu.Lock()
	b.lines = append(b.lines, l)
	b.mu.Unlock()
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.lines = nil
	b.mu.Unlock()
}

// Len returns the number of lines captured so far.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Snapshot returns a copy of the captured lines.
func (b *Buffer) Snapshot() []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// =============================================================================
// Signal
// =============================================================================

// Signal is a one-shot event. Firing it more than once is a no-op.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unfired signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire resolves the signal.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed once the signal has fired.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether the signal has fired.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// =============================================================================
// Excerpts
// =============================================================================

// Excerpt selects the lines worth showing alongside a failure: stderr lines,
// or every line when includeStdout is set.
func Excerpt(lines []Line, includeStdout bool) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Stream == Stderr || includeStdout {
			out = append(out, l.Text)
		}
	}
	return out
}

// FormatCaptured renders the diagnostic block appended to a failure message.
func FormatCaptured(services []string, excerpt []string) string {
	return fmt.Sprintf("captured logs from services [%s]:\n%s",
		strings.Join(services, ", "), strings.Join(excerpt, "\n"))
}
