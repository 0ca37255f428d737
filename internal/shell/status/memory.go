package status

import (
	"fmt"
	"sync"
)

// Entry is one recorded message.
type Entry struct {
	Label   string
	Level   string // start, info, warn, error, debug, print, done, failed
	Message string
}

// MemoryLogger records every message. It is safe for concurrent use.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLogger creates an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Status returns a Helper recording under label.
func (m *MemoryLogger) Status(label string) Helper {
	return &memoryHelper{parent: m, label: label}
}

// Entries returns a copy of everything recorded so far.
func (m *MemoryLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Lines returns the messages passed to Print under label.
func (m *MemoryLogger) Lines(label string) []string {
	var out []string
	for _, e := range m.Entries() {
		if e.Label == label && e.Level == "print" {
			out = append(out, e.Message)
		}
	}
	return out
}

// Labels returns the labels of started phases in order.
func (m *MemoryLogger) Labels() []string {
	var out []string
	for _, e := range m.Entries() {
		if e.Level == "start" {
			out = append(out, e.Label)
		}
	}
	return out
}

func (m *MemoryLogger) add(label, level, msg string) {
	m.mu.Lock()
	m.entries = append(m.entries, Entry{Label: label, Level: level, Message: msg})
	m.mu.Unlock()
}

type memoryHelper struct {
	parent *MemoryLogger
	label  string
}

func (h *memoryHelper) Start()                        { h.parent.add(h.label, "start", h.label) }
func (h *memoryHelper) Info(msg string, args ...any)  { h.parent.add(h.label, "info", msg+formatArgs(args)) }
func (h *memoryHelper) Warn(msg string, args ...any)  { h.parent.add(h.label, "warn", msg+formatArgs(args)) }
func (h *memoryHelper) Error(msg string, args ...any) { h.parent.add(h.label, "error", msg+formatArgs(args)) }
func (h *memoryHelper) Debug(msg string, args ...any) { h.parent.add(h.label, "debug", msg+formatArgs(args)) }
func (h *memoryHelper) Print(line string)             { h.parent.add(h.label, "print", line) }

func (h *memoryHelper) Done(err error) {
	if err != nil {
		h.parent.add(h.label, "failed", fmt.Sprint(err))
		return
	}
	h.parent.add(h.label, "done", h.label)
}
