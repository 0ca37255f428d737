package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
)

// ConsoleLogger renders phase progress for a terminal.
//
//	→ Start... up
//	  │ Container itest-web-1  Started
//	✓ Done... up (1.2s)
type ConsoleLogger struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsoleLogger creates a ConsoleLogger writing to out (stderr when nil).
// Debug messages are only shown when verbose is set.
func NewConsoleLogger(out io.Writer, verbose bool) *ConsoleLogger {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleLogger{out: out, verbose: verbose}
}

// Status returns a Helper writing under the given label.
func (c *ConsoleLogger) Status(label string) Helper {
	return &consoleHelper{parent: c, label: label}
}

func (c *ConsoleLogger) printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, a...)
}

type consoleHelper struct {
	parent  *ConsoleLogger
	label   string
	started time.Time
}

func (h *consoleHelper) Start() {
	h.started = time.Now()
	h.parent.printf("%s Start... %s\n", cyan.Sprint("→"), bold.Sprint(h.label))
}

func (h *consoleHelper) Info(msg string, args ...any) {
	h.parent.printf("  %s%s\n", msg, formatArgs(args))
}

func (h *consoleHelper) Warn(msg string, args ...any) {
	h.parent.printf("  %s %s%s\n", yellow.Sprint("⚠"), msg, formatArgs(args))
}

func (h *consoleHelper) Error(msg string, args ...any) {
	h.parent.printf("  %s %s%s\n", red.Sprint("✗"), msg, formatArgs(args))
}

func (h *consoleHelper) Debug(msg string, args ...any) {
	if !h.parent.verbose {
		return
	}
	h.parent.printf("  %s\n", gray.Sprint(msg+formatArgs(args)))
}

func (h *consoleHelper) Print(line string) {
	h.parent.printf("  %s %s\n", gray.Sprint("│"), line)
}

func (h *consoleHelper) Done(err error) {
	elapsed := ""
	if !h.started.IsZero() {
		elapsed = " " + gray.Sprintf("(%s)", time.Since(h.started).Round(time.Millisecond))
	}
	if err != nil {
		h.parent.printf("%s Failed... %s%s: %v\n", red.Sprint("✗"), h.label, elapsed, err)
		return
	}
	h.parent.printf("%s Done... %s%s\n", green.Sprint("✓"), h.label, elapsed)
}

// formatArgs renders slog-style key/value pairs as " key=value".
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fmt.Fprintf(&b, " %v", args[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}
