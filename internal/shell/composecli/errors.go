package composecli

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrCommandFailed = errors.New("compose command failed")
	ErrNoRunner      = errors.New("command runner is nil")
)

// CommandError describes a compose invocation that could not be started or
// exited unsuccessfully.
type CommandError struct {
	Command  string   // e.g. "docker"
	Args     []string // full argument list
	ExitCode int      // -1 when the process never ran to completion
	Stderr   string   // trailing stderr output, if captured
	Err      error
}

func (e *CommandError) Error() string {
	cmdline := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
	msg := fmt.Sprintf("%s: exit code %d", cmdline, e.ExitCode)
	if e.ExitCode < 0 && e.Err != nil {
		msg = fmt.Sprintf("%s: %v", cmdline, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, args []string, exitCode int, stderr string, err error) *CommandError {
	return &CommandError{
		Command:  command,
		Args:     args,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Err:      err,
	}
}
