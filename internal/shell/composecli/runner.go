package composecli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/artpar/stagehand/internal/core/logs"
)

// stderrTailLines bounds how much stderr a CommandError carries.
const stderrTailLines = 20

// waitDelay bounds how long a killed command may keep its pipes open.
const waitDelay = 2 * time.Second

// maxLineSize is the longest output line Stream accepts.
const maxLineSize = 1024 * 1024

// CommandRunner defines the interface for executing external commands.
type CommandRunner interface {
	// Stream runs the command and yields its output line by line. Breaking out
	// of the sequence kills the command.
	Stream(ctx context.Context, dir, name string, args ...string) logs.Stream
	// Output runs the command to completion and returns its stdout.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// Output executes a command and returns its stdout. Stderr is attached to the
// error on failure.
func (ExecRunner) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return out, commandError(ctx, name, args, stderr.String(), err)
	}
	return out, nil
}

// Stream executes a command and yields stdout and stderr lines as they are
// written. The two streams are merged; ordering between them is only as good
// as the process flushes them. A failing command yields a *CommandError as the
// final element.
//
// The command writes into in-process pipes and is waited on concurrently, so
// once it is killed its descendants can hold the output open for at most
// waitDelay.
func (ExecRunner) Stream(parent context.Context, dir, name string, args ...string) logs.Stream {
	return func(yield func(logs.Line, error) bool) {
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		stdoutR, stdoutW := io.Pipe()
		stderrR, stderrW := io.Pipe()

		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Dir = dir
		cmd.WaitDelay = waitDelay
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW

		if err := cmd.Start(); err != nil {
			yield(logs.Line{}, NewCommandError(name, args, -1, "", err))
			return
		}

		waited := make(chan error, 1)
		go func() {
			err := cmd.Wait()
			stdoutW.Close()
			stderrW.Close()
			waited <- err
		}()

		lines := make(chan logs.Line)
		var (
			wg      sync.WaitGroup
			errOnce sync.Once
			scanErr error
		)
		scan := func(r *io.PipeReader, kind logs.StreamKind) {
			defer wg.Done()
			// Closing the reader fails any pending write so Wait can return.
			defer r.Close()

			sc := bufio.NewScanner(r)
			sc.Buffer(make([]byte, 64*1024), maxLineSize)
			for sc.Scan() {
				select {
				case lines <- logs.Line{Stream: kind, Text: sc.Text()}:
				case <-ctx.Done():
					return
				}
			}
			if err := sc.Err(); err != nil {
				errOnce.Do(func() { scanErr = err })
				cancel()
			}
		}
		wg.Add(2)
		go scan(stdoutR, logs.Stdout)
		go scan(stderrR, logs.Stderr)
		go func() {
			wg.Wait()
			close(lines)
		}()

		tail := newLineTail(stderrTailLines)
		for line := range lines {
			if line.Stream == logs.Stderr {
				tail.add(line.Text)
			}
			if !yield(line, nil) {
				cancel()
				for range lines {
				}
				<-waited
				return
			}
		}

		err := <-waited
		switch {
		case scanErr != nil:
			yield(logs.Line{}, NewCommandError(name, args, -1, tail.String(), scanErr))
		case err != nil:
			yield(logs.Line{}, commandError(parent, name, args, tail.String(), err))
		}
	}
}

// commandError classifies a failed command. Cancellation of the caller's
// context wins over the exit status of the killed process.
func commandError(ctx context.Context, name string, args []string, stderr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewCommandError(name, args, -1, stderr, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return NewCommandError(name, args, exitErr.ExitCode(), stderr, errors.Join(ErrCommandFailed, err))
	}
	return NewCommandError(name, args, -1, stderr, err)
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, "\n")
}
