// Package composecli drives the `docker compose` tool for one project and
// exposes its output as line streams.
package composecli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/artpar/stagehand/internal/core/compose"
	"github.com/artpar/stagehand/internal/core/logs"
)

// DefaultBinary is the executable invoked when Options.Binary is empty.
const DefaultBinary = "docker"

// CLI is the set of compose operations an environment needs. Every Stream*
// call starts a fresh command; the returned sequence ends when the command
// exits, except for followed logs which run until the consumer stops reading
// or ctx is cancelled.
type CLI interface {
	InspectConfig(ctx context.Context) (*compose.Spec, error)
	StreamUp(ctx context.Context, detach bool) logs.Stream
	StreamDown(ctx context.Context) logs.Stream
	StreamStop(ctx context.Context) logs.Stream
	StreamPull(ctx context.Context) logs.Stream
	StreamRestart(ctx context.Context, services []string) logs.Stream
	StreamLogs(ctx context.Context, opts LogsOptions) logs.Stream
}

// PortResolver fills in host ports that are only assigned once containers run.
type PortResolver interface {
	ResolvePorts(ctx context.Context, spec *compose.Spec) (*compose.Spec, error)
}

// LogsOptions contains configuration for `docker compose logs`.
type LogsOptions struct {
	Services    []string
	Tail        int // lines per container; 0 means all
	Follow      bool
	NoLogPrefix bool
	Timestamps  bool
	Since       string // timestamp or relative duration, passed through
	Until       string
}

// Options configures a Compose CLI.
type Options struct {
	Binary      string
	Dir         string
	ProjectName string
	Files       []string
	Runner      CommandRunner
	Resolver    PortResolver
	Logger      *slog.Logger
}

// Compose implements CLI by invoking `docker compose -p NAME -f FILE...`.
type Compose struct {
	binary   string
	dir      string
	project  string
	files    []string
	runner   CommandRunner
	resolver PortResolver
	logger   *slog.Logger
}

var _ CLI = (*Compose)(nil)

// New creates a Compose CLI. A nil Runner defaults to ExecRunner.
func New(opts Options) *Compose {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Compose{
		binary:   opts.Binary,
		dir:      opts.Dir,
		project:  opts.ProjectName,
		files:    append([]string(nil), opts.Files...),
		runner:   opts.Runner,
		resolver: opts.Resolver,
		logger:   opts.Logger.With("component", "compose_cli", "project", opts.ProjectName),
	}
}

// ProjectName returns the compose project name passed with -p.
func (c *Compose) ProjectName() string {
	return c.project
}

// Dir returns the working directory commands run in.
func (c *Compose) Dir() string {
	return c.dir
}

// Files returns the compose files passed with -f.
func (c *Compose) Files() []string {
	return append([]string(nil), c.files...)
}

// args builds the full argument list for a compose subcommand.
func (c *Compose) args(sub ...string) []string {
	args := []string{"compose"}
	if c.project != "" {
		args = append(args, "-p", c.project)
	}
	for _, f := range c.files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		args = append(args, "-f", f)
	}
	return append(args, sub...)
}

func (c *Compose) stream(ctx context.Context, sub ...string) logs.Stream {
	args := c.args(sub...)
	c.logger.Debug("running compose command", "args", strings.Join(args, " "))
	return c.runner.Stream(ctx, c.dir, c.binary, args...)
}

// InspectConfig runs `docker compose config` and parses the resolved project.
// With a PortResolver configured, dynamically published ports of running
// containers are filled in.
func (c *Compose) InspectConfig(ctx context.Context) (*compose.Spec, error) {
	args := c.args("config", "--format", "json")
	c.logger.Debug("inspecting compose config", "args", strings.Join(args, " "))

	out, err := c.runner.Output(ctx, c.dir, c.binary, args...)
	if err != nil {
		return nil, err
	}

	spec, err := compose.ParseComposeSpec(out)
	if err != nil {
		return nil, fmt.Errorf("parse compose config: %w", err)
	}
	if c.project != "" {
		spec.Name = c.project
	}

	if c.resolver == nil {
		return spec, nil
	}
	resolved, err := c.resolver.ResolvePorts(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("resolve published ports: %w", err)
	}
	return resolved, nil
}

// StreamUp runs `docker compose up`.
func (c *Compose) StreamUp(ctx context.Context, detach bool) logs.Stream {
	if detach {
		return c.stream(ctx, "up", "--detach")
	}
	return c.stream(ctx, "up")
}

// StreamDown runs `docker compose down`.
func (c *Compose) StreamDown(ctx context.Context) logs.Stream {
	return c.stream(ctx, "down")
}

// StreamStop runs `docker compose stop`.
func (c *Compose) StreamStop(ctx context.Context) logs.Stream {
	return c.stream(ctx, "stop")
}

// StreamPull runs `docker compose pull`.
func (c *Compose) StreamPull(ctx context.Context) logs.Stream {
	return c.stream(ctx, "pull")
}

// StreamRestart runs `docker compose restart` for the given services, or for
// all of them when services is empty.
func (c *Compose) StreamRestart(ctx context.Context, services []string) logs.Stream {
	return c.stream(ctx, append([]string{"restart"}, services...)...)
}

// StreamLogs runs `docker compose logs`.
func (c *Compose) StreamLogs(ctx context.Context, opts LogsOptions) logs.Stream {
	sub := []string{"logs", "--no-color"}
	if opts.Follow {
		sub = append(sub, "--follow")
	}
	if opts.Tail > 0 {
		sub = append(sub, "--tail", strconv.Itoa(opts.Tail))
	}
	if opts.NoLogPrefix {
		sub = append(sub, "--no-log-prefix")
	}
	if opts.Timestamps {
		sub = append(sub, "--timestamps")
	}
	if opts.Since != "" {
		sub = append(sub, "--since", opts.Since)
	}
	if opts.Until != "" {
		sub = append(sub, "--until", opts.Until)
	}
	for _, s := range opts.Services {
		if strings.TrimSpace(s) != "" {
			sub = append(sub, s)
		}
	}
	return c.stream(ctx, sub...)
}
