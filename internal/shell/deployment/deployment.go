// Package deployment drives one compose environment through its lifecycle.
//
// A Deployment asks its Project for a compose CLI, then runs the entry phases
// its Policy enables (initialize, inspect, pull, up, health) and, on exit, the
// enabled exit phases (stop, down, teardown). Every phase can also be called
// on its own. Run wraps Enter and Exit around caller code so that the exit
// phases always run.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stagehand/internal/core/compose"
	"github.com/artpar/stagehand/internal/core/lifecycle"
	"github.com/artpar/stagehand/internal/core/logs"
	"github.com/artpar/stagehand/internal/shell/composecli"
	"github.com/artpar/stagehand/internal/shell/healthcheck"
	"github.com/artpar/stagehand/internal/shell/project"
	"github.com/artpar/stagehand/internal/shell/status"
	"github.com/artpar/stagehand/internal/shell/watcher"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotInitialized = errors.New("deployment not initialized")
	ErrNotInspected   = errors.New("deployment not inspected")
)

// =============================================================================
// Deployment
// =============================================================================

// Recorder persists the outcome of each lifecycle phase.
type Recorder interface {
	RecordPhase(ctx context.Context, id string, phase lifecycle.Phase, phaseErr error) error
}

// Deployment is one compose environment and the policy that manages it.
// Lifecycle calls are expected to be serialized by the caller; accessors and
// watchers may be used concurrently.
type Deployment struct {
	id       string
	project  project.Project
	policy   lifecycle.Policy
	checks   []healthcheck.Check
	prober   healthcheck.Prober
	status   status.Logger
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	cli     composecli.CLI
	spec    *compose.Spec
	state   lifecycle.State
	history []lifecycle.Phase
}

// Option configures a Deployment.
type Option func(*Deployment)

// WithID sets the identifier passed to the Recorder.
func WithID(id string) Option {
	return func(d *Deployment) { d.id = id }
}

// WithPolicy replaces the lifecycle policy.
func WithPolicy(p lifecycle.Policy) Option {
	return func(d *Deployment) { d.policy = p }
}

// WithHealthChecks appends checks to the deployment.
func WithHealthChecks(checks ...healthcheck.Check) Option {
	return func(d *Deployment) { d.checks = append(d.checks, checks...) }
}

// WithProber replaces the HTTP prober used by health checks.
func WithProber(p healthcheck.Prober) Option {
	return func(d *Deployment) { d.prober = p }
}

// WithStatus sets the sink phase output is reported to.
func WithStatus(s status.Logger) Option {
	return func(d *Deployment) { d.status = s }
}

// WithRecorder sets where completed phases are recorded.
func WithRecorder(r Recorder) Option {
	return func(d *Deployment) { d.recorder = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deployment) { d.logger = l }
}

// New creates a Deployment for p with the default policy.
func New(p project.Project, opts ...Option) *Deployment {
	d := &Deployment{
		project: p,
		policy:  lifecycle.DefaultPolicy(),
		state:   lifecycle.StateUninitialized,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.id == "" {
		d.id = uuid.NewString()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.status == nil {
		d.status = status.NewSlogLogger(d.logger)
	}
	d.logger = d.logger.With("component", "deployment", "deployment_id", d.id)
	return d
}

// ID returns the deployment identifier.
func (d *Deployment) ID() string { return d.id }

// Policy returns the lifecycle policy.
func (d *Deployment) Policy() lifecycle.Policy { return d.policy }

// Project returns the project backend.
func (d *Deployment) Project() project.Project { return d.project }

// State returns the lifecycle state reached by the last completed phase.
func (d *Deployment) State() lifecycle.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// History returns the phases completed so far, oldest first.
func (d *Deployment) History() []lifecycle.Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.history)
}

// CLI returns the compose CLI obtained by Initialize.
func (d *Deployment) CLI() (composecli.CLI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli == nil {
		return nil, ErrNotInitialized
	}
	return d.cli, nil
}

// Spec returns the project description cached by Inspect.
func (d *Deployment) Spec() (*compose.Spec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.spec == nil {
		return nil, ErrNotInspected
	}
	return d.spec, nil
}

// =============================================================================
// Phases
// =============================================================================

// Initialize asks the project for a CLI. Calling it again asks again.
func (d *Deployment) Initialize(ctx context.Context) (composecli.CLI, error) {
	var cli composecli.CLI
	err := d.runPhase(ctx, lifecycle.PhaseInitialize, func(helper status.Helper) error {
		c, err := d.project.Initialize(ctx, helper)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.cli = c
		d.mu.Unlock()
		cli = c
		return nil
	})
	return cli, err
}

// Inspect resolves the compose configuration and caches it.
func (d *Deployment) Inspect(ctx context.Context) (*compose.Spec, error) {
	cli, err := d.CLI()
	if err != nil {
		return nil, err
	}
	var spec *compose.Spec
	err = d.runPhase(ctx, lifecycle.PhaseInspect, func(helper status.Helper) error {
		s, err := cli.InspectConfig(ctx)
		if err != nil {
			return err
		}
		helper.Info("inspected compose project", "project", s.Name, "services", s.ServiceNames())
		d.mu.Lock()
		d.spec = s
		d.mu.Unlock()
		spec = s
		return nil
	})
	return spec, err
}

// Pull runs `docker compose pull` and returns its output.
func (d *Deployment) Pull(ctx context.Context) ([]string, error) {
	return d.drain(ctx, lifecycle.PhasePull, func(cli composecli.CLI) logs.Stream {
		return cli.StreamPull(ctx)
	})
}

// Up runs `docker compose up` and returns its output. Without detach it
// returns only once the containers exit.
func (d *Deployment) Up(ctx context.Context, detach bool) ([]string, error) {
	return d.drain(ctx, lifecycle.PhaseUp, func(cli composecli.CLI) logs.Stream {
		return cli.StreamUp(ctx, detach)
	})
}

// Stop runs `docker compose stop` and returns its output.
func (d *Deployment) Stop(ctx context.Context) ([]string, error) {
	return d.drain(ctx, lifecycle.PhaseStop, func(cli composecli.CLI) logs.Stream {
		return cli.StreamStop(ctx)
	})
}

// Down runs `docker compose down` and returns its output.
func (d *Deployment) Down(ctx context.Context) ([]string, error) {
	return d.drain(ctx, lifecycle.PhaseDown, func(cli composecli.CLI) logs.Stream {
		return cli.StreamDown(ctx)
	})
}

// Restart restarts services (all when empty). With awaitHealth it waits for
// delay, giving the old containers time to let go of connections, and then
// runs the health checks of those services.
func (d *Deployment) Restart(ctx context.Context, services []string, awaitHealth bool, delay time.Duration) ([]string, error) {
	lines, err := d.drain(ctx, lifecycle.PhaseRestart, func(cli composecli.CLI) logs.Stream {
		return cli.StreamRestart(ctx, services)
	})
	if err != nil || !awaitHealth {
		return lines, err
	}

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return lines, ctx.Err()
		case <-t.C:
		}
	}

	var filter []string
	if len(services) > 0 {
		filter = services
	}
	return lines, d.CheckHealth(ctx, filter)
}

// TearDown releases the project's resources. It needs no CLI.
func (d *Deployment) TearDown(ctx context.Context) error {
	return d.runPhase(ctx, lifecycle.PhaseTearDown, func(helper status.Helper) error {
		return d.project.TearDown(ctx, helper)
	})
}

// Remove tears the project down. With downBeforeRemove it first tries
// `docker compose down`; a failing down is logged and ignored.
func (d *Deployment) Remove(ctx context.Context, downBeforeRemove bool) error {
	if downBeforeRemove {
		if _, err := d.Down(ctx); err != nil {
			d.logger.Warn("down before remove failed, removing anyway", "error", err)
		}
	}
	err := d.TearDown(ctx)
	d.release()
	return err
}

// =============================================================================
// Health
// =============================================================================

// AddHealthCheck registers another check.
func (d *Deployment) AddHealthCheck(c healthcheck.Check) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks = append(d.checks, c)
}

// HealthChecks returns the deployment's checks followed by the project's.
func (d *Deployment) HealthChecks(ctx context.Context) ([]healthcheck.Check, error) {
	d.mu.Lock()
	checks := slices.Clone(d.checks)
	d.mu.Unlock()

	extra, err := d.project.HealthChecks(ctx, d.status.Status("health checks"))
	if err != nil {
		return nil, fmt.Errorf("project health checks: %w", err)
	}
	return append(checks, extra...), nil
}

// CheckHealth runs the health checks of services (all when nil) concurrently
// and returns the first failure.
func (d *Deployment) CheckHealth(ctx context.Context, services []string) error {
	cli, err := d.CLI()
	if err != nil {
		return err
	}
	return d.runPhase(ctx, lifecycle.PhaseHealth, func(helper status.Helper) error {
		all, err := d.HealthChecks(ctx)
		if err != nil {
			return err
		}
		checks := healthcheck.Filter(all, services)
		if len(checks) == 0 {
			helper.Info("no health checks registered")
			return nil
		}

		d.mu.Lock()
		spec := d.spec
		d.mu.Unlock()

		engine := healthcheck.NewEngine(cli, d.prober, d.status, d.logger)
		return engine.AwaitAll(ctx, checks, spec, nil)
	})
}

// =============================================================================
// Watchers
// =============================================================================

// NewWatcher returns a log watcher for service bound to this deployment. It
// reads only the latest line of history unless opts say otherwise, and can be
// opened once the deployment is initialized.
func (d *Deployment) NewWatcher(service string, opts ...watcher.Option) *watcher.Watcher {
	base := []watcher.Option{watcher.WithTail(1), watcher.WithLogger(d.logger)}
	provider := func() (watcher.LogSource, error) {
		cli, err := d.CLI()
		if err != nil {
			return nil, err
		}
		return cli, nil
	}
	return watcher.New(provider, []string{service}, append(base, opts...)...)
}

// =============================================================================
// Scope
// =============================================================================

// Enter runs the before-enter hook and then every entry phase the policy
// enables. It stops at the first failure and leaves completed phases in place.
func (d *Deployment) Enter(ctx context.Context) error {
	if err := d.project.BeforeEnter(ctx); err != nil {
		return fmt.Errorf("before enter: %w", err)
	}

	for _, phase := range lifecycle.EntryPhases(d.policy) {
		var err error
		switch phase {
		case lifecycle.PhaseInitialize:
			_, err = d.Initialize(ctx)
		case lifecycle.PhaseInspect:
			_, err = d.Inspect(ctx)
		case lifecycle.PhasePull:
			if err = d.project.BeforePull(ctx); err == nil {
				_, err = d.Pull(ctx)
			}
		case lifecycle.PhaseUp:
			if err = d.project.BeforeUp(ctx); err == nil {
				_, err = d.Up(ctx, true)
			}
		case lifecycle.PhaseHealth:
			err = d.CheckHealth(ctx, nil)
		}
		if err != nil {
			return fmt.Errorf("enter %s: %w", phase, err)
		}
	}
	return nil
}

// Exit runs every exit phase the policy enables, continuing past failures,
// and then drops the CLI and the cached spec. Phases that need the CLI are
// skipped when the deployment was never initialized; teardown still runs.
func (d *Deployment) Exit(ctx context.Context) error {
	initialized := d.State().Initialized()

	var errs []error
	for _, phase := range lifecycle.ExitPhases(d.policy) {
		if phase.NeedsCLI() && !initialized {
			d.logger.Info("skipping exit phase, deployment not initialized", "phase", phase)
			continue
		}

		var err error
		switch phase {
		case lifecycle.PhaseStop:
			if err = d.project.BeforeStop(ctx); err == nil {
				_, err = d.Stop(ctx)
			}
		case lifecycle.PhaseDown:
			if err = d.project.BeforeDown(ctx); err == nil {
				_, err = d.Down(ctx)
			}
		case lifecycle.PhaseTearDown:
			err = d.TearDown(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("exit %s: %w", phase, err))
		}
	}

	d.release()
	return errors.Join(errs...)
}

// Run enters the deployment, calls fn if entering succeeded and always exits.
// Exit runs even when ctx is already cancelled.
func (d *Deployment) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	err := d.Enter(ctx)
	if err == nil {
		err = fn(ctx)
	}
	return errors.Join(err, d.Exit(context.WithoutCancel(ctx)))
}

// =============================================================================
// Internals
// =============================================================================

// runPhase brackets fn with a status helper, advances the state on success
// and records the outcome.
func (d *Deployment) runPhase(ctx context.Context, phase lifecycle.Phase, fn func(helper status.Helper) error) error {
	d.mu.Lock()
	next, err := lifecycle.Advance(d.state, phase)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	helper := d.status.Status(phase.String())
	helper.Start()
	err = fn(helper)
	helper.Done(err)

	if err == nil {
		d.mu.Lock()
		d.state = next
		d.history = append(d.history, phase)
		d.mu.Unlock()
		d.logger.Debug("phase completed", "phase", phase, "state", next)
	}

	if d.recorder != nil {
		if rerr := d.recorder.RecordPhase(ctx, d.id, phase, err); rerr != nil {
			d.logger.Warn("failed to record phase", "phase", phase, "error", rerr)
		}
	}
	return err
}

// drain runs a streaming compose command to completion, printing every line.
func (d *Deployment) drain(ctx context.Context, phase lifecycle.Phase, open func(cli composecli.CLI) logs.Stream) ([]string, error) {
	cli, err := d.CLI()
	if err != nil {
		return nil, err
	}
	var lines []string
	err = d.runPhase(ctx, phase, func(helper status.Helper) error {
		for line, err := range open(cli) {
			if err != nil {
				return err
			}
			helper.Print(line.Text)
			lines = append(lines, line.Text)
		}
		return nil
	})
	return lines, err
}

// release drops the CLI and the cached spec. A torn-down deployment keeps
// that state; anything else returns to uninitialized.
func (d *Deployment) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cli = nil
	d.spec = nil
	if d.state != lifecycle.StateTornDown {
		d.state = lifecycle.StateUninitialized
	}
}
