package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/stagehand/internal/core/domain"
	"github.com/artpar/stagehand/internal/shell/composecli"
	"github.com/artpar/stagehand/internal/shell/deployment"
	"github.com/artpar/stagehand/internal/shell/docker"
	"github.com/artpar/stagehand/internal/shell/healthcheck"
	"github.com/artpar/stagehand/internal/shell/project"
	"github.com/artpar/stagehand/internal/shell/status"
	"github.com/artpar/stagehand/internal/shell/store"
)

var (
	// ErrEnvironmentActive is returned by `up` when the environment is already
	// running.
	ErrEnvironmentActive = errors.New("environment is already active")
)

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg    *Config
	logger *slog.Logger
	status status.Logger
	stdout io.Writer

	// resolver is opened lazily on first use.
	resolver composecli.PortResolver
	closers  []func() error
}

func newApp(cfg *Config, logger *slog.Logger, sink status.Logger, stdout io.Writer) *app {
	return &app{cfg: cfg, logger: logger, status: sink, stdout: stdout}
}

// Close releases the store and Docker client.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore opens the environment registry, creating its directory.
func (a *app) openStore() (*store.SQLiteStore, error) {
	dsn := a.cfg.Store.DSN
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// portResolver connects to the Docker API. Without it dynamically published
// ports stay unresolved, which only matters for port based health checks.
func (a *app) portResolver() composecli.PortResolver {
	if a.resolver != nil {
		return a.resolver
	}
	client, err := docker.NewClient(a.cfg.Docker.Host, a.logger)
	if err != nil {
		a.logger.Warn("docker API unavailable, published ports will not be resolved", "error", err)
		return nil
	}
	a.closers = append(a.closers, client.Close)
	a.resolver = client
	return client
}

func (a *app) cliConfig() project.CLIConfig {
	cfg := project.CLIConfig{
		Binary: a.cfg.Docker.Binary,
		Logger: a.logger,
	}
	if r := a.portResolver(); r != nil {
		cfg.Resolver = r
	}
	return cfg
}

// newProject builds the backend for a fresh environment.
func (a *app) newProject(env *domain.Environment) (project.Project, error) {
	ec := a.cfg.Environment
	switch env.Mode {
	case domain.ModeLocal:
		p := project.NewLocalProject(env.ProjectDir, env.ComposeFiles...)
		p.ProjectName = env.Name
		p.CLI = a.cliConfig()
		return p, nil
	case domain.ModeCopy:
		p := project.NewCopyProject(env.ProjectDir, env.ComposeFiles...)
		p.BaseDir = ec.BaseDir
		p.CLI = a.cliConfig()
		return p, nil
	case domain.ModeTemplate:
		p := project.NewTemplateProject(env.ProjectDir, env.Name, ec.Values)
		p.BaseDir = ec.BaseDir
		p.Files = env.ComposeFiles
		p.CLI = a.cliConfig()
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidMode, env.Mode)
	}
}

// attachProject rebuilds the backend of a registered environment from its
// working directory. Copied and rendered trees are removed on tear down.
func (a *app) attachProject(env *domain.Environment) *project.LocalProject {
	p := project.NewLocalProject(env.WorkDir, env.ComposeFiles...)
	p.ProjectName = env.ProjectName
	p.RemoveOnTearDown = env.Mode.OwnsWorkDir()
	p.CLI = a.cliConfig()
	return p
}

// deploymentOptions returns the options shared by all commands.
func (a *app) deploymentOptions(env *domain.Environment) ([]deployment.Option, error) {
	checks, err := a.cfg.Checks()
	if err != nil {
		return nil, err
	}
	return []deployment.Option{
		deployment.WithID(env.ID),
		deployment.WithStatus(a.status),
		deployment.WithLogger(a.logger),
		deployment.WithProber(healthcheck.NewHTTPProber(nil)),
		deployment.WithHealthChecks(checks...),
	}, nil
}

// findEnvironment looks an environment up by ID, then by name.
func findEnvironment(ctx context.Context, s store.Store, ref string) (*domain.Environment, error) {
	env, err := s.GetEnvironment(ctx, ref)
	if err == nil {
		return env, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.GetEnvironmentByName(ctx, ref)
}

// registerEnvironment creates the registry record for `up`. A record with the
// same name that is no longer active is replaced.
func registerEnvironment(ctx context.Context, s store.Store, env *domain.Environment) error {
	existing, err := s.GetEnvironmentByName(ctx, env.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	case existing.Active():
		return fmt.Errorf("%w: %s (%s), run `stagehand down %s` first", ErrEnvironmentActive, existing.Name, existing.State, existing.Name)
	default:
		if err := s.DeleteEnvironment(ctx, existing.ID); err != nil {
			return err
		}
	}
	return s.CreateEnvironment(ctx, env)
}

// syncWorkDir copies the directory and project name compose ended up with
// into the registry record.
func syncWorkDir(ctx context.Context, s store.Store, d *deployment.Deployment) error {
	cli, err := d.CLI()
	if err != nil {
		return nil
	}
	c, ok := cli.(*composecli.Compose)
	if !ok {
		return nil
	}
	env, err := s.GetEnvironment(ctx, d.ID())
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(c.Dir())
	if err != nil {
		return err
	}
	env.WorkDir = dir
	env.ProjectName = c.ProjectName()
	return s.UpdateEnvironment(ctx, env)
}
