package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/artpar/stagehand/internal/core/domain"
	"github.com/artpar/stagehand/internal/core/lifecycle"
	"github.com/artpar/stagehand/internal/core/logs"
	"github.com/artpar/stagehand/internal/shell/deployment"
	"github.com/artpar/stagehand/internal/shell/project"
	"github.com/artpar/stagehand/internal/shell/store"
	"github.com/artpar/stagehand/internal/shell/watcher"
)

// =============================================================================
// Presets
// =============================================================================

// presetPolicy returns the policy of a named preset. The empty name and
// "config" select the configured policy.
func presetPolicy(name string, configured lifecycle.Policy) (lifecycle.Policy, error) {
	switch name {
	case "", "config":
		return configured, nil
	case "local":
		return lifecycle.LocalPolicy(), nil
	case "testing":
		return lifecycle.TestingPolicy(), nil
	case "monitoring":
		return lifecycle.MonitoringPolicy(), nil
	case "mirror":
		return lifecycle.MirrorPolicy(), nil
	case "template":
		return lifecycle.TemplatePolicy(), nil
	default:
		return lifecycle.Policy{}, fmt.Errorf("unknown preset %q", name)
	}
}

// newDeployment creates the deployment for a fresh project using the preset
// constructors, which check that the project fits the preset.
func newDeployment(p project.Project, preset string, configured lifecycle.Policy, opts []deployment.Option) (*deployment.Deployment, error) {
	switch preset {
	case "", "config":
		return deployment.New(p, append(opts, deployment.WithPolicy(configured))...), nil
	case "local":
		return deployment.Local(p, opts...), nil
	case "testing":
		return deployment.Testing(p, opts...), nil
	case "monitoring":
		return deployment.Monitoring(p, opts...), nil
	case "mirror":
		cp, ok := p.(*project.CopyProject)
		if !ok {
			return nil, fmt.Errorf("preset mirror needs mode copy")
		}
		return deployment.Mirror(cp, opts...), nil
	case "template":
		tp, ok := p.(*project.TemplateProject)
		if !ok {
			return nil, fmt.Errorf("preset template needs mode template")
		}
		return deployment.FromTemplate(tp, opts...), nil
	default:
		return nil, fmt.Errorf("unknown preset %q", preset)
	}
}

// =============================================================================
// up
// =============================================================================

func newUpCmd(opts *rootOptions) *cobra.Command {
	var (
		name   string
		mode   string
		dir    string
		files  []string
		preset string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create an environment and run its entry phases",
		Long: `Registers a new environment and runs the entry phases enabled by the
policy: initialize, inspect, pull, up and health. The environment keeps
running until "stagehand down" is called.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ec := &a.cfg.Environment
			flags := cmd.Flags()
			if flags.Changed("name") {
				ec.Name = name
			}
			if flags.Changed("mode") {
				ec.Mode = mode
			}
			if flags.Changed("dir") {
				ec.ProjectDir = dir
			}
			if flags.Changed("file") {
				ec.ComposeFiles = files
			}

			ctx, cancel := opts.lifecycleContext(cmd.Context())
			defer cancel()
			return a.up(ctx, preset)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "environment name")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "project mode: local, copy or template")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "project or template directory")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "compose files, relative to the project")
	cmd.Flags().StringVar(&preset, "preset", "", "policy preset: local, testing, monitoring, mirror or template")
	return cmd
}

func (a *app) up(ctx context.Context, preset string) error {
	ec := a.cfg.Environment
	mode, err := domain.ParseMode(ec.Mode)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}
	projectDir, err := filepath.Abs(ec.ProjectDir)
	if err != nil {
		return err
	}
	env, err := domain.NewEnvironment(ec.Name, mode, projectDir, ec.ComposeFiles)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}

	s, err := a.openStore()
	if err != nil {
		return err
	}
	if err := registerEnvironment(ctx, s, env); err != nil {
		return err
	}

	p, err := a.newProject(env)
	if err != nil {
		return err
	}
	dopts, err := a.deploymentOptions(env)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}
	d, err := newDeployment(p, preset, a.cfg.Policy, append(dopts, deployment.WithRecorder(s)))
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}

	enterErr := d.Enter(ctx)
	if err := syncWorkDir(context.WithoutCancel(ctx), s, d); err != nil {
		a.logger.Warn("failed to record working directory", "environment", env.Name, "error", err)
	}
	if enterErr != nil {
		return fmt.Errorf("environment %s: %w (run `stagehand down %s` to clean up)", env.Name, enterErr, env.Name)
	}

	fmt.Fprintf(a.stdout, "%s %s %s\n", green.Sprint("✓"), bold.Sprint(env.Name), gray.Sprint(env.ID))
	return nil
}

// =============================================================================
// down
// =============================================================================

func newDownCmd(opts *rootOptions) *cobra.Command {
	var (
		preset string
		purge  bool
	)

	cmd := &cobra.Command{
		Use:   "down ENVIRONMENT",
		Short: "Run the exit phases of an environment",
		Long: `Reattaches to a registered environment (by ID or name) and runs the exit
phases enabled by the policy: stop, down and tear down. Copied and rendered
project trees are removed on tear down.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := opts.lifecycleContext(cmd.Context())
			defer cancel()
			return a.down(ctx, args[0], preset, purge)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "policy preset whose exit phases to run")
	cmd.Flags().BoolVar(&purge, "purge", false, "remove the registry record afterwards")
	return cmd
}

func (a *app) down(ctx context.Context, ref, preset string, purge bool) error {
	policy, err := presetPolicy(preset, a.cfg.Policy)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}

	s, err := a.openStore()
	if err != nil {
		return err
	}
	env, err := findEnvironment(ctx, s, ref)
	if err != nil {
		return err
	}

	dopts, err := a.deploymentOptions(env)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}
	d := deployment.New(a.attachProject(env), append(dopts,
		deployment.WithPolicy(policy),
		deployment.WithRecorder(s),
	)...)

	var attachErr error
	if env.WorkDir == "" {
		a.logger.Info("environment was never initialized", "environment", env.Name)
	} else if _, attachErr = d.Initialize(ctx); attachErr != nil {
		a.logger.Warn("cannot attach to environment", "environment", env.Name, "error", attachErr)
	}

	if err := d.Exit(ctx); err != nil {
		return fmt.Errorf("environment %s: %w", env.Name, err)
	}
	if attachErr != nil {
		return fmt.Errorf("environment %s: %w", env.Name, attachErr)
	}

	if purge {
		if err := s.DeleteEnvironment(ctx, env.ID); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.stdout, "%s %s %s\n", green.Sprint("✓"), bold.Sprint(env.Name), gray.Sprint(d.State()))
	return nil
}

// =============================================================================
// check
// =============================================================================

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var envRef string

	cmd := &cobra.Command{
		Use:   "check [SERVICE...]",
		Short: "Run the configured health checks against an environment",
		Long: `Attaches to a registered environment, inspects it and runs the configured
health checks concurrently. With services given, only their checks run.
The first failing check cancels the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if envRef == "" {
				envRef = a.cfg.Environment.Name
			}
			ctx, cancel := opts.lifecycleContext(cmd.Context())
			defer cancel()
			return a.check(ctx, envRef, args)
		},
	}

	cmd.Flags().StringVarP(&envRef, "env", "e", "", "environment ID or name (default: configured name)")
	return cmd
}

func (a *app) check(ctx context.Context, ref string, services []string) error {
	d, err := a.attachDeployment(ctx, ref)
	if err != nil {
		return err
	}
	return d.Run(ctx, func(ctx context.Context) error {
		return d.CheckHealth(ctx, services)
	})
}

// attachDeployment returns an unrecorded deployment over a registered
// environment that initializes and inspects on enter and leaves it running.
func (a *app) attachDeployment(ctx context.Context, ref string) (*deployment.Deployment, error) {
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}
	env, err := findEnvironment(ctx, s, ref)
	if err != nil {
		return nil, err
	}
	if env.WorkDir == "" {
		return nil, fmt.Errorf("environment %s was never initialized", env.Name)
	}

	dopts, err := a.deploymentOptions(env)
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}
	p := a.attachProject(env)
	p.RemoveOnTearDown = false
	return deployment.New(p, append(dopts, deployment.WithPolicy(lifecycle.DefaultPolicy()))...), nil
}

// =============================================================================
// logs
// =============================================================================

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		envRef string
		wopts  logsOptions
	)

	cmd := &cobra.Command{
		Use:   "logs SERVICE",
		Short: "Follow the logs of a service until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if envRef == "" {
				envRef = a.cfg.Environment.Name
			}
			flags := cmd.Flags()
			if !flags.Changed("tail") {
				wopts.tail = a.cfg.Watch.Tail
			}
			if !flags.Changed("timestamps") {
				wopts.timestamps = a.cfg.Watch.Timestamps
			}
			if !flags.Changed("no-log-prefix") {
				wopts.noLogPrefix = a.cfg.Watch.NoLogPrefix
			}
			return a.logs(cmd.Context(), envRef, args[0], wopts)
		},
	}

	cmd.Flags().StringVarP(&envRef, "env", "e", "", "environment ID or name (default: configured name)")
	cmd.Flags().IntVar(&wopts.tail, "tail", 20, "lines of history to show first (0 shows all)")
	cmd.Flags().BoolVar(&wopts.timestamps, "timestamps", false, "show timestamps")
	cmd.Flags().BoolVar(&wopts.noLogPrefix, "no-log-prefix", false, "omit the container name prefix")
	cmd.Flags().StringVar(&wopts.since, "since", "", "show logs since timestamp or relative duration")
	return cmd
}

type logsOptions struct {
	tail        int
	timestamps  bool
	noLogPrefix bool
	since       string
}

func (o logsOptions) watcherOptions(onLog func(logs.Line)) []watcher.Option {
	wo := []watcher.Option{
		watcher.WithTail(o.tail),
		watcher.WithFollow(true),
		watcher.WithWaitForFirstLog(false),
		watcher.WithTimeRange(o.since, ""),
		watcher.WithOnLog(onLog),
	}
	if o.timestamps {
		wo = append(wo, watcher.WithTimestamps())
	}
	if o.noLogPrefix {
		wo = append(wo, watcher.WithoutLogPrefix())
	}
	return wo
}

func (a *app) logs(ctx context.Context, ref, service string, o logsOptions) error {
	d, err := a.attachDeployment(ctx, ref)
	if err != nil {
		return err
	}

	printLine := func(line logs.Line) {
		if line.Stream == logs.Stderr {
			fmt.Fprintln(a.stdout, yellow.Sprint(line.Text))
			return
		}
		fmt.Fprintln(a.stdout, line.Text)
	}

	return d.Run(ctx, func(ctx context.Context) error {
		w := d.NewWatcher(service, o.watcherOptions(printLine)...)
		return w.Watch(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	})
}

// =============================================================================
// ls
// =============================================================================

func newLsCmd(opts *rootOptions) *cobra.Command {
	var (
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List registered environments",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.openStore()
			if err != nil {
				return err
			}
			envs, err := s.ListEnvironments(cmd.Context(), store.ListOptions{ActiveOnly: !all})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(envs)
			}
			printEnvironments(a.stdout, envs)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include environments that are torn down or never initialized")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
