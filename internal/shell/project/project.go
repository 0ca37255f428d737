// Package project provides the backends a deployment gets its compose CLI
// from. A backend decides where the compose files live (in place, in a copied
// tree, in a rendered template) and what has to be cleaned up afterwards.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/stagehand/internal/shell/composecli"
	"github.com/artpar/stagehand/internal/shell/healthcheck"
	"github.com/artpar/stagehand/internal/shell/status"
)

// DefaultComposeFile is used when a project names no compose files.
const DefaultComposeFile = "docker-compose.yml"

// =============================================================================
// Errors
// =============================================================================

var (
	ErrComposeFileNotFound = errors.New("compose file not found")
	ErrProjectExists       = errors.New("project directory already exists")
	ErrRender              = errors.New("template render failed")
)

// RenderError is a failure rendering one template file.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() []error {
	return []error{ErrRender, e.Err}
}

// =============================================================================
// Project
// =============================================================================

// Project is the source of a deployment's compose CLI.
type Project interface {
	// Initialize prepares the project and returns the CLI bound to it.
	Initialize(ctx context.Context, helper status.Helper) (composecli.CLI, error)
	// HealthChecks returns checks the project ships with.
	HealthChecks(ctx context.Context, helper status.Helper) ([]healthcheck.Check, error)
	// TearDown releases whatever Initialize created.
	TearDown(ctx context.Context, helper status.Helper) error

	BeforePull(ctx context.Context) error
	BeforeUp(ctx context.Context) error
	BeforeDown(ctx context.Context) error
	BeforeStop(ctx context.Context) error
	BeforeEnter(ctx context.Context) error
}

// Hooks implements the Before* methods as no-ops. Embed it to override only
// the hooks a backend needs.
type Hooks struct{}

func (Hooks) BeforePull(context.Context) error  { return nil }
func (Hooks) BeforeUp(context.Context) error    { return nil }
func (Hooks) BeforeDown(context.Context) error  { return nil }
func (Hooks) BeforeStop(context.Context) error  { return nil }
func (Hooks) BeforeEnter(context.Context) error { return nil }

// CLIConfig carries the CLI settings that do not depend on where a project
// lives: binary, runner, port resolver and logger.
type CLIConfig struct {
	Binary   string
	Runner   composecli.CommandRunner
	Resolver composecli.PortResolver
	Logger   *slog.Logger
}

func (c CLIConfig) build(dir, projectName string, files []string, helper status.Helper) (*composecli.Compose, error) {
	for _, f := range files {
		path := f
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, f)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrComposeFileNotFound, path)
		}
	}
	helper.Debug("compose project ready", "dir", dir, "project", projectName, "files", files)
	return composecli.New(composecli.Options{
		Binary:      c.Binary,
		Dir:         dir,
		ProjectName: projectName,
		Files:       files,
		Runner:      c.Runner,
		Resolver:    c.Resolver,
		Logger:      c.Logger,
	}), nil
}

func composeFiles(files []string) []string {
	if len(files) == 0 {
		return []string{DefaultComposeFile}
	}
	return append([]string(nil), files...)
}
