package project

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/artpar/stagehand/internal/shell/composecli"
	"github.com/artpar/stagehand/internal/shell/healthcheck"
	"github.com/artpar/stagehand/internal/shell/status"
)

// LocalProject runs compose files in place. Tear down leaves the directory
// alone unless RemoveOnTearDown is set, which is how a copied or rendered
// tree from an earlier run is reattached and cleaned up.
type LocalProject struct {
	Hooks

	Dir         string   // working directory; relative files resolve against it
	Files       []string // defaults to docker-compose.yml
	ProjectName string   // -p value; empty lets compose derive it
	Checks      []healthcheck.Check
	CLI         CLIConfig

	RemoveOnTearDown bool
}

var _ Project = (*LocalProject)(nil)

// NewLocalProject creates a project for the given compose files.
func NewLocalProject(dir string, files ...string) *LocalProject {
	return &LocalProject{Dir: dir, Files: files}
}

// Initialize checks the compose files exist and returns a CLI bound to them.
func (p *LocalProject) Initialize(ctx context.Context, helper status.Helper) (composecli.CLI, error) {
	cli, err := p.CLI.build(p.Dir, p.ProjectName, composeFiles(p.Files), helper)
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// HealthChecks returns the configured checks.
func (p *LocalProject) HealthChecks(ctx context.Context, helper status.Helper) ([]healthcheck.Check, error) {
	return slices.Clone(p.Checks), nil
}

// TearDown removes Dir when RemoveOnTearDown is set.
func (p *LocalProject) TearDown(ctx context.Context, helper status.Helper) error {
	if !p.RemoveOnTearDown || p.Dir == "" {
		return nil
	}
	helper.Debug("removing project directory", "dir", p.Dir)
	if err := os.RemoveAll(p.Dir); err != nil {
		return fmt.Errorf("remove %s: %w", p.Dir, err)
	}
	return nil
}
