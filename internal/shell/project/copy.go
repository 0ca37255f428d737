package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/artpar/stagehand/internal/shell/composecli"
	"github.com/artpar/stagehand/internal/shell/healthcheck"
	"github.com/artpar/stagehand/internal/shell/status"
)

// CopyProject mirrors a local project tree into a fresh directory and runs
// compose from the copy. Tear down removes the copy; the source is never
// touched.
type CopyProject struct {
	Hooks

	Source      string   // tree to mirror
	BaseDir     string   // parent of the copy; defaults to os.TempDir()
	Files       []string // relative to the tree; defaults to docker-compose.yml
	ProjectName string   // defaults to the copy's directory name
	Checks      []healthcheck.Check
	CLI         CLIConfig

	mu  sync.Mutex
	dir string
}

var _ Project = (*CopyProject)(nil)

// NewCopyProject creates a project mirroring source.
func NewCopyProject(source string, files ...string) *CopyProject {
	return &CopyProject{Source: source, Files: files}
}

// Dir returns the directory of the current copy, or "" before Initialize.
func (p *CopyProject) Dir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

// Initialize copies the source tree into a new directory named after a random
// ID and returns a CLI bound to the copy.
func (p *CopyProject) Initialize(ctx context.Context, helper status.Helper) (composecli.CLI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dir != "" {
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, p.dir)
	}

	base := p.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	name := "stagehand-" + uuid.NewString()[:8]
	dir := filepath.Join(base, name)

	helper.Info("copying project", "from", p.Source, "to", dir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	if err := os.CopyFS(dir, os.DirFS(p.Source)); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("copy %s: %w", p.Source, err)
	}

	projectName := p.ProjectName
	if projectName == "" {
		projectName = name
	}
	cli, err := p.CLI.build(dir, projectName, composeFiles(p.Files), helper)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	p.dir = dir
	return cli, nil
}

// HealthChecks returns the configured checks.
func (p *CopyProject) HealthChecks(ctx context.Context, helper status.Helper) ([]healthcheck.Check, error) {
	return slices.Clone(p.Checks), nil
}

// TearDown removes the copy. Without one it does nothing.
func (p *CopyProject) TearDown(ctx context.Context, helper status.Helper) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dir == "" {
		helper.Debug("nothing to remove")
		return nil
	}
	helper.Info("removing project copy", "dir", p.dir)
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("remove %s: %w", p.dir, err)
	}
	p.dir = ""
	return nil
}
