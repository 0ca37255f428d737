package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"github.com/artpar/stagehand/internal/shell/composecli"
	"github.com/artpar/stagehand/internal/shell/healthcheck"
	"github.com/artpar/stagehand/internal/shell/status"
)

const (
	// TemplateSuffix marks files rendered instead of copied.
	TemplateSuffix = ".tmpl"
	// ValuesFile records the values a project was rendered with.
	ValuesFile = "stagehand.values.yaml"
)

// TemplateData is what templates see as their dot.
type TemplateData struct {
	Project string
	Values  map[string]any
}

// TemplateProject renders a template tree into BaseDir/Name and runs compose
// from there. Files ending in .tmpl are executed with sprig functions and
// written without the suffix; everything else is copied. Referencing a value
// that is not set fails the render.
type TemplateProject struct {
	Hooks

	TemplateDir string
	BaseDir     string // defaults to .stagehand in the working directory
	Name        string
	Values      map[string]any
	Files       []string // relative to the rendered tree; defaults to docker-compose.yml
	Checks      []healthcheck.Check
	CLI         CLIConfig

	mu  sync.Mutex
	dir string
}

var _ Project = (*TemplateProject)(nil)

// NewTemplateProject creates a project rendering templateDir as name.
func NewTemplateProject(templateDir, name string, values map[string]any) *TemplateProject {
	return &TemplateProject{TemplateDir: templateDir, Name: name, Values: values}
}

// Dir returns the rendered directory, or "" before Initialize.
func (p *TemplateProject) Dir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

func (p *TemplateProject) targetDir() string {
	base := p.BaseDir
	if base == "" {
		base = ".stagehand"
	}
	return filepath.Join(base, p.Name)
}

// Initialize renders the tree. It fails with ErrProjectExists when the target
// directory is already present.
func (p *TemplateProject) Initialize(ctx context.Context, helper status.Helper) (composecli.CLI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.New("template project name is required")
	}
	dir := p.targetDir()
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, dir)
	}

	helper.Info("rendering project", "template", p.TemplateDir, "to", dir)
	data := TemplateData{Project: p.Name, Values: p.Values}
	if err := renderTree(os.DirFS(p.TemplateDir), dir, data); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	if err := writeValues(filepath.Join(dir, ValuesFile), p.Values); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	cli, err := p.CLI.build(dir, p.Name, composeFiles(p.Files), helper)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	p.dir = dir
	return cli, nil
}

// HealthChecks returns the configured checks.
func (p *TemplateProject) HealthChecks(ctx context.Context, helper status.Helper) ([]healthcheck.Check, error) {
	return slices.Clone(p.Checks), nil
}

// TearDown removes the rendered tree.
func (p *TemplateProject) TearDown(ctx context.Context, helper status.Helper) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dir == "" {
		helper.Debug("nothing to remove")
		return nil
	}
	helper.Info("removing rendered project", "dir", p.dir)
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("remove %s: %w", p.dir, err)
	}
	p.dir = ""
	return nil
}

// LoadValues reads a values file written by a previous render.
func LoadValues(dir string) (map[string]any, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ValuesFile))
	if err != nil {
		return nil, err
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ValuesFile, err)
	}
	return values, nil
}

func renderTree(src fs.FS, dest string, data TemplateData) error {
	return fs.WalkDir(src, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		raw, err := fs.ReadFile(src, path)
		if err != nil {
			return err
		}
		if !strings.HasSuffix(path, TemplateSuffix) {
			return os.WriteFile(target, raw, 0o644)
		}

		out, err := renderFile(path, raw, data)
		if err != nil {
			return &RenderError{Path: path, Err: err}
		}
		return os.WriteFile(strings.TrimSuffix(target, TemplateSuffix), out, 0o644)
	})
}

func renderFile(name string, raw []byte, data TemplateData) ([]byte, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(string(raw))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValues(path string, values map[string]any) error {
	if values == nil {
		values = map[string]any{}
	}
	out, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
