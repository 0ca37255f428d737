package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stagehand/internal/core/lifecycle"
)

// =============================================================================
// Environment Errors
// =============================================================================

var (
	ErrNameRequired       = errors.New("environment name is required")
	ErrProjectDirRequired = errors.New("project directory is required")
	ErrInvalidMode        = errors.New("invalid project mode")
)

// =============================================================================
// Project Mode
// =============================================================================

// Mode selects how an environment's compose files are provided.
type Mode string

const (
	ModeLocal    Mode = "local"    // run the files in place
	ModeCopy     Mode = "copy"     // run a private copy of the project tree
	ModeTemplate Mode = "template" // render a template tree first
)

// ParseMode validates a mode name. Empty means local.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeLocal, nil
	case ModeLocal, ModeCopy, ModeTemplate:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// OwnsWorkDir reports whether the working directory was created for the
// environment and is removed on tear down.
func (m Mode) OwnsWorkDir() bool {
	return m == ModeCopy || m == ModeTemplate
}

// =============================================================================
// Environment
// =============================================================================

// Environment is the registry record of one deployment: where its compose
// project lives and how far its lifecycle got.
type Environment struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Mode         Mode            `json:"mode"`
	ProjectDir   string          `json:"project_dir"`        // source tree or template
	WorkDir      string          `json:"work_dir,omitempty"` // where compose runs
	ProjectName  string          `json:"project_name,omitempty"`
	ComposeFiles []string        `json:"compose_files"`
	Phase        lifecycle.Phase `json:"phase,omitempty"` // last attempted phase
	State        lifecycle.State `json:"state"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewEnvironment validates the inputs and returns an uninitialized record.
// The name is slugified so it can double as the compose project name.
func NewEnvironment(name string, mode Mode, projectDir string, files []string) (*Environment, error) {
	name = Slugify(strings.TrimSpace(name))
	if name == "" {
		return nil, ErrNameRequired
	}
	if strings.TrimSpace(projectDir) == "" {
		return nil, ErrProjectDirRequired
	}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	env := &Environment{
		ID:           uuid.NewString(),
		Name:         name,
		Mode:         mode,
		ProjectDir:   projectDir,
		ComposeFiles: append([]string(nil), files...),
		State:        lifecycle.StateUninitialized,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mode == ModeLocal {
		env.WorkDir = projectDir
	}
	return env, nil
}

// ApplyPhase records the outcome of phase. A failure keeps the previous state
// and stores the error message; a success advances the state and clears it.
func (e *Environment) ApplyPhase(phase lifecycle.Phase, phaseErr error, at time.Time) {
	e.Phase = phase
	e.UpdatedAt = at.UTC()
	if phaseErr != nil {
		e.Error = phaseErr.Error()
		return
	}
	e.Error = ""
	e.State = lifecycle.StateAfter(phase)
}

// Active reports whether the environment may still hold containers or files.
func (e *Environment) Active() bool {
	return e.State != lifecycle.StateUninitialized && e.State != lifecycle.StateTornDown
}

// Failed reports whether the last attempted phase failed.
func (e *Environment) Failed() bool {
	return e.Error != ""
}
