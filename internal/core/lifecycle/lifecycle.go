// Package lifecycle describes the phases an environment walks through between
// being brought up and being torn down, and which of them a policy enables.
//
// This package is part of the Functional Core. It holds no handles and does no
// I/O; the deployment orchestrator in internal/shell/deployment executes the
// plans produced here.
//
// # Plans
//
// Entry phases always run in this order, skipping disabled ones:
//
//	initialize -> inspect -> pull -> up -> health
//
// Exit phases always run in this order:
//
//	stop -> down -> teardown
//
// There is no rollback: a failing entry phase leaves the environment
// partially entered and exit cleanup is the caller's responsibility.
package lifecycle

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrUnknownPhase      = errors.New("unknown lifecycle phase")
)

// =============================================================================
// Phases
// =============================================================================

// Phase is one step of the lifecycle.
type Phase string

const (
	PhaseInitialize Phase = "initialize"
	PhaseInspect    Phase = "inspect"
	PhasePull       Phase = "pull"
	PhaseUp         Phase = "up"
	PhaseHealth     Phase = "health"
	PhaseRestart    Phase = "restart"
	PhaseStop       Phase = "stop"
	PhaseDown       Phase = "down"
	PhaseTearDown   Phase = "teardown"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// NeedsCLI reports whether the phase talks to the compose tool and therefore
// requires an initialized environment.
func (p Phase) NeedsCLI() bool {
	switch p {
	case PhaseInspect, PhasePull, PhaseUp, PhaseHealth, PhaseRestart, PhaseStop, PhaseDown:
		return true
	default:
		return false
	}
}

// ParsePhase converts a stored phase name back into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseInitialize, PhaseInspect, PhasePull, PhaseUp, PhaseHealth,
		PhaseRestart, PhaseStop, PhaseDown, PhaseTearDown:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPhase, s)
}

// =============================================================================
// States
// =============================================================================

// State is the position of an environment in its lifecycle. It is derived from
// the last completed phase.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateInspected     State = "inspected"
	StatePulled        State = "pulled"
	StateUp            State = "up"
	StateHealthChecked State = "health_checked"
	StateStopped       State = "stopped"
	StateDown          State = "down"
	StateTornDown      State = "torn_down"
)

// StateAfter returns the state an environment is in once phase completed.
// Restart leaves the environment running, so it maps to StateUp.
func StateAfter(phase Phase) State {
	switch phase {
	case PhaseInitialize:
		return StateInitialized
	case PhaseInspect:
		return StateInspected
	case PhasePull:
		return StatePulled
	case PhaseUp, PhaseRestart:
		return StateUp
	case PhaseHealth:
		return StateHealthChecked
	case PhaseStop:
		return StateStopped
	case PhaseDown:
		return StateDown
	case PhaseTearDown:
		return StateTornDown
	default:
		return StateUninitialized
	}
}

// running lists every state in which the environment holds a CLI handle.
var running = []State{
	StateInitialized, StateInspected, StatePulled, StateUp,
	StateHealthChecked, StateStopped, StateDown,
}

// validTransitions defines the allowed state transitions. Once initialized
// every CLI phase may be issued manually in any order; only the edges into
// and out of the uninitialized state are constrained.
var validTransitions = map[State][]State{
	// Tear-down is legal without initialize so that exit after a failed
	// initialize still releases project resources.
	StateUninitialized: {StateInitialized, StateTornDown},
	StateInitialized:   fromRunning(),
	StateInspected:     fromRunning(),
	StatePulled:        fromRunning(),
	StateUp:            fromRunning(),
	StateHealthChecked: fromRunning(),
	StateStopped:       fromRunning(),
	StateDown:          fromRunning(),
	StateTornDown:      {StateUninitialized, StateInitialized},
}

func fromRunning() []State {
	out := make([]State, 0, len(running)+1)
	out = append(out, running...)
	return append(out, StateTornDown)
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Advance validates that phase may complete in state from and returns the
// resulting state.
func Advance(from State, phase Phase) (State, error) {
	to := StateAfter(phase)
	if err := ValidateTransition(from, to); err != nil {
		return from, err
	}
	return to, nil
}

// Initialized reports whether the state holds a CLI handle.
func (s State) Initialized() bool {
	for _, r := range running {
		if r == s {
			return true
		}
	}
	return false
}
