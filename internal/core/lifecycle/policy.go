package lifecycle

// =============================================================================
// Policy
// =============================================================================

// Policy is the set of flags selecting which phases run automatically when an
// environment is entered and exited.
type Policy struct {
	InitializeOnEnter bool `mapstructure:"initialize_on_enter" json:"initialize_on_enter"`
	InspectOnEnter    bool `mapstructure:"inspect_on_enter" json:"inspect_on_enter"`
	PullOnEnter       bool `mapstructure:"pull_on_enter" json:"pull_on_enter"`
	UpOnEnter         bool `mapstructure:"up_on_enter" json:"up_on_enter"`
	HealthOnEnter     bool `mapstructure:"health_on_enter" json:"health_on_enter"`
	StopOnExit        bool `mapstructure:"stop_on_exit" json:"stop_on_exit"`
	DownOnExit        bool `mapstructure:"down_on_exit" json:"down_on_exit"`
	TearDownOnExit    bool `mapstructure:"tear_down_on_exit" json:"tear_down_on_exit"`
}

// DefaultPolicy initializes and inspects on enter and does nothing on exit.
func DefaultPolicy() Policy {
	return Policy{
		InitializeOnEnter: true,
		InspectOnEnter:    true,
	}
}

// LocalPolicy brings an existing compose project up and stops it on exit,
// leaving containers and volumes in place for the next run.
func LocalPolicy() Policy {
	return Policy{
		InitializeOnEnter: true,
		InspectOnEnter:    true,
		UpOnEnter:         true,
		StopOnExit:        true,
	}
}

// TestingPolicy runs the full cycle: everything is pulled, started and
// health checked on enter and removed on exit.
func TestingPolicy() Policy {
	return Policy{
		InitializeOnEnter: true,
		InspectOnEnter:    true,
		PullOnEnter:       true,
		UpOnEnter:         true,
		HealthOnEnter:     true,
		StopOnExit:        true,
		DownOnExit:        true,
		TearDownOnExit:    true,
	}
}

// MonitoringPolicy attaches to an environment somebody else is running. It
// only checks health and never changes the environment.
func MonitoringPolicy() Policy {
	return Policy{
		InitializeOnEnter: true,
		InspectOnEnter:    true,
		HealthOnEnter:     true,
	}
}

// MirrorPolicy works on a private copy of a project: it starts the copy and
// stops it on exit. The copy is kept so that a later run can reuse it.
func MirrorPolicy() Policy {
	return Policy{
		InitializeOnEnter: true,
		InspectOnEnter:    true,
		UpOnEnter:         true,
		StopOnExit:        true,
	}
}

// TemplatePolicy starts a project rendered from a template. The rendered tree
// and its containers are left running for inspection.
func TemplatePolicy() Policy {
	return Policy{
		InitializeOnEnter: true,
		InspectOnEnter:    true,
		UpOnEnter:         true,
	}
}

// =============================================================================
// Plans
// =============================================================================

// EntryPhases returns the enabled entry phases in execution order.
func EntryPhases(p Policy) []Phase {
	var phases []Phase
	if p.InitializeOnEnter {
		phases = append(phases, PhaseInitialize)
	}
	if p.InspectOnEnter {
		phases = append(phases, PhaseInspect)
	}
	if p.PullOnEnter {
		phases = append(phases, PhasePull)
	}
	if p.UpOnEnter {
		phases = append(phases, PhaseUp)
	}
	if p.HealthOnEnter {
		phases = append(phases, PhaseHealth)
	}
	return phases
}

// ExitPhases returns the enabled exit phases in execution order.
func ExitPhases(p Policy) []Phase {
	var phases []Phase
	if p.StopOnExit {
		phases = append(phases, PhaseStop)
	}
	if p.DownOnExit {
		phases = append(phases, PhaseDown)
	}
	if p.TearDownOnExit {
		phases = append(phases, PhaseTearDown)
	}
	return phases
}

// Enables reports whether the policy runs phase on enter or exit.
func (p Policy) Enables(phase Phase) bool {
	for _, ph := range EntryPhases(p) {
		if ph == phase {
			return true
		}
	}
	for _, ph := range ExitPhases(p) {
		if ph == phase {
			return true
		}
	}
	return false
}
