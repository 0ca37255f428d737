package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Plan Tests
// =============================================================================

func TestEntryPhases_FixedOrder(t *testing.T) {
	p := Policy{
		HealthOnEnter:     true,
		UpOnEnter:         true,
		PullOnEnter:       true,
		InspectOnEnter:    true,
		InitializeOnEnter: true,
	}

	assert.Equal(t, []Phase{
		PhaseInitialize, PhaseInspect, PhasePull, PhaseUp, PhaseHealth,
	}, EntryPhases(p))
}

func TestEntryPhases_SkipsDisabled(t *testing.T) {
	p := Policy{InitializeOnEnter: true, UpOnEnter: true, HealthOnEnter: true}
	assert.Equal(t, []Phase{PhaseInitialize, PhaseUp, PhaseHealth}, EntryPhases(p))
	assert.Empty(t, EntryPhases(Policy{}))
}

func TestExitPhases_FixedOrder(t *testing.T) {
	p := Policy{TearDownOnExit: true, DownOnExit: true, StopOnExit: true}
	assert.Equal(t, []Phase{PhaseStop, PhaseDown, PhaseTearDown}, ExitPhases(p))

	assert.Equal(t, []Phase{PhaseTearDown}, ExitPhases(Policy{TearDownOnExit: true}))
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name  string
		p     Policy
		entry []Phase
		exit  []Phase
	}{
		{
			name:  "local",
			p:     LocalPolicy(),
			entry: []Phase{PhaseInitialize, PhaseInspect, PhaseUp},
			exit:  []Phase{PhaseStop},
		},
		{
			name:  "testing",
			p:     TestingPolicy(),
			entry: []Phase{PhaseInitialize, PhaseInspect, PhasePull, PhaseUp, PhaseHealth},
			exit:  []Phase{PhaseStop, PhaseDown, PhaseTearDown},
		},
		{
			name:  "monitoring",
			p:     MonitoringPolicy(),
			entry: []Phase{PhaseInitialize, PhaseInspect, PhaseHealth},
			exit:  nil,
		},
		{
			name:  "mirror",
			p:     MirrorPolicy(),
			entry: []Phase{PhaseInitialize, PhaseInspect, PhaseUp},
			exit:  []Phase{PhaseStop},
		},
		{
			name:  "template",
			p:     TemplatePolicy(),
			entry: []Phase{PhaseInitialize, PhaseInspect, PhaseUp},
			exit:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.entry, EntryPhases(tt.p))
			assert.Equal(t, tt.exit, ExitPhases(tt.p))
		})
	}
}

func TestPolicy_Enables(t *testing.T) {
	p := LocalPolicy()
	assert.True(t, p.Enables(PhaseUp))
	assert.True(t, p.Enables(PhaseStop))
	assert.False(t, p.Enables(PhaseDown))
	assert.False(t, p.Enables(PhasePull))
}

// =============================================================================
// State Machine Tests
// =============================================================================

func TestValidateTransition_AllValid(t *testing.T) {
	validTransitions := []struct {
		from State
		to   State
	}{
		{StateUninitialized, StateInitialized},
		{StateUninitialized, StateTornDown},
		{StateInitialized, StateInitialized},
		{StateInitialized, StateInspected},
		{StateInspected, StatePulled},
		{StatePulled, StateUp},
		{StateUp, StateHealthChecked},
		{StateUp, StateInspected},
		{StateHealthChecked, StateStopped},
		{StateStopped, StateDown},
		{StateDown, StateTornDown},
		{StateTornDown, StateInitialized},
		{StateTornDown, StateUninitialized},
	}

	for _, tc := range validTransitions {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			err := ValidateTransition(tc.from, tc.to)
			assert.NoError(t, err)
		})
	}
}

func TestValidateTransition_AllInvalid(t *testing.T) {
	invalidTransitions := []struct {
		from State
		to   State
	}{
		{StateUninitialized, StateInspected},
		{StateUninitialized, StateUp},
		{StateUninitialized, StateStopped},
		{StateUninitialized, StateDown},
		{StateTornDown, StateUp},
		{StateTornDown, StateTornDown},
		{State("bogus"), StateInitialized},
	}

	for _, tc := range invalidTransitions {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			err := ValidateTransition(tc.from, tc.to)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestAdvance(t *testing.T) {
	state := StateUninitialized

	_, err := Advance(state, PhaseUp)
	require.ErrorIs(t, err, ErrInvalidTransition)

	for _, phase := range EntryPhases(TestingPolicy()) {
		state, err = Advance(state, phase)
		require.NoError(t, err, phase)
	}
	assert.Equal(t, StateHealthChecked, state)

	state, err = Advance(state, PhaseRestart)
	require.NoError(t, err)
	assert.Equal(t, StateUp, state)

	for _, phase := range ExitPhases(TestingPolicy()) {
		state, err = Advance(state, phase)
		require.NoError(t, err, phase)
	}
	assert.Equal(t, StateTornDown, state)
	assert.False(t, state.Initialized())
}

func TestState_Initialized(t *testing.T) {
	assert.False(t, StateUninitialized.Initialized())
	assert.False(t, StateTornDown.Initialized())
	assert.True(t, StateInitialized.Initialized())
	assert.True(t, StateDown.Initialized())
}

// =============================================================================
// Phase Tests
// =============================================================================

func TestPhase_NeedsCLI(t *testing.T) {
	assert.False(t, PhaseInitialize.NeedsCLI())
	assert.False(t, PhaseTearDown.NeedsCLI())
	for _, p := range []Phase{PhaseInspect, PhasePull, PhaseUp, PhaseHealth, PhaseRestart, PhaseStop, PhaseDown} {
		assert.True(t, p.NeedsCLI(), p)
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("teardown")
	require.NoError(t, err)
	assert.Equal(t, PhaseTearDown, p)

	_, err = ParsePhase("explode")
	assert.ErrorIs(t, err, ErrUnknownPhase)
}
