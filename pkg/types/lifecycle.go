package types

// LifecycleState pairs the coarse status with the provisioning phase. Only
// the pairs listed in validTransitions ever appear on a sandbox row.
type LifecycleState struct {
	Status SandboxStatus
	Phase  SandboxPhase
}

// InitialState is the state every sandbox row is inserted with.
var InitialState = LifecycleState{StatusPending, PhaseCreating}

// validTransitions is the complete lifecycle transition table. Destruction
// is a row delete, not a transition, so it does not appear here.
var validTransitions = map[LifecycleState][]LifecycleState{
	{StatusPending, PhaseCreating}: {
		{StatusPending, PhaseStarting},
		{StatusError, PhaseFailed},
	},
	{StatusPending, PhaseStarting}: {
		{StatusRunning, PhaseHealthy},
		{StatusError, PhaseFailed},
	},
	{StatusRunning, PhaseHealthy}: {
		{StatusStopped, PhaseStopped},
		{StatusExpired, PhaseStopped},
		{StatusError, PhaseFailed},
		{StatusRunning, PhaseHealthy}, // restart re-stamps started_at
	},
	{StatusStopped, PhaseStopped}: {
		{StatusRunning, PhaseHealthy},
		{StatusExpired, PhaseStopped},
		{StatusError, PhaseFailed},
	},
	{StatusError, PhaseFailed}:     {},
	{StatusExpired, PhaseStopped}:  {},
}

// CanTransition reports whether moving from one lifecycle state to another
// is legal.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status counts against nothing: terminal
// sandboxes do not consume quota and are skipped by the TTL sweeper.
func (s SandboxStatus) IsTerminal() bool {
	return s == StatusStopped || s == StatusExpired || s == StatusError
}

// State returns the sandbox's current lifecycle state.
func (s *Sandbox) State() LifecycleState {
	return LifecycleState{s.Status, s.Phase}
}
