package model

// PipelineState is a state of the orchestrator's lifecycle.
type PipelineState int

const (
	StateInitializing PipelineState = iota
	StateProvisioning
	StateRunning
	StateDraining
	StateFailed
	StateStopped
)

var stateNames = [...]string{"INITIALIZING", "PROVISIONING", "RUNNING", "DRAINING", "FAILED", "STOPPED"}

func (s PipelineState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// IsTerminal reports whether no transition leaves s.
func (s PipelineState) IsTerminal() bool {
	return s == StateStopped
}

var transitions = map[PipelineState][]PipelineState{
	StateInitializing: {StateProvisioning, StateFailed, StateStopped},
	StateProvisioning: {StateRunning, StateFailed, StateStopped},
	StateRunning:      {StateDraining, StateFailed},
	StateDraining:     {StateStopped, StateFailed},
	StateFailed:       {StateStopped},
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s PipelineState) CanTransitionTo(next PipelineState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllStates lists every state in lifecycle order.
func AllStates() []PipelineState {
	return []PipelineState{StateInitializing, StateProvisioning, StateRunning, StateDraining, StateFailed, StateStopped}
}
