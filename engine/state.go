package engine

// State is the lifecycle position of a Draft.
//
//	Draft -> Validating -> Valid | Invalid
//	Valid -> Distributing -> Distributed | Failed
//
// Invalid and Failed are not terminal: editing returns the draft to Draft and
// a failed distribution may be retried. Distributed is terminal.
type State string

const (
	StateDraft        State = "draft"
	StateValidating   State = "validating"
	StateValid        State = "valid"
	StateInvalid      State = "invalid"
	StateDistributing State = "distributing"
	StateDistributed  State = "distributed"
	StateFailed       State = "failed"
)

var transitions = map[State][]State{
	StateDraft:        {StateDraft, StateValidating},
	StateValidating:   {StateValid, StateInvalid},
	StateValid:        {StateDraft, StateValidating, StateDistributing},
	StateInvalid:      {StateDraft, StateValidating},
	StateDistributing: {StateDistributed, StateFailed},
	StateFailed:       {StateDraft, StateValidating, StateDistributing},
	StateDistributed:  nil,
}

// CanTransition reports whether a draft in state s may move to state to.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}
