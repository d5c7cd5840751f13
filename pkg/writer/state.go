// ABOUTME: State machine for the non-transactional parent/children write
// ABOUTME: Makes the orphaned-parent window an explicit, observable state

package writer

import "fmt"

// State is the progress of one two-step write.
type State int

const (
	// StatePending: nothing written yet.
	StatePending State = iota
	// StateParentCreated: the document exists but has no questions. Readers
	// can observe this state; it is the window compensation closes.
	StateParentCreated
	// StateComplete: document and questions are both written.
	StateComplete
	// StateRolledBack: questions failed and the document was deleted again.
	StateRolledBack
	// StateOrphaned: questions failed and the compensating delete failed too.
	StateOrphaned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateParentCreated:
		return "parent_created"
	case StateComplete:
		return "complete"
	case StateRolledBack:
		return "rolled_back"
	case StateOrphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateRolledBack || s == StateOrphaned
}

var transitions = map[State][]State{
	StatePending:       {StateParentCreated},
	StateParentCreated: {StateComplete, StateRolledBack, StateOrphaned},
}

// twoStepWrite tracks one parent-then-children write.
type twoStepWrite struct {
	workflow   Workflow
	state      State
	documentID string
}

func (t *twoStepWrite) advance(to State) {
	for _, allowed := range transitions[t.state] {
		if allowed == to {
			t.state = to
			return
		}
	}
	// Only reachable through a programming error in this package.
	panic(fmt.Sprintf("writer: invalid transition %s -> %s in %s", t.state, to, t.workflow))
}
