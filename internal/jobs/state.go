package jobs

import "strings"

// State is one step of the preview pipeline.
type State string

const (
	StateSubmitted            State = "submitted"
	StateValidated            State = "validated"
	StateGeneratingTemplate   State = "generating_template"
	StateTemplateReady        State = "template_ready"
	StateGeneratingTaggedText State = "generating_tagged_text"
	StateTaggedTextReady      State = "tagged_text_ready"
	StateRendering            State = "rendering"
	StateRendered             State = "rendered"
	StateCancelled            State = "cancelled"
	StateError                State = "error"
)

var allStates = []State{
	StateSubmitted,
	StateValidated,
	StateGeneratingTemplate,
	StateTemplateReady,
	StateGeneratingTaggedText,
	StateTaggedTextReady,
	StateRendering,
	StateRendered,
	StateCancelled,
	StateError,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// pipeline is the linear happy path; each state advances to the next.
var pipeline = []State{
	StateSubmitted,
	StateValidated,
	StateGeneratingTemplate,
	StateTemplateReady,
	StateGeneratingTaggedText,
	StateTaggedTextReady,
	StateRendering,
	StateRendered,
}

var nextState = func() map[State]State {
	next := make(map[State]State, len(pipeline)-1)
	for i := 0; i < len(pipeline)-1; i++ {
		next[pipeline[i]] = pipeline[i+1]
	}
	return next
}()

var inProgressStates = map[State]struct{}{
	StateGeneratingTemplate:   {},
	StateGeneratingTaggedText: {},
	StateRendering:            {},
}

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stateSet[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

// IsTerminal reports whether no further transition may follow s.
func (s State) IsTerminal() bool {
	switch s {
	case StateRendered, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

// IsInProgress reports whether s represents work running in a backing system.
// Only in-progress states may be re-entered.
func (s State) IsInProgress() bool {
	_, ok := inProgressStates[s]
	return ok
}

// Next returns the state that follows s on the happy path.
func (s State) Next() (State, bool) {
	next, ok := nextState[s]
	return next, ok
}

// CanTransition reports whether a job currently in from may append to. The
// empty state stands for a job with no history.
func CanTransition(from, to State) bool {
	if _, ok := stateSet[to]; !ok {
		return false
	}
	if from == "" {
		return to == StateSubmitted
	}
	if from.IsTerminal() {
		return false
	}
	switch {
	case to == StateCancelled || to == StateError:
		return true
	case from == to:
		return from.IsInProgress()
	default:
		next, ok := nextState[from]
		return ok && next == to
	}
}
