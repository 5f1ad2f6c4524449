package engine

import "fmt"

// PrerequisiteError reports a phase activated out of order.
type PrerequisiteError struct {
	ProjectID string
	Phase     int
	Missing   int
}

func (e PrerequisiteError) Error() string {
	return fmt.Sprintf("phase %d cannot activate: phase %d is not completed", e.Phase, e.Missing)
}

// TransitionError reports a state transition from an unexpected pre-state,
// including promotions of already-resolved escalations.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s (id %s)", e.Entity, e.From, e.To, e.ID)
}
