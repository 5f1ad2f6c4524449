package engine

// ApprovalKind selects which of the two independent approval flags to set.
type ApprovalKind string

const (
	ApprovalAuthority ApprovalKind = "authority"
	ApprovalHuman     ApprovalKind = "human"
)

func (k ApprovalKind) Valid() bool {
	return k == ApprovalAuthority || k == ApprovalHuman
}

// ApprovalGate is the dual-approval value: a deliverable is complete only
// when both the authority agent and a human have approved it. Order is
// irrelevant and setting an already-set flag is a no-op.
type ApprovalGate struct {
	Authority bool
	Human     bool
}

// Approve returns the gate with the given flag set and whether it changed.
func (g ApprovalGate) Approve(kind ApprovalKind) (ApprovalGate, bool) {
	switch kind {
	case ApprovalAuthority:
		if g.Authority {
			return g, false
		}
		g.Authority = true
	case ApprovalHuman:
		if g.Human {
			return g, false
		}
		g.Human = true
	}
	return g, true
}

// Complete reports whether both approvals are present.
func (g ApprovalGate) Complete() bool {
	return g.Authority && g.Human
}

// Status maps the gate onto a deliverable status.
func (g ApprovalGate) Status() string {
	switch {
	case g.Complete():
		return "approved"
	case g.Authority || g.Human:
		return "in_review"
	default:
		return "pending"
	}
}
