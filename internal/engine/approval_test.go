package engine_test

import (
	"testing"

	"ventureline/internal/engine"
)

func TestApprovalGate(t *testing.T) {
	cases := []struct {
		name       string
		start      engine.ApprovalGate
		kind       engine.ApprovalKind
		wantChange bool
		wantStatus string
	}{
		{"authority first", engine.ApprovalGate{}, engine.ApprovalAuthority, true, "in_review"},
		{"human first", engine.ApprovalGate{}, engine.ApprovalHuman, true, "in_review"},
		{"authority completes", engine.ApprovalGate{Human: true}, engine.ApprovalAuthority, true, "approved"},
		{"human completes", engine.ApprovalGate{Authority: true}, engine.ApprovalHuman, true, "approved"},
		{"authority repeat is noop", engine.ApprovalGate{Authority: true}, engine.ApprovalAuthority, false, "in_review"},
		{"human repeat is noop", engine.ApprovalGate{Human: true}, engine.ApprovalHuman, false, "in_review"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate, changed := tc.start.Approve(tc.kind)
			if changed != tc.wantChange {
				t.Fatalf("changed = %v, want %v", changed, tc.wantChange)
			}
			if gate.Status() != tc.wantStatus {
				t.Fatalf("status = %s, want %s", gate.Status(), tc.wantStatus)
			}
		})
	}
}

func TestApprovalGateOrderIndependent(t *testing.T) {
	a, _ := engine.ApprovalGate{}.Approve(engine.ApprovalAuthority)
	a, _ = a.Approve(engine.ApprovalHuman)
	b, _ := engine.ApprovalGate{}.Approve(engine.ApprovalHuman)
	b, _ = b.Approve(engine.ApprovalAuthority)
	if a != b || !a.Complete() {
		t.Fatalf("approval order should not matter: %+v vs %+v", a, b)
	}
}

func TestApprovalKindValid(t *testing.T) {
	if !engine.ApprovalAuthority.Valid() || !engine.ApprovalHuman.Valid() {
		t.Fatalf("expected known kinds to be valid")
	}
	if engine.ApprovalKind("manager").Valid() {
		t.Fatalf("unknown kind should be invalid")
	}
}
