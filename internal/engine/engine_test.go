package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ventureline/internal/config"
	"ventureline/internal/db"
	"ventureline/internal/engine"
	"ventureline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()
	if _, err := eng.InitializeProject(ctx, "proj-1", "test venture", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func TestInitializeProjectIdempotent(t *testing.T) {
	env := newTestEnv(t)
	// second init must not duplicate phases
	if _, err := env.Engine.InitializeProject(env.Ctx, "proj-1", "again", "tester"); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	phases, err := env.Engine.Repo.ListPhases(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list phases: %v", err)
	}
	if len(phases) != config.PhaseCount {
		t.Fatalf("expected %d phases, got %d", config.PhaseCount, len(phases))
	}
	if phases[0].Status != "active" {
		t.Fatalf("phase 1 should be active, got %s", phases[0].Status)
	}
	for _, ph := range phases[1:] {
		if ph.Status != "pending" {
			t.Fatalf("phase %d should be pending, got %s", ph.PhaseNumber, ph.Status)
		}
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Status != "active" || p.CurrentPhase != 1 {
		t.Fatalf("unexpected project state: %+v", p)
	}
}

func TestActivatePhaseOutOfOrder(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ActivatePhase(env.Ctx, "proj-1", 3, "tester")
	var prereq engine.PrerequisiteError
	if !errors.As(err, &prereq) {
		t.Fatalf("expected prerequisite error, got %v", err)
	}
	if prereq.Missing != 2 {
		t.Fatalf("expected phase 2 missing, got %d", prereq.Missing)
	}
	// re-activating the active phase is an invalid transition
	_, err = env.Engine.ActivatePhase(env.Ctx, "proj-1", 1, "tester")
	var transition engine.TransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected transition error, got %v", err)
	}
}

func TestCompletePhaseRequiresApprovals(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CompletePhase(env.Ctx, "proj-1", 1, "tester", false)
	if err == nil {
		t.Fatalf("expected completion blocked by unapproved deliverables")
	}
	phase, err := env.Engine.CompletePhase(env.Ctx, "proj-1", 1, "tester", true)
	if err != nil {
		t.Fatalf("force complete: %v", err)
	}
	if phase.Status != "completed" {
		t.Fatalf("expected completed, got %s", phase.Status)
	}
	next, err := env.Engine.Repo.GetPhase(env.Ctx, "proj-1", 2)
	if err != nil {
		t.Fatalf("get phase 2: %v", err)
	}
	if next.Status != "active" {
		t.Fatalf("phase 2 should auto-activate, got %s", next.Status)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.CurrentPhase != 2 {
		t.Fatalf("current phase should advance to 2, got %d", p.CurrentPhase)
	}
}

func TestApprovalGateAdvancesPhase(t *testing.T) {
	env := newTestEnv(t)
	phase, err := env.Engine.Repo.GetPhase(env.Ctx, "proj-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	deliverables, err := env.Engine.Repo.ListDeliverables(env.Ctx, phase.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliverables) == 0 {
		t.Fatalf("phase 1 has no deliverables")
	}
	// one approval alone never completes a deliverable
	first, err := env.Engine.ApproveDeliverable(env.Ctx, deliverables[0].ID, engine.ApprovalAuthority, "authority")
	if err != nil {
		t.Fatalf("authority approve: %v", err)
	}
	if first.Status != "in_review" || first.HumanApproved {
		t.Fatalf("unexpected state after single approval: %+v", first)
	}
	// repeating it is a no-op
	again, err := env.Engine.ApproveDeliverable(env.Ctx, deliverables[0].ID, engine.ApprovalAuthority, "authority")
	if err != nil {
		t.Fatalf("repeat approve: %v", err)
	}
	if again.Status != "in_review" {
		t.Fatalf("repeat approval changed state: %+v", again)
	}
	for _, d := range deliverables {
		if _, err := env.Engine.ApproveDeliverable(env.Ctx, d.ID, engine.ApprovalHuman, "operator"); err != nil {
			t.Fatalf("human approve %s: %v", d.Name, err)
		}
		if _, err := env.Engine.ApproveDeliverable(env.Ctx, d.ID, engine.ApprovalAuthority, "authority"); err != nil {
			t.Fatalf("authority approve %s: %v", d.Name, err)
		}
	}
	done, err := env.Engine.Repo.GetPhase(env.Ctx, "proj-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != "completed" {
		t.Fatalf("phase should complete once every deliverable is dual-approved, got %s", done.Status)
	}
	next, err := env.Engine.Repo.GetPhase(env.Ctx, "proj-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if next.Status != "active" {
		t.Fatalf("phase 2 should activate, got %s", next.Status)
	}
}

func TestPhaseEntersReviewOnPartialApproval(t *testing.T) {
	env := newTestEnv(t)
	phase, err := env.Engine.Repo.GetPhase(env.Ctx, "proj-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	deliverables, err := env.Engine.Repo.ListDeliverables(env.Ctx, phase.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliverables) < 2 {
		t.Skip("needs at least two deliverables")
	}
	if _, err := env.Engine.ApproveDeliverable(env.Ctx, deliverables[0].ID, engine.ApprovalAuthority, "authority"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveDeliverable(env.Ctx, deliverables[0].ID, engine.ApprovalHuman, "operator"); err != nil {
		t.Fatal(err)
	}
	phase, err = env.Engine.Repo.GetPhase(env.Ctx, "proj-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if phase.Status != "review" {
		t.Fatalf("phase should be in review while siblings await approval, got %s", phase.Status)
	}
}

func TestTeamHandoverOnPhaseCompletion(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CompletePhase(env.Ctx, "proj-1", 1, "tester", true); err != nil {
		t.Fatal(err)
	}
	teams, err := env.Engine.Repo.ListTeams(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	active := 0
	for _, team := range teams {
		if team.Status == "active" {
			active++
			if team.ActivationPhase != 2 {
				t.Fatalf("expected phase-2 team active, got phase-%d team", team.ActivationPhase)
			}
		}
	}
	if active != 1 {
		t.Fatalf("exactly one team should be active, got %d", active)
	}
}

func TestDelegateToManager(t *testing.T) {
	env := newTestEnv(t)
	phase, err := env.Engine.Repo.GetPhase(env.Ctx, "proj-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	manager, err := env.Engine.DelegateToManager(env.Ctx, phase.TeamID, "interview ten customers", "ceo")
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if manager.Role != "manager" || manager.State != "working" {
		t.Fatalf("unexpected manager state: %+v", manager)
	}
	if manager.Directive != "interview ten customers" {
		t.Fatalf("directive not recorded: %q", manager.Directive)
	}
}

func TestGetStatusAggregates(t *testing.T) {
	env := newTestEnv(t)
	status, err := env.Engine.GetStatus(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Phases) != config.PhaseCount {
		t.Fatalf("expected %d phases, got %d", config.PhaseCount, len(status.Phases))
	}
	if len(status.ActiveTeams) != 1 {
		t.Fatalf("expected one active team, got %d", len(status.ActiveTeams))
	}
	for _, ph := range status.Phases {
		if _, ok := status.Deliverables[ph.ID]; !ok {
			t.Fatalf("missing deliverables for phase %d", ph.PhaseNumber)
		}
	}
}

func TestEventsLoggedOnTransitions(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CompletePhase(env.Ctx, "proj-1", 1, "tester", true); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "proj-1", "", "", "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	seen := map[string]bool{}
	for _, evt := range events {
		seen[evt.Type] = true
	}
	for _, want := range []string{"project.initialized", "phase.completed", "phase.activated"} {
		if !seen[want] {
			t.Fatalf("missing event %s in %v", want, events)
		}
	}
}
