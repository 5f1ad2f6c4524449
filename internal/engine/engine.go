package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ventureline/internal/config"
	"ventureline/internal/domain"
	"ventureline/internal/events"
	"ventureline/internal/repo"
)

// Notifier delivers best-effort side effects after a transition commits.
// Failures are logged by implementations and never propagate into the
// state machine.
type Notifier interface {
	TriggerWork(ctx context.Context, projectID, teamID string)
	EmailAlert(ctx context.Context, subject, body string) error
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Notify Notifier
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitializeProject creates the project with all six phases, their teams and
// deliverable sets, and activates phase 1. Calling it again for an existing
// project is a no-op that returns the current project.
func (e Engine) InitializeProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if projectID == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetProject(ctx, projectID)
	if err == nil {
		// Idempotency guard: never duplicate phases for a known project.
		n, err := e.Repo.CountPhasesTx(ctx, tx, projectID)
		if err != nil {
			return domain.Project{}, err
		}
		if n > 0 {
			return existing, nil
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}

	p := existing
	if p.ID == "" {
		p = domain.Project{
			ID:           projectID,
			Status:       "active",
			CurrentPhase: 1,
			Description:  description,
			CreatedAt:    now,
		}
		if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
			return domain.Project{}, fmt.Errorf("insert project: %w", err)
		}
		if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
			return domain.Project{}, fmt.Errorf("insert project config: %w", err)
		}
	}

	var firstTeamID string
	for _, tpl := range e.Config.Phases {
		team := domain.Team{
			ID:              uuid.New().String(),
			ProjectID:       projectID,
			Division:        tpl.TeamDivision,
			ActivationPhase: tpl.Number,
			Status:          "inactive",
		}
		phase := domain.Phase{
			ID:          uuid.New().String(),
			ProjectID:   projectID,
			PhaseNumber: tpl.Number,
			Name:        tpl.Name,
			Status:      "pending",
			TeamID:      team.ID,
		}
		if tpl.Number == 1 {
			team.Status = "active"
			phase.Status = "active"
			phase.StartedAt = &now
			firstTeamID = team.ID
		}
		if err := e.Repo.InsertTeamTx(ctx, tx, team); err != nil {
			return domain.Project{}, fmt.Errorf("insert team %s: %w", team.Division, err)
		}
		if err := e.seedTeamMembers(ctx, tx, team, tpl.Number == 1); err != nil {
			return domain.Project{}, err
		}
		if err := e.Repo.InsertPhaseTx(ctx, tx, phase); err != nil {
			return domain.Project{}, fmt.Errorf("insert phase %d: %w", tpl.Number, err)
		}
		for _, d := range tpl.Deliverables {
			del := domain.Deliverable{
				ID:        uuid.New().String(),
				ProjectID: projectID,
				PhaseID:   phase.ID,
				Name:      d.Name,
				Type:      d.Type,
				Status:    "pending",
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.Repo.InsertDeliverableTx(ctx, tx, del); err != nil {
				return domain.Project{}, fmt.Errorf("insert deliverable %s: %w", d.Name, err)
			}
		}
	}
	if err := e.Events.Append(ctx, tx, "project.initialized", projectID, "project", projectID, actorID, events.EventPayload{"phases": config.PhaseCount}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.triggerWork(ctx, projectID, firstTeamID)
	return p, nil
}

func (e Engine) seedTeamMembers(ctx context.Context, tx *sql.Tx, team domain.Team, active bool) error {
	state := "idle"
	if active {
		state = "ready"
	}
	members := []domain.TeamMember{
		{ID: uuid.New().String(), TeamID: team.ID, Name: team.Division + "-manager", Role: "manager", State: state},
		{ID: uuid.New().String(), TeamID: team.ID, Name: team.Division + "-agent-1", Role: "agent", State: state},
		{ID: uuid.New().String(), TeamID: team.ID, Name: team.Division + "-agent-2", Role: "agent", State: state},
	}
	for _, m := range members {
		if err := e.Repo.InsertTeamMemberTx(ctx, tx, m); err != nil {
			return fmt.Errorf("insert member %s: %w", m.Name, err)
		}
	}
	return nil
}

// ActivatePhase moves a pending phase to active. Phase N requires phase N-1
// to be completed; phase 1 has no prerequisite.
func (e Engine) ActivatePhase(ctx context.Context, projectID string, phaseNumber int, actorID string) (domain.Phase, error) {
	if phaseNumber < 1 || phaseNumber > config.PhaseCount {
		return domain.Phase{}, fmt.Errorf("phase_number must be between 1 and %d", config.PhaseCount)
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Phase{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Phase{}, err
	}
	defer tx.Rollback()

	phase, err := e.activatePhaseTx(ctx, tx, projectID, phaseNumber, actorID)
	if err != nil {
		return domain.Phase{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Phase{}, err
	}
	e.triggerWork(ctx, projectID, phase.TeamID)
	return phase, nil
}

// activatePhaseTx applies activation inside the caller's transaction so that
// the phase-status write and team writes commit atomically.
func (e Engine) activatePhaseTx(ctx context.Context, tx *sql.Tx, projectID string, phaseNumber int, actorID string) (domain.Phase, error) {
	phase, err := e.Repo.GetPhaseTx(ctx, tx, projectID, phaseNumber)
	if err != nil {
		return domain.Phase{}, err
	}
	if phase.Status != "pending" {
		return domain.Phase{}, TransitionError{Entity: "phase", ID: phase.ID, From: phase.Status, To: "active"}
	}
	if phaseNumber > 1 {
		prev, err := e.Repo.GetPhaseTx(ctx, tx, projectID, phaseNumber-1)
		if err != nil {
			return domain.Phase{}, err
		}
		if prev.Status != "completed" {
			return domain.Phase{}, PrerequisiteError{ProjectID: projectID, Phase: phaseNumber, Missing: phaseNumber - 1}
		}
	}
	now := e.nowString()
	if err := e.Repo.UpdatePhaseStatusTx(ctx, tx, phase.ID, "active", &now, nil); err != nil {
		return domain.Phase{}, err
	}
	if phase.TeamID != "" {
		if err := e.Repo.SetTeamStatusTx(ctx, tx, phase.TeamID, "active"); err != nil {
			return domain.Phase{}, err
		}
		if err := e.Repo.ResetTeamMembersTx(ctx, tx, phase.TeamID, "ready"); err != nil {
			return domain.Phase{}, err
		}
	}
	if err := e.Repo.SetProjectCurrentPhaseTx(ctx, tx, projectID, phaseNumber); err != nil {
		return domain.Phase{}, err
	}
	if err := e.Events.Append(ctx, tx, "phase.activated", projectID, "phase", phase.ID, actorID, events.EventPayload{"phase_number": phaseNumber}); err != nil {
		return domain.Phase{}, err
	}
	phase.Status = "active"
	phase.StartedAt = &now
	return phase, nil
}

// CompletePhase marks a phase completed, deactivates its team and activates
// the next phase. Unless force is set, every deliverable in the phase must
// have passed the approval gate.
func (e Engine) CompletePhase(ctx context.Context, projectID string, phaseNumber int, actorID string, force bool) (domain.Phase, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Phase{}, err
	}
	defer tx.Rollback()

	phase, err := e.Repo.GetPhaseTx(ctx, tx, projectID, phaseNumber)
	if err != nil {
		return domain.Phase{}, err
	}
	next, err := e.completePhaseTx(ctx, tx, phase, actorID, force)
	if err != nil {
		return domain.Phase{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Phase{}, err
	}
	if next != nil {
		e.triggerWork(ctx, projectID, next.TeamID)
	}
	return e.Repo.GetPhase(ctx, projectID, phaseNumber)
}

// completePhaseTx completes a phase and activates the successor in the same
// transaction. Returns the activated next phase, if any.
func (e Engine) completePhaseTx(ctx context.Context, tx *sql.Tx, phase domain.Phase, actorID string, force bool) (*domain.Phase, error) {
	if phase.Status != "active" && phase.Status != "review" {
		return nil, TransitionError{Entity: "phase", ID: phase.ID, From: phase.Status, To: "completed"}
	}
	if !force {
		unapproved, err := e.Repo.CountUnapprovedTx(ctx, tx, phase.ID)
		if err != nil {
			return nil, err
		}
		if unapproved > 0 {
			return nil, fmt.Errorf("phase %d has %d unapproved deliverables", phase.PhaseNumber, unapproved)
		}
	}
	now := e.nowString()
	if err := e.Repo.UpdatePhaseStatusTx(ctx, tx, phase.ID, "completed", nil, &now); err != nil {
		return nil, err
	}
	if phase.TeamID != "" {
		if err := e.Repo.SetTeamStatusTx(ctx, tx, phase.TeamID, "inactive"); err != nil {
			return nil, err
		}
		if err := e.Repo.ResetTeamMembersTx(ctx, tx, phase.TeamID, "idle"); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "phase.completed", phase.ProjectID, "phase", phase.ID, actorID, events.EventPayload{"phase_number": phase.PhaseNumber}); err != nil {
		return nil, err
	}
	if phase.PhaseNumber >= config.PhaseCount {
		if err := e.Events.Append(ctx, tx, "project.completed", phase.ProjectID, "project", phase.ProjectID, actorID, events.EventPayload{}); err != nil {
			return nil, err
		}
		return nil, nil
	}
	next, err := e.activatePhaseTx(ctx, tx, phase.ProjectID, phase.PhaseNumber+1, actorID)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// ProjectStatus is the read-only aggregate returned by get_status.
type ProjectStatus struct {
	Project      domain.Project                  `json:"project"`
	Phases       []domain.Phase                  `json:"phases"`
	Deliverables map[string][]domain.Deliverable `json:"deliverables"`
	ActiveTeams  []domain.Team                   `json:"active_teams"`
}

func (e Engine) GetStatus(ctx context.Context, projectID string) (ProjectStatus, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ProjectStatus{}, err
	}
	phases, err := e.Repo.ListPhases(ctx, projectID)
	if err != nil {
		return ProjectStatus{}, err
	}
	deliverables := make(map[string][]domain.Deliverable, len(phases))
	for _, ph := range phases {
		ds, err := e.Repo.ListDeliverables(ctx, ph.ID)
		if err != nil {
			return ProjectStatus{}, err
		}
		deliverables[ph.ID] = ds
	}
	teams, err := e.Repo.ListTeams(ctx, projectID)
	if err != nil {
		return ProjectStatus{}, err
	}
	var active []domain.Team
	for _, t := range teams {
		if t.Status == "active" {
			active = append(active, t)
		}
	}
	return ProjectStatus{Project: p, Phases: phases, Deliverables: deliverables, ActiveTeams: active}, nil
}

// DelegateToManager hands the team's manager a directive and marks it working.
func (e Engine) DelegateToManager(ctx context.Context, teamID, directive, actorID string) (domain.TeamMember, error) {
	team, err := e.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeamMember{}, err
	}
	defer tx.Rollback()
	n, err := e.Repo.SetMemberDirectiveTx(ctx, tx, teamID, "manager", "working", directive)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if n == 0 {
		return domain.TeamMember{}, fmt.Errorf("team %s has no manager: %w", teamID, repo.ErrNotFound)
	}
	if err := e.Events.Append(ctx, tx, "team.delegated", team.ProjectID, "team", teamID, actorID, events.EventPayload{"directive": directive}); err != nil {
		return domain.TeamMember{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TeamMember{}, err
	}
	return e.Repo.TeamManager(ctx, teamID)
}

// ApproveDeliverable sets one of the two approval flags. Setting a flag twice
// is a no-op. When both flags become true the deliverable is approved, and if
// it was the last unapproved deliverable in its phase the phase completes and
// the next phase activates.
func (e Engine) ApproveDeliverable(ctx context.Context, deliverableID string, kind ApprovalKind, actorID string) (domain.Deliverable, error) {
	if !kind.Valid() {
		return domain.Deliverable{}, fmt.Errorf("invalid approval kind %q", kind)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deliverable{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDeliverableTx(ctx, tx, deliverableID)
	if err != nil {
		return domain.Deliverable{}, err
	}
	gate := ApprovalGate{Authority: d.AuthorityApproved, Human: d.HumanApproved}
	gate, changed := gate.Approve(kind)
	if !changed {
		return d, nil
	}
	d.AuthorityApproved = gate.Authority
	d.HumanApproved = gate.Human
	d.Status = gate.Status()
	d.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateDeliverableTx(ctx, tx, d); err != nil {
		return domain.Deliverable{}, err
	}
	if err := e.Events.Append(ctx, tx, "deliverable.approved", d.ProjectID, "deliverable", d.ID, actorID, events.EventPayload{
		"kind":     string(kind),
		"complete": gate.Complete(),
	}); err != nil {
		return domain.Deliverable{}, err
	}

	var next *domain.Phase
	if gate.Complete() {
		phase, err := e.Repo.GetPhaseByIDTx(ctx, tx, d.PhaseID)
		if err != nil {
			return domain.Deliverable{}, err
		}
		unapproved, err := e.Repo.CountUnapprovedTx(ctx, tx, phase.ID)
		if err != nil {
			return domain.Deliverable{}, err
		}
		switch {
		case unapproved == 0 && (phase.Status == "active" || phase.Status == "review"):
			next, err = e.completePhaseTx(ctx, tx, phase, actorID, false)
			if err != nil {
				return domain.Deliverable{}, err
			}
		case phase.Status == "active":
			// Some deliverables still await their second approval.
			if err := e.Repo.UpdatePhaseStatusTx(ctx, tx, phase.ID, "review", nil, nil); err != nil {
				return domain.Deliverable{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Deliverable{}, err
	}
	if next != nil {
		e.triggerWork(ctx, d.ProjectID, next.TeamID)
	}
	return d, nil
}

// triggerWork is the fire-and-forget signal to the external work executor.
func (e Engine) triggerWork(ctx context.Context, projectID, teamID string) {
	if e.Notify == nil || teamID == "" {
		return
	}
	e.Notify.TriggerWork(ctx, projectID, teamID)
}
