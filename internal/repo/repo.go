package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ventureline/internal/config"
	"ventureline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,status,current_phase,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Status, p.CurrentPhase, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,status,current_phase,COALESCE(description,''),created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Status, &p.CurrentPhase, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,status,current_phase,COALESCE(description,''),created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Status, &p.CurrentPhase, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, id, status string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetProjectCurrentPhaseTx(ctx context.Context, tx *sql.Tx, id string, phase int) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET current_phase=? WHERE id=?`, phase, id)
	return err
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- project configs ---

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

// --- phases ---

const phaseColumns = `id,project_id,phase_number,name,status,COALESCE(team_id,''),started_at,completed_at`

func scanPhase(scan func(...any) error) (domain.Phase, error) {
	var p domain.Phase
	var startedAt, completedAt sql.NullString
	err := scan(&p.ID, &p.ProjectID, &p.PhaseNumber, &p.Name, &p.Status, &p.TeamID, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if startedAt.Valid {
		p.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	return p, nil
}

func (r Repo) InsertPhaseTx(ctx context.Context, tx *sql.Tx, p domain.Phase) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO phases(id,project_id,phase_number,name,status,team_id,started_at,completed_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.PhaseNumber, p.Name, p.Status, nullable(p.TeamID), nullableStringPtr(p.StartedAt), nullableStringPtr(p.CompletedAt))
	return err
}

func (r Repo) GetPhase(ctx context.Context, projectID string, number int) (domain.Phase, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE project_id=? AND phase_number=?`, projectID, number)
	return scanPhase(row.Scan)
}

func (r Repo) GetPhaseTx(ctx context.Context, tx *sql.Tx, projectID string, number int) (domain.Phase, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE project_id=? AND phase_number=?`, projectID, number)
	return scanPhase(row.Scan)
}

func (r Repo) GetPhaseByID(ctx context.Context, id string) (domain.Phase, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id=?`, id)
	return scanPhase(row.Scan)
}

func (r Repo) GetPhaseByIDTx(ctx context.Context, tx *sql.Tx, id string) (domain.Phase, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id=?`, id)
	return scanPhase(row.Scan)
}

func (r Repo) ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE project_id=? ORDER BY phase_number ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Phase
	for rows.Next() {
		p, err := scanPhase(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountPhasesTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM phases WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

func (r Repo) UpdatePhaseStatusTx(ctx context.Context, tx *sql.Tx, id, status string, startedAt, completedAt *string) error {
	fields := []string{"status=?"}
	args := []any{status}
	if startedAt != nil {
		fields = append(fields, "started_at=?")
		args = append(args, *startedAt)
	}
	if completedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *completedAt)
	}
	args = append(args, id)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE phases SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	return err
}

// --- teams ---

func (r Repo) InsertTeamTx(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,project_id,division,activation_phase,status) VALUES (?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Division, t.ActivationPhase, t.Status)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	var t domain.Team
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,division,activation_phase,status FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.ProjectID, &t.Division, &t.ActivationPhase, &t.Status)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTeams(ctx context.Context, projectID string) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,division,activation_phase,status FROM teams WHERE project_id=? ORDER BY activation_phase ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Division, &t.ActivationPhase, &t.Status); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) SetTeamStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE teams SET status=? WHERE id=?`, status, id)
	return err
}

func (r Repo) InsertTeamMemberTx(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO team_members(id,team_id,name,role,state,directive) VALUES (?,?,?,?,?,?)`,
		m.ID, m.TeamID, m.Name, m.Role, m.State, nullable(m.Directive))
	return err
}

func (r Repo) ListTeamMembers(ctx context.Context, teamID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,team_id,name,role,state,COALESCE(directive,'') FROM team_members WHERE team_id=? ORDER BY role, name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.Name, &m.Role, &m.State, &m.Directive); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ResetTeamMembersTx(ctx context.Context, tx *sql.Tx, teamID, state string) error {
	_, err := tx.ExecContext(ctx, `UPDATE team_members SET state=?, directive=NULL WHERE team_id=?`, state, teamID)
	return err
}

func (r Repo) SetMemberDirectiveTx(ctx context.Context, tx *sql.Tx, teamID, role, state, directive string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE team_members SET state=?, directive=? WHERE team_id=? AND role=?`, state, nullable(directive), teamID, role)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) TeamManager(ctx context.Context, teamID string) (domain.TeamMember, error) {
	var m domain.TeamMember
	err := r.DB.QueryRowContext(ctx, `SELECT id,team_id,name,role,state,COALESCE(directive,'') FROM team_members WHERE team_id=? AND role='manager' LIMIT 1`, teamID).
		Scan(&m.ID, &m.TeamID, &m.Name, &m.Role, &m.State, &m.Directive)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// --- deliverables ---

const deliverableColumns = `id,project_id,phase_id,name,type,status,authority_approved,human_approved,created_at,updated_at`

func scanDeliverable(scan func(...any) error) (domain.Deliverable, error) {
	var d domain.Deliverable
	err := scan(&d.ID, &d.ProjectID, &d.PhaseID, &d.Name, &d.Type, &d.Status, &d.AuthorityApproved, &d.HumanApproved, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDeliverableTx(ctx context.Context, tx *sql.Tx, d domain.Deliverable) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO deliverables(id,project_id,phase_id,name,type,status,authority_approved,human_approved,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.PhaseID, d.Name, d.Type, d.Status, d.AuthorityApproved, d.HumanApproved, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDeliverable(ctx context.Context, id string) (domain.Deliverable, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+deliverableColumns+` FROM deliverables WHERE id=?`, id)
	return scanDeliverable(row.Scan)
}

func (r Repo) GetDeliverableTx(ctx context.Context, tx *sql.Tx, id string) (domain.Deliverable, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+deliverableColumns+` FROM deliverables WHERE id=?`, id)
	return scanDeliverable(row.Scan)
}

func (r Repo) ListDeliverables(ctx context.Context, phaseID string) ([]domain.Deliverable, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+deliverableColumns+` FROM deliverables WHERE phase_id=? ORDER BY created_at, id`, phaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		d, err := scanDeliverable(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDeliverableTx(ctx context.Context, tx *sql.Tx, d domain.Deliverable) error {
	_, err := tx.ExecContext(ctx, `UPDATE deliverables SET status=?, authority_approved=?, human_approved=?, updated_at=? WHERE id=?`,
		d.Status, d.AuthorityApproved, d.HumanApproved, d.UpdatedAt, d.ID)
	return err
}

func (r Repo) CountUnapprovedTx(ctx context.Context, tx *sql.Tx, phaseID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM deliverables WHERE phase_id=? AND status != 'approved'`, phaseID).Scan(&n)
	return n, err
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, projectID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
