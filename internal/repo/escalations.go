package repo

import (
	"context"
	"database/sql"
	"strings"

	"ventureline/internal/domain"
)

const escalationColumns = `id,project_id,agent_id,COALESCE(agent_name,''),escalation_level,handler_type,COALESCE(handler_id,''),issue_type,description,context_json,status,escalated_to_manager_at,escalated_to_ceo_at,escalated_to_human_at,resolution,resolution_type,resolved_by,resolved_at,created_at,updated_at`

func scanEscalation(scan func(...any) error) (domain.Escalation, error) {
	var e domain.Escalation
	var contextJSON, ceoAt, humanAt, resolution, resolutionType, resolvedBy, resolvedAt sql.NullString
	err := scan(&e.ID, &e.ProjectID, &e.AgentID, &e.AgentName, &e.Level, &e.HandlerType, &e.HandlerID,
		&e.IssueType, &e.Description, &contextJSON, &e.Status, &e.EscalatedToManagerAt,
		&ceoAt, &humanAt, &resolution, &resolutionType, &resolvedBy, &resolvedAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if contextJSON.Valid {
		e.ContextJSON = &contextJSON.String
	}
	if ceoAt.Valid {
		e.EscalatedToCEOAt = &ceoAt.String
	}
	if humanAt.Valid {
		e.EscalatedToHumanAt = &humanAt.String
	}
	if resolution.Valid {
		e.Resolution = &resolution.String
	}
	if resolutionType.Valid {
		e.ResolutionType = &resolutionType.String
	}
	if resolvedBy.Valid {
		e.ResolvedBy = &resolvedBy.String
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.String
	}
	return e, nil
}

func (r Repo) InsertEscalationTx(ctx context.Context, tx *sql.Tx, e domain.Escalation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escalations(id,project_id,agent_id,agent_name,escalation_level,handler_type,handler_id,issue_type,description,context_json,status,escalated_to_manager_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.AgentID, nullable(e.AgentName), e.Level, e.HandlerType, nullable(e.HandlerID),
		e.IssueType, e.Description, nullableStringPtr(e.ContextJSON), e.Status, e.EscalatedToManagerAt, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetEscalation(ctx context.Context, id string) (domain.Escalation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id=?`, id)
	return scanEscalation(row.Scan)
}

func (r Repo) GetEscalationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Escalation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id=?`, id)
	return scanEscalation(row.Scan)
}

func (r Repo) UpdateEscalationTx(ctx context.Context, tx *sql.Tx, e domain.Escalation) error {
	_, err := tx.ExecContext(ctx, `UPDATE escalations SET escalation_level=?, handler_type=?, handler_id=?, status=?,
escalated_to_ceo_at=?, escalated_to_human_at=?, resolution=?, resolution_type=?, resolved_by=?, resolved_at=?, updated_at=?
WHERE id=?`,
		e.Level, e.HandlerType, nullable(e.HandlerID), e.Status,
		nullableStringPtr(e.EscalatedToCEOAt), nullableStringPtr(e.EscalatedToHumanAt),
		nullableStringPtr(e.Resolution), nullableStringPtr(e.ResolutionType),
		nullableStringPtr(e.ResolvedBy), nullableStringPtr(e.ResolvedAt), e.UpdatedAt, e.ID)
	return err
}

type EscalationFilters struct {
	ProjectID string
	Status    string
	Level     int
	AgentID   string
}

func (r Repo) ListEscalations(ctx context.Context, f EscalationFilters) ([]domain.Escalation, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Level > 0 {
		clauses = append(clauses, "escalation_level=?")
		args = append(args, f.Level)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+escalationColumns+` FROM escalations `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListOpenEscalations returns escalations still awaiting a handler for the sweep.
func (r Repo) ListOpenEscalations(ctx context.Context, projectID string) ([]domain.Escalation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE project_id=? AND status IN ('open','in_progress') ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) InsertSolutionAttemptTx(ctx context.Context, tx *sql.Tx, a domain.SolutionAttempt) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO solution_attempts(escalation_id,level,reason,ts) VALUES (?,?,?,?)`,
		a.EscalationID, a.Level, a.Reason, a.TS)
	return err
}

func (r Repo) ListSolutionAttempts(ctx context.Context, escalationID string) ([]domain.SolutionAttempt, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,escalation_id,level,reason,ts FROM solution_attempts WHERE escalation_id=? ORDER BY id ASC`, escalationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SolutionAttempt
	for rows.Next() {
		var a domain.SolutionAttempt
		if err := rows.Scan(&a.ID, &a.EscalationID, &a.Level, &a.Reason, &a.TS); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
