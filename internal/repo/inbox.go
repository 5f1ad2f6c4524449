package repo

import (
	"context"
	"database/sql"

	"ventureline/internal/domain"
)

// Messages and notifications are write-mostly audit artifacts; nothing in the
// engine reads them back to make a decision.

func (r Repo) InsertMessageTx(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages(id,project_id,sender_id,recipient_id,escalation_id,subject,body,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.SenderID, m.RecipientID, nullable(m.EscalationID), m.Subject, nullable(m.Body), m.CreatedAt)
	return err
}

func (r Repo) ListMessages(ctx context.Context, projectID, recipientID string) ([]domain.Message, error) {
	query := `SELECT id,project_id,sender_id,recipient_id,COALESCE(escalation_id,''),subject,COALESCE(body,''),created_at FROM messages WHERE project_id=?`
	args := []any{projectID}
	if recipientID != "" {
		query += ` AND recipient_id=?`
		args = append(args, recipientID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.RecipientID, &m.EscalationID, &m.Subject, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,project_id,kind,priority,title,body,read,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.ProjectID, n.Kind, n.Priority, n.Title, nullable(n.Body), n.Read, n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, projectID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id,project_id,kind,priority,title,COALESCE(body,''),read,created_at FROM notifications WHERE project_id=?`
	args := []any{projectID}
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.Kind, &n.Priority, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
