package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"ventureline/internal/domain"
	"ventureline/internal/events"
)

const (
	// HandlerManager handles level 1, HandlerSeniorAgent level 2,
	// HandlerHuman level 3. Levels only ever increase.
	HandlerManager     = "manager"
	HandlerSeniorAgent = "senior_agent"
	HandlerHuman       = "human"
)

// EscalationOptions are parameters for creating an escalation.
type EscalationOptions struct {
	ProjectID   string
	AgentID     string
	AgentName   string
	ManagerID   string
	IssueType   string
	Description string
	ContextJSON string
}

// CreateEscalation opens a new issue at level 1 with the team manager as
// handler and notifies both the manager and the human inbox.
func (e Engine) CreateEscalation(ctx context.Context, opts EscalationOptions) (domain.Escalation, error) {
	if opts.ProjectID == "" {
		return domain.Escalation{}, errors.New("project is required")
	}
	if opts.AgentID == "" {
		return domain.Escalation{}, errors.New("agent_id is required")
	}
	if opts.IssueType == "" {
		return domain.Escalation{}, errors.New("issue_type is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Escalation{}, err
	}
	now := e.nowString()
	esc := domain.Escalation{
		ID:                   uuid.New().String(),
		ProjectID:            opts.ProjectID,
		AgentID:              opts.AgentID,
		AgentName:            opts.AgentName,
		Level:                1,
		HandlerType:          HandlerManager,
		HandlerID:            opts.ManagerID,
		IssueType:            opts.IssueType,
		Description:          opts.Description,
		Status:               "open",
		EscalatedToManagerAt: now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if opts.ContextJSON != "" {
		esc.ContextJSON = &opts.ContextJSON
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escalation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEscalationTx(ctx, tx, esc); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.sendMessageTx(ctx, tx, esc, opts.AgentID, handlerRecipient(esc),
		fmt.Sprintf("escalation from %s: %s", agentLabel(esc), opts.IssueType), opts.Description); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.notifyTx(ctx, tx, esc.ProjectID, "escalation.created", "normal",
		fmt.Sprintf("new escalation (%s)", opts.IssueType), opts.Description); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.Events.Append(ctx, tx, "escalation.created", esc.ProjectID, "escalation", esc.ID, opts.AgentID, events.EventPayload{
		"issue_type": opts.IssueType,
		"level":      1,
	}); err != nil {
		return domain.Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escalation{}, err
	}
	return esc, nil
}

// EscalateToManager explicitly (re)assigns a level-1 escalation to a manager
// and marks it in progress.
func (e Engine) EscalateToManager(ctx context.Context, escalationID, managerID, actorID string) (domain.Escalation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escalation{}, err
	}
	defer tx.Rollback()
	esc, err := e.Repo.GetEscalationTx(ctx, tx, escalationID)
	if err != nil {
		return domain.Escalation{}, err
	}
	if esc.Status == "resolved" || esc.Level != 1 {
		return domain.Escalation{}, TransitionError{Entity: "escalation", ID: esc.ID, From: escState(esc), To: "level 1 in_progress"}
	}
	esc.HandlerType = HandlerManager
	esc.HandlerID = managerID
	esc.Status = "in_progress"
	esc.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateEscalationTx(ctx, tx, esc); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.Events.Append(ctx, tx, "escalation.assigned", esc.ProjectID, "escalation", esc.ID, actorID, events.EventPayload{"handler_id": managerID}); err != nil {
		return domain.Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escalation{}, err
	}
	return esc, nil
}

// EscalateToCEO promotes a level-1 escalation to the senior authority agent.
// The current level is re-read inside the transaction so a concurrent sweep
// or manual resolve aborts the promotion instead of double-escalating.
func (e Engine) EscalateToCEO(ctx context.Context, escalationID, reason, actorID string) (domain.Escalation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escalation{}, err
	}
	defer tx.Rollback()
	esc, err := e.Repo.GetEscalationTx(ctx, tx, escalationID)
	if err != nil {
		return domain.Escalation{}, err
	}
	if esc.Status == "resolved" || esc.Level != 1 {
		return domain.Escalation{}, TransitionError{Entity: "escalation", ID: esc.ID, From: escState(esc), To: "level 2"}
	}
	now := e.nowString()
	esc.Level = 2
	esc.HandlerType = HandlerSeniorAgent
	esc.HandlerID = ""
	esc.Status = "in_progress"
	esc.EscalatedToCEOAt = &now
	esc.UpdatedAt = now
	if err := e.Repo.UpdateEscalationTx(ctx, tx, esc); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.Repo.InsertSolutionAttemptTx(ctx, tx, domain.SolutionAttempt{
		EscalationID: esc.ID,
		Level:        HandlerManager,
		Reason:       reason,
		TS:           now,
	}); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.sendMessageTx(ctx, tx, esc, actorID, handlerRecipient(esc),
		fmt.Sprintf("escalation promoted to senior agent: %s", esc.IssueType), reason); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.Events.Append(ctx, tx, "escalation.promoted", esc.ProjectID, "escalation", esc.ID, actorID, events.EventPayload{
		"level":  2,
		"reason": reason,
	}); err != nil {
		return domain.Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escalation{}, err
	}
	return esc, nil
}

// EscalateToHuman promotes a level-2 escalation to the human operator. The
// external email alert is best-effort and never rolls back the promotion.
func (e Engine) EscalateToHuman(ctx context.Context, escalationID, reason, actorID string) (domain.Escalation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escalation{}, err
	}
	defer tx.Rollback()
	esc, err := e.Repo.GetEscalationTx(ctx, tx, escalationID)
	if err != nil {
		return domain.Escalation{}, err
	}
	if esc.Status == "resolved" || esc.Level != 2 {
		return domain.Escalation{}, TransitionError{Entity: "escalation", ID: esc.ID, From: escState(esc), To: "level 3"}
	}
	now := e.nowString()
	esc.Level = 3
	esc.HandlerType = HandlerHuman
	esc.HandlerID = ""
	esc.Status = "pending_human"
	esc.EscalatedToHumanAt = &now
	esc.UpdatedAt = now
	if err := e.Repo.UpdateEscalationTx(ctx, tx, esc); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.Repo.InsertSolutionAttemptTx(ctx, tx, domain.SolutionAttempt{
		EscalationID: esc.ID,
		Level:        "ceo",
		Reason:       reason,
		TS:           now,
	}); err != nil {
		return domain.Escalation{}, err
	}
	title := fmt.Sprintf("escalation requires human decision (%s)", esc.IssueType)
	if err := e.notifyTx(ctx, tx, esc.ProjectID, "escalation.pending_human", "high", title, esc.Description); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.Events.Append(ctx, tx, "escalation.promoted", esc.ProjectID, "escalation", esc.ID, actorID, events.EventPayload{
		"level":  3,
		"reason": reason,
	}); err != nil {
		return domain.Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escalation{}, err
	}
	if e.Notify != nil {
		if err := e.Notify.EmailAlert(ctx, title, esc.Description); err != nil {
			log.Printf("escalation %s: email alert failed: %v", esc.ID, err)
		}
	}
	return esc, nil
}

// ResolveEscalation is the terminal transition. It is valid from any level
// but never from an already-resolved escalation.
func (e Engine) ResolveEscalation(ctx context.Context, escalationID, resolution, resolutionType, resolvedBy string) (domain.Escalation, error) {
	if resolution == "" {
		return domain.Escalation{}, errors.New("resolution is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escalation{}, err
	}
	defer tx.Rollback()
	esc, err := e.Repo.GetEscalationTx(ctx, tx, escalationID)
	if err != nil {
		return domain.Escalation{}, err
	}
	if esc.Status == "resolved" {
		return domain.Escalation{}, TransitionError{Entity: "escalation", ID: esc.ID, From: "resolved", To: "resolved"}
	}
	now := e.nowString()
	esc.Status = "resolved"
	esc.Resolution = &resolution
	esc.ResolvedBy = &resolvedBy
	esc.ResolvedAt = &now
	esc.UpdatedAt = now
	if resolutionType != "" {
		esc.ResolutionType = &resolutionType
	}
	if err := e.Repo.UpdateEscalationTx(ctx, tx, esc); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.sendMessageTx(ctx, tx, esc, resolvedBy, esc.AgentID,
		fmt.Sprintf("escalation resolved: %s", esc.IssueType), resolution); err != nil {
		return domain.Escalation{}, err
	}
	if err := e.Events.Append(ctx, tx, "escalation.resolved", esc.ProjectID, "escalation", esc.ID, resolvedBy, events.EventPayload{
		"resolution_type": resolutionType,
	}); err != nil {
		return domain.Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escalation{}, err
	}
	return esc, nil
}

// AddSolutionAttempt records a troubleshooting note without changing level
// or status.
func (e Engine) AddSolutionAttempt(ctx context.Context, escalationID, level, reason string) (domain.SolutionAttempt, error) {
	if reason == "" {
		return domain.SolutionAttempt{}, errors.New("reason is required")
	}
	esc, err := e.Repo.GetEscalation(ctx, escalationID)
	if err != nil {
		return domain.SolutionAttempt{}, err
	}
	if level == "" {
		level = esc.HandlerType
	}
	attempt := domain.SolutionAttempt{
		EscalationID: esc.ID,
		Level:        level,
		Reason:       reason,
		TS:           e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SolutionAttempt{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSolutionAttemptTx(ctx, tx, attempt); err != nil {
		return domain.SolutionAttempt{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SolutionAttempt{}, err
	}
	return attempt, nil
}

// SweepResult reports one check_timeouts pass.
type SweepResult struct {
	Checked   int `json:"checked"`
	Escalated int `json:"escalated"`
}

// CheckTimeouts promotes stalled escalations: level 1 past the manager
// timeout goes to the senior agent, level 2 past the CEO timeout goes to the
// human operator. Each promotion re-reads the escalation before writing, so
// the sweep is idempotent and safe to run concurrently with manual
// transitions; a lost race is skipped, not an error.
func (e Engine) CheckTimeouts(ctx context.Context, projectID string) (SweepResult, error) {
	if e.Config == nil {
		return SweepResult{}, errors.New("config not loaded")
	}
	open, err := e.Repo.ListOpenEscalations(ctx, projectID)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Checked: len(open)}
	now := e.now()
	for _, esc := range open {
		switch esc.Level {
		case 1:
			if elapsed(now, esc.EscalatedToManagerAt) <= e.Config.ManagerTimeout() {
				continue
			}
			if _, err := e.EscalateToCEO(ctx, esc.ID, "manager timeout", "system"); err != nil {
				if isLostRace(err) {
					continue
				}
				return res, err
			}
			res.Escalated++
		case 2:
			if esc.EscalatedToCEOAt == nil || elapsed(now, *esc.EscalatedToCEOAt) <= e.Config.CEOTimeout() {
				continue
			}
			if _, err := e.EscalateToHuman(ctx, esc.ID, "ceo timeout", "system"); err != nil {
				if isLostRace(err) {
					continue
				}
				return res, err
			}
			res.Escalated++
		}
	}
	return res, nil
}

// RespondToEscalation dispatches a handler response: resolve, escalate to the
// next level, or record the response as a solution attempt.
func (e Engine) RespondToEscalation(ctx context.Context, escalationID, responderID, responderType, response, action string) (domain.Escalation, error) {
	esc, err := e.Repo.GetEscalation(ctx, escalationID)
	if err != nil {
		return domain.Escalation{}, err
	}
	switch action {
	case "resolve":
		return e.ResolveEscalation(ctx, escalationID, response, responderType, responderID)
	case "escalate":
		switch esc.Level {
		case 1:
			return e.EscalateToCEO(ctx, escalationID, response, responderID)
		case 2:
			return e.EscalateToHuman(ctx, escalationID, response, responderID)
		default:
			return domain.Escalation{}, TransitionError{Entity: "escalation", ID: esc.ID, From: escState(esc), To: "next level"}
		}
	default:
		if _, err := e.AddSolutionAttempt(ctx, escalationID, responderType, response); err != nil {
			return domain.Escalation{}, err
		}
		return e.Repo.GetEscalation(ctx, escalationID)
	}
}

// --- helpers ---

func (e Engine) sendMessageTx(ctx context.Context, tx *sql.Tx, esc domain.Escalation, senderID, recipientID, subject, body string) error {
	return e.Repo.InsertMessageTx(ctx, tx, domain.Message{
		ID:           uuid.New().String(),
		ProjectID:    esc.ProjectID,
		SenderID:     senderID,
		RecipientID:  recipientID,
		EscalationID: esc.ID,
		Subject:      subject,
		Body:         body,
		CreatedAt:    e.nowString(),
	})
}

func (e Engine) notifyTx(ctx context.Context, tx *sql.Tx, projectID, kind, priority, title, body string) error {
	return e.Repo.InsertNotificationTx(ctx, tx, domain.Notification{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Kind:      kind,
		Priority:  priority,
		Title:     title,
		Body:      body,
		CreatedAt: e.nowString(),
	})
}

// handlerRecipient resolves the message recipient for the current handler.
func handlerRecipient(esc domain.Escalation) string {
	if esc.HandlerID != "" {
		return esc.HandlerID
	}
	return esc.HandlerType
}

func agentLabel(esc domain.Escalation) string {
	if esc.AgentName != "" {
		return esc.AgentName
	}
	return esc.AgentID
}

func escState(esc domain.Escalation) string {
	return fmt.Sprintf("level %d %s", esc.Level, esc.Status)
}

func elapsed(now time.Time, since string) time.Duration {
	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return 0
	}
	return now.Sub(t)
}

func isLostRace(err error) bool {
	var te TransitionError
	return errors.As(err, &te)
}
