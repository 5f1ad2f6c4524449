package server

import (
	"encoding/json"

	"ventureline/internal/domain"
)

// Request payloads

type InitProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type DelegateRequest struct {
	Directive string `json:"directive"`
}

type ApproveDeliverableRequest struct {
	Kind string `json:"kind" enum:"authority,human"`
}

type CreateEscalationRequest struct {
	AgentID     string         `json:"agent_id"`
	AgentName   string         `json:"agent_name,omitempty"`
	ManagerID   string         `json:"manager_id,omitempty"`
	IssueType   string         `json:"issue_type"`
	Description string         `json:"issue_description,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

type EscalateRequest struct {
	Reason    string `json:"reason"`
	HandlerID string `json:"handler_id,omitempty"`
}

type ResolveEscalationRequest struct {
	Resolution     string `json:"resolution"`
	ResolutionType string `json:"resolution_type,omitempty"`
}

type RespondEscalationRequest struct {
	ResponderID   string `json:"responder_id"`
	ResponderType string `json:"responder_type,omitempty" enum:"manager,senior_agent,human,"`
	Response      string `json:"response"`
	Action        string `json:"action,omitempty" enum:"resolve,escalate,attempt,"`
}

type AddAttemptRequest struct {
	Level  string `json:"level,omitempty" enum:"manager,ceo,"`
	Reason string `json:"reason"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type EscalationResponse struct {
	ID                   string                   `json:"id"`
	ProjectID            string                   `json:"project_id"`
	AgentID              string                   `json:"agent_id"`
	AgentName            string                   `json:"agent_name,omitempty"`
	Level                int                      `json:"escalation_level"`
	HandlerType          string                   `json:"current_handler_type" enum:"manager,senior_agent,human"`
	HandlerID            string                   `json:"current_handler_id,omitempty"`
	IssueType            string                   `json:"issue_type"`
	Description          string                   `json:"issue_description"`
	Context              map[string]any           `json:"context,omitempty"`
	Status               string                   `json:"status" enum:"open,in_progress,pending_human,resolved"`
	EscalatedToManagerAt string                   `json:"escalated_to_manager_at" format:"date-time"`
	EscalatedToCEOAt     *string                  `json:"escalated_to_ceo_at,omitempty" format:"date-time"`
	EscalatedToHumanAt   *string                  `json:"escalated_to_human_at,omitempty" format:"date-time"`
	Resolution           *string                  `json:"resolution,omitempty"`
	ResolutionType       *string                  `json:"resolution_type,omitempty"`
	ResolvedBy           *string                  `json:"resolved_by,omitempty"`
	ResolvedAt           *string                  `json:"resolved_at,omitempty" format:"date-time"`
	Attempts             []domain.SolutionAttempt `json:"solution_attempts,omitempty"`
	CreatedAt            string                   `json:"created_at" format:"date-time"`
	UpdatedAt            string                   `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func escalationResponse(esc domain.Escalation, attempts []domain.SolutionAttempt) EscalationResponse {
	return EscalationResponse{
		ID:                   esc.ID,
		ProjectID:            esc.ProjectID,
		AgentID:              esc.AgentID,
		AgentName:            esc.AgentName,
		Level:                esc.Level,
		HandlerType:          esc.HandlerType,
		HandlerID:            esc.HandlerID,
		IssueType:            esc.IssueType,
		Description:          esc.Description,
		Context:              decodeJSONMap(esc.ContextJSON),
		Status:               esc.Status,
		EscalatedToManagerAt: esc.EscalatedToManagerAt,
		EscalatedToCEOAt:     esc.EscalatedToCEOAt,
		EscalatedToHumanAt:   esc.EscalatedToHumanAt,
		Resolution:           esc.Resolution,
		ResolutionType:       esc.ResolutionType,
		ResolvedBy:           esc.ResolvedBy,
		ResolvedAt:           esc.ResolvedAt,
		Attempts:             attempts,
		CreatedAt:            esc.CreatedAt,
		UpdatedAt:            esc.UpdatedAt,
	}
}

func mapEscalations(items []domain.Escalation) []EscalationResponse {
	res := make([]EscalationResponse, 0, len(items))
	for _, esc := range items {
		res = append(res, escalationResponse(esc, nil))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func encodeJSONMap(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func strPtr(in string) *string {
	return &in
}
