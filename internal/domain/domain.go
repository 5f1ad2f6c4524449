package domain

type Project struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CurrentPhase int    `json:"current_phase"`
	Description  string `json:"description,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Phase struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	PhaseNumber int     `json:"phase_number"`
	Name        string  `json:"name"`
	Status      string  `json:"status" enum:"pending,active,review,completed"`
	TeamID      string  `json:"team_id"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type Team struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	Division        string `json:"division"`
	ActivationPhase int    `json:"activation_phase"`
	Status          string `json:"status" enum:"inactive,active"`
}

type TeamMember struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Name      string `json:"name"`
	Role      string `json:"role" enum:"manager,agent"`
	State     string `json:"state" enum:"idle,ready,working"`
	Directive string `json:"directive,omitempty"`
}

type Deliverable struct {
	ID                string `json:"id"`
	ProjectID         string `json:"project_id"`
	PhaseID           string `json:"phase_id"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	Status            string `json:"status" enum:"pending,in_review,approved"`
	AuthorityApproved bool   `json:"authority_approved"`
	HumanApproved     bool   `json:"human_approved"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

type Escalation struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"project_id"`
	AgentID              string  `json:"agent_id"`
	AgentName            string  `json:"agent_name,omitempty"`
	Level                int     `json:"escalation_level"`
	HandlerType          string  `json:"current_handler_type" enum:"manager,senior_agent,human"`
	HandlerID            string  `json:"current_handler_id,omitempty"`
	IssueType            string  `json:"issue_type"`
	Description          string  `json:"issue_description"`
	ContextJSON          *string `json:"context_json,omitempty"`
	Status               string  `json:"status" enum:"open,in_progress,pending_human,resolved"`
	EscalatedToManagerAt string  `json:"escalated_to_manager_at" format:"date-time"`
	EscalatedToCEOAt     *string `json:"escalated_to_ceo_at,omitempty" format:"date-time"`
	EscalatedToHumanAt   *string `json:"escalated_to_human_at,omitempty" format:"date-time"`
	Resolution           *string `json:"resolution,omitempty"`
	ResolutionType       *string `json:"resolution_type,omitempty"`
	ResolvedBy           *string `json:"resolved_by,omitempty"`
	ResolvedAt           *string `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

type SolutionAttempt struct {
	ID           int64  `json:"id"`
	EscalationID string `json:"escalation_id"`
	Level        string `json:"level"`
	Reason       string `json:"reason"`
	TS           string `json:"ts" format:"date-time"`
}

type Message struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	SenderID     string `json:"sender_id"`
	RecipientID  string `json:"recipient_id"`
	EscalationID string `json:"escalation_id,omitempty"`
	Subject      string `json:"subject"`
	Body         string `json:"body,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	Priority  string `json:"priority" enum:"normal,high"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
