package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"ventureline/internal/engine"
	"ventureline/internal/repo"
)

// dispatchRequest is the single-endpoint command envelope. Every request
// names an action; the remaining fields are that action's parameters.
type dispatchRequest struct {
	Action string `json:"action"`

	ProjectID   string `json:"project_id,omitempty"`
	Description string `json:"description,omitempty"`
	PhaseNumber int    `json:"phase_number,omitempty"`
	Force       bool   `json:"force,omitempty"`

	TeamID    string `json:"team_id,omitempty"`
	Directive string `json:"directive,omitempty"`

	EscalationID string         `json:"escalation_id,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
	AgentName    string         `json:"agent_name,omitempty"`
	ManagerID    string         `json:"manager_id,omitempty"`
	IssueType    string         `json:"issue_type,omitempty"`
	Issue        string         `json:"issue_description,omitempty"`
	Context      map[string]any `json:"context,omitempty"`

	Reason         string `json:"reason,omitempty"`
	Level          string `json:"level,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	ResolutionType string `json:"resolution_type,omitempty"`

	ResponderID   string `json:"responder_id,omitempty"`
	ResponderType string `json:"responder_type,omitempty"`
	Response      string `json:"response,omitempty"`
	ResponseAct   string `json:"response_action,omitempty"`

	Status  string `json:"status,omitempty"`
	HandlID string `json:"handler_id,omitempty"`
}

type dispatchSuccess struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type dispatchFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// registerDispatch mounts the action-style entry point used by agent
// runtimes that speak a single command channel instead of REST routes.
func registerDispatch(router chi.Router, basePath string, e engine.Engine) {
	router.Post(path.Join(basePath, "dispatch"), func(w http.ResponseWriter, r *http.Request) {
		var req dispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDispatch(w, http.StatusBadRequest, dispatchFailure{Error: "invalid json body"})
			return
		}
		if req.Action == "" {
			writeDispatch(w, http.StatusBadRequest, dispatchFailure{Error: "action is required"})
			return
		}
		data, err := dispatchAction(r, e, req)
		if err != nil {
			writeDispatch(w, dispatchStatus(err), dispatchFailure{Error: err.Error()})
			return
		}
		writeDispatch(w, http.StatusOK, dispatchSuccess{Success: true, Data: data})
	})
}

func dispatchAction(r *http.Request, e engine.Engine, req dispatchRequest) (any, error) {
	ctx := r.Context()
	actorID := ""
	if p, ok := principalFromContext(ctx); ok {
		actorID = p.ActorID
	}
	switch req.Action {
	case "initialize_project":
		return e.InitializeProject(ctx, req.ProjectID, req.Description, actorID)
	case "activate_phase":
		return e.ActivatePhase(ctx, req.ProjectID, req.PhaseNumber, actorID)
	case "complete_phase":
		return e.CompletePhase(ctx, req.ProjectID, req.PhaseNumber, actorID, req.Force)
	case "get_status":
		return e.GetStatus(ctx, req.ProjectID)
	case "delegate_to_manager":
		return e.DelegateToManager(ctx, req.TeamID, req.Directive, actorID)
	case "create_escalation":
		esc, err := e.CreateEscalation(ctx, engine.EscalationOptions{
			ProjectID:   req.ProjectID,
			AgentID:     req.AgentID,
			AgentName:   req.AgentName,
			ManagerID:   req.ManagerID,
			IssueType:   req.IssueType,
			Description: req.Issue,
			ContextJSON: encodeJSONMap(req.Context),
		})
		if err != nil {
			return nil, err
		}
		return escalationResponse(esc, nil), nil
	case "escalate_to_manager":
		esc, err := e.EscalateToManager(ctx, req.EscalationID, req.HandlID, actorID)
		if err != nil {
			return nil, err
		}
		return escalationResponse(esc, nil), nil
	case "escalate_to_ceo":
		esc, err := e.EscalateToCEO(ctx, req.EscalationID, req.Reason, actorID)
		if err != nil {
			return nil, err
		}
		return escalationResponse(esc, nil), nil
	case "escalate_to_human":
		esc, err := e.EscalateToHuman(ctx, req.EscalationID, req.Reason, actorID)
		if err != nil {
			return nil, err
		}
		return escalationResponse(esc, nil), nil
	case "resolve_escalation":
		esc, err := e.ResolveEscalation(ctx, req.EscalationID, req.Resolution, req.ResolutionType, actorID)
		if err != nil {
			return nil, err
		}
		return escalationResponse(esc, nil), nil
	case "add_solution_attempt":
		return e.AddSolutionAttempt(ctx, req.EscalationID, req.Level, req.Reason)
	case "get_escalations":
		items, err := e.Repo.ListEscalations(ctx, repo.EscalationFilters{
			ProjectID: req.ProjectID,
			Status:    req.Status,
			AgentID:   req.AgentID,
		})
		if err != nil {
			return nil, err
		}
		return mapEscalations(items), nil
	case "check_timeouts":
		return e.CheckTimeouts(ctx, req.ProjectID)
	case "respond_to_escalation":
		esc, err := e.RespondToEscalation(ctx, req.EscalationID, req.ResponderID, req.ResponderType, req.Response, req.ResponseAct)
		if err != nil {
			return nil, err
		}
		return escalationResponse(esc, nil), nil
	default:
		return nil, errors.New("unknown action: " + req.Action)
	}
}

func dispatchStatus(err error) int {
	var pe engine.PrerequisiteError
	var te engine.TransitionError
	switch {
	case errors.As(err, &pe), errors.As(err, &te):
		return http.StatusConflict
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func writeDispatch(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
