package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid phase transition pending -> completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Ventureline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Ventureline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerDeliverables(group, cfg.Engine)
	registerEscalations(group, cfg.Engine)
	registerInbox(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerDispatch(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var pe engine.PrerequisiteError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusConflict, "prerequisite_not_met", err.Error(), map[string]any{
			"phase":   pe.Phase,
			"missing": pe.Missing,
		})
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"entity": te.Entity,
			"from":   te.From,
			"to":     te.To,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unapproved"):
		return newAPIError(http.StatusUnprocessableEntity, "approval_pending", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Ventureline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "initialize-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Initialize project",
		Description:   "Creates the project with its six phases, teams and deliverables, and activates phase 1. Idempotent.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body InitProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.InitializeProject(ctx, input.Body.ID, desc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Project{}
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
		Description: "The full pipeline view: project, phases, per-phase deliverables, active teams.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.ProjectStatus `json:"body"`
	}, error) {
		status, err := e.GetStatus(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectStatus `json:"body"`
		}{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPhases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-phases",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/phases",
		Summary:     "List phases",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.Phase `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		phases, err := e.Repo.ListPhases(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Phase `json:"body"`
		}{Body: phases}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phases/{phase_number}/activate",
		Summary:     "Activate phase",
		Description: "Activates a pending phase. Fails unless the previous phase is completed.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		PhaseNumber int    `path:"phase_number"`
	}) (*struct {
		Body domain.Phase `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		phase, err := e.ActivatePhase(ctx, input.ProjectID, input.PhaseNumber, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Phase `json:"body"`
		}{Body: phase}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phases/{phase_number}/complete",
		Summary:     "Complete phase",
		Description: "Completes an active or review phase and activates the next one. Without force, all deliverables must be approved.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		PhaseNumber int    `path:"phase_number"`
		Force       bool   `query:"force"`
	}) (*struct {
		Body domain.Phase `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		phase, err := e.CompletePhase(ctx, input.ProjectID, input.PhaseNumber, actorID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Phase `json:"body"`
		}{Body: phase}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/teams",
		Summary:     "List teams",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.Team `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		teams, err := e.Repo.ListTeams(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Team `json:"body"`
		}{Body: teams}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team-members",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/members",
		Summary:     "List team members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		if _, err := e.Repo.GetTeam(ctx, input.TeamID); err != nil {
			return nil, handleError(err)
		}
		members, err := e.Repo.ListTeamMembers(ctx, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: members}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delegate-to-manager",
		Method:      http.MethodPost,
		Path:        "/teams/{team_id}/delegate",
		Summary:     "Delegate work to the team manager",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TeamID string          `path:"team_id"`
		Body   DelegateRequest `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		if input.Body.Directive == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "directive is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		manager, err := e.DelegateToManager(ctx, input.TeamID, input.Body.Directive, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: manager}, nil
	})
}

func registerDeliverables(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deliverables",
		Method:      http.MethodGet,
		Path:        "/phases/{phase_id}/deliverables",
		Summary:     "List phase deliverables",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PhaseID string `path:"phase_id"`
	}) (*struct {
		Body []domain.Deliverable `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPhaseByID(ctx, input.PhaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDeliverables(ctx, input.PhaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Deliverable `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-deliverable",
		Method:      http.MethodPost,
		Path:        "/deliverables/{deliverable_id}/approve",
		Summary:     "Approve deliverable",
		Description: "Records one half of the dual approval. When both halves are present the deliverable is approved; when the last deliverable of a phase is approved the phase completes and the next one activates.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DeliverableID string                    `path:"deliverable_id"`
		Body          ApproveDeliverableRequest `json:"body"`
	}) (*struct {
		Body domain.Deliverable `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ApproveDeliverable(ctx, input.DeliverableID, engine.ApprovalKind(input.Body.Kind), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Deliverable `json:"body"`
		}{Body: d}, nil
	})
}

func registerEscalations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-escalation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/escalations",
		Summary:       "Create escalation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      CreateEscalationRequest `json:"body"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		esc, err := e.CreateEscalation(ctx, engine.EscalationOptions{
			ProjectID:   input.ProjectID,
			AgentID:     input.Body.AgentID,
			AgentName:   input.Body.AgentName,
			ManagerID:   input.Body.ManagerID,
			IssueType:   input.Body.IssueType,
			Description: input.Body.Description,
			ContextJSON: encodeJSONMap(input.Body.Context),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(esc, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-escalations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/escalations",
		Summary:     "List escalations",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"open,in_progress,pending_human,resolved,"`
		Level     int    `query:"level"`
		AgentID   string `query:"agent_id"`
	}) (*struct {
		Body []EscalationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListEscalations(ctx, repo.EscalationFilters{
			ProjectID: input.ProjectID,
			Status:    input.Status,
			Level:     input.Level,
			AgentID:   input.AgentID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EscalationResponse `json:"body"`
		}{Body: mapEscalations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-escalation",
		Method:      http.MethodGet,
		Path:        "/escalations/{escalation_id}",
		Summary:     "Get escalation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EscalationID string `path:"escalation_id"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		esc, err := e.Repo.GetEscalation(ctx, input.EscalationID)
		if err != nil {
			return nil, handleError(err)
		}
		attempts, err := e.Repo.ListSolutionAttempts(ctx, esc.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(esc, attempts)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-to-manager",
		Method:      http.MethodPost,
		Path:        "/escalations/{escalation_id}/escalate/manager",
		Summary:     "Assign escalation to a manager",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EscalationID string          `path:"escalation_id"`
		Body         EscalateRequest `json:"body"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.EscalateToManager(ctx, input.EscalationID, input.Body.HandlerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(esc, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-to-ceo",
		Method:      http.MethodPost,
		Path:        "/escalations/{escalation_id}/escalate/ceo",
		Summary:     "Promote escalation to the senior agent",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EscalationID string          `path:"escalation_id"`
		Body         EscalateRequest `json:"body"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.EscalateToCEO(ctx, input.EscalationID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(esc, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-to-human",
		Method:      http.MethodPost,
		Path:        "/escalations/{escalation_id}/escalate/human",
		Summary:     "Promote escalation to the human operator",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EscalationID string          `path:"escalation_id"`
		Body         EscalateRequest `json:"body"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.EscalateToHuman(ctx, input.EscalationID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(esc, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-escalation",
		Method:      http.MethodPost,
		Path:        "/escalations/{escalation_id}/resolve",
		Summary:     "Resolve escalation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EscalationID string                   `path:"escalation_id"`
		Body         ResolveEscalationRequest `json:"body"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.ResolveEscalation(ctx, input.EscalationID, input.Body.Resolution, input.Body.ResolutionType, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(esc, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-to-escalation",
		Method:      http.MethodPost,
		Path:        "/escalations/{escalation_id}/respond",
		Summary:     "Respond to escalation",
		Description: "Dispatches a handler response: resolve, escalate to the next level, or record a solution attempt.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EscalationID string                   `path:"escalation_id"`
		Body         RespondEscalationRequest `json:"body"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		if input.Body.Response == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "response is required", nil)
		}
		responder := input.Body.ResponderID
		if responder == "" {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			responder = actorID
		}
		esc, err := e.RespondToEscalation(ctx, input.EscalationID, responder, input.Body.ResponderType, input.Body.Response, input.Body.Action)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(esc, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-solution-attempt",
		Method:        http.MethodPost,
		Path:          "/escalations/{escalation_id}/attempts",
		Summary:       "Record a solution attempt",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EscalationID string            `path:"escalation_id"`
		Body         AddAttemptRequest `json:"body"`
	}) (*struct {
		Body domain.SolutionAttempt `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		attempt, err := e.AddSolutionAttempt(ctx, input.EscalationID, input.Body.Level, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SolutionAttempt `json:"body"`
		}{Body: attempt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-timeouts",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/escalations/sweep",
		Summary:     "Check escalation timeouts",
		Description: "Promotes escalations that have outstayed their level's response budget.",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.SweepResult `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.CheckTimeouts(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SweepResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerInbox(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/messages",
		Summary:     "List messages",
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		RecipientID string `query:"recipient_id"`
	}) (*struct {
		Body []domain.Message `json:"body"`
	}, error) {
		items, err := e.Repo.ListMessages(ctx, input.ProjectID, input.RecipientID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Message{}
		}
		return &struct {
			Body []domain.Message `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/notifications",
		Summary:     "List notifications",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Unread    bool   `query:"unread"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		items, err := e.Repo.ListNotifications(ctx, input.ProjectID, input.Unread)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Notification{}
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct{}, error) {
		if err := e.Repo.MarkNotificationRead(ctx, input.NotificationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,phase,team,deliverable,escalation,"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
