package venturelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Ventureline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Phase represents the API phase model.
type Phase struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	PhaseNumber int    `json:"phase_number"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	TeamID      string `json:"team_id"`
}

// Deliverable represents a phase output with its approval state.
type Deliverable struct {
	ID                string `json:"id"`
	PhaseID           string `json:"phase_id"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	Status            string `json:"status"`
	AuthorityApproved bool   `json:"authority_approved"`
	HumanApproved     bool   `json:"human_approved"`
}

// Escalation represents an issue on the escalation ladder.
type Escalation struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	AgentID     string         `json:"agent_id"`
	Level       int            `json:"escalation_level"`
	HandlerType string         `json:"current_handler_type"`
	IssueType   string         `json:"issue_type"`
	Description string         `json:"issue_description"`
	Context     map[string]any `json:"context,omitempty"`
	Status      string         `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// ProjectStatus is the aggregate returned by the status endpoint.
type ProjectStatus struct {
	Project struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		CurrentPhase int    `json:"current_phase"`
	} `json:"project"`
	Phases       []Phase                  `json:"phases"`
	Deliverables map[string][]Deliverable `json:"deliverables"`
}

// SweepResult reports one timeout check pass.
type SweepResult struct {
	Checked   int `json:"checked"`
	Escalated int `json:"escalated"`
}

// DispatchResult is the envelope returned by the dispatch endpoint.
type DispatchResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// InitializeProject creates the project pipeline. Idempotent.
func (c *Client) InitializeProject(ctx context.Context, id, description string) error {
	body := map[string]any{"id": id}
	if description != "" {
		body["description"] = description
	}
	return c.do(ctx, http.MethodPost, "v0/projects", body, nil)
}

// Status returns the full pipeline view for the client's project.
func (c *Client) Status(ctx context.Context) (ProjectStatus, error) {
	var resp ProjectStatus
	err := c.do(ctx, http.MethodGet, c.projectPath("status"), nil, &resp)
	return resp, err
}

// Delegate hands a directive to the team's manager.
func (c *Client) Delegate(ctx context.Context, teamID, directive string) error {
	endpoint := fmt.Sprintf("v0/teams/%s/delegate", url.PathEscape(teamID))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"directive": directive}, nil)
}

// ActivatePhase activates a pending phase.
func (c *Client) ActivatePhase(ctx context.Context, number int) (Phase, error) {
	var resp Phase
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("phases/%d/activate", number)), nil, &resp)
	return resp, err
}

// CompletePhase completes a phase and activates the next one.
func (c *Client) CompletePhase(ctx context.Context, number int, force bool) (Phase, error) {
	endpoint := c.projectPath(fmt.Sprintf("phases/%d/complete", number))
	if force {
		endpoint += "?force=true"
	}
	var resp Phase
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ApproveDeliverable records one half of the dual approval.
func (c *Client) ApproveDeliverable(ctx context.Context, deliverableID, kind string) (Deliverable, error) {
	body := map[string]any{"kind": kind}
	var resp Deliverable
	endpoint := fmt.Sprintf("v0/deliverables/%s/approve", url.PathEscape(deliverableID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateEscalation opens a new escalation at level 1.
func (c *Client) CreateEscalation(ctx context.Context, agentID, issueType, description string, context_ map[string]any) (Escalation, error) {
	body := map[string]any{
		"agent_id":          agentID,
		"issue_type":        issueType,
		"issue_description": description,
		"context":           context_,
	}
	var resp Escalation
	err := c.do(ctx, http.MethodPost, c.projectPath("escalations"), body, &resp)
	return resp, err
}

// ResolveEscalation closes an escalation.
func (c *Client) ResolveEscalation(ctx context.Context, escalationID, resolution, resolutionType string) (Escalation, error) {
	body := map[string]any{
		"resolution":      resolution,
		"resolution_type": resolutionType,
	}
	var resp Escalation
	endpoint := fmt.Sprintf("v0/escalations/%s/resolve", url.PathEscape(escalationID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CheckTimeouts runs one sweep pass.
func (c *Client) CheckTimeouts(ctx context.Context) (SweepResult, error) {
	var resp SweepResult
	err := c.do(ctx, http.MethodPost, c.projectPath("escalations/sweep"), nil, &resp)
	return resp, err
}

// Dispatch sends a raw action envelope to the dispatch endpoint.
func (c *Client) Dispatch(ctx context.Context, action string, params map[string]any) (DispatchResult, error) {
	body := map[string]any{"action": action}
	for k, v := range params {
		body[k] = v
	}
	if _, ok := body["project_id"]; !ok && c.ProjectID != "" {
		body["project_id"] = c.ProjectID
	}
	var resp DispatchResult
	err := c.do(ctx, http.MethodPost, "v0/dispatch", body, &resp)
	if err != nil {
		// dispatch failures carry the envelope in the error body
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Body != "" {
			var failed DispatchResult
			if jsonErr := json.Unmarshal([]byte(apiErr.Body), &failed); jsonErr == nil && failed.Error != "" {
				return failed, nil
			}
		}
		return resp, err
	}
	return resp, nil
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
