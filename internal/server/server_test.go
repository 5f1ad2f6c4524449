package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"ventureline/internal/config"
	"ventureline/internal/db"
	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/migrate"
)

const testProjectID = "venture-1"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default(testProjectID)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitializeProject(context.Background(), testProjectID, "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func fetchStatus(t *testing.T, srv *testServer) engine.ProjectStatus {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+testProjectID+"/status", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint: %d %s", res.StatusCode, string(data))
	}
	var status engine.ProjectStatus
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	return status
}

func TestApprovalFlowAdvancesPhase(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	status := fetchStatus(t, srv)
	if len(status.Phases) != config.PhaseCount {
		t.Fatalf("expected %d phases, got %d", config.PhaseCount, len(status.Phases))
	}
	phase1 := status.Phases[0]
	if phase1.Status != "active" {
		t.Fatalf("phase 1 should start active, got %s", phase1.Status)
	}

	for _, d := range status.Deliverables[phase1.ID] {
		for _, kind := range []string{"authority", "human"} {
			res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/deliverables/"+d.ID+"/approve", map[string]any{
				"kind": kind,
			}, asActor(kind+"-approver"))
			if res.StatusCode != http.StatusOK {
				t.Fatalf("approve %s/%s: %d %s", d.Name, kind, res.StatusCode, string(body))
			}
		}
	}

	status = fetchStatus(t, srv)
	if status.Phases[0].Status != "completed" {
		t.Fatalf("phase 1 should complete after dual approvals, got %s", status.Phases[0].Status)
	}
	if status.Phases[1].Status != "active" {
		t.Fatalf("phase 2 should activate, got %s", status.Phases[1].Status)
	}
	if status.Project.CurrentPhase != 2 {
		t.Fatalf("current phase should be 2, got %d", status.Project.CurrentPhase)
	}
}

func TestActivatePhaseOutOfOrder(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+testProjectID+"/phases/3/activate", nil, asActor("tester"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "prerequisite_not_met" {
		t.Fatalf("expected prerequisite_not_met, got %q", envelope.Error.Code)
	}
}

func TestCompletePhaseBlockedWithoutApprovals(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+testProjectID+"/phases/1/complete", nil, asActor("tester"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+testProjectID+"/phases/1/complete?force=true", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("force complete: %d %s", res.StatusCode, string(data))
	}
	var phase domain.Phase
	if err := json.Unmarshal(data, &phase); err != nil {
		t.Fatalf("unmarshal phase: %v", err)
	}
	if phase.Status != "completed" {
		t.Fatalf("expected completed, got %s", phase.Status)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// health stays open
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}

	// everything else needs credentials
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+testProjectID+"/status", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// a minted dev token works as a bearer credential
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "dev-user",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unmarshal token: %v %s", err, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+testProjectID+"/status", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer status: %d %s", res.StatusCode, string(data))
	}

	// garbage tokens are rejected
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+testProjectID+"/status", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestEscalationRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+testProjectID+"/escalations", map[string]any{
		"agent_id":          "research-agent-1",
		"issue_type":        "blocked",
		"issue_description": "supplier API unreachable",
		"context":           map[string]any{"attempts": 3},
	}, asActor("research-agent-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create escalation: %d %s", res.StatusCode, string(data))
	}
	var created EscalationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal escalation: %v", err)
	}
	if created.Level != 1 || created.HandlerType != "manager" {
		t.Fatalf("unexpected escalation start state: %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/escalations/"+created.ID+"/escalate/ceo", map[string]any{
		"reason": "manager could not resolve",
	}, asActor("research-manager"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("escalate ceo: %d %s", res.StatusCode, string(data))
	}

	// skipping straight to human from level 2 is the only legal next hop;
	// promoting to ceo again conflicts
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/escalations/"+created.ID+"/escalate/ceo", map[string]any{
		"reason": "again",
	}, asActor("research-manager"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on repeat promotion, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/escalations/"+created.ID+"/resolve", map[string]any{
		"resolution":      "switched suppliers",
		"resolution_type": "workaround",
	}, asActor("ceo"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d %s", res.StatusCode, string(data))
	}
	var resolved EscalationResponse
	_ = json.Unmarshal(data, &resolved)
	if resolved.Status != "resolved" {
		t.Fatalf("expected resolved, got %s", resolved.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/escalations/"+created.ID, nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get escalation: %d %s", res.StatusCode, string(data))
	}
	var fetched EscalationResponse
	if err := json.Unmarshal(data, &fetched); err != nil {
		t.Fatalf("unmarshal fetched: %v", err)
	}
	if len(fetched.Attempts) != 1 {
		t.Fatalf("expected the recorded attempt, got %d", len(fetched.Attempts))
	}
}

func TestDispatchEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/dispatch", map[string]any{
		"action":            "create_escalation",
		"project_id":        testProjectID,
		"agent_id":          "web-agent-1",
		"issue_type":        "decision_needed",
		"issue_description": "which checkout provider",
	}, asActor("web-agent-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch create: %d %s", res.StatusCode, string(data))
	}
	var success struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &success); err != nil || !success.Success {
		t.Fatalf("expected success envelope: %v %s", err, string(data))
	}
	var esc EscalationResponse
	if err := json.Unmarshal(success.Data, &esc); err != nil {
		t.Fatalf("unmarshal dispatch data: %v", err)
	}
	if esc.Level != 1 {
		t.Fatalf("expected level 1, got %d", esc.Level)
	}

	// statuses aggregate through the same channel
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/dispatch", map[string]any{
		"action":     "get_status",
		"project_id": testProjectID,
	}, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch get_status: %d %s", res.StatusCode, string(data))
	}

	// failures come back as success=false with an HTTP status to match
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/dispatch", map[string]any{
		"action":        "escalate_to_human",
		"escalation_id": esc.ID,
		"reason":        "skip the ladder",
	}, asActor("tester"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var failure struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &failure); err != nil || failure.Success || failure.Error == "" {
		t.Fatalf("expected failure envelope: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/dispatch", map[string]any{
		"action": "frobnicate",
	}, asActor("tester"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/dispatch", map[string]any{
		"action":     "check_timeouts",
		"project_id": testProjectID,
	}, asActor("system"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch check_timeouts: %d %s", res.StatusCode, string(data))
	}
	var sweep struct {
		Success bool               `json:"success"`
		Data    engine.SweepResult `json:"data"`
	}
	if err := json.Unmarshal(data, &sweep); err != nil || !sweep.Success {
		t.Fatalf("unmarshal sweep: %v %s", err, string(data))
	}
	if sweep.Data.Escalated != 0 {
		t.Fatalf("fresh escalation should not time out, got %+v", sweep.Data)
	}
}
