// Package notify delivers fire-and-forget signals to external executors:
// a work-trigger webhook that wakes the agent runtime for a team, and an
// email relay for escalations that reach the human level. Both are
// best-effort; delivery failure is logged and never blocks a transition.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"ventureline/internal/config"
)

const defaultTimeout = 5 * time.Second

type HTTPNotifier struct {
	WorkURL  string
	EmailURL string
	Client   *http.Client
}

func New(cfg *config.Config) *HTTPNotifier {
	n := &HTTPNotifier{Client: &http.Client{Timeout: defaultTimeout}}
	if cfg != nil {
		n.WorkURL = cfg.Notifications.WorkURL
		n.EmailURL = cfg.Notifications.EmailURL
	}
	return n
}

type workTrigger struct {
	ProjectID string `json:"project_id"`
	TeamID    string `json:"team_id"`
	TS        string `json:"ts"`
}

// TriggerWork posts a wake-up signal for a team. Errors are logged only.
func (n *HTTPNotifier) TriggerWork(ctx context.Context, projectID, teamID string) {
	if strings.TrimSpace(n.WorkURL) == "" {
		return
	}
	body := workTrigger{
		ProjectID: projectID,
		TeamID:    teamID,
		TS:        time.Now().UTC().Format(time.RFC3339),
	}
	if err := n.post(ctx, n.WorkURL, body); err != nil {
		log.Printf("notify: work trigger for team %s failed: %v", teamID, err)
	}
}

type emailAlert struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	TS      string `json:"ts"`
}

// EmailAlert posts an alert to the configured email relay.
func (n *HTTPNotifier) EmailAlert(ctx context.Context, subject, body string) error {
	if strings.TrimSpace(n.EmailURL) == "" {
		return nil
	}
	return n.post(ctx, n.EmailURL, emailAlert{
		Subject: subject,
		Body:    body,
		TS:      time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *HTTPNotifier) post(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
