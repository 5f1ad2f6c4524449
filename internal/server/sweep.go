package server

import (
	"context"
	"log"
	"strings"
	"time"

	"ventureline/internal/engine"
)

// startSweeper runs the escalation timeout check on the configured interval.
// It is the background counterpart of the manual sweep endpoint.
func startSweeper(e engine.Engine) {
	if e.Config == nil {
		return
	}
	projectID := e.Config.Project.ID
	if strings.TrimSpace(projectID) == "" {
		return
	}
	interval := e.Config.SweepInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			res, err := e.CheckTimeouts(context.Background(), projectID)
			if err != nil {
				log.Printf("sweep: check timeouts failed: %v", err)
			} else if res.Escalated > 0 {
				log.Printf("sweep: escalated %d of %d open escalations", res.Escalated, res.Checked)
			}
			<-ticker.C
		}
	}()
}

// StartBackground launches the webhook dispatcher and the timeout sweeper.
// Called by the serve command after the handler is built.
func StartBackground(e engine.Engine) {
	startWebhookDispatcher(e)
	startSweeper(e)
}
