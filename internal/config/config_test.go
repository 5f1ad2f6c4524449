package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("demo")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Project.ID != "demo" || cfg.Project.Kind != "venture" {
		t.Fatalf("unexpected project header: %+v", cfg.Project)
	}
	if len(cfg.Phases) != PhaseCount {
		t.Fatalf("expected %d phases, got %d", PhaseCount, len(cfg.Phases))
	}
	if cfg.ManagerTimeout() != 5*time.Minute {
		t.Fatalf("manager timeout = %v", cfg.ManagerTimeout())
	}
	if cfg.CEOTimeout() != 10*time.Minute {
		t.Fatalf("ceo timeout = %v", cfg.CEOTimeout())
	}
	if cfg.SweepInterval() != time.Minute {
		t.Fatalf("sweep interval = %v", cfg.SweepInterval())
	}
}

func TestValidateRejections(t *testing.T) {
	base := GenerateDefault("demo")
	cases := []struct {
		name    string
		mutate  func(s string) string
		wantErr string
	}{
		{
			"wrong kind",
			func(s string) string { return strings.Replace(s, "kind: venture", "kind: sprint", 1) },
			"kind",
		},
		{
			"phase numbering gap",
			func(s string) string { return strings.Replace(s, "number: 4", "number: 7", 1) },
			"number",
		},
		{
			"zero manager timeout",
			func(s string) string {
				return strings.Replace(s, "manager_timeout_minutes: 5", "manager_timeout_minutes: 0", 1)
			},
			"manager_timeout_minutes",
		},
		{
			"negative ceo timeout",
			func(s string) string {
				return strings.Replace(s, "ceo_timeout_minutes: 10", "ceo_timeout_minutes: -1", 1)
			},
			"ceo_timeout_minutes",
		},
		{
			"missing deliverables",
			func(s string) string {
				return strings.Replace(s, `      - name: launch_checklist
        type: document
      - name: first_sales_report
        type: report`, "      []", 1)
			},
			"deliverables",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.mutate(base)))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestPhaseTemplateLookup(t *testing.T) {
	cfg := Default("demo")
	tpl := cfg.PhaseTemplate(3)
	if tpl == nil || tpl.Name != "product" {
		t.Fatalf("unexpected template for phase 3: %+v", tpl)
	}
	if cfg.PhaseTemplate(9) != nil {
		t.Fatalf("expected nil for unknown phase")
	}
}
