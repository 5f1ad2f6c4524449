package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PhaseCount is the fixed length of the venture pipeline.
const PhaseCount = 6

// Config models ventureline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Phases     []PhaseTemplate `yaml:"phases"`
	Escalation struct {
		ManagerTimeoutMinutes int `yaml:"manager_timeout_minutes"`
		CEOTimeoutMinutes     int `yaml:"ceo_timeout_minutes"`
		SweepIntervalSeconds  int `yaml:"sweep_interval_seconds"`
	} `yaml:"escalation"`
	Notifications struct {
		EmailURL string          `yaml:"email_url"`
		WorkURL  string          `yaml:"work_url"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
}

// PhaseTemplate declares one pipeline phase and the deliverables created with it.
type PhaseTemplate struct {
	Number       int                   `yaml:"number"`
	Name         string                `yaml:"name"`
	TeamDivision string                `yaml:"team_division"`
	Deliverables []DeliverableTemplate `yaml:"deliverables"`
}

type DeliverableTemplate struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with vl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "venture" {
		return fmt.Errorf("config.project.kind must be 'venture'")
	}
	if len(c.Phases) != PhaseCount {
		return fmt.Errorf("config.phases must declare exactly %d phases, got %d", PhaseCount, len(c.Phases))
	}
	for i, p := range c.Phases {
		if p.Number != i+1 {
			return fmt.Errorf("config.phases[%d].number must be %d, got %d", i, i+1, p.Number)
		}
		if p.Name == "" {
			return fmt.Errorf("phase %d has empty name", p.Number)
		}
		if p.TeamDivision == "" {
			return fmt.Errorf("phase %d (%s) has empty team_division", p.Number, p.Name)
		}
		if len(p.Deliverables) == 0 {
			return fmt.Errorf("phase %d (%s) declares no deliverables", p.Number, p.Name)
		}
		for _, d := range p.Deliverables {
			if d.Name == "" {
				return fmt.Errorf("phase %d (%s) has a deliverable with empty name", p.Number, p.Name)
			}
		}
	}
	if c.Escalation.ManagerTimeoutMinutes <= 0 {
		return fmt.Errorf("config.escalation.manager_timeout_minutes must be positive")
	}
	if c.Escalation.CEOTimeoutMinutes <= 0 {
		return fmt.Errorf("config.escalation.ceo_timeout_minutes must be positive")
	}
	if c.Escalation.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("config.escalation.sweep_interval_seconds must be positive")
	}
	return nil
}

// PhaseTemplate returns the template for a phase number, or nil.
func (c *Config) PhaseTemplate(number int) *PhaseTemplate {
	for i := range c.Phases {
		if c.Phases[i].Number == number {
			return &c.Phases[i]
		}
	}
	return nil
}

// ManagerTimeout is the level-1 budget before auto-promotion.
func (c *Config) ManagerTimeout() time.Duration {
	return time.Duration(c.Escalation.ManagerTimeoutMinutes) * time.Minute
}

// CEOTimeout is the level-2 budget before auto-promotion.
func (c *Config) CEOTimeout() time.Duration {
	return time.Duration(c.Escalation.CEOTimeoutMinutes) * time.Minute
}

// SweepInterval is the cadence of the timeout sweeper.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Escalation.SweepIntervalSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ventureline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "venture"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: venture

phases:
  - number: 1
    name: discovery
    team_division: research
    deliverables:
      - name: market_analysis
        type: document
      - name: customer_profile
        type: document

  - number: 2
    name: branding
    team_division: brand
    deliverables:
      - name: brand_identity
        type: document
      - name: domain_selection
        type: decision

  - number: 3
    name: product
    team_division: product
    deliverables:
      - name: product_catalog
        type: document
      - name: pricing_model
        type: document

  - number: 4
    name: website
    team_division: web
    deliverables:
      - name: landing_page
        type: artifact
      - name: checkout_flow
        type: artifact

  - number: 5
    name: marketing
    team_division: growth
    deliverables:
      - name: content_calendar
        type: document
      - name: launch_campaign
        type: document

  - number: 6
    name: launch
    team_division: operations
    deliverables:
      - name: launch_checklist
        type: document
      - name: first_sales_report
        type: report

escalation:
  manager_timeout_minutes: 5
  ceo_timeout_minutes: 10
  sweep_interval_seconds: 60

notifications:
  email_url: ""
  work_url: ""
  webhooks: []
`
