package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"bountyline/internal/domain"
)

// Config models bountyline.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Governance struct {
		CollateralizationLowerBound string `yaml:"collateralization_lower_bound"`
		Expiry                      struct {
			ApplicationReview Duration `yaml:"application_review"`
			TeamConsent       Duration `yaml:"team_consent"`
			MilestoneReview   Duration `yaml:"milestone_review"`
		} `yaml:"expiry"`
		Archive struct {
			ClosedAfter Duration `yaml:"closed_after"`
			Path        string   `yaml:"path"`
		} `yaml:"archive"`
		SweepInterval Duration `yaml:"sweep_interval"`
	} `yaml:"governance"`
	Boards struct {
		Presets map[string]domain.BoardSpec `yaml:"presets"`
	} `yaml:"boards"`
}

// Duration is a time.Duration written as "72h" in YAML. Zero disables the
// policy it configures.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bountyline init", path)
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
	bound, err := decimal.NewFromString(c.Governance.CollateralizationLowerBound)
	if err != nil {
		return fmt.Errorf("config.governance.collateralization_lower_bound: %w", err)
	}
	if bound.IsNegative() {
		return fmt.Errorf("config.governance.collateralization_lower_bound must not be negative")
	}
	for name, d := range map[string]Duration{
		"expiry.application_review": c.Governance.Expiry.ApplicationReview,
		"expiry.team_consent":       c.Governance.Expiry.TeamConsent,
		"expiry.milestone_review":   c.Governance.Expiry.MilestoneReview,
		"archive.closed_after":      c.Governance.Archive.ClosedAfter,
		"sweep_interval":            c.Governance.SweepInterval,
	} {
		if d < 0 {
			return fmt.Errorf("config.governance.%s must not be negative", name)
		}
	}
	for name, preset := range c.Boards.Presets {
		if name == "" {
			return fmt.Errorf("config.boards.presets contains empty preset name")
		}
		if _, err := preset.Board(); err != nil {
			return fmt.Errorf("board preset %s: %w", name, err)
		}
	}
	return nil
}

// LowerBound is the parsed collateralization lower bound. Call after Validate.
func (c *Config) LowerBound() decimal.Decimal {
	bound, err := decimal.NewFromString(c.Governance.CollateralizationLowerBound)
	if err != nil {
		return decimal.Zero
	}
	return bound
}

// Preset resolves a named board preset.
func (c *Config) Preset(name string) (domain.ReviewBoard, error) {
	spec, ok := c.Boards.Presets[name]
	if !ok {
		return nil, fmt.Errorf("board preset %s: %w", name, domain.ErrNotFound)
	}
	return spec.Board()
}

// ArchivePath is where closed applications are archived. Relative paths are
// resolved against the workspace.
func (c *Config) ArchivePath(workspace string) string {
	p := c.Governance.Archive.Path
	if p == "" {
		p = filepath.Join(".bountyline", "archive.db")
	}
	if filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bountyline.yml")
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
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
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

governance:
  collateralization_lower_bound: "0.2"
  expiry:
    application_review: 336h
    team_consent: 168h
    milestone_review: 336h
  archive:
    closed_after: 720h
  sweep_interval: 1m

boards:
  presets:
    council:
      kind: flat_petition
      flat:
        org: 1
        flat_share_id: 1
        approval_threshold: 2
    members.majority:
      kind: weighted_threshold
      weighted:
        org: 1
        weighted_share_id: 2
        vote_type: share_weighted
        threshold:
          kind: percentage
          approval: "0.5"
`
