package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskgate.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Scoring  Scoring  `yaml:"scoring"`
	Capacity Capacity `yaml:"capacity"`
}

// Scoring drives the performance engine.
type Scoring struct {
	RewardPoints   float64 `yaml:"reward_points"`
	PenaltyPoints  float64 `yaml:"penalty_points"`
	RewardStreak   int     `yaml:"reward_streak"`
	MinPerformance float64 `yaml:"min_performance"`
}

// Capacity drives the admission cap and workload recomputation.
type Capacity struct {
	MaxActiveItems int `yaml:"max_active_items"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tg config import --file <path>", path)
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
	if c.Project.Kind != "delivery-board" {
		return fmt.Errorf("config.project.kind must be 'delivery-board'")
	}
	if c.Scoring.RewardPoints <= 0 {
		return fmt.Errorf("config.scoring.reward_points must be positive")
	}
	if c.Scoring.PenaltyPoints <= 0 {
		return fmt.Errorf("config.scoring.penalty_points must be positive")
	}
	if c.Scoring.RewardStreak < 1 {
		return fmt.Errorf("config.scoring.reward_streak must be at least 1")
	}
	if c.Scoring.MinPerformance < 0 || c.Scoring.MinPerformance > 100 {
		return fmt.Errorf("config.scoring.min_performance must be within [0,100]")
	}
	if c.Capacity.MaxActiveItems < 1 {
		return fmt.Errorf("config.capacity.max_active_items must be at least 1")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskgate.yml")
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
	cfg.Project.Kind = "delivery-board"
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
  kind: delivery-board

scoring:
  reward_points: 5
  penalty_points: 5
  reward_streak: 2
  min_performance: 40

capacity:
  max_active_items: 10
`
