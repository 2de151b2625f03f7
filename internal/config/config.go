package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskwarden.yml.
type Config struct {
	Intervals struct {
		ObserverSeconds   int `yaml:"observer_seconds" json:"observer_seconds"`
		CompactionSeconds int `yaml:"compaction_seconds" json:"compaction_seconds"`
		ManagerMinSeconds int `yaml:"manager_min_seconds" json:"manager_min_seconds"`
		ManagerMaxSeconds int `yaml:"manager_max_seconds" json:"manager_max_seconds"`
	} `yaml:"intervals" json:"intervals"`
	Context struct {
		ObservationWindowMinutes int `yaml:"observation_window_minutes" json:"observation_window_minutes"`
		MaxObservations          int `yaml:"max_observations" json:"max_observations"`
		CompactionWindowMinutes  int `yaml:"compaction_window_minutes" json:"compaction_window_minutes"`
	} `yaml:"context" json:"context"`
	Enforcement struct {
		// Penalty amounts indexed by strike tier 1..3, strictly increasing.
		Penalties []float64 `yaml:"penalties" json:"penalties"`
	} `yaml:"enforcement" json:"enforcement"`
	Account struct {
		InitialBalance float64 `yaml:"initial_balance" json:"initial_balance"`
		Currency       string  `yaml:"currency" json:"currency"`
	} `yaml:"account" json:"account"`
	Rewards struct {
		BaseItem string `yaml:"base_item" json:"base_item"`
		MidItem  string `yaml:"mid_item" json:"mid_item"`
		TopItem  string `yaml:"top_item" json:"top_item"`
	} `yaml:"rewards" json:"rewards"`
	Oracle struct {
		BaseURL        string `yaml:"base_url" json:"base_url"`
		Model          string `yaml:"model" json:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	} `yaml:"oracle" json:"oracle"`
	Narration struct {
		Enabled bool   `yaml:"enabled" json:"enabled"`
		URL     string `yaml:"url" json:"url"`
		Secret  string `yaml:"secret" json:"secret"`
	} `yaml:"narration" json:"narration"`
}

// Load reads and validates config from the workspace, falling back to the
// embedded defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Intervals.CompactionSeconds <= 0 {
		return fmt.Errorf("config.intervals.compaction_seconds must be positive")
	}
	if c.Intervals.ManagerMinSeconds <= 0 || c.Intervals.ManagerMaxSeconds <= 0 {
		return fmt.Errorf("config.intervals.manager_min_seconds and manager_max_seconds must be positive")
	}
	if c.Intervals.ManagerMinSeconds > c.Intervals.ManagerMaxSeconds {
		return fmt.Errorf("config.intervals.manager_min_seconds exceeds manager_max_seconds")
	}
	if c.Context.ObservationWindowMinutes <= 0 {
		return fmt.Errorf("config.context.observation_window_minutes must be positive")
	}
	if c.Context.MaxObservations <= 0 {
		return fmt.Errorf("config.context.max_observations must be positive")
	}
	if c.Context.CompactionWindowMinutes <= 0 {
		return fmt.Errorf("config.context.compaction_window_minutes must be positive")
	}
	if len(c.Enforcement.Penalties) != 3 {
		return fmt.Errorf("config.enforcement.penalties must list exactly 3 tiers")
	}
	prev := 0.0
	for i, amount := range c.Enforcement.Penalties {
		if amount <= prev {
			return fmt.Errorf("config.enforcement.penalties must be strictly increasing (tier %d)", i+1)
		}
		prev = amount
	}
	if c.Account.InitialBalance < 0 {
		return fmt.Errorf("config.account.initial_balance must not be negative")
	}
	if c.Account.Currency == "" {
		return fmt.Errorf("config.account.currency is required")
	}
	if c.Rewards.BaseItem == "" || c.Rewards.MidItem == "" || c.Rewards.TopItem == "" {
		return fmt.Errorf("config.rewards items are required")
	}
	if c.Oracle.BaseURL == "" {
		return fmt.Errorf("config.oracle.base_url is required")
	}
	if c.Oracle.Model == "" {
		return fmt.Errorf("config.oracle.model is required")
	}
	return nil
}

// PenaltyFor returns the configured amount for a strike tier, clamping the
// tier into [1,3].
func (c *Config) PenaltyFor(strike int) float64 {
	if strike < 1 {
		strike = 1
	}
	if strike > 3 {
		strike = 3
	}
	return c.Enforcement.Penalties[strike-1]
}

// ObservationWindow returns the manager context window.
func (c *Config) ObservationWindow() time.Duration {
	return time.Duration(c.Context.ObservationWindowMinutes) * time.Minute
}

// CompactionWindow returns the trailing window folded by each compaction run.
func (c *Config) CompactionWindow() time.Duration {
	return time.Duration(c.Context.CompactionWindowMinutes) * time.Minute
}

// OracleTimeout returns the oracle call timeout.
func (c *Config) OracleTimeout() time.Duration {
	if c.Oracle.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskwarden.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `intervals:
  observer_seconds: 2
  compaction_seconds: 180
  manager_min_seconds: 45
  manager_max_seconds: 120

context:
  observation_window_minutes: 5
  max_observations: 10
  compaction_window_minutes: 30

enforcement:
  penalties: [10.0, 25.0, 50.0]

account:
  initial_balance: 500.0
  currency: focus-credits

rewards:
  base_item: sticker pack
  mid_item: coffee voucher
  top_item: premium treat

oracle:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  timeout_seconds: 60

narration:
  enabled: false
  url: ""
  secret: ""
`
