package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models quoteflow.yml.
type Config struct {
	Broker struct {
		ID      string `yaml:"id"`
		OwnerID string `yaml:"owner_id"`
	} `yaml:"broker"`
	Managers   []string `yaml:"managers"`
	Commission struct {
		// Pct distinguishes unset (nil, defaults to 10) from an explicit 0
		// for commission-free brokers.
		Pct *int `yaml:"pct"`
	} `yaml:"commission"`
	Submissions struct {
		CooldownSeconds int    `yaml:"cooldown_seconds"`
		HashSalt        string `yaml:"hash_salt"`
	} `yaml:"submissions"`
	Payout struct {
		SessionTTLMinutes int `yaml:"session_ttl_minutes"`
	} `yaml:"payout"`
	Categories map[string]Category `yaml:"categories"`
	Digest     struct {
		Weekday string `yaml:"weekday"`
		Hour    int    `yaml:"hour"`
	} `yaml:"digest"`
	// Notify points message deliveries at an external chat bridge. Empty
	// URL means deliveries go to the process log.
	Notify struct {
		URL    string `yaml:"url"`
		Secret string `yaml:"secret"`
	} `yaml:"notify"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Category struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Examples    []string `yaml:"examples"`
}

type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Broker.ID == "" {
		return fmt.Errorf("config.broker.id is required")
	}
	if c.Broker.OwnerID == "" {
		return fmt.Errorf("config.broker.owner_id is required")
	}
	if c.Commission.Pct != nil && (*c.Commission.Pct < 0 || *c.Commission.Pct > 100) {
		return fmt.Errorf("config.commission.pct must be within 0..100")
	}
	if c.Submissions.CooldownSeconds < 0 {
		return fmt.Errorf("config.submissions.cooldown_seconds must not be negative")
	}
	if c.Payout.SessionTTLMinutes < 0 {
		return fmt.Errorf("config.payout.session_ttl_minutes must not be negative")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("config.categories is required")
	}
	for id, cat := range c.Categories {
		if id == "" {
			return fmt.Errorf("config.categories contains empty category id")
		}
		if cat.Title == "" {
			return fmt.Errorf("category %s has no title", id)
		}
	}
	for _, m := range c.Managers {
		if m == "" {
			return fmt.Errorf("config.managers contains empty id")
		}
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	switch c.Digest.Weekday {
	case "", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday":
	default:
		return fmt.Errorf("config.digest.weekday %s is not a weekday name", c.Digest.Weekday)
	}
	if c.Digest.Hour < 0 || c.Digest.Hour > 23 {
		return fmt.Errorf("config.digest.hour must be within 0..23")
	}
	return nil
}

// CommissionPct returns the configured commission percentage. Unset means
// the default 10; an explicit 0 turns the commission off.
func (c *Config) CommissionPct() int {
	if c.Commission.Pct == nil {
		return 10
	}
	return *c.Commission.Pct
}

// IsOwner reports whether the actor is the privileged owner.
func (c *Config) IsOwner(actorID string) bool {
	return actorID != "" && actorID == c.Broker.OwnerID
}

// IsAdmin reports whether the actor belongs to the administrative tier.
func (c *Config) IsAdmin(actorID string) bool {
	if c.IsOwner(actorID) {
		return true
	}
	for _, m := range c.Managers {
		if m == actorID {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "quoteflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(brokerID string) string {
	return fmt.Sprintf(defaultTemplate, brokerID)
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

// Default returns the default Config struct for a broker.
func Default(brokerID string) *Config {
	var cfg Config
	cfg.Broker.ID = brokerID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, brokerID))).Decode(&cfg)
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

const defaultTemplate = `broker:
  id: %s
  owner_id: owner

managers: []

commission:
  pct: 10

submissions:
  cooldown_seconds: 30
  hash_salt: quoteflow

payout:
  session_ttl_minutes: 30

categories:
  web:
    title: "Web development"
    description: "Sites, landing pages, web apps"
    examples: ["online shop", "booking site"]
  bots:
    title: "Bots & automation"
    description: "Chat bots, scrapers, integrations"
    examples: ["order bot", "notifier"]
  mobile:
    title: "Mobile apps"
    description: "iOS / Android applications"
  design:
    title: "Design"
    description: "Logos, branding, UI mockups"
  other:
    title: "Other"
    description: "Anything that fits nowhere else"

digest:
  weekday: monday
  hour: 9

notify:
  url: ""
  secret: ""
`
