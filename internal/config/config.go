package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"refurbline/internal/domain"
)

// Config models refurbline.yml.
type Config struct {
	Racks      []RackSeed `yaml:"racks"`
	SpareParts []PartSeed `yaml:"spare_parts"`
	Repair     struct {
		TATHours int `yaml:"tat_hours"`
	} `yaml:"repair"`
	Verification struct {
		ExtraTolerance    int `yaml:"extra_tolerance"`
		MinOverrideReason int `yaml:"min_override_reason"`
	} `yaml:"verification"`
	Notifications Notifications `yaml:"notifications"`
	Log           struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type RackSeed struct {
	Code     string           `yaml:"code"`
	Stage    domain.RackStage `yaml:"stage"`
	Capacity int              `yaml:"capacity"`
	Active   *bool            `yaml:"active"`
}

// IsActive defaults to true when the key is omitted.
func (r RackSeed) IsActive() bool {
	return r.Active == nil || *r.Active
}

type PartSeed struct {
	Code         string `yaml:"code"`
	Name         string `yaml:"name"`
	CurrentStock int    `yaml:"current_stock"`
	MinStock     int    `yaml:"min_stock"`
	MaxStock     int    `yaml:"max_stock"`
}

type Notifications struct {
	Transport string `yaml:"transport"`
	Redis     struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
		Group    string `yaml:"group"`
		Consumer string `yaml:"consumer"`
	} `yaml:"redis"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
		QoS         byte   `yaml:"qos"`
	} `yaml:"mqtt"`
	WebhookURL string `yaml:"webhook_url"`
}

const (
	TransportLog   = "log"
	TransportRedis = "redis"
	TransportMQTT  = "mqtt"
)

// TAT is the repair turnaround budget.
func (c *Config) TAT() time.Duration {
	return time.Duration(c.Repair.TATHours) * time.Hour
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Repair.TATHours <= 0 {
		return fmt.Errorf("config.repair.tat_hours must be positive")
	}
	if c.Verification.ExtraTolerance < 0 {
		return fmt.Errorf("config.verification.extra_tolerance must not be negative")
	}
	if c.Verification.MinOverrideReason < 1 {
		return fmt.Errorf("config.verification.min_override_reason must be at least 1")
	}
	seen := map[string]bool{}
	for i, r := range c.Racks {
		if r.Code == "" {
			return fmt.Errorf("config.racks[%d].code is required", i)
		}
		if seen[r.Code] {
			return fmt.Errorf("rack %s defined twice", r.Code)
		}
		seen[r.Code] = true
		if !r.Stage.Valid() {
			return fmt.Errorf("rack %s has unknown stage %q", r.Code, r.Stage)
		}
		if r.Capacity < 0 {
			return fmt.Errorf("rack %s capacity must not be negative", r.Code)
		}
	}
	parts := map[string]bool{}
	for i, p := range c.SpareParts {
		if p.Code == "" {
			return fmt.Errorf("config.spare_parts[%d].code is required", i)
		}
		if parts[p.Code] {
			return fmt.Errorf("spare part %s defined twice", p.Code)
		}
		parts[p.Code] = true
		if p.CurrentStock < 0 {
			return fmt.Errorf("spare part %s current_stock must not be negative", p.Code)
		}
	}
	switch c.Notifications.Transport {
	case "", TransportLog:
	case TransportRedis:
		if c.Notifications.Redis.Addr == "" || c.Notifications.Redis.Stream == "" {
			return fmt.Errorf("config.notifications.redis requires addr and stream")
		}
	case TransportMQTT:
		if c.Notifications.MQTT.Broker == "" {
			return fmt.Errorf("config.notifications.mqtt.broker is required")
		}
		if c.Notifications.MQTT.QoS > 2 {
			return fmt.Errorf("config.notifications.mqtt.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("config.notifications.transport must be log, redis or mqtt")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "refurbline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads the workspace config, falling back to the defaults when the
// file does not exist.
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `racks:
  - {code: RCV-01, stage: RECEIVED, capacity: 40}
  - {code: WFR-01, stage: WAITING_FOR_REPAIR, capacity: 30}
  - {code: WFR-02, stage: WAITING_FOR_REPAIR, capacity: 30}
  - {code: UR-01, stage: UNDER_REPAIR, capacity: 20}
  - {code: QC-01, stage: AWAITING_QC, capacity: 20}
  - {code: DSP-01, stage: READY_FOR_DISPATCH, capacity: 50}

spare_parts: []

repair:
  tat_hours: 72

verification:
  extra_tolerance: 0
  min_override_reason: 10

notifications:
  transport: log
  redis:
    addr: localhost:6379
    db: 0
    stream: refurbline:notifications
    group: refurbline-notifiers
    consumer: worker-1
  mqtt:
    broker: tcp://localhost:1883
    client_id: refurbline
    topic_prefix: refurbline
    qos: 1
  webhook_url: ""

log:
  level: info
  format: json
`
