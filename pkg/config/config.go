// Package config loads koanbot settings from YAML or JSON5 files, a .env
// file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/koanbot/koanbot/pkg/schedule"
)

const (
	DefaultService           = "https://bsky.social"
	DefaultModel             = "gpt-3.5-turbo"
	DefaultNotificationLimit = 50
	DefaultRequestTimeout    = 30
	DefaultMaxLength         = 300
	DefaultMaxAttempts       = 5
	DefaultPersona           = "a wise zen master"
	DefaultForm              = "zen koan"
	DefaultPromptChars       = 275
	DefaultLinkCardTimeout   = 10
	DefaultLogLevel          = "info"
)

// Config is the full bot configuration.
type Config struct {
	Bluesky    BlueskyConfig    `yaml:"bluesky" json:"bluesky"`
	OpenAI     OpenAIConfig     `yaml:"openai" json:"openai"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Reply      ReplyConfig      `yaml:"reply" json:"reply"`
	Schedule   ScheduleConfig   `yaml:"schedule" json:"schedule"`
	Log        LogConfig        `yaml:"log" json:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
}

type BlueskyConfig struct {
	Service           string   `yaml:"service" json:"service"`
	Identifier        string   `yaml:"identifier" json:"identifier"`
	Password          string   `yaml:"password" json:"password"`
	NotificationLimit int      `yaml:"notification_limit" json:"notification_limit"`
	LikeMentions      bool     `yaml:"like_mentions" json:"like_mentions"`
	Langs             []string `yaml:"langs" json:"langs"`
}

type OpenAIConfig struct {
	APIKey            string  `yaml:"api_key" json:"api_key"`
	Organization      string  `yaml:"organization" json:"organization"`
	BaseURL           string  `yaml:"base_url" json:"base_url"`
	Model             string  `yaml:"model" json:"model"`
	RequestTimeoutSec int     `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

type GenerationConfig struct {
	MaxLength   int    `yaml:"max_length" json:"max_length"`
	MaxAttempts int    `yaml:"max_attempts" json:"max_attempts"`
	Persona     string `yaml:"persona" json:"persona"`
	Form        string `yaml:"form" json:"form"`
	PromptChars int    `yaml:"prompt_chars" json:"prompt_chars"`
}

type ReplyConfig struct {
	// Facets defaults to true when unset.
	Facets             *bool `yaml:"facets" json:"facets"`
	LinkCards          bool  `yaml:"link_cards" json:"link_cards"`
	LinkCardTimeoutSec int   `yaml:"link_card_timeout_seconds" json:"link_card_timeout_seconds"`
}

// FacetsEnabled reports whether replies carry rich text facets.
func (r ReplyConfig) FacetsEnabled() bool {
	return r.Facets == nil || *r.Facets
}

type ScheduleConfig struct {
	Spec string `yaml:"spec" json:"spec"`
	// MaxConcurrent caps parallel mention handlers per cycle; 0 is unlimited.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

type MetricsConfig struct {
	// Listen is the address for the Prometheus endpoint. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`
}

// WithDefaults fills unset fields. Negative values are left for Validate.
func (c *Config) WithDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	if strings.TrimSpace(c.Bluesky.Service) == "" {
		c.Bluesky.Service = DefaultService
	}
	if c.Bluesky.NotificationLimit == 0 {
		c.Bluesky.NotificationLimit = DefaultNotificationLimit
	}
	if strings.TrimSpace(c.OpenAI.Model) == "" {
		c.OpenAI.Model = DefaultModel
	}
	if c.OpenAI.RequestTimeoutSec == 0 {
		c.OpenAI.RequestTimeoutSec = DefaultRequestTimeout
	}
	if c.Generation.MaxLength == 0 {
		c.Generation.MaxLength = DefaultMaxLength
	}
	if c.Generation.MaxAttempts == 0 {
		c.Generation.MaxAttempts = DefaultMaxAttempts
	}
	if strings.TrimSpace(c.Generation.Persona) == "" {
		c.Generation.Persona = DefaultPersona
	}
	if strings.TrimSpace(c.Generation.Form) == "" {
		c.Generation.Form = DefaultForm
	}
	if c.Generation.PromptChars == 0 {
		c.Generation.PromptChars = DefaultPromptChars
	}
	if c.Reply.LinkCardTimeoutSec == 0 {
		c.Reply.LinkCardTimeoutSec = DefaultLinkCardTimeout
	}
	if strings.TrimSpace(c.Schedule.Spec) == "" {
		c.Schedule.Spec = schedule.DefaultSpec
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = DefaultLogLevel
	}
	return c
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Bluesky.Identifier) == "" {
		errs = append(errs, errors.New("bluesky.identifier (ATPROTO_USER) is required"))
	}
	if c.Bluesky.Password == "" {
		errs = append(errs, errors.New("bluesky.password (ATPROTO_PASS) is required"))
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		errs = append(errs, errors.New("openai.api_key (OPENAI_API_KEY) is required"))
	}
	if c.Bluesky.NotificationLimit < 1 || c.Bluesky.NotificationLimit > 100 {
		errs = append(errs, fmt.Errorf("bluesky.notification_limit must be between 1 and 100, got %d", c.Bluesky.NotificationLimit))
	}
	if c.OpenAI.RequestTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("openai.request_timeout_seconds must not be negative, got %d", c.OpenAI.RequestTimeoutSec))
	}
	if c.OpenAI.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("openai.requests_per_second must not be negative, got %v", c.OpenAI.RequestsPerSecond))
	}
	if c.Generation.MaxLength < 1 {
		errs = append(errs, fmt.Errorf("generation.max_length must be positive, got %d", c.Generation.MaxLength))
	}
	if c.Generation.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("generation.max_attempts must be positive, got %d", c.Generation.MaxAttempts))
	}
	if c.Generation.PromptChars < 1 || c.Generation.PromptChars > c.Generation.MaxLength {
		errs = append(errs, fmt.Errorf("generation.prompt_chars must be between 1 and max_length (%d), got %d", c.Generation.MaxLength, c.Generation.PromptChars))
	}
	if c.Reply.LinkCardTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("reply.link_card_timeout_seconds must not be negative, got %d", c.Reply.LinkCardTimeoutSec))
	}
	if _, err := schedule.ParseSpec(c.Schedule.Spec); err != nil {
		errs = append(errs, fmt.Errorf("schedule.spec: %w", err))
	}
	if c.Schedule.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("schedule.max_concurrent must not be negative, got %d", c.Schedule.MaxConcurrent))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Load reads path (if it exists), applies environment overrides and
// defaults. It does not validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
		}
	}
	ApplyEnv(cfg)
	return cfg.WithDefaults(), nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}
