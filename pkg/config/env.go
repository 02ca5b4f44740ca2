package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvUser        = "ATPROTO_USER"
	EnvPass        = "ATPROTO_PASS"
	EnvService     = "ATPROTO_SERVICE"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvOpenAIOrg   = "OPENAI_ORG"
	EnvOpenAIModel = "OPENAI_MODEL"
	EnvOpenAIBase  = "OPENAI_BASE_URL"
	EnvSchedule    = "KOANBOT_SCHEDULE"
	EnvLogLevel    = "KOANBOT_LOG_LEVEL"
	EnvMetricsAddr = "KOANBOT_METRICS_ADDR"
	EnvConfigPath  = "KOANBOT_CONFIG"
)

// LoadDotenv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides cfg with any non-empty environment variables.
func ApplyEnv(cfg *Config) {
	cfg.Bluesky.Identifier = envOr(cfg.Bluesky.Identifier, os.Getenv(EnvUser))
	if pass := os.Getenv(EnvPass); pass != "" {
		cfg.Bluesky.Password = pass
	}
	cfg.Bluesky.Service = envOr(cfg.Bluesky.Service, os.Getenv(EnvService))

	cfg.OpenAI.APIKey = envOr(cfg.OpenAI.APIKey, os.Getenv(EnvOpenAIKey))
	cfg.OpenAI.Organization = envOr(cfg.OpenAI.Organization, os.Getenv(EnvOpenAIOrg))
	cfg.OpenAI.Model = envOr(cfg.OpenAI.Model, os.Getenv(EnvOpenAIModel))
	cfg.OpenAI.BaseURL = envOr(cfg.OpenAI.BaseURL, os.Getenv(EnvOpenAIBase))

	cfg.Schedule.Spec = envOr(cfg.Schedule.Spec, os.Getenv(EnvSchedule))
	cfg.Log.Level = envOr(cfg.Log.Level, os.Getenv(EnvLogLevel))
	cfg.Metrics.Listen = envOr(cfg.Metrics.Listen, os.Getenv(EnvMetricsAddr))
}

func envOr(existing, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return existing
	}
	return value
}
