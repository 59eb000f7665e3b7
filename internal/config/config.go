package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Port        int    `envconfig:"PORT" default:"8090"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"WSD_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"WSD_DB_MAX_CONNS" default:"8"`

	ExaAPIKey    string `envconfig:"EXA_API_KEY" required:"true"`
	GoogleAPIKey string `envconfig:"GOOGLE_API_KEY"`

	EnableDedup         bool   `envconfig:"ENABLE_DEDUP" default:"true"`
	EnableURLResolution bool   `envconfig:"ENABLE_URL_RESOLUTION" default:"false"`
	VectorURL           string `envconfig:"VECTOR_URL" default:""`

	UpstreamBaseURL string `envconfig:"UPSTREAM_BASE_URL" default:"https://api.exa.ai"`
	LLMBaseURL      string `envconfig:"LLM_BASE_URL" default:"https://generativelanguage.googleapis.com"`

	LLMBatchSize    int `envconfig:"LLM_BATCH" default:"25"`
	LLMBatchLatMS   int `envconfig:"LLM_LAT_MS" default:"300"`
	PollIntervalSec int `envconfig:"POLL_INTERVAL_SECONDS" default:"3"`
	PollDeadlineMin int `envconfig:"POLL_DEADLINE_MINUTES" default:"50"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("WSD_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("WSD_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("WSD_DB_MIN_CONNS (%d) cannot exceed WSD_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.ExaAPIKey) == "" {
		return fmt.Errorf("EXA_API_KEY is required")
	}
	if c.EnableDedup && strings.TrimSpace(c.GoogleAPIKey) == "" {
		return fmt.Errorf("GOOGLE_API_KEY is required when ENABLE_DEDUP is true")
	}
	if c.LLMBatchSize < 1 {
		return fmt.Errorf("LLM_BATCH must be >= 1")
	}
	if c.LLMBatchLatMS < 1 {
		return fmt.Errorf("LLM_LAT_MS must be >= 1")
	}
	if c.PollIntervalSec < 1 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be >= 1")
	}
	if c.PollDeadlineMin < 1 {
		return fmt.Errorf("POLL_DEADLINE_MINUTES must be >= 1")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
