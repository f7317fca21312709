// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultLLMBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultLLMBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// Config holds all application configuration.
type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	GRPCHealthPort string `env:"GRPC_HEALTH_PORT"`
	FrontendURL    string `env:"FRONTEND_URL"`
	DBPath         string `env:"DB_PATH" envDefault:"./data/zera.db"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"4"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint   string `env:"OTEL_ENDPOINT"`

	Game GameConfig
	LLM  LLMConfig
	Chat ChatConfig
	SSE  SSEConfig
}

// GameConfig controls combat and indicator behavior.
type GameConfig struct {
	DamagePerHit     int           `env:"DAMAGE_PER_HIT" envDefault:"10"`
	FeedbackDuration time.Duration `env:"FEEDBACK_DURATION" envDefault:"2s"`
	AckDuration      time.Duration `env:"ACK_DURATION" envDefault:"1s"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	BaseURL        string        `env:"LLM_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai"`
	Model          string        `env:"LLM_MODEL" envDefault:"gemini-2.0-flash"`
	APIKey         string        `env:"GOOGLE_GEMINI_KEY"`
	MaxTokens      int           `env:"LLM_MAX_TOKENS" envDefault:"256"`
	MaxConcurrent  int64         `env:"LLM_MAX_CONCURRENT" envDefault:"8"`
	HTTPTimeout    time.Duration `env:"LLM_HTTP_TIMEOUT" envDefault:"0s"`
	TokenizerModel string        `env:"TOKENIZER_MODEL" envDefault:"gpt-4"`
}

// ChatConfig controls the public completion route.
type ChatConfig struct {
	RateLimit          int           `env:"CHAT_RATE_LIMIT" envDefault:"30"`
	RateWindow         time.Duration `env:"CHAT_RATE_WINDOW" envDefault:"1m"`
	MaxRequestBodySize int64         `env:"CHAT_MAX_BODY_BYTES" envDefault:"1048576"`
}

// SSEConfig controls the teacher console stream.
type SSEConfig struct {
	KeepaliveInterval time.Duration `env:"SSE_KEEPALIVE" envDefault:"10s"`
	RetryDelay        time.Duration `env:"SSE_RETRY_DELAY" envDefault:"5s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DBMaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be > 0")
	}
	if c.Game.DamagePerHit <= 0 {
		return fmt.Errorf("DAMAGE_PER_HIT must be > 0")
	}
	if c.Game.FeedbackDuration <= 0 {
		return fmt.Errorf("FEEDBACK_DURATION must be > 0")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL cannot be empty")
	}
	if c.LLM.MaxConcurrent <= 0 {
		return fmt.Errorf("LLM_MAX_CONCURRENT must be > 0")
	}
	if c.Chat.RateLimit <= 0 || c.Chat.RateWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT and CHAT_RATE_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LOG_LEVEL onto a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
