// Package config loads runtime settings from the environment.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config carries everything the service needs to start.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string

	// DatabaseURL is the PostgreSQL DSN for task records. Empty
	// selects the in-memory store.
	DatabaseURL string

	// RedisURL backs the workspace and, when BrokerURL is empty, the
	// command queue. Empty selects in-memory backends.
	RedisURL string

	// BrokerURL overrides the Redis instance used for the command
	// queue.
	BrokerURL string

	// CheckpointStore selects the checkpoint backend: "memory",
	// "redis", or a file path for the embedded sqlite store.
	CheckpointStore string

	// LLMProvider is one of "openai", "groq", "anthropic", "google",
	// or "mock".
	LLMProvider string
	LLMModel    string

	OpenAIAPIKey    string
	GroqAPIKey      string
	AnthropicAPIKey string
	GoogleAPIKey    string

	// ResearchTool selects "simulated" or "model".
	ResearchTool string

	// Workers is the dispatcher pool size.
	Workers int
}

// Load reads configuration from the environment with defaults suitable
// for local development.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("BROKER_URL", "")
	v.SetDefault("CHECKPOINT_STORE", "memory")
	v.SetDefault("LLM_PROVIDER", "mock")
	v.SetDefault("LLM_MODEL", "")
	v.SetDefault("RESEARCH_TOOL", "simulated")
	v.SetDefault("WORKERS", 4)

	cfg := Config{
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		RedisURL:        v.GetString("REDIS_URL"),
		BrokerURL:       v.GetString("BROKER_URL"),
		CheckpointStore: v.GetString("CHECKPOINT_STORE"),
		LLMProvider:     v.GetString("LLM_PROVIDER"),
		LLMModel:        v.GetString("LLM_MODEL"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		GroqAPIKey:      v.GetString("GROQ_API_KEY"),
		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		GoogleAPIKey:    v.GetString("GOOGLE_API_KEY"),
		ResearchTool:    v.GetString("RESEARCH_TOOL"),
		Workers:         v.GetInt("WORKERS"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLMProvider {
	case "openai", "groq", "anthropic", "google", "mock":
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.ResearchTool {
	case "simulated", "model":
	default:
		return fmt.Errorf("config: unknown RESEARCH_TOOL %q", c.ResearchTool)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: WORKERS must be positive, got %d", c.Workers)
	}
	return nil
}
