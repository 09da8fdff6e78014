// Package config holds the agentd process configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agentd configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Completion provider settings
	Provider ProviderConfig `json:"provider" yaml:"provider"`

	// Agent loop settings
	Agent AgentConfig `json:"agent" yaml:"agent"`

	// Tool settings
	Tools ToolsConfig `json:"tools" yaml:"tools"`

	// Run retention settings
	Retention RetentionConfig `json:"retention" yaml:"retention"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

// ProviderConfig selects and configures the completion service.
type ProviderConfig struct {
	Type      string `json:"type" yaml:"type"` // "anthropic", "openai", "ollama"
	APIKey    string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Model     string `json:"model" yaml:"model"`
	MaxTokens int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

type AgentConfig struct {
	SystemPrompt string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	MaxSteps     int    `json:"maxSteps" yaml:"maxSteps"`
	ToolTimeoutS int    `json:"toolTimeoutSeconds" yaml:"toolTimeoutSeconds"`
}

type ToolsConfig struct {
	// ManifestPath points to an optional TOML file with per-tool
	// overrides (description, initial enabled state).
	ManifestPath string `json:"manifestPath,omitempty" yaml:"manifestPath,omitempty"`

	// FileRoot scopes the file access tools. Default: data dir.
	FileRoot string `json:"fileRoot,omitempty" yaml:"fileRoot,omitempty"`

	// SearchBaseURL overrides the web search endpoint (tests, proxies).
	SearchBaseURL string `json:"searchBaseUrl,omitempty" yaml:"searchBaseUrl,omitempty"`
}

type RetentionConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Schedule is a cron expression; default prunes nightly.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	MaxAge   int    `json:"maxAgeDays,omitempty" yaml:"maxAgeDays,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			DataDir:  "data",
			LogLevel: "info",
		},
		Provider: ProviderConfig{
			Type:      "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Agent: AgentConfig{
			MaxSteps:     10,
			ToolTimeoutS: 30,
		},
		Retention: RetentionConfig{
			Enabled:  false,
			Schedule: "0 3 * * *",
			MaxAge:   30,
		},
	}
}

// Load reads a JSON or YAML config file (by extension) on top of the
// defaults and ensures the data directory exists.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("unknown provider type %q", c.Provider.Type)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent maxSteps must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// ToolTimeout returns the tool execution timeout as a duration.
func (a AgentConfig) ToolTimeout() time.Duration {
	return time.Duration(a.ToolTimeoutS) * time.Second
}

// DBPath returns the SQLite database location inside the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.Server.DataDir, "agentd.db")
}
