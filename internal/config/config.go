// Package config loads aide configuration from a YAML file with an
// environment variable overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for aide.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	LLM      LLMConfig      `yaml:"llm"`
	Embed    EmbedConfig    `yaml:"embeddings"`
	Memory   MemoryConfig   `yaml:"memory"`
	Agent    AgentConfig    `yaml:"agent"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`

	// DataDir is the root for sessions, queue, and memory stores.
	DataDir string `yaml:"data_dir"`
}

// GatewayConfig configures the WebSocket JSON-RPC server.
type GatewayConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	AuthToken      string `yaml:"auth_token"`
	MaxConnections int    `yaml:"max_connections"`
	MaxTextChars   int    `yaml:"max_text_chars"`
}

// LLMConfig configures the LLM adapter.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // openai, anthropic
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EmbedConfig configures the embedding provider.
type EmbedConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// MemoryConfig configures the three-tier memory system.
type MemoryConfig struct {
	Dimension        int     `yaml:"dimension"`
	WorkingMaxTokens int     `yaml:"working_max_tokens"`
	RecallTopK       int     `yaml:"recall_top_k"`
	VectorWeight     float64 `yaml:"vector_weight"`
	KeywordWeight    float64 `yaml:"keyword_weight"`
	RIFWeight        float64 `yaml:"rif_weight"`
}

// AgentConfig configures the supervisor agent loop.
type AgentConfig struct {
	ID              string        `yaml:"id"`
	SystemPrompt    string        `yaml:"system_prompt"`
	MaxSteps        int           `yaml:"max_steps"`
	ToolTimeout     time.Duration `yaml:"tool_timeout"`
	ConfirmationTTL time.Duration `yaml:"confirmation_ttl"`
}

// DeliveryConfig configures the durable delivery queue.
type DeliveryConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
	MaxRetries   int           `yaml:"max_retries"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	ArchiveAfterDays int `yaml:"archive_after_days"`
	WorkingSetSize   int `yaml:"working_set_size"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration file at path (if non-empty and present),
// applies the environment overlay, then fills defaults. A missing file is not
// an error; missing DATA_DIR is fatal for the caller to decide.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")

	setString(&c.Embed.Provider, "EMBEDDING_PROVIDER")
	setString(&c.Embed.Model, "EMBEDDING_MODEL")
	setString(&c.Embed.APIKey, "EMBEDDING_API_KEY")
	setString(&c.Embed.BaseURL, "EMBEDDING_BASE_URL")

	setString(&c.Gateway.Host, "GATEWAY_HOST")
	setInt(&c.Gateway.Port, "GATEWAY_PORT")
	setString(&c.Gateway.AuthToken, "GATEWAY_AUTH_TOKEN")
	setInt(&c.Gateway.MaxConnections, "GATEWAY_MAX_CONNECTIONS")

	setString(&c.DataDir, "DATA_DIR")
}

func (c *Config) applyDefaults() {
	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 18789
	}
	if c.Gateway.MaxConnections == 0 {
		c.Gateway.MaxConnections = 1000
	}
	if c.Gateway.MaxTextChars == 0 {
		c.Gateway.MaxTextChars = 10000
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Embed.Provider == "" {
		c.Embed.Provider = "openai"
	}

	if c.Memory.Dimension == 0 {
		c.Memory.Dimension = 1536
	}
	if c.Memory.WorkingMaxTokens == 0 {
		c.Memory.WorkingMaxTokens = 8000
	}
	if c.Memory.RecallTopK == 0 {
		c.Memory.RecallTopK = 5
	}
	if c.Memory.VectorWeight == 0 && c.Memory.KeywordWeight == 0 && c.Memory.RIFWeight == 0 {
		c.Memory.VectorWeight = 0.5
		c.Memory.KeywordWeight = 0.2
		c.Memory.RIFWeight = 0.3
	}

	if c.Agent.ID == "" {
		c.Agent.ID = "main"
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 10
	}
	if c.Agent.ToolTimeout == 0 {
		c.Agent.ToolTimeout = 30 * time.Second
	}
	if c.Agent.ConfirmationTTL == 0 {
		c.Agent.ConfirmationTTL = 5 * time.Minute
	}

	if c.Delivery.ScanInterval == 0 {
		c.Delivery.ScanInterval = 5 * time.Second
	}
	if c.Delivery.MaxRetries == 0 {
		c.Delivery.MaxRetries = 5
	}

	if c.Sessions.ArchiveAfterDays == 0 {
		c.Sessions.ArchiveAfterDays = 30
	}
	if c.Sessions.WorkingSetSize == 0 {
		c.Sessions.WorkingSetSize = 50
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".aide")
		} else {
			c.DataDir = ".aide"
		}
	}
}

// SessionsDir returns DATA_DIR/sessions.
func (c *Config) SessionsDir() string { return filepath.Join(c.DataDir, "sessions") }

// QueueDir returns DATA_DIR/delivery-queue.
func (c *Config) QueueDir() string { return filepath.Join(c.DataDir, "delivery-queue") }

// MemoriesDir returns DATA_DIR/memories.
func (c *Config) MemoriesDir() string { return filepath.Join(c.DataDir, "memories") }

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
