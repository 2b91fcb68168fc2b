// Package config defines the pawl configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/pawl/agent"
	"github.com/GoCodeAlone/pawl/memory"
	"github.com/GoCodeAlone/pawl/provider"
)

// Config is the top-level pawl configuration.
type Config struct {
	Objective string          `json:"objective" yaml:"objective" toml:"objective"`
	FirstTask string          `json:"first_task" yaml:"first_task" toml:"first_task"`
	Loop      LoopConfig      `json:"loop" yaml:"loop" toml:"loop"`
	Provider  ProviderConfig  `json:"provider" yaml:"provider" toml:"provider"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" toml:"embedding"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory" toml:"memory"`
	Agents    AgentsConfig    `json:"agents" yaml:"agents" toml:"agents"`
	Journal   JournalConfig   `json:"journal" yaml:"journal" toml:"journal"`
	Events    EventsConfig    `json:"events" yaml:"events" toml:"events"`
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Auth      AuthConfig      `json:"auth" yaml:"auth" toml:"auth"`
	Log       LogConfig       `json:"log" yaml:"log" toml:"log"`
}

// LoopConfig bounds the task loop.
type LoopConfig struct {
	Iterations int           `json:"iterations" yaml:"iterations" toml:"iterations"`
	Delay      time.Duration `json:"delay" yaml:"delay" toml:"delay"`
	IdlePolls  int           `json:"idle_polls" yaml:"idle_polls" toml:"idle_polls"` // 0 waits until cancelled
	ContextK   int           `json:"context_k" yaml:"context_k" toml:"context_k"`
}

// ProviderConfig selects the text-generation backend.
type ProviderConfig struct {
	Type    string `json:"type" yaml:"type" toml:"type"` // "openai", "anthropic", "mock"
	APIKey  string `json:"-" yaml:"api_key" toml:"api_key"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url" toml:"base_url"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Type      string `json:"type" yaml:"type" toml:"type"` // "openai", "mock"
	APIKey    string `json:"-" yaml:"api_key" toml:"api_key"`
	Model     string `json:"model" yaml:"model" toml:"model"`
	Dimension int    `json:"dimension" yaml:"dimension" toml:"dimension"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url" toml:"base_url"`
}

// MemoryConfig selects the vector index.
type MemoryConfig struct {
	Backend   string         `json:"backend" yaml:"backend" toml:"backend"` // "sqlite", "pinecone", "memory"
	Namespace string         `json:"namespace" yaml:"namespace" toml:"namespace"`
	Metric    string         `json:"metric" yaml:"metric" toml:"metric"`
	Path      string         `json:"path" yaml:"path" toml:"path"` // sqlite database file
	Pinecone  PineconeConfig `json:"pinecone" yaml:"pinecone" toml:"pinecone"`
}

// PineconeConfig locates an existing Pinecone index.
type PineconeConfig struct {
	Host   string `json:"host" yaml:"host" toml:"host"`
	APIKey string `json:"-" yaml:"api_key" toml:"api_key"`
}

// AgentsConfig holds per-agent sampling parameters.
type AgentsConfig struct {
	Execution      provider.Params `json:"execution" yaml:"execution" toml:"execution"`
	Creation       provider.Params `json:"creation" yaml:"creation" toml:"creation"`
	Prioritization provider.Params `json:"prioritization" yaml:"prioritization" toml:"prioritization"`
}

// JournalConfig locates the run journal. An empty path disables it.
type JournalConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"`
}

// EventsConfig enables publishing loop events on NATS.
type EventsConfig struct {
	NATSURL string `json:"nats_url" yaml:"nats_url" toml:"nats_url"`
	Subject string `json:"subject" yaml:"subject" toml:"subject"`
}

// ServerConfig controls the monitoring HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"` // listen address, e.g., ":9090"; empty disables
}

// AuthConfig controls monitoring API authentication.
type AuthConfig struct {
	JWTSecret string `json:"-" yaml:"jwt_secret" toml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user" toml:"admin_user"`
	AdminPass string `json:"-" yaml:"admin_pass" toml:"admin_pass"` // bcrypt hash
}

// LogConfig controls logging.
type LogConfig struct {
	Level    string `json:"level" yaml:"level" toml:"level"`
	Format   string `json:"format" yaml:"format" toml:"format"` // "text" or "json"
	File     string `json:"file,omitempty" yaml:"file" toml:"file"`
	Journald bool   `json:"journald,omitempty" yaml:"journald" toml:"journald"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Objective: "solve the homeless problem in a random US city",
		FirstTask: "Develop a task list.",
		Loop: LoopConfig{
			Iterations: 10,
			Delay:      time.Second,
			IdlePolls:  5,
			ContextK:   agent.DefaultContextK,
		},
		Provider: ProviderConfig{
			Type:  "openai",
			Model: "gpt-4o",
		},
		Embedding: EmbeddingConfig{
			Type:      "openai",
			Model:     "text-embedding-ada-002",
			Dimension: 1536,
		},
		Memory: MemoryConfig{
			Backend:   "sqlite",
			Namespace: "your-table",
			Metric:    string(memory.MetricCosine),
			Path:      "./data/memory.db",
		},
		Agents: AgentsConfig{
			Execution:      agent.DefaultExecutionParams(),
			Creation:       agent.DefaultCreationParams(),
			Prioritization: agent.DefaultPrioritizationParams(),
		},
		Journal: JournalConfig{Path: "./data/journal.db"},
		Events:  EventsConfig{Subject: "pawl.events"},
		Auth:    AuthConfig{AdminUser: "admin"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML or TOML config file, chosen by extension, over the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from the given files (".env" when
// none are given). Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv fills empty API keys from the provider environment variables and
// applies the PAWL_* overrides.
func (c *Config) ApplyEnv() {
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv(apiKeyEnv(c.Provider.Type))
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv(apiKeyEnv(c.Embedding.Type))
	}
	if c.Memory.Pinecone.APIKey == "" {
		c.Memory.Pinecone.APIKey = os.Getenv("PINECONE_API_KEY")
	}
	if c.Memory.Pinecone.Host == "" {
		c.Memory.Pinecone.Host = os.Getenv("PINECONE_HOST")
	}
	if v := os.Getenv("PAWL_OBJECTIVE"); v != "" {
		c.Objective = v
	}
	if v := os.Getenv("PAWL_FIRST_TASK"); v != "" {
		c.FirstTask = v
	}
}

func apiKeyEnv(providerType string) string {
	switch providerType {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Objective) == "" {
		add("objective is required")
	}
	if strings.TrimSpace(c.FirstTask) == "" {
		add("first_task is required")
	}
	if c.Loop.Iterations <= 0 {
		add("loop.iterations must be positive, got %d", c.Loop.Iterations)
	}
	if c.Loop.Delay < 0 {
		add("loop.delay must not be negative")
	}
	if c.Loop.IdlePolls < 0 {
		add("loop.idle_polls must not be negative")
	}
	if c.Loop.ContextK < 0 {
		add("loop.context_k must not be negative")
	}

	switch c.Provider.Type {
	case "openai", "anthropic":
		if c.Provider.APIKey == "" {
			add("provider.api_key is required for %s (or set %s)", c.Provider.Type, apiKeyEnv(c.Provider.Type))
		}
	case "mock":
	default:
		add("unknown provider.type %q", c.Provider.Type)
	}

	switch c.Embedding.Type {
	case "openai":
		if c.Embedding.APIKey == "" {
			add("embedding.api_key is required for openai (or set OPENAI_API_KEY)")
		}
	case "mock":
	default:
		add("unknown embedding.type %q", c.Embedding.Type)
	}
	if c.Embedding.Dimension <= 0 {
		add("embedding.dimension must be positive")
	}

	switch c.Memory.Backend {
	case "sqlite":
		if c.Memory.Path == "" {
			add("memory.path is required for the sqlite backend")
		}
	case "pinecone":
		if c.Memory.Pinecone.Host == "" {
			add("memory.pinecone.host is required for the pinecone backend")
		}
	case "memory":
	default:
		add("unknown memory.backend %q", c.Memory.Backend)
	}
	if _, err := memory.ParseMetric(c.Memory.Metric); err != nil {
		add("memory.metric: %w", err)
	}

	if c.Server.Addr != "" {
		if c.Auth.JWTSecret == "" {
			add("auth.jwt_secret is required when server.addr is set")
		}
		if c.Auth.AdminPass == "" {
			add("auth.admin_pass (bcrypt hash) is required when server.addr is set")
		}
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		add("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}
