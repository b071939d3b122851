// Package config loads the service configuration from defaults, an
// optional TOML file, and QANAT_* environment variables, in that order.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Router    RouterConfig    `toml:"router"`
	Agent     AgentConfig     `toml:"agent"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Local     LocalConfig     `toml:"local_model"`
	Remote    RemoteConfig    `toml:"remote_model"`
	Vector    VectorConfig    `toml:"vector"`
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Observer  ObserverConfig  `toml:"observer"`
}

// RouterConfig drives model selection. Keyword lists left empty fall
// back to the built-in defaults at wiring time.
type RouterConfig struct {
	Strategy             string            `toml:"strategy"`
	PercentageRemote     int               `toml:"percentage_remote"`
	BusinessTypeMap      map[string]string `toml:"business_type_map"`
	ToolKeywords         []string          `toml:"tool_keywords"`
	ComplexKeywords      []string          `toml:"complex_keywords"`
	LongContextThreshold int               `toml:"long_context_threshold"`
}

type AgentConfig struct {
	ContextWindow    int    `toml:"context_window"`
	StepCap          int    `toml:"step_cap"`
	AllowedDirectory string `toml:"allowed_directory"`
}

type RetrievalConfig struct {
	MaxResults int     `toml:"max_results"`
	MinScore   float64 `toml:"min_score"`
}

type LocalConfig struct {
	BaseURL        string `toml:"base_url"`
	ChatModel      string `toml:"chat_model"`
	EmbeddingModel string `toml:"embedding_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type RemoteConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	// RPM and TPM cap remote calls per minute; zero disables the cap.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

type VectorConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	APIKey     string `toml:"api_key"`
	UseTLS     bool   `toml:"use_tls"`
	Collection string `toml:"collection"`
	VectorSize int    `toml:"vector_size"`
}

// DatabaseConfig selects the store backend. Driver is "sqlite" or
// "postgres"; Path serves sqlite, DSN serves postgres.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

// ObserverPricing is USD per million tokens for one model.
type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Timeout returns the local provider timeout as a duration.
func (c LocalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the remote provider timeout as a duration.
func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Router: RouterConfig{
			Strategy:             "PERCENTAGE",
			PercentageRemote:     30,
			LongContextThreshold: 200,
		},
		Agent: AgentConfig{
			ContextWindow:    10,
			StepCap:          8,
			AllowedDirectory: ".",
		},
		Retrieval: RetrievalConfig{MaxResults: 5, MinScore: 0.5},
		Local: LocalConfig{
			BaseURL:        "http://localhost:11434",
			ChatModel:      "qwen2.5:7b",
			EmbeddingModel: "qwen3-embedding:0.6b",
			TimeoutSeconds: 120,
		},
		Remote: RemoteConfig{
			BaseURL:        "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:          "qwen-plus",
			TimeoutSeconds: 60,
			Temperature:    0.7,
			MaxTokens:      2000,
		},
		Vector: VectorConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "knowledge-base",
			VectorSize: 1024,
		},
		Database: DatabaseConfig{Driver: "sqlite", Path: "qanat.db"},
		Server:   ServerConfig{Addr: ":8080"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "qanat.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("QANAT_REMOTE_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("QANAT_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("QANAT_REMOTE_MODEL"); v != "" {
		cfg.Remote.Model = v
	}
	if v := os.Getenv("QANAT_LOCAL_BASE_URL"); v != "" {
		cfg.Local.BaseURL = v
	}
	if v := os.Getenv("QANAT_VECTOR_HOST"); v != "" {
		cfg.Vector.Host = v
	}
	if v := os.Getenv("QANAT_VECTOR_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vector.Port = n
		}
	}
	if v := os.Getenv("QANAT_VECTOR_API_KEY"); v != "" {
		cfg.Vector.APIKey = v
	}
	if v := os.Getenv("QANAT_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("QANAT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("QANAT_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("QANAT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("QANAT_ALLOWED_DIRECTORY"); v != "" {
		cfg.Agent.AllowedDirectory = v
	}
	if os.Getenv("QANAT_OBSERVER_ENABLED") == "true" || os.Getenv("QANAT_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		cfg.Database.DSN = os.Getenv("DATABASE_URL")
	}
	if cfg.Remote.APIKey == "" {
		cfg.Remote.APIKey = os.Getenv("DASHSCOPE_API_KEY")
	}

	return cfg
}
