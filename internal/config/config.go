// Package config loads orcagent configuration from YAML with ORCAGENT_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when no path is given.
const DefaultPath = "orcagent.yaml"

const (
	EnvStoreDriver     = "ORCAGENT_STORE_DRIVER"
	EnvStoreDSN        = "ORCAGENT_STORE_DSN"
	EnvRedisAddr       = "ORCAGENT_STORE_REDIS_ADDR"
	EnvRedisPassword   = "ORCAGENT_STORE_REDIS_PASSWORD"
	EnvRedisDB         = "ORCAGENT_STORE_REDIS_DB"
	EnvModelProvider   = "ORCAGENT_MODEL_PROVIDER"
	EnvModelName       = "ORCAGENT_MODEL_NAME"
	EnvModelAPIKeyEnv  = "ORCAGENT_MODEL_API_KEY_ENV"
	EnvAutoApprove     = "ORCAGENT_WORKFLOW_AUTO_APPROVE"
	EnvOutputDir       = "ORCAGENT_WORKFLOW_OUTPUT_DIR"
	EnvWorkdir         = "ORCAGENT_WORKFLOW_WORKDIR"
	EnvPython          = "ORCAGENT_WORKFLOW_PYTHON"
	EnvLogLevel        = "ORCAGENT_LOG_LEVEL"
	EnvLogFormat       = "ORCAGENT_LOG_FORMAT"
	EnvMetricsAddr     = "ORCAGENT_METRICS_ADDR"
	EnvEngineMaxSteps  = "ORCAGENT_ENGINE_MAX_STEPS"
	EnvEngineNodeLimit = "ORCAGENT_ENGINE_NODE_TIMEOUT"
	EnvTraceEndpoint   = "ORCAGENT_TRACE_ENDPOINT"
)

// Config is the root configuration for orcagent.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Model    ModelConfig    `yaml:"model"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Engine   EngineConfig   `yaml:"engine"`
	Trace    TraceConfig    `yaml:"trace"`
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	TTL           string `yaml:"ttl"`
}

// TTLDuration returns TTL as a time.Duration. Zero means no expiry.
func (c *StoreConfig) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// ModelConfig selects the chat model provider.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey reads the provider key from the configured environment variable.
func (c *ModelConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// WorkflowConfig tunes the analysis pipeline.
type WorkflowConfig struct {
	AutoApprove  bool     `yaml:"auto_approve"`
	MaxRevisions int      `yaml:"max_revisions"`
	OutputDir    string   `yaml:"output_dir"`
	Workdir      string   `yaml:"workdir"`
	Python       string   `yaml:"python"`
	ExecTimeout  string   `yaml:"exec_timeout"`
	Formats      []string `yaml:"formats"`
}

// ExecTimeoutDuration returns ExecTimeout as a time.Duration.
func (c *WorkflowConfig) ExecTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ExecTimeout)
	return d
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TraceConfig enables OTLP/HTTP span export of run events. An empty
// endpoint disables tracing.
type TraceConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// EngineConfig holds execution limits.
type EngineConfig struct {
	MaxSteps    int    `yaml:"max_steps"`
	NodeTimeout string `yaml:"node_timeout"`
}

// NodeTimeoutDuration returns NodeTimeout as a time.Duration.
func (c *EngineConfig) NodeTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.NodeTimeout)
	return d
}

// Load reads the file at path (DefaultPath when empty) if it exists, then
// applies defaults, environment overrides and validation. A missing default
// file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

func (c *Config) loadDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = "orcagent.db"
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.Store.RedisPrefix == "" {
		c.Store.RedisPrefix = "orcgraph:"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Model.APIKeyEnv == "" {
		c.Model.APIKeyEnv = defaultKeyEnv(c.Model.Provider)
	}
	if c.Workflow.MaxRevisions == 0 {
		c.Workflow.MaxRevisions = 3
	}
	if c.Workflow.OutputDir == "" {
		c.Workflow.OutputDir = "output"
	}
	if c.Workflow.Workdir == "" {
		c.Workflow.Workdir = "img"
	}
	if c.Workflow.Python == "" {
		c.Workflow.Python = "python3"
	}
	if c.Workflow.ExecTimeout == "" {
		c.Workflow.ExecTimeout = "2m"
	}
	if len(c.Workflow.Formats) == 0 {
		c.Workflow.Formats = []string{"markdown"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Engine.MaxSteps == 0 {
		c.Engine.MaxSteps = 100
	}
}

func defaultKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	}
	return ""
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvStoreDriver); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv(EnvStoreDSN); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Store.RedisPassword = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.RedisDB = db
		}
	}
	if v := os.Getenv(EnvModelProvider); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv(EnvModelName); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv(EnvModelAPIKeyEnv); v != "" {
		c.Model.APIKeyEnv = v
	}
	if v := os.Getenv(EnvAutoApprove); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Workflow.AutoApprove = b
		}
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Workflow.OutputDir = v
	}
	if v := os.Getenv(EnvWorkdir); v != "" {
		c.Workflow.Workdir = v
	}
	if v := os.Getenv(EnvPython); v != "" {
		c.Workflow.Python = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv(EnvEngineMaxSteps); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxSteps = n
		}
	}
	if v := os.Getenv(EnvEngineNodeLimit); v != "" {
		c.Engine.NodeTimeout = v
	}
	if v := os.Getenv(EnvTraceEndpoint); v != "" {
		c.Trace.Endpoint = v
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "redis":
	case "mysql", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Model.Provider {
	case "anthropic", "openai", "google", "mock":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	for _, d := range []struct{ name, value string }{
		{"store.ttl", c.Store.TTL},
		{"workflow.exec_timeout", c.Workflow.ExecTimeout},
		{"engine.node_timeout", c.Engine.NodeTimeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	if c.Workflow.MaxRevisions < 1 {
		return fmt.Errorf("invalid workflow.max_revisions: %d", c.Workflow.MaxRevisions)
	}
	if c.Engine.MaxSteps < 1 {
		return fmt.Errorf("invalid engine.max_steps: %d", c.Engine.MaxSteps)
	}
	for i, f := range c.Workflow.Formats {
		f = strings.ToLower(f)
		switch f {
		case "markdown", "pdf", "html", "pptx":
			c.Workflow.Formats[i] = f
		default:
			return fmt.Errorf("unknown report format %q", f)
		}
	}
	return nil
}
