// Package config loads solvegraph's TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the complete application configuration.
type Config struct {
	Model     ModelConfig     `toml:"model"`
	Store     StoreConfig     `toml:"store"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Verify    VerifyConfig    `toml:"verify"`
	Loop      LoopConfig      `toml:"loop"`
	Log       LogConfig       `toml:"log"`
	Trace     TraceConfig     `toml:"trace"`
	Server    ServerConfig    `toml:"server"`
}

// ModelConfig selects the chat model backing generation.
type ModelConfig struct {
	Provider           string `toml:"provider"` // anthropic, openai, google
	Name               string `toml:"name"`
	BaseURL            string `toml:"base_url"`    // OpenAI-compatible endpoints only
	APIKeyEnv          string `toml:"api_key_env"` // overrides the provider's default variable
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	MaxRetries         int    `toml:"max_retries"`
	RetryDelayMS       int    `toml:"retry_delay_ms"`
}

// RetryDelay returns the base retry delay.
func (m ModelConfig) RetryDelay() time.Duration {
	return time.Duration(m.RetryDelayMS) * time.Millisecond
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	Backend   string `toml:"backend"` // memory, sqlite, mysql, postgres, redis
	Path      string `toml:"path"`    // sqlite
	DSN       string `toml:"dsn"`     // mysql, postgres
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
	KeyPrefix string `toml:"key_prefix"`

	// DistributedLock serializes threads across processes through Redis.
	DistributedLock bool `toml:"distributed_lock"`
	LockTTLSeconds  int  `toml:"lock_ttl_seconds"`
}

// LockTTL returns the distributed lock lease.
func (s StoreConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

// RetrievalConfig locates the example corpus.
type RetrievalConfig struct {
	Corpus string `toml:"corpus"`
	K      int    `toml:"k"`
}

// VerifyConfig selects the judge.
type VerifyConfig struct {
	Judge       string `toml:"judge"` // subprocess, http
	Interpreter string `toml:"interpreter"`
	URL         string `toml:"url"`
	TokenEnv    string `toml:"token_env"`
	Parallelism int    `toml:"parallelism"`
}

// LoopConfig sets the retry policy.
type LoopConfig struct {
	Policy   string `toml:"policy"` // interactive, unattended
	Budget   int    `toml:"budget"`
	MaxSteps int    `toml:"max_steps"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level   string `toml:"level"`
	JSON    bool   `toml:"json"`
	NoColor bool   `toml:"no_color"`
}

// TraceConfig selects where engine spans are exported.
type TraceConfig struct {
	Exporter string `toml:"exporter"` // none, stdout
	Path     string `toml:"path"`     // stdout exporter target; empty writes to stderr
}

// ServerConfig configures the inspection API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path, applies defaults and validates. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 3
	}
	if cfg.Model.RetryDelayMS == 0 {
		cfg.Model.RetryDelayMS = 1000
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = "solvegraph.db"
	}
	if cfg.Store.Backend == "redis" && cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = "localhost:6379"
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = "solvegraph:"
	}
	if cfg.Store.LockTTLSeconds == 0 {
		cfg.Store.LockTTLSeconds = 300
	}

	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 2
	}

	if cfg.Verify.Judge == "" {
		cfg.Verify.Judge = "subprocess"
	}
	if cfg.Verify.Interpreter == "" {
		cfg.Verify.Interpreter = "python3"
	}
	if cfg.Verify.Parallelism == 0 {
		cfg.Verify.Parallelism = 1
	}

	if cfg.Loop.Policy == "" {
		cfg.Loop.Policy = "interactive"
	}
	if cfg.Loop.MaxSteps == 0 {
		cfg.Loop.MaxSteps = 100
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Trace.Exporter == "" {
		cfg.Trace.Exporter = "none"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai", "google":
	default:
		return fmt.Errorf("model.provider must be anthropic, openai or google, got %q", c.Model.Provider)
	}
	if c.Model.BaseURL != "" && c.Model.Provider != "openai" {
		return fmt.Errorf("model.base_url is only supported for the openai provider")
	}
	if c.Model.RateLimitPerMinute < 0 {
		return fmt.Errorf("model.rate_limit_per_minute must be >= 0")
	}
	if c.Model.MaxRetries < 0 || c.Model.RetryDelayMS < 0 {
		return fmt.Errorf("model retry settings must be >= 0")
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "mysql", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for %s", c.Store.Backend)
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for redis")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.DistributedLock && c.Store.RedisAddr == "" {
		return fmt.Errorf("store.distributed_lock requires store.redis_addr")
	}
	if c.Store.LockTTLSeconds < 0 {
		return fmt.Errorf("store.lock_ttl_seconds must be >= 0")
	}

	if c.Retrieval.K < 1 {
		return fmt.Errorf("retrieval.k must be >= 1, got %d", c.Retrieval.K)
	}

	switch c.Verify.Judge {
	case "subprocess":
	case "http":
		if c.Verify.URL == "" {
			return fmt.Errorf("verify.url is required for the http judge")
		}
	default:
		return fmt.Errorf("unknown verify.judge %q", c.Verify.Judge)
	}
	if c.Verify.Parallelism < 1 {
		return fmt.Errorf("verify.parallelism must be >= 1")
	}

	switch c.Loop.Policy {
	case "interactive", "unattended":
	default:
		return fmt.Errorf("unknown loop.policy %q", c.Loop.Policy)
	}
	if c.Loop.Budget < 0 {
		return fmt.Errorf("loop.budget must be >= 0")
	}
	if c.Loop.MaxSteps < 1 {
		return fmt.Errorf("loop.max_steps must be >= 1")
	}

	switch c.Trace.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unknown trace.exporter %q", c.Trace.Exporter)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	return nil
}

// defaultKeyEnv maps providers to their conventional key variables.
var defaultKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

// APIKey returns the model API key from the environment. Keys are never
// read from the config file.
func (c *Config) APIKey() (string, error) {
	name := c.Model.APIKeyEnv
	if name == "" {
		name = defaultKeyEnv[c.Model.Provider]
	}
	key := os.Getenv(name)
	if key == "" {
		return "", fmt.Errorf("%s is not set", name)
	}
	return key, nil
}

// JudgeToken returns the HTTP judge token, if configured.
func (c *Config) JudgeToken() string {
	if c.Verify.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Verify.TokenEnv)
}

// RedisPassword returns the Redis password from REDIS_PASSWORD.
func (c *Config) RedisPassword() string {
	return os.Getenv("REDIS_PASSWORD")
}
