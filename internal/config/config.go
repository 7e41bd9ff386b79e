// Package config loads CSTP server configuration from a YAML file, applies
// CSTP_-prefixed environment variable overrides, and expands ${ENV_VAR}
// references inside string values (used for token secrets).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenEntry binds a bearer token to an agent id, per the auth.tokens config key.
type TokenEntry struct {
	Agent string `yaml:"agent"`
	Token string `yaml:"token"`
}

// Config holds all application configuration.
type Config struct {
	Server struct {
		Host        string   `yaml:"host"`
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Agent struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Version     string `yaml:"version"`
		URL         string `yaml:"url"`
		Contact     string `yaml:"contact"`
	} `yaml:"agent"`

	Auth struct {
		Enabled bool          `yaml:"enabled"`
		Tokens  []TokenEntry  `yaml:"tokens"`
	} `yaml:"auth"`

	Tracker struct {
		InputTTLSeconds      int `yaml:"input_ttl_seconds"`
		SessionTTLSeconds    int `yaml:"session_ttl_seconds"`
		SessionTTLMinutes    int `yaml:"session_ttl_minutes"` // legacy, see sessionTTL
		ConsumedHistorySize  int `yaml:"consumed_history_size"`
	} `yaml:"tracker"`

	Storage struct {
		Backend string `yaml:"backend"` // "yaml" or "sqlite"
		DBPath  string `yaml:"db_path"`
	} `yaml:"storage"`

	Vector struct {
		Backend    string `yaml:"backend"` // "qdrant", "pgvector", "memory"
		URL        string `yaml:"url"`
		APIKey     string `yaml:"api_key"`
		Collection string `yaml:"collection"`
		Dims       int    `yaml:"dims"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"vector"`

	Embedding struct {
		Provider string `yaml:"provider"` // "ollama" or "noop"
		URL      string `yaml:"url"`
		Model    string `yaml:"model"`
	} `yaml:"embedding"`

	Guardrails struct {
		Dir string `yaml:"dir"`
	} `yaml:"guardrails"`

	Breaker struct {
		ConfigPath      string `yaml:"config_path"`
		PersistencePath string `yaml:"persistence_path"`
	} `yaml:"breaker"`

	Bridge struct {
		Mode          string        `yaml:"mode"` // "rule", "llm", or "both"
		GeminiAPIKey  string        `yaml:"gemini_api_key"`
		GeminiModel   string        `yaml:"gemini_model"`
		Timeout       time.Duration `yaml:"-"`
	} `yaml:"bridge"`

	OTEL struct {
		Endpoint string `yaml:"endpoint"`
		Insecure bool   `yaml:"insecure"`
	} `yaml:"otel"`

	LogLevel string `yaml:"log_level"`

	ReadTimeout         time.Duration `yaml:"-"`
	WriteTimeout        time.Duration `yaml:"-"`
	MaxRequestBodyBytes int64         `yaml:"-"`
}

// sessionTTL resolves the canonical tracker.session_ttl_seconds key against
// the legacy tracker.session_ttl_minutes key. Per the design notes' open
// question, this implementation keeps seconds canonical: when both are
// present, seconds wins and a deprecation warning is logged by the caller
// (config.Load does not have a logger; callers log when the legacyMinutesUsed
// result is true, i.e. whenever the minutes key is set).
func (c Config) sessionTTL() (seconds int, legacyMinutesUsed bool) {
	if c.Tracker.SessionTTLSeconds > 0 {
		return c.Tracker.SessionTTLSeconds, c.Tracker.SessionTTLMinutes > 0
	}
	if c.Tracker.SessionTTLMinutes > 0 {
		return c.Tracker.SessionTTLMinutes * 60, true
	}
	return 1800, false
}

// SessionTTL returns the resolved tracker session TTL as a duration, plus
// whether the legacy minutes key was involved in producing the value (either
// as the sole source, or present alongside seconds and overridden by it).
func (c Config) SessionTTL() (time.Duration, bool) {
	secs, legacy := c.sessionTTL()
	return time.Duration(secs) * time.Second, legacy
}

// InputTTL returns the resolved tracker input TTL, defaulting to 300s.
func (c Config) InputTTL() time.Duration {
	if c.Tracker.InputTTLSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Tracker.InputTTLSeconds) * time.Second
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with the environment variable's value,
// leaving the reference untouched if the variable is unset.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Load reads a YAML config file, applies defaults, expands ${ENV_VAR}
// references, and overlays CSTP_-prefixed environment variables.
func Load(path string) (Config, error) {
	var cfg Config
	setDefaults(&cfg)

	if path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // path comes from validated CLI flag/config, not request input
		if err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	expandTokens(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Agent.Name = "cstpd"
	cfg.Agent.Version = "0.1.0"
	cfg.Auth.Enabled = true
	cfg.Tracker.InputTTLSeconds = 300
	cfg.Tracker.ConsumedHistorySize = 50
	cfg.Storage.Backend = "yaml"
	cfg.Storage.DBPath = "./data/decisions"
	cfg.Vector.Backend = "memory"
	cfg.Vector.Collection = "cstp_decisions"
	cfg.Vector.Dims = 1024
	cfg.Embedding.Provider = "noop"
	cfg.Guardrails.Dir = "./guardrails"
	cfg.Breaker.PersistencePath = "./data/breakers.jsonl"
	cfg.Bridge.Mode = "rule"
	cfg.Bridge.GeminiModel = "gemini-2.0-flash"
	cfg.Bridge.Timeout = 10 * time.Second
	cfg.LogLevel = "info"
	cfg.ReadTimeout = 30 * time.Second
	cfg.WriteTimeout = 30 * time.Second
	cfg.MaxRequestBodyBytes = 1 * 1024 * 1024
}

func expandTokens(cfg *Config) {
	for i := range cfg.Auth.Tokens {
		cfg.Auth.Tokens[i].Token = expandEnv(cfg.Auth.Tokens[i].Token)
	}
}

// applyEnvOverrides overlays CSTP_-prefixed environment variables onto the
// fields most commonly tuned per-deployment without editing the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CSTP_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("CSTP_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CSTP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CSTP_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("CSTP_STORAGE_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CSTP_VECTOR_BACKEND"); v != "" {
		cfg.Vector.Backend = v
	}
	if v := os.Getenv("CSTP_VECTOR_URL"); v != "" {
		cfg.Vector.URL = v
	}
	if v := os.Getenv("CSTP_VECTOR_API_KEY"); v != "" {
		cfg.Vector.APIKey = v
	}
	if v := os.Getenv("CSTP_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("CSTP_EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("CSTP_OTEL_ENDPOINT"); v != "" {
		cfg.OTEL.Endpoint = v
	}
	if v := os.Getenv("CSTP_AUTH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = b
		}
	}
	if v := os.Getenv("CSTP_BRIDGE_MODE"); v != "" {
		cfg.Bridge.Mode = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Bridge.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_BRIDGE_MODEL"); v != "" {
		cfg.Bridge.GeminiModel = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime errors deep inside unrelated packages.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be between 1 and 65535")
	}
	if c.Vector.Dims <= 0 {
		return fmt.Errorf("config: vector.dims must be positive")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "yaml", "sqlite":
	default:
		return fmt.Errorf("config: storage.backend must be \"yaml\" or \"sqlite\", got %q", c.Storage.Backend)
	}
	switch strings.ToLower(c.Vector.Backend) {
	case "qdrant", "pgvector", "memory":
	default:
		return fmt.Errorf("config: vector.backend must be \"qdrant\", \"pgvector\", or \"memory\", got %q", c.Vector.Backend)
	}
	if c.Auth.Enabled && len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("config: auth.enabled is true but no auth.tokens are configured")
	}
	switch strings.ToLower(c.Bridge.Mode) {
	case "rule", "llm", "both":
	default:
		return fmt.Errorf("config: bridge.mode must be \"rule\", \"llm\", or \"both\", got %q", c.Bridge.Mode)
	}
	return nil
}
