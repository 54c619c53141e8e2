// Package config holds operator-level configuration for a caseflow
// installation: data directory, databases, agent endpoints, provider URLs,
// and timeouts. Set via env vars (CASEFLOW_*) or caseflow.config.yaml.
//
// Routing and escalation behavior is NOT configured here — that lives in the
// routing policy document (internal/policy), which is versioned alongside
// the support workflows it governs.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the CASEFLOW_ prefix
// (e.g. "data_dir" → CASEFLOW_DATA_DIR) and to a YAML field in
// caseflow.config.yaml.
const (
	KeyDataDir          = "data_dir"
	KeyRoutingPolicy    = "routing_policy"
	KeyListenAddr       = "listen_addr"
	KeyAgentTimeoutMS   = "agent_timeout_ms"
	KeyWorkingTTLMin    = "working_memory_ttl_minutes"
	KeyOpenAIBaseURL    = "openai_base_url"
	KeyOllamaBaseURL    = "ollama_base_url"
	KeyRetrievalURL     = "retrieval_url"
	KeySecretsKey       = "secrets_key"
	KeyOTelEnabled      = "otel_enabled"
	KeyRetrievalTopK    = "retrieval_top_k"
	KeyRateLimitPerMin  = "rate_limit_per_minute"
	KeyAgentEndpointMap = "agent_endpoints"
)

const (
	DefaultRoutingPolicy = "caseflow.routing.yaml"
	DefaultListenAddr    = ":8088"
	DefaultAgentTimeout  = 15 * time.Second
	DefaultWorkingTTL    = 30 * time.Minute
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultRetrievalTopK = 5
	DefaultRatePerMin    = 60
)

// Config holds resolved operator configuration for a caseflow process.
type Config struct {
	DataDir        string
	RoutingPolicy  string            // path to the routing policy YAML
	ListenAddr     string            // HTTP API bind address
	AgentTimeout   time.Duration     // default per-invocation deadline
	WorkingTTL     time.Duration     // working-memory record lifetime
	OpenAIBaseURL  string            // empty = api.openai.com
	OllamaBaseURL  string            // local provider endpoint
	RetrievalURL   string            // external retrieval service; empty = in-process chromem
	SecretsKey     string            // 32-byte (or 64 hex chars) vault key
	OTelEnabled    bool              //
	RetrievalTopK  int               //
	RateLimit      int               // API requests per key per minute
	AgentEndpoints map[string]string // agent name → base URL; empty = in-process agents

	usingDefaultSecretsKey bool
}

// UsingDefaultSecretsKey reports whether the vault key fell back to a
// derived per-machine default. Commands should warn when this is the case.
func (c *Config) UsingDefaultSecretsKey() bool { return c.usingDefaultSecretsKey }

// MemoryDBPath returns the path to the tri-tier memory SQLite database.
func (c *Config) MemoryDBPath() string { return filepath.Join(c.DataDir, "memory.db") }

// CasesDBPath returns the path to the case-record SQLite database.
func (c *Config) CasesDBPath() string { return filepath.Join(c.DataDir, "cases.db") }

// ExecutionsDBPath returns the path to the execution-log SQLite database.
func (c *Config) ExecutionsDBPath() string { return filepath.Join(c.DataDir, "executions.db") }

// SecretsDBPath returns the path to the secrets vault SQLite database.
func (c *Config) SecretsDBPath() string { return filepath.Join(c.DataDir, "secrets.db") }

// KnowledgeDBPath returns the persistence path of the embedded knowledge
// index.
func (c *Config) KnowledgeDBPath() string { return filepath.Join(c.DataDir, "knowledge") }

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("CASEFLOW")
	viper.AutomaticEnv()
	viper.SetDefault(KeyRoutingPolicy, DefaultRoutingPolicy)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyAgentTimeoutMS, int(DefaultAgentTimeout/time.Millisecond))
	viper.SetDefault(KeyWorkingTTLMin, int(DefaultWorkingTTL/time.Minute))
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	viper.SetDefault(KeyRetrievalTopK, DefaultRetrievalTopK)
	viper.SetDefault(KeyRateLimitPerMin, DefaultRatePerMin)
}

// Load reads configuration from Viper (env vars, config file, defaults)
// and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        resolveDataDir(),
		RoutingPolicy:  viper.GetString(KeyRoutingPolicy),
		ListenAddr:     viper.GetString(KeyListenAddr),
		AgentTimeout:   time.Duration(viper.GetInt(KeyAgentTimeoutMS)) * time.Millisecond,
		WorkingTTL:     time.Duration(viper.GetInt(KeyWorkingTTLMin)) * time.Minute,
		OpenAIBaseURL:  viper.GetString(KeyOpenAIBaseURL),
		OllamaBaseURL:  viper.GetString(KeyOllamaBaseURL),
		RetrievalURL:   viper.GetString(KeyRetrievalURL),
		SecretsKey:     viper.GetString(KeySecretsKey),
		OTelEnabled:    viper.GetBool(KeyOTelEnabled),
		RetrievalTopK:  viper.GetInt(KeyRetrievalTopK),
		RateLimit:      viper.GetInt(KeyRateLimitPerMin),
		AgentEndpoints: viper.GetStringMapString(KeyAgentEndpointMap),
	}

	if cfg.SecretsKey == "" {
		cfg.SecretsKey = deriveDefaultKey(cfg.DataDir)
		cfg.usingDefaultSecretsKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".caseflow"
	}
	return filepath.Join(home, ".caseflow")
}

// deriveDefaultKey produces a deterministic 32-byte fallback vault key from
// the data directory path. Not cryptographically strong — it exists so
// `caseflow serve` works out of the box while still encrypting provider
// keys at rest with a per-machine-unique key.
func deriveDefaultKey(dataDir string) string {
	h := sha256.Sum256([]byte("caseflow:" + dataDir + ":vault"))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("agent_timeout_ms must be positive")
	}
	if c.WorkingTTL <= 0 {
		return fmt.Errorf("working_memory_ttl_minutes must be positive")
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("retrieval_top_k must be positive")
	}
	if err := validateSecretsKey(c.SecretsKey); err != nil {
		return err
	}
	return nil
}

// validateSecretsKey accepts either 32 raw bytes or 64 hex characters.
func validateSecretsKey(key string) error {
	switch n := len(key); {
	case n == 32:
		return nil
	case n == 64:
		if _, err := hex.DecodeString(key); err != nil {
			return fmt.Errorf("secrets_key must be 64 hex characters: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("secrets_key must be exactly 32 bytes or 64 hex characters (got %d); set CASEFLOW_SECRETS_KEY", n)
	}
}
