// Package config loads and validates the service configuration.
//
// A single Config is held in memory behind a mutex. LoadConfig reads a YAML
// file once at startup (with ${ENV} substitution and DOTBOT_* overrides),
// GetConfig hands out copies, and nothing mutates the loaded value afterwards.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
)

// Supported LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Default model names per tier.
const (
	DefaultFastModel = "claude-haiku-4-5"
	DefaultDeepModel = "claude-sonnet-4-5"
)

// Env var names consulted for API keys when the file leaves them blank.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGoogleKey    = "GEMINI_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
)

// ModelCfg selects the provider and model that serve one reasoning tier.
type ModelCfg struct {
	Provider  string  `yaml:"provider"`
	Model     string  `yaml:"model"`
	APIKey    string  `yaml:"api_key"`
	Host      string  `yaml:"host,omitempty"` // ollama only
	MaxTokens int     `yaml:"max_tokens"`
	Temp      float32 `yaml:"temperature"`
}

// LLMConfig holds the two tiers used for planning, replanning and routing.
type LLMConfig struct {
	Fast       ModelCfg      `yaml:"fast"`
	Deep       ModelCfg      `yaml:"deep"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// RoutingConfig controls candidate collection and decision execution.
type RoutingConfig struct {
	MinMatchConfidence float64       `yaml:"min_match_confidence"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`
	ExecutorTimeout    time.Duration `yaml:"executor_timeout"`
	PlanReadTimeout    time.Duration `yaml:"plan_read_timeout"`
}

// PlanningConfig controls plan creation and replanning.
type PlanningConfig struct {
	FallbackToolCount  int `yaml:"fallback_tool_count"`
	OutputTokenBudget  int `yaml:"output_token_budget"`
	CritiqueInterval   int `yaml:"critique_interval"`
	DeepRemainingSteps int `yaml:"deep_remaining_steps"`
	// CatalogPath is an optional YAML tool catalog; the built-in one is used when empty.
	CatalogPath string `yaml:"catalog_path"`
}

// WorkspaceConfig sets where agent workspaces live.
type WorkspaceConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// StorageConfig sets the memory store location.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// NotifyConfig configures lifecycle notification sinks. Empty values disable a sink.
type NotifyConfig struct {
	EventLogDir string `yaml:"event_log_dir"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
	BufferSize  int    `yaml:"buffer_size"`
}

// ServerConfig configures the device-facing listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// PrometheusURL is the server that scrapes this fleet, used by `dotbot stats`.
	PrometheusURL string `yaml:"prometheus_url"`
}

// Config is the full service configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Routing   RoutingConfig   `yaml:"routing"`
	Planning  PlanningConfig  `yaml:"planning"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Storage   StorageConfig   `yaml:"storage"`
	Notify    NotifyConfig    `yaml:"notify"`
	Server    ServerConfig    `yaml:"server"`
}

//nolint:gochecknoglobals // intentional singleton for config management
var (
	config *Config
	mu     sync.RWMutex
	logger = logx.NewLogger("config")
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns a config with every field populated.
func Default() Config {
	var c Config
	applyDefaults(&c)
	return c
}

// LoadConfig reads path into the global config. An empty path loads defaults.
func LoadConfig(path string) error {
	cfg, err := Parse(path)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	config = cfg
	return nil
}

// Parse reads and validates a config file without touching the global.
func Parse(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
			if value := os.Getenv(match[2 : len(match)-1]); value != "" {
				return value
			}
			return match
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
		logger.Info("Loaded config from %s", path)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// GetConfig returns a copy of the loaded config.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting replaces the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOTBOT_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("DOTBOT_WORKSPACE_BASE"); v != "" {
		cfg.Workspace.BaseDir = v
	}
	if v := os.Getenv("DOTBOT_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DOTBOT_PROMETHEUS_URL"); v != "" {
		cfg.Server.PrometheusURL = v
	}
	if v := os.Getenv("DOTBOT_NATS_URL"); v != "" {
		cfg.Notify.NATSURL = v
	}
	if v := os.Getenv("DOTBOT_MIN_MATCH_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Routing.MinMatchConfidence = f
		} else {
			logger.Warn("Ignoring DOTBOT_MIN_MATCH_CONFIDENCE=%q: %v", v, err)
		}
	}
}

func applyDefaults(cfg *Config) {
	applyModelDefaults(&cfg.LLM.Fast, DefaultFastModel, 2048)
	applyModelDefaults(&cfg.LLM.Deep, DefaultDeepModel, 4096)
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 90 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}

	if cfg.Routing.MinMatchConfidence == 0 {
		cfg.Routing.MinMatchConfidence = 0.3
	}
	if cfg.Routing.LockTimeout == 0 {
		cfg.Routing.LockTimeout = 30 * time.Second
	}
	if cfg.Routing.ExecutorTimeout == 0 {
		cfg.Routing.ExecutorTimeout = 5 * time.Second
	}
	if cfg.Routing.PlanReadTimeout == 0 {
		cfg.Routing.PlanReadTimeout = 2 * time.Second
	}

	if cfg.Planning.FallbackToolCount == 0 {
		cfg.Planning.FallbackToolCount = 5
	}
	if cfg.Planning.OutputTokenBudget == 0 {
		cfg.Planning.OutputTokenBudget = 1500
	}
	if cfg.Planning.CritiqueInterval == 0 {
		cfg.Planning.CritiqueInterval = 3
	}
	if cfg.Planning.DeepRemainingSteps == 0 {
		cfg.Planning.DeepRemainingSteps = 4
	}

	if cfg.Workspace.BaseDir == "" {
		cfg.Workspace.BaseDir = "~/.bot/workspace"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "dotbot.db"
	}
	if cfg.Notify.NATSSubject == "" {
		cfg.Notify.NATSSubject = "dotbot.agents.lifecycle"
	}
	if cfg.Notify.BufferSize == 0 {
		cfg.Notify.BufferSize = 256
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8787"
	}
}

func applyModelDefaults(m *ModelCfg, model string, maxTokens int) {
	if m.Provider == "" {
		m.Provider = ProviderAnthropic
	}
	if m.Model == "" {
		m.Model = model
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = maxTokens
	}
	if m.Temp == 0 {
		m.Temp = 0.3
	}
	if m.APIKey == "" {
		m.APIKey = os.Getenv(apiKeyEnv(m.Provider))
	}
	if m.Provider == ProviderOllama && m.Host == "" {
		m.Host = os.Getenv(EnvOllamaHost)
		if m.Host == "" {
			m.Host = "http://localhost:11434"
		}
	}
}

func apiKeyEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return EnvOpenAIKey
	case ProviderGoogle:
		return EnvGoogleKey
	default:
		return EnvAnthropicKey
	}
}

func validateConfig(cfg *Config) error {
	for name, m := range map[string]ModelCfg{"fast": cfg.LLM.Fast, "deep": cfg.LLM.Deep} {
		if err := validateModel(m); err != nil {
			return fmt.Errorf("llm.%s: %w", name, err)
		}
	}
	if cfg.Routing.MinMatchConfidence < 0 || cfg.Routing.MinMatchConfidence > 1 {
		return fmt.Errorf("routing.min_match_confidence must be within [0,1], got %v", cfg.Routing.MinMatchConfidence)
	}
	if cfg.Routing.ExecutorTimeout < 0 || cfg.Routing.PlanReadTimeout < 0 || cfg.Routing.LockTimeout < 0 {
		return fmt.Errorf("routing timeouts must not be negative")
	}
	if cfg.Planning.FallbackToolCount < 1 {
		return fmt.Errorf("planning.fallback_tool_count must be positive")
	}
	if cfg.Planning.CritiqueInterval < 1 {
		return fmt.Errorf("planning.critique_interval must be positive")
	}
	return nil
}

func validateModel(m ModelCfg) error {
	switch m.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
	default:
		return fmt.Errorf("unknown provider %q", m.Provider)
	}
	if strings.TrimSpace(m.Model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if m.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if m.Temp < 0 || m.Temp > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
