package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for the bot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Slack     SlackConfig               `json:"slack"`
	Providers map[string]ProviderConfig `json:"providers"`
	Store     StoreConfig               `json:"store"`
	Context   ContextConfig             `json:"context"`
	Server    ServerConfig              `json:"server"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel           string   `json:"logLevel"`
	LogFile            string   `json:"logFile,omitempty"` // optional log file path
	DefaultProvider    string   `json:"defaultProvider"`
	FailoverChain      []string `json:"failoverChain,omitempty"`     // provider failover order
	Persona            string   `json:"persona,omitempty"`           // system preamble override
	SystemPromptExtra  string   `json:"systemPromptExtra,omitempty"` // custom text appended to system prompt
	TurnTimeoutSeconds int      `json:"turnTimeoutSeconds"`
}

type SlackConfig struct {
	BotToken        string         `json:"botToken"`
	SigningSecret   string         `json:"signingSecret"`
	AllowedChannels FlexStringList `json:"allowedChannels,omitempty"` // empty = all channels
	MaxMessageLen   int            `json:"maxMessageLen"`
	ChunkDelayMs    int            `json:"chunkDelayMs,omitempty"` // pause between follow-up chunks
	Cursor          string         `json:"cursor,omitempty"`       // placeholder text while the model works
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty"`
	MaxRetries   int    `json:"maxRetries,omitempty"` // retries after the first attempt; 0 means the built-in default
}

type StoreConfig struct {
	Path            string `json:"path"`
	InMemory        bool   `json:"inMemory,omitempty"` // ephemeral store, for local runs
	TTLSeconds      int    `json:"ttlSeconds"`
	ThrottleCeiling int    `json:"throttleCeiling"` // 0 disables the per-user throttle
	FailOpen        bool   `json:"failOpen"`        // throttle behavior when the store is down
}

type ContextConfig struct {
	ByteBudget int `json:"byteBudget"` // serialized thread history cap
}

type ServerConfig struct {
	Port        int    `json:"port"`
	Path        string `json:"path"`
	Concurrency int    `json:"concurrency"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.Concurrency < 1 || cfg.Server.Concurrency > 100 {
		errs = append(errs, "server.concurrency must be between 1 and 100")
	}
	if cfg.Slack.MaxMessageLen < 1 {
		errs = append(errs, "slack.maxMessageLen must be >= 1")
	}
	if cfg.Store.TTLSeconds < 1 {
		errs = append(errs, "store.ttlSeconds must be >= 1")
	}
	if cfg.Store.ThrottleCeiling < 0 {
		errs = append(errs, "store.throttleCeiling must be >= 0")
	}
	if cfg.Context.ByteBudget < 1 {
		errs = append(errs, "context.byteBudget must be >= 1")
	}
	if cfg.General.TurnTimeoutSeconds < 1 {
		errs = append(errs, "general.turnTimeoutSeconds must be >= 1")
	}

	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
		}
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
