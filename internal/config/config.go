package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for mootbot. Credentials are never
// stored here directly: token fields default to ${VAR} references that are
// expanded from the environment at load time.
type Config struct {
	General      GeneralConfig             `json:"general"`
	Providers    map[string]ProviderConfig `json:"providers"`
	Channels     ChannelsConfig            `json:"channels"`
	Registration RegistrationConfig        `json:"registration"`
	Prompts      PromptsConfig             `json:"prompts"`
	Store        StoreConfig               `json:"store"`
	Metrics      MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string   `json:"logLevel"`
	DefaultProvider       string   `json:"defaultProvider"`
	FailoverChain         []string `json:"failoverChain,omitempty"`
	MaxConcurrentMessages int      `json:"maxConcurrentMessages"`
	MaxRetries            int      `json:"maxRetries"`
	HistoryLimit          int      `json:"historyLimit"`
	RatePerMinute         float64  `json:"ratePerMinute"`
	RateBurst             int      `json:"rateBurst"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom,omitempty"`
	ParseMode string   `json:"parseMode"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// RegistrationConfig controls the email verification flow. When disabled,
// new users are verified immediately on /start.
type RegistrationConfig struct {
	Enabled        bool       `json:"enabled"`
	AllowedDomains []string   `json:"allowedDomains"`
	SMTP           SMTPConfig `json:"smtp"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	From     string `json:"from"`
	Password string `json:"password"` // usually ${EMAIL_PASSWORD}
}

type PromptsConfig struct {
	Path string `json:"path,omitempty"` // YAML file; built-in defaults when empty
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// DefaultConfigDir returns the default config directory (~/.mootbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mootbot"
	}
	return filepath.Join(home, ".mootbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, and validates a config file.
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

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Prompts.Path = ExpandPath(cfg.Prompts.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unresolvable
// references expand to the empty string so that a missing credential is
// detected as missing rather than passed through literally.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if len(groups) >= 3 && groups[2] != "" {
				return groups[2]
			}
			return ""
		}
		return val
	})
}

// Expand runs env-var substitution over every string field of cfg by
// round-tripping through JSON. Load does this on the raw file text; Expand
// covers configs built in memory, such as the defaults used when no config
// file exists yet.
func Expand(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	expanded := Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), expanded); err != nil {
		return cfg
	}
	expanded.Store.DBPath = ExpandPath(expanded.Store.DBPath)
	expanded.Prompts.Path = ExpandPath(expanded.Prompts.Path)
	return expanded
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
	return os.WriteFile(path, data, 0o600)
}

// Validate checks ranges and cross-references.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.MaxRetries < 0 || cfg.General.MaxRetries > 10 {
		errs = append(errs, "general.maxRetries must be between 0 and 10")
	}
	if cfg.General.HistoryLimit < 1 {
		errs = append(errs, "general.historyLimit must be >= 1")
	}
	if cfg.General.RatePerMinute <= 0 {
		errs = append(errs, "general.ratePerMinute must be > 0")
	}

	for _, name := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", name))
		}
	}
	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
		}
	}

	if cfg.Registration.Enabled {
		if cfg.Registration.SMTP.Host == "" {
			errs = append(errs, "registration.smtp.host is required when registration is enabled")
		}
		if cfg.Registration.SMTP.From == "" {
			errs = append(errs, "registration.smtp.from is required when registration is enabled")
		}
		if len(cfg.Registration.AllowedDomains) == 0 {
			errs = append(errs, "registration.allowedDomains must not be empty when registration is enabled")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
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
