package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for GhostRider.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Platforms  PlatformsConfig  `json:"platforms"`
	Processing ProcessingConfig `json:"processing"`
	Storage    StorageConfig    `json:"storage"`
	Web        WebConfig        `json:"web"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

type PlatformsConfig struct {
	SMS     SMSConfig     `json:"sms"`
	Slack   SlackConfig   `json:"slack"`
	Discord DiscordConfig `json:"discord"`
	Gmail   GmailConfig   `json:"gmail"`
}

// SMSConfig configures the TextBee SMS gateway.
type SMSConfig struct {
	Enabled  bool   `json:"enabled"`
	APIKey   string `json:"apiKey,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

type SlackConfig struct {
	Enabled  bool     `json:"enabled"`
	BotToken string   `json:"botToken,omitempty"`
	Channels []string `json:"channels,omitempty"` // channel IDs to poll
}

type DiscordConfig struct {
	Enabled      bool     `json:"enabled"`
	BotToken     string   `json:"botToken,omitempty"`
	GuildID      string   `json:"guildId,omitempty"`
	Channels     []string `json:"channels,omitempty"`
	ClientID     string   `json:"clientId,omitempty"`     // OAuth
	ClientSecret string   `json:"clientSecret,omitempty"` // OAuth
	RedirectURI  string   `json:"redirectUri,omitempty"`  // OAuth
}

type GmailConfig struct {
	Enabled      bool   `json:"enabled"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	RedirectURI  string `json:"redirectUri,omitempty"`
	UserID       string `json:"userId,omitempty"` // store key for the OAuth token
	Query        string `json:"query,omitempty"`  // Gmail search query
}

type ProcessingConfig struct {
	BusBufferSize int    `json:"busBufferSize"`
	RulesPath     string `json:"rulesPath,omitempty"` // optional YAML keyword rules
}

type StorageConfig struct {
	DBPath        string `json:"dbPath"`
	EncryptionKey string `json:"encryptionKey,omitempty"` // protects stored OAuth tokens
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// DefaultConfigDir returns the default config directory (~/.ghostrider).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ghostrider"
	}
	return filepath.Join(home, ".ghostrider")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands and validates the config file at path. A .env file
// in the working directory is loaded first so ${VAR} references resolve.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

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

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
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
			return match // keep original if no env var and no default
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
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		errs = append(errs, "web.port must be between 0 and 65535")
	}
	if cfg.Processing.BusBufferSize < 1 {
		errs = append(errs, "processing.busBufferSize must be >= 1")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath is required")
	}

	if cfg.Platforms.SMS.Enabled && (cfg.Platforms.SMS.APIKey == "" || cfg.Platforms.SMS.DeviceID == "") {
		errs = append(errs, "platforms.sms: apiKey and deviceId are required when enabled")
	}
	if cfg.Platforms.Slack.Enabled && cfg.Platforms.Slack.BotToken == "" {
		errs = append(errs, "platforms.slack: botToken is required when enabled")
	}
	if cfg.Platforms.Discord.Enabled && cfg.Platforms.Discord.BotToken == "" {
		errs = append(errs, "platforms.discord: botToken is required when enabled")
	}
	if cfg.Platforms.Gmail.Enabled && (cfg.Platforms.Gmail.ClientID == "" || cfg.Platforms.Gmail.ClientSecret == "") {
		errs = append(errs, "platforms.gmail: clientId and clientSecret are required when enabled")
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
