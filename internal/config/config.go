package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Platforms lists the supported messaging backends.
var Platforms = []string{"telegram", "slack", "discord"}

// Config is the root configuration for telesend.
type Config struct {
	Platform string         `json:"platform" yaml:"platform"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// TelegramConfig holds Bot API credentials. A bot token is "<apiId>:<apiHash>";
// Token, when set, takes precedence over the pair.
type TelegramConfig struct {
	APIID       string `json:"apiId,omitempty" yaml:"apiId,omitempty"`
	APIHash     string `json:"apiHash,omitempty" yaml:"apiHash,omitempty"`
	Token       string `json:"token,omitempty" yaml:"token,omitempty"`
	APIEndpoint string `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"` // self-hosted Bot API server
	ParseMode   string `json:"parseMode" yaml:"parseMode"`
}

// BotToken returns the configured token, or builds it from the id/hash pair.
func (t TelegramConfig) BotToken() string {
	if tok := strings.TrimSpace(t.Token); tok != "" {
		return tok
	}
	id := strings.TrimSpace(t.APIID)
	hash := strings.TrimSpace(t.APIHash)
	if id == "" || hash == "" {
		return ""
	}
	return id + ":" + hash
}

type SlackConfig struct {
	BotToken string `json:"botToken,omitempty" yaml:"botToken,omitempty"`
	APIURL   string `json:"apiUrl,omitempty" yaml:"apiUrl,omitempty"`
}

type DiscordConfig struct {
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty"` // required for listing chats
}

// DispatchConfig holds the batch defaults that flags usually provide.
type DispatchConfig struct {
	ChatID    string `json:"chatId,omitempty" yaml:"chatId,omitempty"`
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`
}

// StoreConfig configures the known-chat cache used by --list-chats.
type StoreConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"` // debug | info | warn | error
}

// DefaultConfigDir returns the default config directory (~/.telesend).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".telesend"
	}
	return filepath.Join(home, ".telesend")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a JSON or YAML config file (by extension) on top of Defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.clearUnresolved()
	cfg.ExpandPaths()

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

// clearUnresolved empties credential fields whose placeholder had no value,
// so that "${TELESEND_TOKEN}" is never sent as a token.
func (c *Config) clearUnresolved() {
	for _, field := range []*string{
		&c.Telegram.APIID, &c.Telegram.APIHash, &c.Telegram.Token,
		&c.Slack.BotToken, &c.Discord.Token, &c.Dispatch.ChatID,
	} {
		if envVarPattern.MatchString(*field) && envVarPattern.ReplaceAllString(*field, "") == "" {
			*field = ""
		}
	}
}

// envOverrides maps environment variables to the fields they fill when
// the field is still empty after loading the config file.
func (c *Config) envOverrides() map[string]*string {
	return map[string]*string{
		"TELESEND_API_ID":        &c.Telegram.APIID,
		"TELESEND_API_HASH":      &c.Telegram.APIHash,
		"TELESEND_TOKEN":         &c.Telegram.Token,
		"TELESEND_SLACK_TOKEN":   &c.Slack.BotToken,
		"TELESEND_DISCORD_TOKEN": &c.Discord.Token,
		"TELESEND_CHAT_ID":       &c.Dispatch.ChatID,
		"TELESEND_DIRECTORY":     &c.Dispatch.Directory,
	}
}

// ApplyEnv fills empty fields from TELESEND_* environment variables.
func ApplyEnv(cfg *Config) {
	for key, field := range cfg.envOverrides() {
		if *field != "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*field = v
		}
	}
}

// Save writes cfg as JSON or YAML depending on the file extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if !validPlatform(cfg.Platform) {
		errs = append(errs, "platform must be one of: "+strings.Join(Platforms, ", "))
	}
	if id := strings.TrimSpace(cfg.Telegram.APIID); id != "" {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			errs = append(errs, "telegram.apiId must be numeric")
		}
	}
	switch cfg.Telegram.ParseMode {
	case "Markdown", "MarkdownV2", "HTML":
		// valid
	default:
		errs = append(errs, "telegram.parseMode must be one of: Markdown, MarkdownV2, HTML")
	}
	if cfg.Telegram.APIEndpoint != "" && strings.Count(cfg.Telegram.APIEndpoint, "%s") != 2 {
		errs = append(errs, "telegram.apiEndpoint must contain two %s verbs (token, method)")
	}
	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validPlatform(p string) bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.TrimSpace(level)))
	return l, err
}

// ExpandPaths resolves ~/ in every path field.
func (c *Config) ExpandPaths() {
	c.Dispatch.Directory = ExpandPath(c.Dispatch.Directory)
	c.Store.DBPath = ExpandPath(c.Store.DBPath)
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
