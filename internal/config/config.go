// Package config provides YAML (or TOML) configuration loading for signalbox.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported remote providers.
const (
	ProviderGitLab = "gitlab"
	ProviderGitHub = "github"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const (
	defaultPollIntervalSec = 10
	defaultGitLabHost      = "gitlab.com"
	defaultDBFile          = "db.sqlite"
	defaultLogFile         = "server.log"
	defaultServerPort      = 8085
)

// Config is the top-level signalbox configuration.
type Config struct {
	Provider        string         `yaml:"provider" toml:"provider"`
	GitLab          GitLabConfig   `yaml:"gitlab" toml:"gitlab"`
	GitHub          GitHubConfig   `yaml:"github" toml:"github"`
	Database        DatabaseConfig `yaml:"database" toml:"database"`
	PollIntervalSec int            `yaml:"poll_interval_sec" toml:"poll_interval_sec"`
	LogFile         string         `yaml:"log_file" toml:"log_file"`
	Server          ServerConfig   `yaml:"server" toml:"server"`
	Notify          NotifyConfig   `yaml:"notify" toml:"notify"`
	Digest          DigestConfig   `yaml:"digest" toml:"digest"`

	// Dir is the directory relative paths resolve against. Not serialized.
	Dir string `yaml:"-" toml:"-"`
}

// GitLabConfig holds GitLab API credentials.
type GitLabConfig struct {
	Host  string `yaml:"host" toml:"host"`
	Token string `yaml:"token" toml:"token"`
}

// GitHubConfig holds GitHub API credentials. BaseURL is only needed for
// GitHub Enterprise.
type GitHubConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Token   string `yaml:"token" toml:"token"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string      `yaml:"driver" toml:"driver"`
	Path   string      `yaml:"path" toml:"path"` // sqlite file
	MySQL  MySQLConfig `yaml:"mysql" toml:"mysql"`
}

// MySQLConfig holds connection settings for a MySQL-compatible server.
type MySQLConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Name     string `yaml:"name" toml:"name"`
}

// ServerConfig controls the local HTTP status API. A negative port disables it.
type ServerConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// NotifyConfig lists notification sinks. Any number may be enabled.
type NotifyConfig struct {
	Desktop DesktopConfig `yaml:"desktop" toml:"desktop"`
	Slack   SlackConfig   `yaml:"slack" toml:"slack"`
	Discord DiscordConfig `yaml:"discord" toml:"discord"`
}

// DesktopConfig controls local desktop notifications.
type DesktopConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Command string `yaml:"command" toml:"command"` // optional override, see notify.Desktop
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token" toml:"bot_token"`
	ChannelID string `yaml:"channel_id" toml:"channel_id"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token" toml:"bot_token"`
	ChannelID string `yaml:"channel_id" toml:"channel_id"`
}

// DigestConfig schedules the in-flight summary notification.
type DigestConfig struct {
	Schedule string `yaml:"schedule" toml:"schedule"` // 5-field cron, empty disables
}

// DefaultDir returns the per-user configuration directory for signalbox.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: user config dir: %w", err)
	}
	return filepath.Join(base, "signalbox"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := DefaultDir()
	if err != nil {
		return "signalbox.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a config file from path and returns a validated Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg *Config
	if isTOML(path) {
		cfg, err = ParseTOML(data)
	} else {
		cfg, err = Parse(data)
	}
	if err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(path)
	return cfg, nil
}

// LoadOrCreate loads path, writing a default config there first if the file
// does not exist yet.
func LoadOrCreate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = Default()
	cfg.Dir = filepath.Dir(path)
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return finish(&cfg)
}

// ParseTOML unmarshals TOML bytes into a validated Config.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse toml: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir for %s: %w", path, err)
	}

	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("config: encode toml: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("config: encode yaml: %w", err)
		}
		enc.Close()
	}

	// Tokens live in this file.
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ResolvePath makes p absolute relative to the config directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderGitLab
	}
	if c.GitLab.Host == "" {
		c.GitLab.Host = defaultGitLabHost
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = defaultDBFile
	}
	if c.Database.Driver == DriverMySQL {
		if c.Database.MySQL.Host == "" {
			c.Database.MySQL.Host = "127.0.0.1"
		}
		if c.Database.MySQL.Port == 0 {
			c.Database.MySQL.Port = 3306
		}
		if c.Database.MySQL.User == "" {
			c.Database.MySQL.User = "root"
		}
		if c.Database.MySQL.Name == "" {
			c.Database.MySQL.Name = "signalbox"
		}
	}
	if c.PollIntervalSec <= 0 {
		c.PollIntervalSec = defaultPollIntervalSec
	}
	if c.LogFile == "" {
		c.LogFile = defaultLogFile
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Provider {
	case ProviderGitLab, ProviderGitHub:
	default:
		errs = append(errs, fmt.Sprintf("provider %q is not supported (want gitlab or github)", c.Provider))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (want sqlite or mysql)", c.Database.Driver))
	}
	if (c.Notify.Slack.BotToken == "") != (c.Notify.Slack.ChannelID == "") {
		errs = append(errs, "notify.slack needs both bot_token and channel_id")
	}
	if (c.Notify.Discord.BotToken == "") != (c.Notify.Discord.ChannelID == "") {
		errs = append(errs, "notify.discord needs both bot_token and channel_id")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ServerEnabled reports whether the HTTP status API should run.
func (c *Config) ServerEnabled() bool {
	return c.Server.Port > 0
}

// Token returns the API token for the configured provider.
func (c *Config) Token() string {
	if c.Provider == ProviderGitHub {
		return c.GitHub.Token
	}
	return c.GitLab.Token
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
