// Package config loads the trackerbatch configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// DefaultPath is the config file read when --config is not given
	DefaultPath = "config.toml"

	envPrefix = "TRACKERBATCH"

	defaultRedirectURI     = "http://127.0.0.1:8080/redirect"
	defaultAuthTimeout     = 60 * time.Second
	defaultRequestInterval = time.Second
)

// Tracker kinds
const (
	KindYandex = "yandex"
	KindJira   = "jira"
	KindGitHub = "github"
)

// Config holds all application configuration
type Config struct {
	OrganizationID string `mapstructure:"organization_id" toml:"organization_id" comment:"Yandex Tracker organization id"`
	ClientID       string `mapstructure:"yandex_client_id" toml:"yandex_client_id" comment:"OAuth application client id"`
	ClientSecret   string `mapstructure:"yandex_client_secret" toml:"yandex_client_secret"`
	RedirectURI    string `mapstructure:"redirect_uri" toml:"redirect_uri" comment:"a loopback address starts a local callback server, anything else prompts for the code"`
	DefaultQueue   string `mapstructure:"default_queue" toml:"default_queue" comment:"queue for created tasks that name none"`
	LogLevel       string `mapstructure:"log_level" toml:"log_level"`

	Tracker TrackerConfig `mapstructure:"tracker" toml:"tracker"`
	Auth    AuthConfig    `mapstructure:"auth" toml:"auth"`
	Batch   BatchConfig   `mapstructure:"batch" toml:"batch"`
}

// TrackerConfig selects and addresses the tracker backend
type TrackerConfig struct {
	Kind     string `mapstructure:"kind" toml:"kind" comment:"yandex, jira or github"`
	BaseURL  string `mapstructure:"base_url" toml:"base_url"`
	CloudOrg bool   `mapstructure:"cloud_org" toml:"cloud_org" comment:"send X-Cloud-Org-ID instead of X-Org-ID"`
}

// AuthConfig holds OAuth2 settings. Empty URLs use the backend's endpoint.
type AuthConfig struct {
	AuthURL   string   `mapstructure:"auth_url" toml:"auth_url"`
	TokenURL  string   `mapstructure:"token_url" toml:"token_url"`
	Scopes    []string `mapstructure:"scopes" toml:"scopes"`
	TokenFile string   `mapstructure:"token_file" toml:"token_file"`
	Timeout   string   `mapstructure:"timeout" toml:"timeout"`
}

// BatchConfig holds batch processing settings
type BatchConfig struct {
	TasksFile       string `mapstructure:"tasks_file" toml:"tasks_file"`
	DeleteEnabled   bool   `mapstructure:"delete_enabled" toml:"delete_enabled"`
	Parallelism     int    `mapstructure:"parallelism" toml:"parallelism"`
	RequestInterval string `mapstructure:"request_interval" toml:"request_interval"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		RedirectURI: defaultRedirectURI,
		LogLevel:    "info",
		Tracker: TrackerConfig{
			Kind: KindYandex,
		},
		Auth: AuthConfig{
			Scopes:    []string{},
			TokenFile: "token.json",
			Timeout:   defaultAuthTimeout.String(),
		},
		Batch: BatchConfig{
			TasksFile:       "tasks.json",
			DeleteEnabled:   true,
			Parallelism:     1,
			RequestInterval: defaultRequestInterval.String(),
		},
	}
}

// Load reads path, applies TRACKERBATCH_* environment overrides and
// validates the result
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found, create one with template-config: %w", path, err)
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Tracker.Kind = strings.ToLower(strings.TrimSpace(cfg.Tracker.Kind))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("organization_id", d.OrganizationID)
	v.SetDefault("yandex_client_id", d.ClientID)
	v.SetDefault("yandex_client_secret", d.ClientSecret)
	v.SetDefault("redirect_uri", d.RedirectURI)
	v.SetDefault("default_queue", d.DefaultQueue)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("tracker.kind", d.Tracker.Kind)
	v.SetDefault("tracker.base_url", d.Tracker.BaseURL)
	v.SetDefault("tracker.cloud_org", d.Tracker.CloudOrg)

	v.SetDefault("auth.auth_url", d.Auth.AuthURL)
	v.SetDefault("auth.token_url", d.Auth.TokenURL)
	v.SetDefault("auth.scopes", d.Auth.Scopes)
	v.SetDefault("auth.token_file", d.Auth.TokenFile)
	v.SetDefault("auth.timeout", d.Auth.Timeout)

	v.SetDefault("batch.tasks_file", d.Batch.TasksFile)
	v.SetDefault("batch.delete_enabled", d.Batch.DeleteEnabled)
	v.SetDefault("batch.parallelism", d.Batch.Parallelism)
	v.SetDefault("batch.request_interval", d.Batch.RequestInterval)
}

// Validate checks the fields the selected tracker needs
func (c *Config) Validate() error {
	var errs []error

	switch c.Tracker.Kind {
	case KindYandex:
		if c.OrganizationID == "" {
			errs = append(errs, errors.New("organization_id is required"))
		}
	case KindJira:
		if c.Tracker.BaseURL == "" {
			errs = append(errs, errors.New("tracker.base_url is required for jira"))
		}
	case KindGitHub:
	default:
		errs = append(errs, fmt.Errorf("unknown tracker.kind %q", c.Tracker.Kind))
	}

	if c.ClientID == "" {
		errs = append(errs, errors.New("yandex_client_id is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("yandex_client_secret is required"))
	}
	if c.RedirectURI == "" {
		errs = append(errs, errors.New("redirect_uri is required"))
	}
	if c.Batch.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("batch.parallelism must be at least 1, got %d", c.Batch.Parallelism))
	}

	return errors.Join(errs...)
}

// AuthTimeout returns auth.timeout, falling back to the default when it
// does not parse
func (c *Config) AuthTimeout(logger *zap.Logger) time.Duration {
	return parseDuration(c.Auth.Timeout, defaultAuthTimeout, "auth.timeout", logger)
}

// RequestInterval returns batch.request_interval. Zero disables pacing.
func (c *Config) RequestInterval(logger *zap.Logger) time.Duration {
	return parseDuration(c.Batch.RequestInterval, defaultRequestInterval, "batch.request_interval", logger)
}

func parseDuration(raw string, def time.Duration, key string, logger *zap.Logger) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		logger.Warn("invalid duration, using default",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Duration("default", def),
			zap.Error(err),
		)
		return def
	}
	return d
}

// WriteTemplate writes Default as TOML to path. An existing file is kept
// unless force is set.
func WriteTemplate(path string, force bool) error {
	if path == "" {
		path = DefaultPath
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists: %w", path, fs.ErrExist)
		}
	}

	data, err := toml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode config template: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
