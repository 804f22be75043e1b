// Package config loads chat-relay configuration.
//
// Values are resolved in this order, later wins: built-in defaults, the
// YAML file named by --config or CHAT_RELAY_CONFIG, CHAT_RELAY_*
// environment variables, then explicitly set command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/chat-relay/internal/assembler"
)

// Environment variable names.
const (
	EnvConfig        = "CHAT_RELAY_CONFIG"
	EnvDiscordToken  = "CHAT_RELAY_DISCORD_TOKEN"
	EnvOpenAIKey     = "CHAT_RELAY_OPENAI_KEY"
	EnvOpenAIBaseURL = "CHAT_RELAY_OPENAI_BASE_URL"
	EnvModel         = "CHAT_RELAY_MODEL"
	EnvDB            = "CHAT_RELAY_DB"
	EnvDashboardAddr = "CHAT_RELAY_DASHBOARD_ADDR"
	EnvDashboardKey  = "CHAT_RELAY_DASHBOARD_TOKEN"
	EnvWindowSize    = "CHAT_RELAY_WINDOW_SIZE"
	EnvLogLevel      = "CHAT_RELAY_LOG_LEVEL"
)

type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Store     StoreConfig     `yaml:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Admin     AdminConfig     `yaml:"admin"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
}

type DiscordConfig struct {
	Token string `yaml:"token"`
	// ManagementGuildID receives the management commands. Empty registers
	// them globally.
	ManagementGuildID string `yaml:"management_guild_id"`
	// Status is the presence text set on connect.
	Status string `yaml:"status"`
}

type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	// Mock answers locally instead of calling the API.
	Mock bool `yaml:"mock"`
}

type StoreConfig struct {
	Path       string        `yaml:"path"`
	MaxPerPair int           `yaml:"max_per_pair"`
	MaxAge     time.Duration `yaml:"max_age"`
}

type PipelineConfig struct {
	WindowSize int `yaml:"window_size"`
	// PromptFile is re-read on every prompt reload. When empty
	// SystemPrompt is used as is.
	PromptFile   string `yaml:"prompt_file"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxUnitSize  int    `yaml:"max_unit_size"`
	QueueSize    int    `yaml:"queue_size"`
}

type AdminConfig struct {
	UserIDs []string `yaml:"user_ids"`
	RoleIDs []string `yaml:"role_ids"`
}

type DashboardConfig struct {
	// Addr is the listen address. Empty disables the dashboard.
	Addr string `yaml:"addr"`
	// Token, when set, is required as a bearer token on every request.
	Token string `yaml:"token"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Default returns the configuration used before any file or override.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		OpenAI: OpenAIConfig{
			Model:   "gpt-4o",
			Timeout: 2 * time.Minute,
		},
		Store: StoreConfig{
			Path:       filepath.Join(home, ".chat-relay", "relay.db"),
			MaxPerPair: 20,
			MaxAge:     48 * time.Hour,
		},
		Pipeline: PipelineConfig{
			WindowSize:  15,
			MaxUnitSize: 2000,
			QueueSize:   256,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Load builds a Config from defaults, the file at path and the
// environment. An empty path falls back to CHAT_RELAY_CONFIG; if that is
// unset too, no file is read.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Discord.Token, EnvDiscordToken)
	setString(&c.OpenAI.APIKey, EnvOpenAIKey)
	setString(&c.OpenAI.BaseURL, EnvOpenAIBaseURL)
	setString(&c.OpenAI.Model, EnvModel)
	setString(&c.Store.Path, EnvDB)
	setString(&c.Dashboard.Addr, EnvDashboardAddr)
	setString(&c.Dashboard.Token, EnvDashboardKey)
	setString(&c.Log.Level, EnvLogLevel)
	if v := os.Getenv(EnvWindowSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWindowSize, err)
		}
		c.Pipeline.WindowSize = n
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate checks the values the relay needs to run. Credentials are only
// checked when requireCredentials is set so offline commands work without
// them.
func (c *Config) Validate(requireCredentials bool) error {
	var errs []error
	if requireCredentials {
		if c.Discord.Token == "" {
			errs = append(errs, fmt.Errorf("discord.token is required (or %s)", EnvDiscordToken))
		}
		if c.OpenAI.APIKey == "" && !c.OpenAI.Mock {
			errs = append(errs, fmt.Errorf("openai.api_key is required (or %s)", EnvOpenAIKey))
		}
	}
	if c.OpenAI.Model == "" {
		errs = append(errs, errors.New("openai.model is required"))
	}
	if c.OpenAI.Timeout <= 0 {
		errs = append(errs, errors.New("openai.timeout must be positive"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Store.MaxPerPair < 1 {
		errs = append(errs, errors.New("store.max_per_pair must be at least 1"))
	}
	if c.Store.MaxAge <= 0 {
		errs = append(errs, errors.New("store.max_age must be positive"))
	}
	if c.Pipeline.WindowSize < 0 || c.Pipeline.WindowSize > assembler.MaxWindowSize {
		errs = append(errs, fmt.Errorf("pipeline.window_size must be between 0 and %d", assembler.MaxWindowSize))
	}
	if c.Pipeline.MaxUnitSize < 1 {
		errs = append(errs, errors.New("pipeline.max_unit_size must be at least 1"))
	}
	if c.Pipeline.QueueSize < 1 {
		errs = append(errs, errors.New("pipeline.queue_size must be at least 1"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
