// Package config handles configuration loading and management for nocturnd.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for nocturnd.
type Config struct {
	Window    WindowConfig    `mapstructure:"window"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// WindowConfig holds execution-window settings.
type WindowConfig struct {
	// Start is the window opening time as "HH:MM".
	Start string `mapstructure:"start"`
	// End is the window closing time as "HH:MM". End before Start means
	// the window crosses midnight.
	End string `mapstructure:"end"`
	// Timezone is the IANA zone name the window is evaluated in.
	Timezone string `mapstructure:"timezone"`
	// Enabled toggles autonomous execution; disabled means no window
	// ever opens.
	Enabled bool `mapstructure:"enabled"`
	// PollInterval is how often the controller re-evaluates its state.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// MaxTaskDuration caps a single task's estimated run time.
	MaxTaskDuration time.Duration `mapstructure:"max_task_duration"`
	// MaxSessionDuration caps one contiguous active session.
	MaxSessionDuration time.Duration `mapstructure:"max_session_duration"`
	// MaxDailyChanges caps code-changing task completions per calendar day.
	MaxDailyChanges int `mapstructure:"max_daily_changes"`
	// ControlDir is watched for pause/resume/maintenance control files.
	// Empty disables the watcher.
	ControlDir string `mapstructure:"control_dir"`
}

// ExecutionConfig holds process orchestration settings.
type ExecutionConfig struct {
	// PoolSize bounds simultaneous external processes.
	PoolSize int `mapstructure:"pool_size"`
	// DefaultTimeout applies when an adapter sets no timeout of its own.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// AgentsConfig holds agent adapter settings.
type AgentsConfig struct {
	// Preferred is the agent tried first; empty means the registry default.
	Preferred string `mapstructure:"preferred"`
	// FallbackEnabled permits trying other agents after the first fails.
	FallbackEnabled bool `mapstructure:"fallback_enabled"`
	// MaxRetries bounds per-adapter retries before fallback.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBackoffBase seeds the exponential backoff between retries.
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
	// TaskTimeout bounds one agent invocation.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// SafetyConfig holds safety coordinator settings.
type SafetyConfig struct {
	// BackupRetentionDays prunes backups older than this many days.
	BackupRetentionDays int `mapstructure:"backup_retention_days"`
	// MaxBackups caps retained backups regardless of age.
	MaxBackups int `mapstructure:"max_backups"`
	// RollbackRetentionDays prunes rollback points older than this.
	RollbackRetentionDays int `mapstructure:"rollback_retention_days"`
	// BlockLevel is the minimum danger level that vetoes execution
	// ("high" or "critical").
	BlockLevel string `mapstructure:"block_level"`
	// DisabledCategories lists danger-pattern categories to turn off.
	DisabledCategories []string `mapstructure:"disabled_categories"`
	// CustomPatternsFile is an optional YAML file of extra danger patterns.
	CustomPatternsFile string `mapstructure:"custom_patterns_file"`
	// StorePath overrides the SQLite store location. Empty uses
	// <project>/.nocturnd/safety.db.
	StorePath string `mapstructure:"store_path"`
}

// QualityConfig holds improvement-cycle settings.
type QualityConfig struct {
	// Threshold is the minimum acceptable overall score.
	Threshold float64 `mapstructure:"threshold"`
	// MaxAttempts bounds improvement rounds per task.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// AnthropicConfig holds Anthropic API settings for the API adapter and the
// failure analyzer.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.nocturnd.yaml in current directory or parent)
// 3. User config (~/.config/nocturnd/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values. The window and limit defaults
// match the nightly runner's intended operating profile.
func setDefaults(v *viper.Viper) {
	v.SetDefault("window.start", "22:00")
	v.SetDefault("window.end", "06:00")
	v.SetDefault("window.timezone", "UTC")
	v.SetDefault("window.enabled", true)
	v.SetDefault("window.poll_interval", "60s")
	v.SetDefault("window.max_task_duration", "30m")
	v.SetDefault("window.max_session_duration", "8h")
	v.SetDefault("window.max_daily_changes", 10)
	v.SetDefault("window.control_dir", "")

	v.SetDefault("execution.pool_size", 3)
	v.SetDefault("execution.default_timeout", "5m")

	v.SetDefault("agents.preferred", "")
	v.SetDefault("agents.fallback_enabled", true)
	v.SetDefault("agents.max_retries", 3)
	v.SetDefault("agents.retry_backoff_base", "2s")
	v.SetDefault("agents.task_timeout", "10m")

	v.SetDefault("safety.backup_retention_days", 30)
	v.SetDefault("safety.max_backups", 50)
	v.SetDefault("safety.rollback_retention_days", 7)
	v.SetDefault("safety.block_level", "high")
	v.SetDefault("safety.disabled_categories", []string{})
	v.SetDefault("safety.custom_patterns_file", "")
	v.SetDefault("safety.store_path", "")

	v.SetDefault("quality.threshold", 0.85)
	v.SetDefault("quality.max_attempts", 3)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)
}

// getUserConfigDir returns the XDG config directory for nocturnd.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nocturnd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "nocturnd")
	}
	return filepath.Join(home, ".config", "nocturnd")
}

// findProjectConfig searches for .nocturnd.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".nocturnd.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Start:              "22:00",
			End:                "06:00",
			Timezone:           "UTC",
			Enabled:            true,
			PollInterval:       60 * time.Second,
			MaxTaskDuration:    30 * time.Minute,
			MaxSessionDuration: 8 * time.Hour,
			MaxDailyChanges:    10,
		},
		Execution: ExecutionConfig{
			PoolSize:       3,
			DefaultTimeout: 5 * time.Minute,
		},
		Agents: AgentsConfig{
			FallbackEnabled:  true,
			MaxRetries:       3,
			RetryBackoffBase: 2 * time.Second,
			TaskTimeout:      10 * time.Minute,
		},
		Safety: SafetyConfig{
			BackupRetentionDays:   30,
			MaxBackups:            50,
			RollbackRetentionDays: 7,
			BlockLevel:            "high",
		},
		Quality: QualityConfig{
			Threshold:   0.85,
			MaxAttempts: 3,
		},
	}
}
