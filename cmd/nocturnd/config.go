package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nocturnd/nocturnd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show configuration",
	Long: `Display the effective configuration.

Without arguments, displays all values. With one argument, displays the
value for that key.

Configuration is stored at ~/.config/nocturnd/config.yaml
Project-specific overrides can be placed in .nocturnd.yaml`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		values := configValues(cfg)
		if len(args) == 1 {
			value, ok := values[args[0]]
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: unknown key %q\n", args[0])
				os.Exit(1)
			}
			fmt.Println(value)
			return
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s: %s\n", k, values[k])
		}
	},
}

// configValues flattens the config for display. The API key is masked.
func configValues(cfg *config.Config) map[string]string {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	return map[string]string{
		"window.start":                 cfg.Window.Start,
		"window.end":                   cfg.Window.End,
		"window.timezone":              cfg.Window.Timezone,
		"window.enabled":               fmt.Sprintf("%t", cfg.Window.Enabled),
		"window.poll_interval":         cfg.Window.PollInterval.String(),
		"window.max_task_duration":     cfg.Window.MaxTaskDuration.String(),
		"window.max_session_duration":  cfg.Window.MaxSessionDuration.String(),
		"window.max_daily_changes":     fmt.Sprintf("%d", cfg.Window.MaxDailyChanges),
		"window.control_dir":           cfg.Window.ControlDir,
		"execution.pool_size":          fmt.Sprintf("%d", cfg.Execution.PoolSize),
		"execution.default_timeout":    cfg.Execution.DefaultTimeout.String(),
		"agents.preferred":             cfg.Agents.Preferred,
		"agents.fallback_enabled":      fmt.Sprintf("%t", cfg.Agents.FallbackEnabled),
		"agents.max_retries":           fmt.Sprintf("%d", cfg.Agents.MaxRetries),
		"agents.retry_backoff_base":    cfg.Agents.RetryBackoffBase.String(),
		"agents.task_timeout":          cfg.Agents.TaskTimeout.String(),
		"safety.backup_retention_days": fmt.Sprintf("%d", cfg.Safety.BackupRetentionDays),
		"safety.max_backups":           fmt.Sprintf("%d", cfg.Safety.MaxBackups),
		"safety.block_level":           cfg.Safety.BlockLevel,
		"quality.threshold":            fmt.Sprintf("%.2f", cfg.Quality.Threshold),
		"quality.max_attempts":         fmt.Sprintf("%d", cfg.Quality.MaxAttempts),
		"anthropic.api_key":            apiKeyDisplay,
		"anthropic.model":              cfg.Anthropic.Model,
		"anthropic.use_bedrock":        fmt.Sprintf("%t", cfg.Anthropic.UseBedrock),
	}
}
