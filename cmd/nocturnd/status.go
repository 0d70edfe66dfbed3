package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nocturnd/nocturnd/internal/config"
	"github.com/nocturnd/nocturnd/internal/safety"
	"github.com/nocturnd/nocturnd/internal/window"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the window state and recent safety activity",
	Long: `Display the execution window state for the current configuration and
the most recent backups and rollback points recorded for this project.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctrl, err := window.NewController(cfg.Window)
	if err != nil {
		return fmt.Errorf("window controller: %w", err)
	}
	ctrl.Evaluate()
	st := ctrl.Status()

	fmt.Printf("Window:   %s (%s)\n", ctrl.Window(), cfg.Window.Timezone)
	fmt.Printf("State:    %s\n", colorState(st.State))
	switch st.State {
	case window.StateActive:
		fmt.Printf("Closes:   in %s\n", ctrl.RemainingWindowTime().Round(time.Minute))
	case window.StateInactive:
		fmt.Printf("Opens:    in %s\n", ctrl.TimeUntilNextWindow().Round(time.Minute))
	}
	fmt.Printf("Limits:   %d daily changes, %s per task, %s per session\n",
		cfg.Window.MaxDailyChanges, cfg.Window.MaxTaskDuration, cfg.Window.MaxSessionDuration)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	storePath := cfg.Safety.StorePath
	if storePath == "" {
		storePath = safety.DefaultStorePath(cwd)
	}
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		fmt.Println("\nNo safety history yet. Run 'nocturnd run <task>' to start.")
		return nil
	}

	store, err := safety.OpenStore(storePath)
	if err != nil {
		return fmt.Errorf("open safety store: %w", err)
	}
	defer store.Close()

	backups, err := store.ListBackups(5)
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	fmt.Printf("\nRecent backups (%d):\n", len(backups))
	for _, b := range backups {
		fmt.Printf("  %s  %-11s  %-10s  session %.8s\n",
			b.CreatedAt.Local().Format(time.DateTime), b.Type, b.Verification, b.SessionID)
	}

	points, err := store.ListRollbackPoints(5)
	if err != nil {
		return fmt.Errorf("list rollback points: %w", err)
	}
	fmt.Printf("\nRecent rollback points (%d):\n", len(points))
	for _, p := range points {
		fmt.Printf("  %s  %.8s  %s\n",
			p.CreatedAt.Local().Format(time.DateTime), p.Commit, p.Description)
	}
	return nil
}

func colorState(s window.State) string {
	switch s {
	case window.StateActive:
		return color.GreenString(string(s))
	case window.StatePaused, window.StateMaintenance:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}
