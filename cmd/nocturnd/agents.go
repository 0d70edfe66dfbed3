package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nocturnd/nocturnd/internal/agent"
	"github.com/nocturnd/nocturnd/internal/config"
	"github.com/nocturnd/nocturnd/internal/exec"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Detect available coding agents",
	Long: `Probe the known coding agents on this machine and report their
availability, version, authentication state and capability score.`,
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	detector := agent.NewDetector(exec.NewOrchestrator(cfg.Execution.PoolSize))
	infos := detector.Detect(ctx)

	fmt.Println("Detected agents (best first):")
	for _, info := range infos {
		symbol := color.RedString("✗")
		detail := "not installed"
		if info.Available {
			symbol = color.GreenString("✓")
			detail = info.Version
			if !info.Authenticated {
				symbol = color.YellowString("⚠")
				detail += ", not authenticated"
			}
		}
		fmt.Printf("  %s %-15s %s (score %.2f)\n", symbol, info.Kind, detail, info.Score())
	}

	if len(infos) > 0 && infos[0].Available {
		fmt.Printf("\nPreferred: %s\n", color.GreenString(string(infos[0].Kind)))
	} else {
		fmt.Printf("\n%s No coding agent available.\n", color.RedString("✗"))
	}
	return nil
}
