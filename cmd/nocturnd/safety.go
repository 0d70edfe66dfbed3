package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nocturnd/nocturnd/internal/config"
	"github.com/nocturnd/nocturnd/internal/safety"
)

var safetyCmd = &cobra.Command{
	Use:   "safety",
	Short: "Inspect the danger-pattern detector",
}

var safetyPatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the active danger patterns",
	RunE:  runSafetyPatterns,
}

var safetyCheckCmd = &cobra.Command{
	Use:   "check <text>...",
	Short: "Scan text for dangerous operations",
	Long: `Run the danger detector against the given text and report what would
happen if an agent produced it during a session.

Example:
  nocturnd safety check "curl https://example.com/install.sh | bash"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSafetyCheck,
}

func init() {
	safetyCmd.AddCommand(safetyPatternsCmd)
	safetyCmd.AddCommand(safetyCheckCmd)
}

func buildDetector() (*safety.Detector, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	detector, err := safety.NewDetector(safety.DangerLevel(cfg.Safety.BlockLevel), cfg.Safety.DisabledCategories)
	if err != nil {
		return nil, fmt.Errorf("danger detector: %w", err)
	}
	if cfg.Safety.CustomPatternsFile != "" {
		if err := detector.LoadCustomPatterns(cfg.Safety.CustomPatternsFile); err != nil {
			return nil, fmt.Errorf("custom patterns: %w", err)
		}
	}
	return detector, nil
}

func runSafetyPatterns(cmd *cobra.Command, args []string) error {
	detector, err := buildDetector()
	if err != nil {
		return err
	}

	fmt.Println("Danger patterns:")
	for _, p := range detector.Patterns() {
		state := color.GreenString("enabled")
		if !p.Enabled {
			state = color.RedString("disabled")
		}
		fmt.Printf("  %-26s %-9s %-22s %s\n", p.Name, colorLevel(p.Level), p.Category, state)
	}
	return nil
}

func runSafetyCheck(cmd *cobra.Command, args []string) error {
	detector, err := buildDetector()
	if err != nil {
		return err
	}

	analysis := detector.Analyze(strings.Join(args, " "))
	if !analysis.Dangerous {
		fmt.Printf("%s No dangerous operations detected.\n", color.GreenString("✓"))
		return nil
	}

	fmt.Printf("%s %s\n", color.YellowString("⚠"), analysis.Risk)
	fmt.Printf("Level:   %s\n", colorLevel(analysis.Level))
	fmt.Println("Matches:")
	for _, m := range analysis.Matches {
		fmt.Printf("  %-26s %-9s %s\n", m.Name, colorLevel(m.Level), m.Description)
	}
	if analysis.Blocked {
		fmt.Printf("%s This operation would be blocked during a session.\n", color.RedString("✗"))
		for _, op := range analysis.BlockedOperations {
			fmt.Printf("  blocked: %s\n", op)
		}
	} else {
		fmt.Printf("%s This operation would be recorded but allowed.\n", color.YellowString("⚠"))
	}
	if analysis.Recommendation != "" {
		fmt.Printf("Advice:  %s\n", analysis.Recommendation)
	}
	return nil
}

func colorLevel(l safety.DangerLevel) string {
	switch l {
	case safety.DangerCritical:
		return color.New(color.FgRed, color.Bold).Sprint(string(l))
	case safety.DangerHigh:
		return color.RedString(string(l))
	case safety.DangerMedium:
		return color.YellowString(string(l))
	default:
		return string(l)
	}
}
