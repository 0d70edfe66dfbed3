// Package safety guards autonomous execution: dangerous-operation
// detection, pre-execution backups, rollback points, and the coordinator
// that runs the per-task safety protocol.
package safety

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DangerLevel grades how dangerous a detected operation is.
type DangerLevel string

const (
	DangerSafe     DangerLevel = "safe"
	DangerLow      DangerLevel = "low"
	DangerMedium   DangerLevel = "medium"
	DangerHigh     DangerLevel = "high"
	DangerCritical DangerLevel = "critical"
)

// Valid returns true if the level is a known value.
func (l DangerLevel) Valid() bool {
	switch l {
	case DangerSafe, DangerLow, DangerMedium, DangerHigh, DangerCritical:
		return true
	default:
		return false
	}
}

// Rank orders levels for comparison; higher is more dangerous.
func (l DangerLevel) Rank() int {
	switch l {
	case DangerLow:
		return 1
	case DangerMedium:
		return 2
	case DangerHigh:
		return 3
	case DangerCritical:
		return 4
	default:
		return 0
	}
}

// Pattern is one dangerous-operation detection rule.
type Pattern struct {
	Name        string      `yaml:"name"`
	Pattern     string      `yaml:"pattern"`
	Level       DangerLevel `yaml:"danger_level"`
	Description string      `yaml:"description"`
	Category    string      `yaml:"category"`
	Enabled     bool        `yaml:"enabled"`

	re *regexp.Regexp
}

// Analysis is the outcome of scanning one piece of code or one command.
type Analysis struct {
	// Dangerous is true when any pattern matched.
	Dangerous bool
	// Level is the highest danger level among the matches.
	Level DangerLevel
	// Matches names the patterns that fired, most dangerous first.
	Matches []Pattern
	// Blocked is true when the level meets the detector's block threshold.
	Blocked bool
	// BlockedOperations holds the literal text matched by patterns at or
	// above the block threshold.
	BlockedOperations []string
	// Risk is a human-readable description of what was found.
	Risk string
	// Recommendation suggests what to do about it.
	Recommendation string
}

// Detector scans code and commands against a pattern set. Patterns can be
// added, removed, and toggled at runtime.
type Detector struct {
	mu         sync.RWMutex
	patterns   []*Pattern
	blockLevel DangerLevel
	matchStats map[string]int
	scans      int
}

// NewDetector creates a detector with the builtin pattern set. Operations
// at or above blockLevel are flagged as blocked; categories in disabled
// start out turned off.
func NewDetector(blockLevel DangerLevel, disabledCategories []string) (*Detector, error) {
	if blockLevel == "" {
		blockLevel = DangerHigh
	}
	if !blockLevel.Valid() {
		return nil, fmt.Errorf("invalid block level %q", blockLevel)
	}

	d := &Detector{
		blockLevel: blockLevel,
		matchStats: make(map[string]int),
	}
	for _, p := range builtinPatterns() {
		if err := d.add(p); err != nil {
			return nil, err
		}
	}
	for _, cat := range disabledCategories {
		d.SetCategoryEnabled(cat, false)
	}
	return d, nil
}

// builtinPatterns is the default rule set. All patterns match
// case-insensitively.
func builtinPatterns() []Pattern {
	return []Pattern{
		{Name: "rm_recursive", Pattern: `\brm\s+.*-[rf]+.*\*|rm\s+-[rf]+\s*/`,
			Level: DangerCritical, Description: "Recursive file deletion command", Category: "filesystem", Enabled: true},
		{Name: "format_drive", Pattern: `\bformat\s+[a-z]:|diskutil\s+eraseDisk|mkfs\.`,
			Level: DangerCritical, Description: "Drive formatting command", Category: "filesystem", Enabled: true},
		{Name: "chmod_777", Pattern: `\bchmod\s+777\s+/`,
			Level: DangerHigh, Description: "Setting dangerous permissions on system directories", Category: "filesystem", Enabled: true},

		{Name: "curl_pipe_bash", Pattern: `curl\s+.*\|\s*bash|wget\s+.*\|\s*sh`,
			Level: DangerHigh, Description: "Downloading and executing remote scripts", Category: "network", Enabled: true},
		{Name: "nc_backdoor", Pattern: `\bnc\s+.*-[el]+.*\d+.*sh\b|netcat\s+.*-[el]+.*\d+.*sh\b`,
			Level: DangerCritical, Description: "Creating network backdoor", Category: "network", Enabled: true},

		{Name: "sudoers_modification", Pattern: `echo\s+.*>>\s*/etc/sudoers|visudo`,
			Level: DangerCritical, Description: "Modifying sudo configuration", Category: "system", Enabled: true},
		{Name: "crontab_modification", Pattern: `crontab\s+-[er]|echo\s+.*>>\s*/etc/crontab`,
			Level: DangerHigh, Description: "Modifying scheduled tasks", Category: "system", Enabled: true},
		{Name: "service_manipulation", Pattern: `systemctl\s+disable|service\s+.*stop|launchctl\s+unload`,
			Level: DangerHigh, Description: "Disabling system services", Category: "system", Enabled: true},

		{Name: "eval_injection", Pattern: `\beval\s*\(\s*["'].*user|exec\s*\(\s*["'].*input`,
			Level: DangerHigh, Description: "Potential code injection via eval/exec", Category: "code", Enabled: true},
		{Name: "sql_injection_pattern", Pattern: `execute\s*\(\s*["'].*%s|query\s*\(\s*["'].*\+`,
			Level: DangerHigh, Description: "Potential SQL injection pattern", Category: "code", Enabled: true},

		{Name: "hardcoded_secrets", Pattern: `password\s*=\s*["'][^"']{8,}["']|api[_-]?key\s*=\s*["'][^"']{16,}["']`,
			Level: DangerMedium, Description: "Hardcoded secrets in code", Category: "security", Enabled: true},
		{Name: "crypto_key_generation", Pattern: `openssl\s+genrsa|ssh-keygen\s+.*-f\s*/|gpg\s+--gen-key`,
			Level: DangerMedium, Description: "Cryptographic key generation", Category: "security", Enabled: true},

		{Name: "database_drop", Pattern: `DROP\s+DATABASE|DELETE\s+FROM\s+\*|TRUNCATE\s+TABLE`,
			Level: DangerCritical, Description: "Database destruction commands", Category: "database", Enabled: true},

		{Name: "kill_system_processes", Pattern: `pkill\s+-9|killall\s+.*ssh|kill\s+-9\s+1\b`,
			Level: DangerHigh, Description: "Killing critical system processes", Category: "process", Enabled: true},

		{Name: "git_force_operations", Pattern: `git\s+push\s+.*--force|git\s+reset\s+--hard\s+HEAD~\d+`,
			Level: DangerMedium, Description: "Destructive git operations", Category: "git", Enabled: true},
		{Name: "git_clean_force", Pattern: `git\s+clean\s+-[fxd]+`,
			Level: DangerMedium, Description: "Aggressive git cleanup", Category: "git", Enabled: true},

		{Name: "path_manipulation", Pattern: `export\s+PATH\s*=\s*["']?/tmp|PATH\s*=\s*["']?/var/tmp`,
			Level: DangerMedium, Description: "Dangerous PATH modifications", Category: "environment", Enabled: true},
	}
}

func (d *Detector) add(p Pattern) error {
	re, err := regexp.Compile("(?i)" + p.Pattern)
	if err != nil {
		return fmt.Errorf("pattern %s: %w", p.Name, err)
	}
	if !p.Level.Valid() || p.Level == DangerSafe {
		return fmt.Errorf("pattern %s: invalid danger level %q", p.Name, p.Level)
	}
	p.re = re

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.patterns {
		if existing.Name == p.Name {
			d.patterns[i] = &p
			return nil
		}
	}
	d.patterns = append(d.patterns, &p)
	return nil
}

// AddPattern registers a rule at runtime, replacing any rule with the
// same name.
func (d *Detector) AddPattern(p Pattern) error {
	return d.add(p)
}

// RemovePattern deletes a rule by name.
func (d *Detector) RemovePattern(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range d.patterns {
		if p.Name == name {
			d.patterns = append(d.patterns[:i], d.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// SetPatternEnabled toggles one rule by name.
func (d *Detector) SetPatternEnabled(name string, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.patterns {
		if p.Name == name {
			p.Enabled = enabled
			return true
		}
	}
	return false
}

// SetCategoryEnabled toggles every rule in a category.
func (d *Detector) SetCategoryEnabled(category string, enabled bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.patterns {
		if p.Category == category {
			p.Enabled = enabled
			n++
		}
	}
	return n
}

// Patterns returns a copy of the current rule set.
func (d *Detector) Patterns() []Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Pattern, len(d.patterns))
	for i, p := range d.patterns {
		out[i] = *p
	}
	return out
}

// LoadCustomPatterns reads additional rules from a YAML file and registers
// them. The file is a list of pattern objects.
func (d *Detector) LoadCustomPatterns(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read custom patterns: %w", err)
	}

	var patterns []Pattern
	if err := yaml.Unmarshal(data, &patterns); err != nil {
		return fmt.Errorf("parse custom patterns: %w", err)
	}

	for _, p := range patterns {
		if p.Level == "" {
			p.Level = DangerMedium
		}
		if p.Category == "" {
			p.Category = "custom"
		}
		if err := d.add(p); err != nil {
			return err
		}
	}
	log.Printf("[safety] loaded %d custom danger patterns from %s", len(patterns), path)
	return nil
}

// Analyze scans text against every enabled rule.
func (d *Detector) Analyze(text string) Analysis {
	d.mu.Lock()
	d.scans++
	patterns := make([]*Pattern, len(d.patterns))
	copy(patterns, d.patterns)
	blockLevel := d.blockLevel
	d.mu.Unlock()

	a := Analysis{Level: DangerSafe}
	for _, p := range patterns {
		if !p.Enabled {
			continue
		}
		if p.re.MatchString(text) {
			a.Matches = append(a.Matches, *p)
			if p.Level.Rank() > a.Level.Rank() {
				a.Level = p.Level
			}
			if p.Level.Rank() >= blockLevel.Rank() {
				a.BlockedOperations = append(a.BlockedOperations, p.re.FindAllString(text, -1)...)
			}
			d.mu.Lock()
			d.matchStats[p.Name]++
			d.mu.Unlock()
		}
	}

	a.Dangerous = len(a.Matches) > 0
	a.Blocked = a.Level.Rank() >= blockLevel.Rank()
	sort.SliceStable(a.Matches, func(i, j int) bool {
		return a.Matches[i].Level.Rank() > a.Matches[j].Level.Rank()
	})
	a.Risk = describeRisk(a)
	a.Recommendation = recommend(a)
	return a
}

func describeRisk(a Analysis) string {
	if !a.Dangerous {
		return "No dangerous patterns detected"
	}
	names := make([]string, len(a.Matches))
	for i, m := range a.Matches {
		names[i] = m.Name
	}
	return fmt.Sprintf("%s risk: matched %s", a.Level, strings.Join(names, ", "))
}

func recommend(a Analysis) string {
	switch {
	case a.Blocked:
		return "Operation blocked; require manual review before proceeding"
	case a.Dangerous:
		return "Proceed with caution; a rollback point will be kept"
	default:
		return "Safe to proceed"
	}
}

// Stats reports scan and match counters.
func (d *Detector) Stats() (scans int, matchesByPattern map[string]int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.matchStats))
	for k, v := range d.matchStats {
		out[k] = v
	}
	return d.scans, out
}
