package agent

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nocturnd/nocturnd/internal/exec"
	"github.com/nocturnd/nocturnd/pkg/models"
)

// Info describes one detected agent installation.
type Info struct {
	// Kind identifies the agent backend.
	Kind models.AgentKind
	// Available is true when the binary exists and answers a version probe.
	Available bool
	// Version is the reported tool version, when parseable.
	Version string
	// Authenticated is true when the tool has working credentials. Agents
	// without an auth probe report true whenever available.
	Authenticated bool
	// Priority orders agents for selection; lower is preferred.
	Priority int
	// Capabilities maps capability names to confidence in [0,1]. An
	// unauthenticated install has every confidence halved.
	Capabilities map[string]float64
}

// Score sums the capability confidences. Used as a ranking tiebreaker.
func (i Info) Score() float64 {
	var total float64
	for _, c := range i.Capabilities {
		total += c
	}
	return total
}

// probeSpec describes how one agent kind is detected.
type probeSpec struct {
	kind         models.AgentKind
	binary       string
	versionArgv  []string
	authArgv     []string
	priority     int
	capabilities map[string]float64
}

var probeSpecs = []probeSpec{
	{
		kind:        models.AgentClaudeCode,
		binary:      "claude",
		versionArgv: []string{"claude", "--version"},
		priority:    1,
		capabilities: map[string]float64{
			"code_generation": 0.95,
			"refactoring":     0.90,
			"debugging":       0.85,
			"documentation":   0.90,
		},
	},
	{
		kind:        models.AgentGitHubCopilot,
		binary:      "gh",
		versionArgv: []string{"gh", "--version"},
		authArgv:    []string{"gh", "auth", "status"},
		priority:    3,
		capabilities: map[string]float64{
			"code_generation": 0.85,
			"refactoring":     0.70,
			"debugging":       0.60,
			"documentation":   0.70,
		},
	},
	{
		kind:        models.AgentCursor,
		binary:      "cursor-agent",
		versionArgv: []string{"cursor-agent", "--version"},
		priority:    4,
		capabilities: map[string]float64{
			"code_generation": 0.80,
			"refactoring":     0.75,
			"debugging":       0.70,
			"documentation":   0.60,
		},
	},
}

// Detector probes the host for installed coding agents.
type Detector struct {
	runner exec.Runner
}

// NewDetector creates a detector that probes through the given runner.
func NewDetector(runner exec.Runner) *Detector {
	return &Detector{runner: runner}
}

// Detect probes all known agents concurrently and returns them ranked:
// available before unavailable, then by priority, then by capability score.
func (d *Detector) Detect(ctx context.Context) []Info {
	infos := make([]Info, len(probeSpecs))

	var wg sync.WaitGroup
	for i, spec := range probeSpecs {
		wg.Add(1)
		go func(i int, spec probeSpec) {
			defer wg.Done()
			infos[i] = d.probe(ctx, spec)
		}(i, spec)
	}
	wg.Wait()

	sort.SliceStable(infos, func(a, b int) bool {
		if infos[a].Available != infos[b].Available {
			return infos[a].Available
		}
		if infos[a].Priority != infos[b].Priority {
			return infos[a].Priority < infos[b].Priority
		}
		return infos[a].Score() > infos[b].Score()
	})
	return infos
}

// Best returns the highest-ranked available agent, if any.
func (d *Detector) Best(ctx context.Context) (Info, bool) {
	for _, info := range d.Detect(ctx) {
		if info.Available {
			return info, true
		}
	}
	return Info{}, false
}

func (d *Detector) probe(ctx context.Context, spec probeSpec) Info {
	info := Info{
		Kind:         spec.kind,
		Priority:     spec.priority,
		Capabilities: copyCapabilities(spec.capabilities),
	}

	if !exec.LookPath(spec.binary) {
		return info
	}

	res, err := d.runner.Run(ctx, exec.Command{
		Argv:    spec.versionArgv,
		Timeout: versionProbeTimeout,
	})
	if err != nil || !res.Success {
		return info
	}

	info.Available = true
	info.Version = parseVersion(res.Stdout)
	info.Authenticated = true

	if len(spec.authArgv) > 0 {
		authRes, err := d.runner.Run(ctx, exec.Command{
			Argv:    spec.authArgv,
			Timeout: versionProbeTimeout,
		})
		if err != nil || !authRes.Success {
			info.Authenticated = false
			for name, c := range info.Capabilities {
				info.Capabilities[name] = c / 2
			}
		}
	}

	return info
}

// parseVersion extracts the first version-looking token from probe output.
func parseVersion(out string) string {
	for _, field := range strings.Fields(out) {
		if len(field) > 0 && field[0] >= '0' && field[0] <= '9' && strings.Contains(field, ".") {
			return field
		}
	}
	return strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
}

func copyCapabilities(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
