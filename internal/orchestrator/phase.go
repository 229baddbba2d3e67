package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/issueflow/internal/plugin"
)

// Policy selects how a phase executes its candidates.
type Policy int

const (
	// PolicySequential runs the most recently discovered candidate, one per
	// round, until nothing new applies.
	PolicySequential Policy = iota
	// PolicyParallel runs every candidate of a round, then re-tests.
	PolicyParallel
	// PolicyAlternative runs at most one candidate, chosen by the arbiter.
	PolicyAlternative
)

// Phase name suffixes that select a policy.
const (
	SuffixParallel    = "-parallel"
	SuffixAlternative = "-alternative"
)

// PolicyFromName decodes the execution policy from a phase name suffix.
func PolicyFromName(name string) Policy {
	switch {
	case strings.HasSuffix(name, SuffixParallel):
		return PolicyParallel
	case strings.HasSuffix(name, SuffixAlternative):
		return PolicyAlternative
	default:
		return PolicySequential
	}
}

func (p Policy) String() string {
	switch p {
	case PolicySequential:
		return "sequential"
	case PolicyParallel:
		return "parallel"
	case PolicyAlternative:
		return "alternative"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Phase is a named step with its plugins in registration order.
type Phase struct {
	Name    string
	Policy  Policy
	Plugins []plugin.Plugin
}

// NewPhase builds a phase, decoding its policy from the name.
func NewPhase(name string, plugins []plugin.Plugin) Phase {
	return Phase{Name: name, Policy: PolicyFromName(name), Plugins: plugins}
}

// PhaseInfo describes a configured phase.
type PhaseInfo struct {
	Name    string   `json:"name"`
	Policy  Policy   `json:"policy"`
	Plugins []string `json:"plugins"`
}
