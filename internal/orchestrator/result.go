package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// PassResult summarizes one Run.
type PassResult struct {
	ID     uuid.UUID    `json:"pass_id"`
	Reward float64      `json:"reward"`
	Visits []PhaseVisit `json:"visits"`
}

// PhaseVisit records one phase invocation. A phase re-entered after a jump
// produces a second visit.
type PhaseVisit struct {
	Phase        string        `json:"phase"`
	Policy       Policy        `json:"policy"`
	Rounds       int           `json:"rounds"`
	Executed     []string      `json:"executed"`
	TestFailures int           `json:"test_failures,omitempty"`
	ActFailures  int           `json:"act_failures,omitempty"`
	Redirect     string        `json:"redirect,omitempty"`
	Reward       float64       `json:"reward"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Phases returns the phase names in visit order.
func (r *PassResult) Phases() []string {
	out := make([]string, len(r.Visits))
	for i, v := range r.Visits {
		out[i] = v.Phase
	}
	return out
}

// Executed returns every executed label across the pass, in order.
func (r *PassResult) Executed() []string {
	var out []string
	for _, v := range r.Visits {
		out = append(out, v.Executed...)
	}
	return out
}
