package arbiter

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
)

// ArmStats is the learned value of one label.
type ArmStats struct {
	Label      string  `json:"label"`
	Pulls      int     `json:"pulls"`
	MeanReward float64 `json:"mean_reward"`
}

type arm struct {
	pulls int
	total float64
}

func (a *arm) mean() float64 {
	if a.pulls == 0 {
		return 0
	}
	return a.total / float64(a.pulls)
}

// Bandit is an epsilon-greedy arbiter. It explores a random label with
// probability epsilon and otherwise exploits the best mean reward, trying
// never-credited labels first. Choices are credited with the issue's final
// reward when Finish is called.
//
// Bandit is safe for concurrent passes.
type Bandit struct {
	epsilon float64

	mu      sync.Mutex
	rng     *rand.Rand
	arms    map[string]*arm
	pending map[*issue.Issue][]string
}

// NewBandit creates a Bandit. A zero seed draws a random one.
func NewBandit(epsilon float64, seed uint64) *Bandit {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Bandit{
		epsilon: epsilon,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		arms:    make(map[string]*arm),
		pending: make(map[*issue.Issue][]string),
	}
}

// Decide implements orchestrator.Arbiter.
func (b *Bandit) Decide(_ context.Context, is *issue.Issue, labels []string) (string, error) {
	if len(labels) == 0 {
		return "", ErrNoLabels
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var choice string
	if b.rng.Float64() < b.epsilon {
		choice = labels[b.rng.IntN(len(labels))]
	} else {
		choice = b.best(labels)
	}
	b.pending[is] = append(b.pending[is], choice)
	return choice, nil
}

// best returns the first never-credited label, else the highest mean.
// Ties go to the earlier label.
func (b *Bandit) best(labels []string) string {
	choice := labels[0]
	bestMean := 0.0
	seen := false
	for _, l := range labels {
		a, ok := b.arms[l]
		if !ok || a.pulls == 0 {
			return l
		}
		if !seen || a.mean() > bestMean {
			choice, bestMean, seen = l, a.mean(), true
		}
	}
	return choice
}

// Finish implements orchestrator.Arbiter. Every label chosen for is since
// its last Finish is credited with is.Reward.
func (b *Bandit) Finish(_ context.Context, is *issue.Issue) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.pending[is] {
		a, ok := b.arms[l]
		if !ok {
			a = &arm{}
			b.arms[l] = a
		}
		a.pulls++
		a.total += is.Reward
	}
	delete(b.pending, is)
	return nil
}

// Discard implements orchestrator.Discarder. Choices made for is are
// dropped without crediting any arm.
func (b *Bandit) Discard(_ context.Context, is *issue.Issue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, is)
}

// Pending returns the number of issues with uncredited choices.
func (b *Bandit) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns the learned values sorted by label.
func (b *Bandit) Stats() []ArmStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ArmStats, 0, len(b.arms))
	for l, a := range b.arms {
		out = append(out, ArmStats{Label: l, Pulls: a.pulls, MeanReward: a.mean()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
