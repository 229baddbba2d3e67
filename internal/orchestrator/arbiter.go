package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"go.uber.org/zap"
)

// ErrArbiterContract is wrapped by errors caused by an arbiter answering with
// a label it was not offered.
var ErrArbiterContract = errors.New("arbiter contract violation")

// Arbiter picks one candidate label when an alternative phase has several.
//
// Decide receives the labels in candidate order and must return one of them
// verbatim. Finish is called once a pass completes, so the arbiter can credit
// the issue's final reward to its earlier decisions.
type Arbiter interface {
	Decide(ctx context.Context, is *issue.Issue, labels []string) (string, error)
	Finish(ctx context.Context, is *issue.Issue) error
}

// Discarder is implemented by arbiters that keep per-issue state between
// Decide and Finish. Process calls Discard instead of Finish when a pass
// fails, so decisions of an abandoned pass are dropped without credit.
type Discarder interface {
	Discard(ctx context.Context, is *issue.Issue)
}

// ChoiceError reports an arbiter answer that matches no candidate.
type ChoiceError struct {
	Phase  string
	Choice string
	Labels []string
}

func (e *ChoiceError) Error() string {
	return fmt.Sprintf("phase %s: arbiter chose %q, offered %q", e.Phase, e.Choice, e.Labels)
}

func (e *ChoiceError) Unwrap() error {
	return ErrArbiterContract
}

// choose returns the candidate to run in an alternative phase. A single
// candidate, or a missing arbiter, selects the first.
func (p *pass) choose(ctx context.Context, ph Phase, cands []Candidate) (Candidate, error) {
	if len(cands) == 1 || p.o.arbiter == nil {
		return cands[0], nil
	}

	offered := labels(cands)
	choice, err := p.o.arbiter.Decide(ctx, p.issue, offered)
	if err != nil {
		p.o.metrics.ArbiterDecisions.WithLabelValues(ph.Name, "error").Inc()
		return Candidate{}, fmt.Errorf("phase %s: arbiter decide: %w", ph.Name, err)
	}
	for i, label := range offered {
		if label == choice {
			p.o.metrics.ArbiterDecisions.WithLabelValues(ph.Name, "ok").Inc()
			p.o.logger.Debug(ctx, "arbiter decided",
				zap.String("choice", choice),
				zap.Strings("offered", offered),
			)
			return cands[i], nil
		}
	}
	p.o.metrics.ArbiterDecisions.WithLabelValues(ph.Name, "invalid").Inc()
	return Candidate{}, &ChoiceError{Phase: ph.Name, Choice: choice, Labels: offered}
}
