package arbiter

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
)

// ErrNoLabels is returned when an arbiter is asked to choose from nothing.
var ErrNoLabels = errors.New("no labels offered")

// First always picks the first label.
type First struct{}

// Decide implements orchestrator.Arbiter.
func (First) Decide(_ context.Context, _ *issue.Issue, labels []string) (string, error) {
	if len(labels) == 0 {
		return "", ErrNoLabels
	}
	return labels[0], nil
}

// Finish implements orchestrator.Arbiter.
func (First) Finish(context.Context, *issue.Issue) error { return nil }
