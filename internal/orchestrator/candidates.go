package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/issueflow/internal/plugin"
	"go.uber.org/zap"
)

// ErrPluginPanic wraps a panic recovered from a plugin.
var ErrPluginPanic = errors.New("plugin panicked")

// Candidate is a plugin paired with one context it reported. It is only
// meaningful within the round that produced it.
type Candidate struct {
	Plugin  plugin.Plugin
	Context plugin.Context
}

// Label is the arbiter-facing identifier "<kind>:<context>".
func (c Candidate) Label() string {
	return c.Plugin.Kind() + ":" + string(c.Context)
}

func (c Candidate) key() runKey {
	return runKey{kind: c.Plugin.Kind(), context: c.Context}
}

type runKey struct {
	kind    string
	context plugin.Context
}

// ranSet is the already-run bookkeeping of one phase invocation.
type ranSet map[runKey]struct{}

// buildCandidates tests every plugin in order and returns the pairs not yet
// run, keeping each plugin's context order. It also returns the number of
// failed tests.
func (p *pass) buildCandidates(ctx context.Context, ph Phase, ran ranSet) ([]Candidate, int) {
	var (
		out      []Candidate
		failures int
	)
	for _, pl := range ph.Plugins {
		contexts, err := p.test(ctx, pl)
		if err != nil {
			failures++
			p.o.metrics.PluginTests.WithLabelValues(ph.Name, pl.Kind(), "error").Inc()
			p.o.logger.Warn(ctx, "plugin test failed",
				zap.String("plugin", pl.Kind()),
				zap.String("description", plugin.Describe(pl)),
				zap.Error(err),
			)
			continue
		}

		outcome := "nomatch"
		seen := make(map[plugin.Context]struct{}, len(contexts))
		for _, pc := range contexts {
			if pc == "" {
				continue
			}
			if _, dup := seen[pc]; dup {
				continue
			}
			seen[pc] = struct{}{}
			outcome = "match"

			c := Candidate{Plugin: pl, Context: pc}
			if _, done := ran[c.key()]; done {
				continue
			}
			out = append(out, c)
			p.o.logger.Trace(ctx, "candidate", zap.String("label", c.Label()))
		}
		p.o.metrics.PluginTests.WithLabelValues(ph.Name, pl.Kind(), outcome).Inc()
	}
	return out, failures
}

func (p *pass) test(ctx context.Context, pl plugin.Plugin) (contexts []plugin.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in test: %v", ErrPluginPanic, r)
		}
	}()
	return pl.Test(ctx, p.issue)
}

func (p *pass) act(ctx context.Context, c Candidate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in act: %v", ErrPluginPanic, r)
		}
	}()
	return c.Plugin.Act(ctx, p.issue, c.Context)
}

func labels(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Label()
	}
	return out
}
