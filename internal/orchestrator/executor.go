package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// pass is the state of one Run over one issue.
type pass struct {
	o     *Orchestrator
	issue *issue.Issue

	// mu serializes Act calls in concurrent parallel rounds.
	mu sync.Mutex
}

// runPhase drives one phase invocation until no new candidate applies, the
// alternative pick has run, or a plugin redirects the issue elsewhere.
func (p *pass) runPhase(ctx context.Context, ph Phase) (visit PhaseVisit, err error) {
	visit = PhaseVisit{
		Phase:     ph.Name,
		Policy:    ph.Policy,
		StartedAt: time.Now(),
		Executed:  []string{},
	}
	defer func() { visit.Duration = time.Since(visit.StartedAt) }()

	ran := make(ranSet)
	for {
		if err := ctx.Err(); err != nil {
			return visit, err
		}

		cands, failures := p.buildCandidates(ctx, ph, ran)
		visit.TestFailures += failures
		if len(cands) == 0 {
			break
		}
		visit.Rounds++
		before := len(ran)

		var redirected bool
		switch ph.Policy {
		case PolicyParallel:
			redirected, err = p.executeAll(ctx, ph, cands, ran, &visit)
		case PolicyAlternative:
			var chosen Candidate
			chosen, err = p.choose(ctx, ph, cands)
			if err == nil {
				redirected = p.execute(ctx, ph, chosen, ran, &visit)
			}
		default:
			// Most recently discovered first.
			redirected = p.execute(ctx, ph, cands[len(cands)-1], ran, &visit)
		}
		if err != nil {
			return visit, err
		}
		if redirected {
			visit.Redirect = p.issue.CurrentPhase
			break
		}
		if ph.Policy == PolicyAlternative || len(ran) == before {
			break
		}
	}
	return visit, nil
}

// executeAll runs every candidate of a parallel round once, stopping early on
// a redirect.
func (p *pass) executeAll(ctx context.Context, ph Phase, cands []Candidate, ran ranSet, visit *PhaseVisit) (bool, error) {
	if p.o.parallelMode == ParallelConcurrent && len(cands) > 1 {
		return p.executeConcurrent(ctx, ph, cands, ran, visit)
	}
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if p.execute(ctx, ph, c, ran, visit) {
			return true, nil
		}
	}
	return false, nil
}

// executeConcurrent fans a parallel round out to a bounded worker pool. Each
// act holds the pass lock, so acts never interleave on the issue.
func (p *pass) executeConcurrent(ctx context.Context, ph Phase, cands []Candidate, ran ranSet, visit *PhaseVisit) (bool, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.o.workers)

	var redirected bool
	for _, c := range cands {
		g.Go(func() error {
			p.mu.Lock()
			defer p.mu.Unlock()
			if redirected {
				return nil
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			if p.execute(gctx, ph, c, ran, visit) {
				redirected = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return redirected, err
	}
	return redirected, nil
}

// execute runs one candidate, marks it run whatever the outcome, and reports
// whether the issue now points at another phase.
func (p *pass) execute(ctx context.Context, ph Phase, c Candidate, ran ranSet, visit *PhaseVisit) bool {
	ran[c.key()] = struct{}{}
	label := c.Label()
	visit.Executed = append(visit.Executed, label)

	p.o.logger.Debug(ctx, "executing plugin", zap.String("label", label))
	if err := p.act(ctx, c); err != nil {
		visit.ActFailures++
		p.o.metrics.PluginActions.WithLabelValues(ph.Name, c.Plugin.Kind(), "error").Inc()
		p.o.logger.Warn(ctx, "plugin act failed",
			zap.String("label", label),
			zap.Error(err),
		)
	} else {
		p.o.metrics.PluginActions.WithLabelValues(ph.Name, c.Plugin.Kind(), "ok").Inc()
	}
	return p.issue.CurrentPhase != ph.Name
}
