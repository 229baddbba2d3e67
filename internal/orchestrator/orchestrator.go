package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/fyrsmithlabs/issueflow/internal/plugin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/issueflow/internal/orchestrator"

var (
	// ErrInvocationLimit stops a pass that exceeded its phase invocation budget.
	ErrInvocationLimit = errors.New("phase invocation limit reached")

	// ErrNilIssue is returned when Run is called without an issue.
	ErrNilIssue = errors.New("issue is nil")
)

// ParallelMode selects how "-parallel" rounds execute their candidates.
type ParallelMode string

const (
	// ParallelSequential runs candidates one after another in round order.
	ParallelSequential ParallelMode = "sequential"
	// ParallelConcurrent runs candidates on a bounded worker pool.
	ParallelConcurrent ParallelMode = "concurrent"
)

// ProgressCallback receives each completed phase visit.
type ProgressCallback func(ctx context.Context, visit PhaseVisit)

// Orchestrator walks issues through the registered phases.
//
// The phase set is captured at construction. An Orchestrator is safe for
// concurrent Run calls on different issues.
type Orchestrator struct {
	phases []Phase
	index  map[string]int

	arbiter         Arbiter
	rewardIncrement float64
	parallelMode    ParallelMode
	workers         int
	maxInvocations  int

	logger   *logging.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	progress ProgressCallback
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArbiter sets the arbiter consulted by alternative phases.
func WithArbiter(a Arbiter) Option {
	return func(o *Orchestrator) { o.arbiter = a }
}

// WithRewardIncrement sets the reward added per phase invocation.
func WithRewardIncrement(inc float64) Option {
	return func(o *Orchestrator) { o.rewardIncrement = inc }
}

// WithParallelism sets the parallel round mode and worker count.
func WithParallelism(mode ParallelMode, workers int) Option {
	return func(o *Orchestrator) {
		o.parallelMode = mode
		if workers > 0 {
			o.workers = workers
		}
	}
}

// WithMaxPhaseInvocations bounds phase invocations per pass; 0 is unlimited.
func WithMaxPhaseInvocations(n int) Option {
	return func(o *Orchestrator) { o.maxInvocations = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer used for pass and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithProgress sets a callback invoked after every phase visit.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

// New builds an orchestrator over a snapshot of reg.
func New(reg *plugin.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		index:           make(map[string]int),
		rewardIncrement: 1.0,
		parallelMode:    ParallelSequential,
		workers:         1,
		logger:          logging.NewNop(),
		tracer:          otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = DefaultMetrics()
	}

	names := reg.Phases()
	sort.Strings(names)
	for i, name := range names {
		o.phases = append(o.phases, NewPhase(name, reg.Plugins(name)))
		o.index[name] = i
	}
	return o
}

// Phases describes the phases in execution order.
func (o *Orchestrator) Phases() []PhaseInfo {
	out := make([]PhaseInfo, len(o.phases))
	for i, ph := range o.phases {
		kinds := make([]string, len(ph.Plugins))
		for j, pl := range ph.Plugins {
			kinds[j] = pl.Kind()
		}
		out[i] = PhaseInfo{Name: ph.Name, Policy: ph.Policy, Plugins: kinds}
	}
	return out
}

// Run walks is through the phases once.
//
// The reward is reset to zero and grows by the increment on every phase
// invocation. A plugin that sets is.CurrentPhase to another known phase
// moves the walk there; an unknown target is logged and the walk advances
// linearly. The returned result is non-nil even when err is set.
func (o *Orchestrator) Run(ctx context.Context, is *issue.Issue) (*PassResult, error) {
	res := &PassResult{ID: uuid.New(), Visits: []PhaseVisit{}}
	if is == nil {
		return res, ErrNilIssue
	}

	ctx = logging.WithPassID(ctx, res.ID.String())
	ctx, span := o.tracer.Start(ctx, "issueflow.pass",
		trace.WithAttributes(attribute.String("pass.id", res.ID.String())))
	defer span.End()
	start := time.Now()

	err := o.walk(ctx, &pass{o: o, issue: is}, res)

	res.Reward = is.Reward
	o.metrics.PassDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Float64("reward", res.Reward),
		attribute.Int("visits", len(res.Visits)),
	)
	if err != nil {
		o.metrics.PassesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error(ctx, "pass failed", zap.Error(err), zap.Float64("reward", res.Reward))
		return res, err
	}
	o.metrics.PassesTotal.WithLabelValues("ok").Inc()
	o.logger.Info(ctx, "pass complete",
		zap.Float64("reward", res.Reward),
		zap.Int("visits", len(res.Visits)),
	)
	return res, nil
}

func (o *Orchestrator) walk(ctx context.Context, p *pass, res *PassResult) error {
	p.issue.Reward = 0
	for idx := 0; idx < len(o.phases); {
		if o.maxInvocations > 0 && len(res.Visits) >= o.maxInvocations {
			return fmt.Errorf("%w: %d invocations", ErrInvocationLimit, len(res.Visits))
		}

		ph := o.phases[idx]
		visit, err := o.invoke(ctx, p, ph)
		res.Visits = append(res.Visits, visit)
		if err != nil {
			return err
		}
		if o.progress != nil {
			o.progress(ctx, visit)
		}

		if visit.Redirect == "" {
			idx++
			continue
		}
		next, ok := o.index[visit.Redirect]
		o.metrics.PhaseJumps.WithLabelValues(strconv.FormatBool(ok)).Inc()
		if !ok {
			o.logger.Warn(ctx, "unknown jump target, continuing with next phase",
				zap.String("from", ph.Name),
				zap.String("target", visit.Redirect),
			)
			idx++
			continue
		}
		o.logger.Debug(ctx, "phase jump", zap.String("from", ph.Name), zap.String("to", visit.Redirect))
		idx = next
	}
	return nil
}

// invoke runs one phase invocation and credits the reward for it.
func (o *Orchestrator) invoke(ctx context.Context, p *pass, ph Phase) (PhaseVisit, error) {
	ctx = logging.WithPhase(ctx, ph.Name)
	ctx, span := o.tracer.Start(ctx, "issueflow.phase", trace.WithAttributes(
		attribute.String("phase", ph.Name),
		attribute.String("policy", ph.Policy.String()),
	))
	defer span.End()

	p.issue.CurrentPhase = ph.Name
	o.metrics.PhaseInvocations.WithLabelValues(ph.Name, ph.Policy.String()).Inc()

	visit, err := p.runPhase(ctx, ph)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return visit, err
	}

	p.issue.Reward += o.rewardIncrement
	visit.Reward = p.issue.Reward
	span.SetAttributes(
		attribute.Float64("reward", visit.Reward),
		attribute.Int("rounds", visit.Rounds),
		attribute.Int("executed", len(visit.Executed)),
	)
	if visit.Redirect != "" {
		span.SetAttributes(attribute.String("redirect", visit.Redirect))
	}
	o.logger.Info(ctx, "phase complete",
		zap.Int("rounds", visit.Rounds),
		zap.Strings("executed", visit.Executed),
		zap.String("redirect", visit.Redirect),
	)
	return visit, nil
}

// Process runs a pass and then lets the arbiter close the episode with the
// final reward. A failed pass is discarded rather than finished.
func (o *Orchestrator) Process(ctx context.Context, is *issue.Issue) (*PassResult, error) {
	res, err := o.Run(ctx, is)
	if err != nil {
		if d, ok := o.arbiter.(Discarder); ok && is != nil {
			d.Discard(context.WithoutCancel(ctx), is)
		}
		return res, err
	}
	if o.arbiter != nil {
		if err := o.arbiter.Finish(ctx, is); err != nil {
			return res, fmt.Errorf("arbiter finish: %w", err)
		}
	}
	return res, nil
}
