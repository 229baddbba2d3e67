package orchestrator

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/fyrsmithlabs/issueflow/internal/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockArbiter is a testify mock of Arbiter.
type MockArbiter struct {
	mock.Mock
}

func (m *MockArbiter) Decide(ctx context.Context, is *issue.Issue, labels []string) (string, error) {
	args := m.Called(ctx, is, labels)
	return args.String(0), args.Error(1)
}

func (m *MockArbiter) Finish(ctx context.Context, is *issue.Issue) error {
	return m.Called(ctx, is).Error(0)
}

// MockDiscardingArbiter also implements Discarder.
type MockDiscardingArbiter struct {
	MockArbiter
}

func (m *MockDiscardingArbiter) Discard(ctx context.Context, is *issue.Issue) {
	m.Called(ctx, is)
}

type harness struct {
	orch    *Orchestrator
	logs    *logging.TestLogger
	metrics *Metrics
}

func newHarness(t *testing.T, reg *plugin.Registry, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		logs:    logging.NewTestLogger(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	base := []Option{WithLogger(h.logs.Logger), WithMetrics(h.metrics)}
	h.orch = New(reg, append(base, opts...)...)
	return h
}

func contexts(names ...string) []plugin.Context {
	out := make([]plugin.Context, len(names))
	for i, n := range names {
		out[i] = plugin.Context(n)
	}
	return out
}

// always applies in the given contexts on every test.
func always(kind string, names ...string) *plugin.Func {
	return plugin.NewFunc(kind,
		func(context.Context, *issue.Issue) ([]plugin.Context, error) {
			return contexts(names...), nil
		},
		nil,
	)
}

// whenMissing applies in ctx until field has been set by its own act.
func whenMissing(kind, field, ctx string, value any) *plugin.Func {
	return plugin.NewFunc(kind,
		func(_ context.Context, is *issue.Issue) ([]plugin.Context, error) {
			if is.Has(field) {
				return nil, nil
			}
			return contexts(ctx), nil
		},
		func(_ context.Context, is *issue.Issue, _ plugin.Context) error {
			return is.Set(field, value)
		},
	)
}

// jumper redirects to target the first time it acts.
func jumper(kind, target string) *plugin.Func {
	flag := "jumped." + kind
	return plugin.NewFunc(kind,
		func(_ context.Context, is *issue.Issue) ([]plugin.Context, error) {
			if is.Has(flag) {
				return nil, nil
			}
			return contexts("go"), nil
		},
		func(_ context.Context, is *issue.Issue, _ plugin.Context) error {
			is.CurrentPhase = target
			return is.Set(flag, true)
		},
	)
}

func newIssue(t *testing.T, fields map[string]any) *issue.Issue {
	t.Helper()
	is, err := issue.New(fields)
	require.NoError(t, err)
	return is
}

func registry(t *testing.T, phases map[string][]plugin.Plugin) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry()
	for phase, plugins := range phases {
		for _, p := range plugins {
			require.NoError(t, reg.Register(phase, p))
		}
	}
	return reg
}
