package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fyrsmithlabs/issueflow/internal/arbiter"
	"github.com/fyrsmithlabs/issueflow/internal/config"
	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/fyrsmithlabs/issueflow/internal/orchestrator"
	"github.com/fyrsmithlabs/issueflow/internal/plugin"
	"github.com/fyrsmithlabs/issueflow/internal/rules"
	"github.com/fyrsmithlabs/issueflow/internal/telemetry"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/issueflow"

// app holds the wired engine shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	arbiter   orchestrator.Arbiter
	options   []orchestrator.Option
	engine    *liveEngine
}

// newApp loads configuration and rules and builds the orchestrator.
func newApp(ctx context.Context, opts *rootOptions, extra ...orchestrator.Option) (*app, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.rulesDir != "" {
		cfg.Rules.Dir = opts.rulesDir
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg.Logging, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if h := tel.Health(); !h.Healthy {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel, engine: &liveEngine{}}

	a.arbiter, err = arbiter.New(cfg.Arbiter, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create arbiter: %w", err)
	}
	a.options = append([]orchestrator.Option{
		orchestrator.WithArbiter(a.arbiter),
		orchestrator.WithRewardIncrement(cfg.Engine.RewardIncrement),
		orchestrator.WithParallelism(orchestrator.ParallelMode(cfg.Engine.ParallelMode), cfg.Engine.ParallelWorkers),
		orchestrator.WithMaxPhaseInvocations(cfg.Engine.MaxPhaseInvocations),
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tel.Tracer(tracerName)),
	}, extra...)

	files, err := rules.LoadDir(cfg.Rules.Dir)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if err := a.load(ctx, files); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// load builds a fresh registry from files and swaps it into the live engine.
// Passes already running finish on the previous engine.
func (a *app) load(ctx context.Context, files []*rules.File) error {
	reg := plugin.NewRegistry()
	if err := rules.Register(reg, files); err != nil {
		return err
	}
	a.engine.swap(orchestrator.New(reg, a.options...))
	a.logger.Debug(ctx, "rules loaded",
		zap.String("dir", a.cfg.Rules.Dir),
		zap.Int("files", len(files)),
		zap.Int("plugins", reg.Len()),
	)
	return nil
}

// liveEngine forwards to the current orchestrator so rule reloads take effect
// without restarting the HTTP server or the intake subscriber.
type liveEngine struct {
	current atomic.Pointer[orchestrator.Orchestrator]
}

func (e *liveEngine) swap(o *orchestrator.Orchestrator) {
	e.current.Store(o)
}

func (e *liveEngine) Process(ctx context.Context, is *issue.Issue) (*orchestrator.PassResult, error) {
	return e.current.Load().Process(ctx, is)
}

func (e *liveEngine) Phases() []orchestrator.PhaseInfo {
	return e.current.Load().Phases()
}

// Close flushes logs and telemetry.
func (a *app) Close(ctx context.Context) {
	_ = a.logger.Sync()
	if err := a.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
}

// initLogger maps the file/env logging settings onto the logging package.
// Output "otel" bridges to the telemetry log provider and keeps stderr.
func initLogger(lc config.LoggingConfig, tel *telemetry.Telemetry) (*logging.Logger, error) {
	cfg := logging.NewDefaultConfig()

	level, err := logging.LevelFromString(lc.Level)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	if lc.Format != "" {
		cfg.Format = lc.Format
	}

	provider := tel.LoggerProvider()
	switch strings.ToLower(lc.Output) {
	case "", "stderr":
		cfg.Output = logging.OutputConfig{Stderr: true}
	case "stdout":
		cfg.Output = logging.OutputConfig{Stdout: true}
	case "otel":
		cfg.Output = logging.OutputConfig{Stderr: true, OTEL: true}
		if provider == nil {
			provider = global.GetLoggerProvider()
		}
	default:
		return nil, fmt.Errorf("unknown log output %q", lc.Output)
	}
	if !cfg.Output.OTEL {
		provider = nil
	}
	return logging.NewLogger(cfg, provider)
}
