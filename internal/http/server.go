// Package http exposes the issue engine over an HTTP API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/fyrsmithlabs/issueflow/internal/orchestrator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Engine is the part of the orchestrator the server drives.
type Engine interface {
	Process(ctx context.Context, is *issue.Issue) (*orchestrator.PassResult, error)
	Phases() []orchestrator.PhaseInfo
}

// Server provides HTTP endpoints for issueflow.
type Server struct {
	echo   *echo.Echo
	engine Engine
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// BodyLimit caps request bodies, in echo's size notation. Defaults to "1M".
	BodyLimit string

	// Gatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Metrics records OTEL request metrics when set.
	Metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, logger *logging.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "1M"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.Metrics != nil {
		e.Use(cfg.Metrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:   e,
		engine: engine,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/phases", s.handlePhases)
	v1.POST("/issues", s.handleIssue)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handlePhases(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Phases())
}

// handleIssue runs one pass over the posted issue.
func (s *Server) handleIssue(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read request body")
	}
	var is issue.Issue
	if err := json.Unmarshal(body, &is); err != nil {
		s.logger.Warn(ctx, "invalid issue request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be an issue JSON object")
	}

	res, err := s.engine.Process(ctx, &is)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrArbiterContract) {
			status = http.StatusUnprocessableEntity
		}
		s.config.Metrics.recordPassError(ctx, status)
		s.logger.Warn(ctx, "issue pass failed", zap.Int("status", status), zap.Error(err))
		return c.JSON(status, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, IssueResponse{
		PassID: res.ID.String(),
		Reward: res.Reward,
		Issue:  &is,
		Visits: res.Visits,
	})
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
