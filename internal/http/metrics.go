package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/issueflow/internal/http"

// HTTPMetrics records per-route request instruments on an OTEL meter.
// Instruments that fail to register are left nil and skipped.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inflight metric.Int64UpDownCounter
	passErrs metric.Int64Counter
}

// NewHTTPMetrics creates request instruments on meter.
func NewHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &HTTPMetrics{}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(context.Background(), "http instrument unavailable", zap.String("instrument", name), zap.Error(err))
		}
	}

	var err error
	m.requests, err = meter.Int64Counter("issueflow.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram("issueflow.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency; issue routes include the full pass"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	warn("request_duration_seconds", err)

	m.size, err = meter.Int64Histogram("issueflow.http.response_size_bytes",
		metric.WithDescription("HTTP response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 512, 1024, 4096, 16384, 65536, 262144, 1048576))
	warn("response_size_bytes", err)

	m.inflight, err = meter.Int64UpDownCounter("issueflow.http.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.passErrs, err = meter.Int64Counter("issueflow.http.pass_errors_total",
		metric.WithDescription("Issue passes submitted over HTTP that failed, by status"),
		metric.WithUnit("{pass}"))
	warn("pass_errors_total", err)

	return m
}

// MetricsMiddleware returns an echo middleware that records the instruments.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			attrs := metric.WithAttributes(
				attribute.String("http.request.method", c.Request().Method),
				attribute.String("http.route", normalizePath(c.Path())),
				attribute.Int("http.response.status_code", status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// recordPassError counts a failed pass. It is safe on a nil receiver.
func (m *HTTPMetrics) recordPassError(ctx context.Context, status int) {
	if m == nil || m.passErrs == nil {
		return
	}
	m.passErrs.Add(ctx, 1, metric.WithAttributes(attribute.Int("http.response.status_code", status)))
}

// normalizePath maps unmatched routes to a single label so that requests for
// unknown paths cannot grow the series count.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
