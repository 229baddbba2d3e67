// Package telemetry provides OpenTelemetry setup for issueflow.
//
// New builds a TracerProvider and, when enabled, a MeterProvider exporting
// over OTLP (gRPC by default, HTTP on request) and installs them globally.
// The engine then opens spans through otel.Tracer:
//
//	issueflow.pass   one per processed issue
//	issueflow.phase  one per phase invocation (phase, policy, reward)
//
// Failures to build an exporter mark the instance degraded rather than
// failing startup; Health reports why.
//
// Tests use TestTelemetry:
//
//	tt := telemetry.NewTestTelemetry()
//	orch := orchestrator.New(reg, orchestrator.WithTracer(tt.Tracer("test")))
//	...
//	tt.AssertSpanExists(t, "issueflow.pass")
package telemetry
