// Package logging provides structured logging for issueflow.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Console output (stdout or stderr) and optional OpenTelemetry output
//   - Automatic context fields (trace_id, pass.id, issue.phase, request.id)
//   - Secret redaction by field name and value pattern
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithPassID(ctx, passID)
//	logger.Info(ctx, "phase complete", zap.String("phase", name))
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Warn(ctx, "plugin act failed", zap.String("plugin", "Restart"))
//	tl.AssertLogged(t, zapcore.WarnLevel, "act failed")
//	tl.AssertField(t, "plugin act failed", "plugin", "Restart")
//
// Logger is safe for concurrent use. Child loggers (With, Named) do not
// affect their parent.
package logging
