// Package logging wraps Zap for knowledged.
//
// It adds a Trace level below Debug, JSON or console output with an optional
// OpenTelemetry bridge, key- and pattern-based redaction, level-aware sampling
// (errors are never sampled) and correlation fields pulled from the context:
//
//	ctx = logging.WithRequestID(ctx, "req-42")
//	ctx = logging.WithActor(ctx, "U123")
//	logger.Info(ctx, "document added", zap.String("title", title))
//
// produces
//
//	{"level":"info","ts":"...","msg":"document added","request.id":"req-42","actor":"U123","title":"..."}
//
// Services that only need a *zap.Logger take Underlying().
package logging
