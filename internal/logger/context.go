package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type fieldsKey struct{}

// WithFields returns a context whose *Ctx log lines carry args in addition to
// their own. Fields accumulate across nested calls, outermost first.
//
//	ctx = logger.WithFields(ctx, "request_id", id)
//	logger.WarnCtx(ctx, "Directory busy", logger.DirID(dirID))
func WithFields(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	prev := Fields(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Fields returns the fields attached to ctx with WithFields.
func Fields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey{}).([]any)
	return f
}

// withContextArgs prepends the trace identifiers of the active span and the
// attached fields to args.
func withContextArgs(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}

	fields := Fields(ctx)
	sc := trace.SpanContextFromContext(ctx)
	if len(fields) == 0 && !sc.IsValid() {
		return args
	}

	out := make([]any, 0, 4+len(fields)+len(args))
	if sc.IsValid() {
		out = append(out, TraceID(sc.TraceID().String()), SpanID(sc.SpanID().String()))
	}
	out = append(out, fields...)
	return append(out, args...)
}
