package logging

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stores log in ctx for handlers further down the chain.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the request logger, or slog.Default outside a request.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// With narrows the context logger by attrs, typically once a request has
// resolved its client id, and returns both the new context and the logger.
func With(ctx context.Context, attrs ...slog.Attr) (context.Context, *slog.Logger) {
	log := FromContext(ctx)
	if len(attrs) == 0 {
		return ctx, log
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	log = log.With(args...)
	return WithContext(ctx, log), log
}
