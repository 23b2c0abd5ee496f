package interceptor

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns a UnaryServerInterceptor that logs each call's method,
// duration, and outcome at a level matching severity, in the style the
// session worker uses elsewhere in this module (see server/session.go).
func Logging(logger *slog.Logger) UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, payload []byte, info *Info, handler Handler) ([]byte, error) {
		start := time.Now()
		resp, err := handler(ctx, payload)
		dur := time.Since(start)
		attrs := []any{
			slog.String("package", info.Package),
			slog.String("service", info.Service),
			slog.String("method", info.Method),
			slog.Duration("duration", dur),
		}
		if err != nil {
			logger.WarnContext(ctx, "rpc call failed", append(attrs, slog.Any("error", err))...)
		} else if dur >= 5*time.Second {
			logger.Warn("rpc call (SLOW)", attrs...)
		} else {
			logger.DebugContext(ctx, "rpc call", attrs...)
		}
		return resp, err
	}
}
