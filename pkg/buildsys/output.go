package buildsys

import (
	"context"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

var nopLogger = zerolog.Nop()

// WithLogger attaches logger to ctx. Tasks, commands and build scripts log through it.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Log returns the logger attached to ctx. Without one, events are dropped.
func Log(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zerolog.Logger); ok {
		return logger
	}
	return &nopLogger
}

func log(ctx context.Context) *zerolog.Logger {
	return Log(ctx)
}
