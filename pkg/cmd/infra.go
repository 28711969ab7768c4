package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/directory"
	"github.com/dukex/flowgate/pkg/lock"
	"github.com/dukex/flowgate/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const lockTTL = 30 * time.Second

// NewLocker returns a Redis lock when redisURL is set and a process-local
// lock otherwise. The returned function releases the Redis connection.
func NewLocker(ctx context.Context, logger *slog.Logger, redisURL string) (lock.Locker, func() error, error) {
	if redisURL == "" {
		return lock.NewLocal(), func() error { return nil }, nil
	}

	locker, err := lock.NewRedisFromURL(ctx, logger, redisURL, lockTTL)
	if err != nil {
		return nil, nil, err
	}

	logger.InfoContext(ctx, "Using Redis instance lock")

	return locker, locker.Close, nil
}

// NewDirectory loads the actor directory from path. Without a path every
// actor is known only by id, so only USER approvals can be decided.
func NewDirectory(path string) (*directory.Static, error) {
	if path == "" {
		return directory.NewStatic(), nil
	}

	return directory.LoadFile(path)
}

// NewTracer returns an OTLP tracer when enabled and a no-op tracer
// otherwise. The returned function flushes pending spans.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, enabled bool) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer(serviceName), func(context.Context) error { return nil }, nil
	}

	return otelhelper.NewTracer(ctx, serviceName)
}
