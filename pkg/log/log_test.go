package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	var buf bytes.Buffer

	scoped := slog.New(slog.NewTextHandler(&buf, nil)).With("request_id", "r-1")
	ctx := WithLogger(context.Background(), scoped)

	FromContext(ctx, fallback).Info("hello")

	assert.Contains(t, buf.String(), "request_id=r-1")
}

func TestSetup(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	Setup("error", "text")
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelWarn))

	Setup("debug", "json")
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))

	Setup("bogus", "")
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer

	slog.New(NewHandler(&buf, "WARNING", "json")).Warn("disk low", "free", 3)

	var line map[string]any
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "disk low", line["msg"])
	assert.Equal(t, "WARN", line["level"])

	buf.Reset()
	slog.New(NewHandler(&buf, "warn", "text")).Info("dropped")
	assert.Empty(t, buf.String())
}
