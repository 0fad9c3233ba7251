package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))
	assert.Empty(t, Stage(ctx))
	assert.Empty(t, Pipeline(ctx))

	ctx = WithRunID(ctx, "r-1")
	ctx = WithStage(ctx, "build")
	ctx = WithPipeline(ctx, "release")

	assert.Equal(t, "r-1", RunID(ctx))
	assert.Equal(t, "build", Stage(ctx))
	assert.Equal(t, "release", Pipeline(ctx))
}

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithStage(WithRunID(context.Background(), "r-1"), "deploy")
	logger.InfoContext(ctx, "stage started")

	out := buf.String()
	assert.Contains(t, out, "run_id=r-1")
	assert.Contains(t, out, "stage=deploy")
	assert.Contains(t, out, "stage started")
}

func TestCorrelationHandlerSkipsEmptyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no correlation")

	out := buf.String()
	assert.NotContains(t, out, "run_id")
	assert.NotContains(t, out, "stage=")
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	base := NewCorrelationHandler(slog.NewTextHandler(&buf, nil))

	logger := slog.New(base).With("component", "executor").WithGroup("run")
	logger.InfoContext(WithRunID(context.Background(), "r-9"), "msg", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "component=executor")
	assert.Contains(t, out, "run.k=v")
	assert.Contains(t, out, "r-9")
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithPipeline(WithRunID(context.Background(), "r-2"), "nightly")
	LogWith(ctx, logger).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "run_id=r-2")
	assert.Contains(t, out, "pipeline=nightly")
	assert.NotContains(t, out, "stage=")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"  warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Info("should be filtered")
	logger.Warn("should appear")

	lines := strings.TrimSpace(buf.String())
	require.NotEmpty(t, lines)
	assert.NotContains(t, lines, "should be filtered")
	assert.Contains(t, lines, "should appear")
}
