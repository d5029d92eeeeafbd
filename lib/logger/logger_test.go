package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaultsToInfo(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelInfo, cfg.LevelFor(SubsystemLifecycle))
}

func TestNewConfigReadsDefaultLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg := NewConfig()
	assert.Equal(t, slog.LevelDebug, cfg.DefaultLevel)
}

func TestNewConfigReadsPerSubsystemOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL_PROVISION", "error")
	cfg := NewConfig()
	assert.Equal(t, slog.LevelError, cfg.LevelFor(SubsystemProvision))
	assert.Equal(t, slog.LevelInfo, cfg.LevelFor(SubsystemLifecycle))
}

func TestLevelForFallsBackToDefault(t *testing.T) {
	cfg := Config{DefaultLevel: slog.LevelWarn, SubsystemLevels: map[string]slog.Level{}}
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor(SubsystemGC))
}

func TestFromContextRoundTrip(t *testing.T) {
	logger := NewLogger(NewConfig())
	ctx := AddToContext(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestFromContextReturnsDefaultWithoutOne(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}
