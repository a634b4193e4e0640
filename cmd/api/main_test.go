package main

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestSetupLogger_DefaultsToInfoLevelAndTextFormat(t *testing.T) {
	withEnv(t, "LOG_LEVEL", "")
	withEnv(t, "APP_ENV", "")

	logger := setupLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestSetupLogger_DebugLevelEnablesDebugLogging(t *testing.T) {
	withEnv(t, "LOG_LEVEL", "debug")

	logger := setupLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
