package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSlogLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for input, want := range cases {
		assert.Equal(t, want, slogLevelFromString(input), "input=%q", input)
	}
}

func TestTimePtr_ReturnsPointerToGivenValue(t *testing.T) {
	now := time.Now()
	got := timePtr(now)
	require.NotNil(t, got)
	assert.True(t, now.Equal(*got))
}

func TestWorker_ResolveDatasets_SkipsUnresolvableDialect(t *testing.T) {
	w := &worker{logger: discardLogger()}

	conns, queryConfigs, err := w.resolveDatasets(context.Background(), []*model.Dataset{
		{Name: "legacy", Dialect: "dbase"},
	})

	require.NoError(t, err)
	assert.Empty(t, conns)
	assert.Empty(t, queryConfigs)
}

func TestWorker_ResolveDatasets_NonConnectableDialectOnlyGetsQueryConfig(t *testing.T) {
	w := &worker{logger: discardLogger()}

	conns, queryConfigs, err := w.resolveDatasets(context.Background(), []*model.Dataset{
		{Name: "warehouse", Dialect: "snowflake"},
	})

	require.NoError(t, err)
	assert.NotContains(t, conns, "warehouse")
	assert.Contains(t, queryConfigs, "warehouse")
}

func TestWorker_ResolveDatasets_ConnectableDialectWithoutURISkipsConnector(t *testing.T) {
	w := &worker{logger: discardLogger()}

	conns, queryConfigs, err := w.resolveDatasets(context.Background(), []*model.Dataset{
		{Name: "crm", Dialect: "postgres", ConnectionURI: ""},
	})

	require.NoError(t, err)
	assert.NotContains(t, conns, "crm")
	assert.Contains(t, queryConfigs, "crm")
}
