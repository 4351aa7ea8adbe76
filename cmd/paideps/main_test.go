package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	require.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	require.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	require.Equal(t, slog.LevelError, parseLogLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLogLevel("info"))
	require.Equal(t, slog.LevelInfo, parseLogLevel(""))
}

func TestResolveSchemaPathAbsolute(t *testing.T) {
	require.Equal(t, "/abs/schema.json", resolveSchemaPath("/tools/email", "/abs/schema.json"))
}

func TestResolveSchemaPathRelative(t *testing.T) {
	require.Equal(t, "/tools/email/schemas/search.json", resolveSchemaPath("/tools/email", "schemas/search.json"))
}

func TestContains(t *testing.T) {
	require.True(t, contains([]string{"a", "b"}, "b"))
	require.False(t, contains([]string{"a", "b"}, "c"))
	require.False(t, contains(nil, "c"))
}
