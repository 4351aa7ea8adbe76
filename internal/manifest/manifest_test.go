package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcfischer/pai-deps/internal/apperr"
)

func TestParseValidManifest(t *testing.T) {
	data := []byte(`
name: email
kind: cli+mcp
version: 1.2.0
depends_on:
  - name: resona
    kind: library
provides:
  cli:
    - command: "email search --json"
      output_schema: schemas/search.json
`)
	m, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "email", m.Name)
	require.Equal(t, KindCLIMCP, m.Kind)
	require.Equal(t, DefaultReliability, m.ResolvedReliability())
	require.Equal(t, DefaultDebtScore, m.ResolvedDebtScore())
	require.Len(t, m.DependsOn, 1)
	require.Equal(t, "resona", m.DependsOn[0].Name)
}

func TestParseCollectsAllErrors(t *testing.T) {
	data := []byte(`
name: ""
depends_on:
  - kind: bogus
  - name: foo
`)
	_, err := Parse(data)
	require.Error(t, err)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.KindInvalidManifest, appErr.Kind)

	paths := make(map[string]bool)
	for _, f := range appErr.Fields {
		paths[f.Path] = true
	}
	require.True(t, paths["name"])
	require.True(t, paths["kind"])
	require.True(t, paths["depends_on.0.kind"])
	require.True(t, paths["depends_on.0.name"])
	require.True(t, paths["depends_on.1.kind"])
	require.False(t, paths["depends_on.1.name"])
}

func TestParseRejectsUnknownTopLevelKey(t *testing.T) {
	data := []byte(`
name: email
kind: cli
bogus_field: true
`)
	_, err := Parse(data)
	require.Error(t, err)
}

func TestParseReliabilityBounds(t *testing.T) {
	data := []byte(`
name: email
kind: cli
reliability: 1.5
debt_score: -1
`)
	_, err := Parse(data)
	require.Error(t, err)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	paths := make(map[string]bool)
	for _, f := range appErr.Fields {
		paths[f.Path] = true
	}
	require.True(t, paths["reliability"])
	require.True(t, paths["debt_score"])
}

func TestParseRequiresStartCommandWhenMCPProvided(t *testing.T) {
	data := []byte(`
name: email
kind: cli+mcp
provides:
  mcp:
    - tool: email_search
`)
	_, err := Parse(data)
	require.Error(t, err)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	paths := make(map[string]bool)
	for _, f := range appErr.Fields {
		paths[f.Path] = true
	}
	require.True(t, paths["start_command"])
}

func TestParseAcceptsStartCommandWithMCP(t *testing.T) {
	data := []byte(`
name: email
kind: cli+mcp
start_command: "email-mcp-server --stdio"
provides:
  mcp:
    - tool: email_search
`)
	m, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "email-mcp-server --stdio", m.StartCommand)
}
