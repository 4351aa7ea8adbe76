package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcfischer/pai-deps/internal/depgraph"
)

// buildGraph mirrors spec.md §8 scenario 3: daily-briefing -> email -> resona.
func buildGraph() *depgraph.Graph {
	nodes := []depgraph.Node{
		{ID: "daily-briefing", Kind: "workflow", Reliability: 0.9, DebtScore: 2},
		{ID: "email", Kind: "cli+mcp", Reliability: 0.95, DebtScore: 1},
		{ID: "resona", Kind: "library", Reliability: 0.99, DebtScore: 0},
	}
	edges := []depgraph.Edge{
		{ConsumerID: "daily-briefing", ProviderID: "email", Kind: "mcp"},
		{ConsumerID: "email", ProviderID: "resona", Kind: "library"},
	}
	return depgraph.New(nodes, edges, time.Now())
}

func TestCompoundReliabilityMultipliesDistinctTools(t *testing.T) {
	g := buildGraph()
	rel, ok := CompoundReliability(g, "daily-briefing")
	require.True(t, ok)
	require.InDelta(t, 0.9*0.95*0.99, rel.Value, 1e-9)
	require.Len(t, rel.Entries, 2)
}

func TestCompoundReliabilityDoesNotDoubleWeightDiamonds(t *testing.T) {
	nodes := []depgraph.Node{
		{ID: "top", Kind: "cli", Reliability: 0.9},
		{ID: "left", Kind: "library", Reliability: 0.9},
		{ID: "right", Kind: "library", Reliability: 0.9},
		{ID: "shared", Kind: "library", Reliability: 0.5},
	}
	edges := []depgraph.Edge{
		{ConsumerID: "top", ProviderID: "left"},
		{ConsumerID: "top", ProviderID: "right"},
		{ConsumerID: "left", ProviderID: "shared"},
		{ConsumerID: "right", ProviderID: "shared"},
	}
	g := depgraph.New(nodes, edges, time.Now())

	rel, ok := CompoundReliability(g, "top")
	require.True(t, ok)
	require.InDelta(t, 0.9*0.9*0.9*0.5, rel.Value, 1e-9)
}

func TestCompoundReliabilityMissingToolReturnsFalse(t *testing.T) {
	g := buildGraph()
	_, ok := CompoundReliability(g, "ghost")
	require.False(t, ok)
}

func TestAffectedSetComputesMinHopDistances(t *testing.T) {
	g := buildGraph()
	affected := AffectedSet(g, "resona")
	require.Len(t, affected, 2)
	byID := map[string]int{}
	for _, e := range affected {
		byID[e.ToolID] = e.Depth
	}
	require.Equal(t, 1, byID["email"])
	require.Equal(t, 2, byID["daily-briefing"])
}

func TestBlastRadiusBasicShape(t *testing.T) {
	g := buildGraph()
	br, ok := Blast(g, "resona")
	require.True(t, ok)
	require.Equal(t, 2, br.AffectedCount)
	require.Equal(t, 1, br.ByKind["cli+mcp"])
	require.Equal(t, 1, br.ByKind["workflow"])
	require.Equal(t, 1, br.CriticalCount) // only email is mcp/cli+mcp
	require.Contains(t, []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}, br.RiskLevel)
}

func TestBlastRadiusMissingSourceReturnsFalse(t *testing.T) {
	g := buildGraph()
	_, ok := Blast(g, "ghost")
	require.False(t, ok)
}

func TestBlastRadiusRiskLevelBands(t *testing.T) {
	require.Equal(t, RiskLow, riskLevel(19.9))
	require.Equal(t, RiskMedium, riskLevel(20))
	require.Equal(t, RiskMedium, riskLevel(49.9))
	require.Equal(t, RiskHigh, riskLevel(50))
	require.Equal(t, RiskHigh, riskLevel(99.9))
	require.Equal(t, RiskCritical, riskLevel(100))
}

func TestBlastRadiusEmptyAffectedSetIsZeroRisk(t *testing.T) {
	nodes := []depgraph.Node{{ID: "lonely", Kind: "library", Reliability: 1.0}}
	g := depgraph.New(nodes, nil, time.Now())
	br, ok := Blast(g, "lonely")
	require.True(t, ok)
	require.Equal(t, 0, br.AffectedCount)
	require.Equal(t, RiskLow, br.RiskLevel)
}
