package depgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func node(id string) Node { return Node{ID: id, Reliability: 0.95} }

func TestShortestPathScenario(t *testing.T) {
	// daily-briefing -> email -> resona
	// daily-briefing -> calendar -> email
	nodes := []Node{node("daily-briefing"), node("email"), node("resona"), node("calendar")}
	edges := []Edge{
		{ConsumerID: "daily-briefing", ProviderID: "email"},
		{ConsumerID: "email", ProviderID: "resona"},
		{ConsumerID: "daily-briefing", ProviderID: "calendar"},
		{ConsumerID: "calendar", ProviderID: "email"},
	}
	g := New(nodes, edges, time.Now())

	path := g.Path("daily-briefing", "resona")
	require.Equal(t, []string{"daily-briefing", "email", "resona"}, path)

	all := g.AllPaths("daily-briefing", "resona", 10)
	require.Len(t, all, 2)
}

func TestPathSameNode(t *testing.T) {
	g := New([]Node{node("a")}, nil, time.Now())
	require.Equal(t, []string{"a"}, g.Path("a", "a"))
}

func TestPathUnreachable(t *testing.T) {
	g := New([]Node{node("a"), node("b")}, nil, time.Now())
	require.Nil(t, g.Path("a", "b"))
}

func TestCycleDetection(t *testing.T) {
	nodes := []Node{node("A"), node("B")}
	edges := []Edge{
		{ConsumerID: "A", ProviderID: "B"},
		{ConsumerID: "B", ProviderID: "A"},
	}
	g := New(nodes, edges, time.Now())

	require.True(t, g.HasCycle())
	cycles := g.Cycles()
	require.NotEmpty(t, cycles)
	for _, c := range cycles {
		require.Equal(t, c.Nodes[0], c.Nodes[len(c.Nodes)-1])
	}

	order := g.TopologicalOrder()
	require.NotContains(t, order, "A")
	require.NotContains(t, order, "B")
}

func TestSelfLoopIsCycle(t *testing.T) {
	nodes := []Node{node("A")}
	edges := []Edge{{ConsumerID: "A", ProviderID: "A"}}
	g := New(nodes, edges, time.Now())
	require.True(t, g.HasCycle())
}

func TestTopologicalOrderProvidersBeforeConsumers(t *testing.T) {
	nodes := []Node{node("app"), node("lib"), node("base")}
	edges := []Edge{
		{ConsumerID: "app", ProviderID: "lib"},
		{ConsumerID: "lib", ProviderID: "base"},
	}
	g := New(nodes, edges, time.Now())

	order := g.TopologicalOrder()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos["base"], pos["lib"])
	require.Less(t, pos["lib"], pos["app"])
}

func TestDanglingEdgesFiltered(t *testing.T) {
	nodes := []Node{node("a")}
	edges := []Edge{{ConsumerID: "a", ProviderID: "ghost"}}
	g := New(nodes, edges, time.Now())
	require.Equal(t, 0, g.EdgeCount())
	require.Empty(t, g.Forward("a"))
}

func TestGraphConsistency(t *testing.T) {
	nodes := []Node{node("a"), node("b"), node("c")}
	edges := []Edge{
		{ConsumerID: "a", ProviderID: "b"},
		{ConsumerID: "b", ProviderID: "c"},
	}
	g := New(nodes, edges, time.Now())

	for _, id := range g.NodeIDs() {
		for _, providerID := range g.Forward(id) {
			_, ok := g.Node(providerID)
			require.True(t, ok)
		}
	}

	totalIncident := 0
	for _, id := range g.NodeIDs() {
		totalIncident += len(g.Forward(id)) + len(g.Reverse(id))
	}
	require.Equal(t, 2*g.EdgeCount(), totalIncident)
}

func TestTransitiveClosureExcludesStart(t *testing.T) {
	nodes := []Node{node("a"), node("b"), node("c")}
	edges := []Edge{
		{ConsumerID: "a", ProviderID: "b"},
		{ConsumerID: "b", ProviderID: "c"},
	}
	g := New(nodes, edges, time.Now())

	fwd := g.TransitiveForward("a")
	require.ElementsMatch(t, []string{"b", "c"}, fwd)
	require.NotContains(t, fwd, "a")

	rev := g.TransitiveReverse("c")
	require.ElementsMatch(t, []string{"a", "b"}, rev)
}

func TestAffectedDistances(t *testing.T) {
	nodes := []Node{node("src"), node("mid"), node("far"), node("other")}
	edges := []Edge{
		{ConsumerID: "mid", ProviderID: "src"},
		{ConsumerID: "far", ProviderID: "mid"},
		{ConsumerID: "other", ProviderID: "mid"},
	}
	g := New(nodes, edges, time.Now())

	dist := g.AffectedDistances("src")
	require.Equal(t, 1, dist["mid"])
	require.Equal(t, 2, dist["far"])
	require.Equal(t, 2, dist["other"])
}

func TestSerialize(t *testing.T) {
	nodes := []Node{node("a"), node("b")}
	edges := []Edge{{ConsumerID: "a", ProviderID: "b"}}
	g := New(nodes, edges, time.Now())

	s := g.Serialize()
	require.Equal(t, 2, s.Metadata.NodeCount)
	require.Equal(t, 1, s.Metadata.EdgeCount)
	require.Len(t, s.Nodes, 2)
	require.Len(t, s.Edges, 1)
}
