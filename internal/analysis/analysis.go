// Package analysis computes compound reliability, affected sets, and
// blast-radius risk scoring over a depgraph snapshot.
package analysis

import (
	"sort"

	"github.com/jcfischer/pai-deps/internal/depgraph"
)

// ReliabilityEntry is one tool's contribution to a compound reliability
// computation, ordered by BFS depth from the source.
type ReliabilityEntry struct {
	ToolID      string
	Depth       int
	Reliability float64
}

// Reliability is the compound reliability of a tool and the transitive
// forward dependencies that were counted.
type Reliability struct {
	ToolID    string
	RootValue float64
	Value     float64
	Entries   []ReliabilityEntry
}

// ValueUpToDepth restricts the compound reliability product to entries
// at or below maxDepth (the root tool itself is always included).
func (r *Reliability) ValueUpToDepth(maxDepth int) float64 {
	value := r.RootValue
	for _, e := range r.Entries {
		if e.Depth <= maxDepth {
			value *= e.Reliability
		}
	}
	return value
}

// CompoundReliability multiplies T.reliability by the reliability of
// every distinct tool in transitive_forward(T); diamond dependencies are
// counted once.
func CompoundReliability(g *depgraph.Graph, toolID string) (*Reliability, bool) {
	root, ok := g.Node(toolID)
	if !ok {
		return nil, false
	}

	forwardDepths := hopDistancesForward(g, toolID)

	value := root.Reliability
	entries := make([]ReliabilityEntry, 0, len(forwardDepths))
	for id, depth := range forwardDepths {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		value *= n.Reliability
		entries = append(entries, ReliabilityEntry{ToolID: id, Depth: depth, Reliability: n.Reliability})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Depth != entries[j].Depth {
			return entries[i].Depth < entries[j].Depth
		}
		return entries[i].ToolID < entries[j].ToolID
	})

	return &Reliability{ToolID: toolID, RootValue: root.Reliability, Value: value, Entries: entries}, true
}

// hopDistancesForward computes min-hop distance to every tool reachable
// via forward (consumer -> provider) edges from start, excluding start.
func hopDistancesForward(g *depgraph.Graph, start string) map[string]int {
	distances := make(map[string]int)
	queue := []string{start}
	distances[start] = 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Forward(cur) {
			if _, seen := distances[next]; seen {
				continue
			}
			distances[next] = distances[cur] + 1
			queue = append(queue, next)
		}
	}
	delete(distances, start)
	return distances
}

// AffectedEntry is one tool in an affected set, with its minimum hop
// distance from the source.
type AffectedEntry struct {
	ToolID string
	Depth  int
}

// AffectedSet is transitive_reverse(source) with per-node minimum hop
// distance, computed by BFS.
func AffectedSet(g *depgraph.Graph, source string) []AffectedEntry {
	distances := g.AffectedDistances(source)
	entries := make([]AffectedEntry, 0, len(distances))
	for id, depth := range distances {
		entries = append(entries, AffectedEntry{ToolID: id, Depth: depth})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Depth != entries[j].Depth {
			return entries[i].Depth < entries[j].Depth
		}
		return entries[i].ToolID < entries[j].ToolID
	})
	return entries
}

// RiskLevel bands a risk score per spec.md §4.12.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// BlastRadius is the full blast-radius report for a source tool.
type BlastRadius struct {
	Source           string
	Affected         []AffectedEntry
	AffectedCount    int
	ByKind           map[string]int
	DepthHistogram   map[int]int
	AvgDebt          float64
	ChainReliability float64
	CriticalCount    int
	RiskScore        float64
	RiskLevel        RiskLevel
}

// criticalKinds are tool kinds counted toward critical_count.
var criticalKinds = map[string]bool{"mcp": true, "cli+mcp": true}

// Blast computes the blast-radius report for source, per spec.md §4.12.
// Returns false if source does not exist in the graph.
func Blast(g *depgraph.Graph, source string) (*BlastRadius, bool) {
	if _, ok := g.Node(source); !ok {
		return nil, false
	}

	affected := AffectedSet(g, source)
	maxDepth := 0
	byKind := make(map[string]int)
	depthHistogram := make(map[int]int)
	totalDebt := 0
	criticalCount := 0

	for _, e := range affected {
		n, ok := g.Node(e.ToolID)
		if !ok {
			continue
		}
		byKind[n.Kind]++
		depthHistogram[e.Depth]++
		totalDebt += n.DebtScore
		if criticalKinds[n.Kind] {
			criticalCount++
		}
		if e.Depth > maxDepth {
			maxDepth = e.Depth
		}
	}

	avgDebt := 0.0
	if len(affected) > 0 {
		avgDebt = float64(totalDebt) / float64(len(affected))
	}

	chainReliability := 1.0
	if rel, ok := CompoundReliability(g, source); ok {
		chainReliability = rel.ValueUpToDepth(maxDepth)
	}

	affectedCount := float64(len(affected))
	denominator := chainReliability
	if denominator < 0.1 {
		denominator = 0.1
	}
	riskScore := affectedCount*(1+avgDebt/10)*(1/denominator) + 5*float64(criticalCount)

	return &BlastRadius{
		Source:           source,
		Affected:         affected,
		AffectedCount:    len(affected),
		ByKind:           byKind,
		DepthHistogram:   depthHistogram,
		AvgDebt:          avgDebt,
		ChainReliability: chainReliability,
		CriticalCount:    criticalCount,
		RiskScore:        riskScore,
		RiskLevel:        riskLevel(riskScore),
	}, true
}

func riskLevel(score float64) RiskLevel {
	switch {
	case score < 20:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 100:
		return RiskHigh
	default:
		return RiskCritical
	}
}
