// Package depgraph is the in-memory dependency graph: a snapshot loaded
// from the store, supporting forward/reverse neighborhoods, transitive
// closures, shortest and enumerated paths, cycle detection, and
// topological ordering. It is pure and immutable after construction;
// callers that need fresh data reload a new snapshot.
package depgraph

import (
	"sort"
	"time"
)

// Node is the minimal tool projection the graph needs; additional tool
// fields live in the store and are joined back in by callers that need
// them (e.g. analysis).
type Node struct {
	ID          string
	Kind        string
	Reliability float64
	DebtScore   int
	IsStub      bool
}

// Edge is a dependency edge, consumer depends on provider.
type Edge struct {
	ConsumerID string
	ProviderID string
	Kind       string
}

// Graph is an immutable snapshot of tools and dependency edges.
type Graph struct {
	nodes    map[string]Node
	edges    map[[2]string]Edge
	forward  map[string]map[string]struct{} // consumer -> providers
	reverse  map[string]map[string]struct{} // provider -> consumers
	loadedAt time.Time
}

// New builds a Graph snapshot from nodes and edges. Edges with either
// endpoint missing from nodes are silently dropped (dangling edges are
// filtered out during load, per the load contract).
func New(nodes []Node, edges []Edge, loadedAt time.Time) *Graph {
	g := &Graph{
		nodes:    make(map[string]Node, len(nodes)),
		edges:    make(map[[2]string]Edge, len(edges)),
		forward:  make(map[string]map[string]struct{}),
		reverse:  make(map[string]map[string]struct{}),
		loadedAt: loadedAt,
	}
	for _, n := range nodes {
		g.nodes[n.ID] = n
	}
	for _, e := range edges {
		if _, ok := g.nodes[e.ConsumerID]; !ok {
			continue
		}
		if _, ok := g.nodes[e.ProviderID]; !ok {
			continue
		}
		key := [2]string{e.ConsumerID, e.ProviderID}
		g.edges[key] = e
		if g.forward[e.ConsumerID] == nil {
			g.forward[e.ConsumerID] = make(map[string]struct{})
		}
		g.forward[e.ConsumerID][e.ProviderID] = struct{}{}
		if g.reverse[e.ProviderID] == nil {
			g.reverse[e.ProviderID] = make(map[string]struct{})
		}
		g.reverse[e.ProviderID][e.ConsumerID] = struct{}{}
	}
	return g
}

// LoadedAt returns the snapshot timestamp.
func (g *Graph) LoadedAt() time.Time { return g.loadedAt }

// Node returns the node for id and whether it exists.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeCount returns the number of nodes in the snapshot.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges in the snapshot.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// NodeIDs returns every node id, in stable sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forward returns the providers id directly depends on, stable sorted.
func (g *Graph) Forward(id string) []string {
	return sortedKeys(g.forward[id])
}

// Reverse returns the consumers that directly depend on id, stable sorted.
func (g *Graph) Reverse(id string) []string {
	return sortedKeys(g.reverse[id])
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TransitiveForward returns every node transitively reachable from id
// via forward edges (providers of providers, ...), excluding id itself.
func (g *Graph) TransitiveForward(id string) []string {
	return g.bfs(id, g.forward)
}

// TransitiveReverse returns every node transitively reachable from id via
// reverse edges (consumers of consumers, ...), excluding id itself.
func (g *Graph) TransitiveReverse(id string) []string {
	return g.bfs(id, g.reverse)
}

func (g *Graph) bfs(start string, adj map[string]map[string]struct{}) []string {
	visited := map[string]struct{}{start: {}}
	queue := []string{start}
	var order []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range sortedKeys(adj[cur]) {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			order = append(order, next)
			queue = append(queue, next)
		}
	}
	return order
}

// hopDistances returns the minimum hop distance from start to every node
// transitively reachable via adj, computed by BFS.
func (g *Graph) hopDistances(start string, adj map[string]map[string]struct{}) map[string]int {
	dist := map[string]int{start: 0}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range sortedKeys(adj[cur]) {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	delete(dist, start)
	return dist
}

// AffectedDistances returns, for every tool transitively depending on
// id, its minimum hop distance (consumers of consumers reached via
// reverse edges).
func (g *Graph) AffectedDistances(id string) map[string]int {
	return g.hopDistances(id, g.reverse)
}

// Path returns the shortest node list from 'from' to 'to' inclusive of
// both endpoints, found by BFS over forward edges, or nil if unreachable.
// For from == to, returns []string{from}.
func (g *Graph) Path(from, to string) []string {
	if from == to {
		if _, ok := g.nodes[from]; !ok {
			return nil
		}
		return []string{from}
	}
	if _, ok := g.nodes[from]; !ok {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return nil
	}

	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return reconstructPath(prev, from, to)
		}
		for _, next := range sortedKeys(g.forward[cur]) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			queue = append(queue, next)
		}
	}
	return nil
}

func reconstructPath(prev map[string]string, from, to string) []string {
	var path []string
	cur := to
	for {
		path = append([]string{cur}, path...)
		if cur == from {
			return path
		}
		cur = prev[cur]
	}
}

// DefaultMaxPaths is the default cap passed to AllPaths.
const DefaultMaxPaths = 100

// AllPaths enumerates every simple path (no revisits within a single
// path) from 'from' to 'to' via forward edges, via DFS with
// backtracking, capped at max results in order of discovery.
func (g *Graph) AllPaths(from, to string, max int) [][]string {
	if max <= 0 {
		max = DefaultMaxPaths
	}
	if _, ok := g.nodes[from]; !ok {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return nil
	}

	var results [][]string
	visited := map[string]bool{from: true}
	path := []string{from}

	var dfs func(cur string)
	dfs = func(cur string) {
		if len(results) >= max {
			return
		}
		if cur == to {
			cp := make([]string, len(path))
			copy(cp, path)
			results = append(results, cp)
			return
		}
		for _, next := range sortedKeys(g.forward[cur]) {
			if visited[next] {
				continue
			}
			if len(results) >= max {
				return
			}
			visited[next] = true
			path = append(path, next)
			dfs(next)
			path = path[:len(path)-1]
			visited[next] = false
		}
	}
	dfs(from)
	return results
}

// Cycle is a closed walk: Nodes[0] == Nodes[len-1], every consecutive
// pair (including the wrap-around) is a forward edge.
type Cycle struct {
	Nodes []string
}

// Cycles runs a DFS with recursion-stack tracking over every node (so
// components disconnected from any single start are still covered),
// emitting one Cycle per back edge discovered.
func (g *Graph) Cycles() []Cycle {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycles []Cycle

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		stack = append(stack, node)

		for _, next := range g.Forward(node) {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// back edge to 'next': emit the cycle slice [next, ..., next].
				idx := -1
				for i, n := range stack {
					if n == next {
						idx = i
						break
					}
				}
				if idx >= 0 {
					nodes := append([]string{}, stack[idx:]...)
					nodes = append(nodes, next)
					cycles = append(cycles, Cycle{Nodes: nodes})
				}
			case black:
				// cross edge, not a cycle.
			}
		}

		stack = stack[:len(stack)-1]
		color[node] = black
	}

	for _, id := range g.NodeIDs() {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// HasCycle reports whether the graph contains any cycle.
func (g *Graph) HasCycle() bool {
	return len(g.Cycles()) > 0
}

// TopologicalOrder runs Kahn's algorithm over forward edges (consumer
// depends on provider), listing providers before consumers. For graphs
// with cycles, the result is a prefix omitting nodes whose in-degree
// never reaches zero; callers must consult Cycles() separately.
//
// "In-degree" here is the number of distinct providers a node depends
// on (its forward out-degree), since providers must be emitted first: a
// node becomes ready once it has no remaining un-emitted providers.
func (g *Graph) TopologicalOrder() []string {
	remaining := make(map[string]int, len(g.nodes)) // count of un-emitted providers
	for _, id := range g.NodeIDs() {
		remaining[id] = len(g.forward[id])
	}

	var ready []string
	for _, id := range g.NodeIDs() {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, consumer := range g.Reverse(id) {
			remaining[consumer]--
			if remaining[consumer] == 0 {
				ready = append(ready, consumer)
			}
		}
	}
	return order
}

// Serialized is the JSON-serializable form of a Graph snapshot.
type Serialized struct {
	Nodes    []Node         `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	Metadata SerializedMeta `json:"metadata"`
}

// SerializedMeta carries the snapshot's summary counters.
type SerializedMeta struct {
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// Serialize renders the graph as the {nodes, edges, metadata} shape.
func (g *Graph) Serialize() Serialized {
	ids := g.NodeIDs()
	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, g.nodes[id])
	}
	edges := make([]Edge, 0, len(g.edges))
	for _, id := range ids {
		for _, providerID := range g.Forward(id) {
			edges = append(edges, g.edges[[2]string{id, providerID}])
		}
	}
	return Serialized{
		Nodes: nodes,
		Edges: edges,
		Metadata: SerializedMeta{
			NodeCount: len(nodes),
			EdgeCount: len(edges),
			LoadedAt:  g.loadedAt,
		},
	}
}
