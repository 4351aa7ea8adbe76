// Package registrar implements the ingest pipeline: parse a manifest,
// upsert its Tool row, replace its dependency edges en bloc, synthesize
// stub providers for unknown dependencies, upsert its Contracts, commit,
// then run post-commit cycle detection as a best-effort warning.
package registrar

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jcfischer/pai-deps/internal/apperr"
	"github.com/jcfischer/pai-deps/internal/depgraph"
	"github.com/jcfischer/pai-deps/internal/manifest"
	"github.com/jcfischer/pai-deps/internal/store"
)

// Action describes whether Register created a new tool or updated one
// that already existed.
type Action string

const (
	ActionRegistered Action = "registered"
	ActionUpdated    Action = "updated"
)

// Result is the structured outcome of a single Register call.
type Result struct {
	Action   Action
	Tool     store.Tool
	Warnings []string
}

// Registrar ingests manifests into a Store.
type Registrar struct {
	store *store.Store
	clock func() time.Time
}

// New creates a Registrar over an open Store.
func New(s *store.Store) *Registrar {
	return &Registrar{store: s, clock: time.Now}
}

// dependencyKindToToolKind maps a depends_on.kind to the manifest.Kind
// used when synthesizing a stub provider, per spec.md §4.4.
func dependencyKindToToolKind(k manifest.DependencyKind) manifest.Kind {
	switch k {
	case manifest.DepLibrary, manifest.DepNPM, manifest.DepDatabase, manifest.DepImplicit:
		return manifest.KindLibrary
	case manifest.DepCLI:
		return manifest.KindCLI
	case manifest.DepMCP:
		return manifest.KindMCP
	default:
		return manifest.KindLibrary
	}
}

// Register ingests the manifest at path. On a manifest parse/validation
// failure no writes occur. Store errors roll back the transaction.
// Cycle-detection failures degrade to a warning; registration still
// succeeds.
func (r *Registrar) Register(ctx context.Context, path string) (*Result, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	return r.RegisterManifest(ctx, m)
}

// RegisterManifest ingests an already-parsed manifest.
func (r *Registrar) RegisterManifest(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	now := r.clock().UTC()

	existing, err := r.store.GetTool(ctx, tx, m.Name)
	action := ActionRegistered
	createdAt := now
	if err == nil {
		action = ActionUpdated
		createdAt = existing.CreatedAt
	} else if appErr, ok := err.(*apperr.Error); !ok || appErr.Kind != apperr.KindNotFound {
		return nil, err
	}

	tool := store.Tool{
		ID:             m.Name,
		DisplayName:    m.Name,
		FilesystemPath: m.Path,
		Kind:           string(m.Kind),
		Version:        m.Version,
		Reliability:    m.ResolvedReliability(),
		DebtScore:      m.ResolvedDebtScore(),
		ManifestPath:   manifestPathOf(m),
		StartCommand:   m.StartCommand,
		IsStub:         false,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}
	if err := r.store.UpsertTool(ctx, tx, tool); err != nil {
		return nil, err
	}

	if err := r.store.DeleteEdgesByConsumer(ctx, tx, tool.ID); err != nil {
		return nil, err
	}

	var warnings []string
	for _, dep := range m.DependsOn {
		if _, err := r.store.GetTool(ctx, tx, dep.Name); err != nil {
			appErr, ok := err.(*apperr.Error)
			if !ok || appErr.Kind != apperr.KindNotFound {
				return nil, err
			}
			stub := store.Tool{
				ID:             dep.Name,
				DisplayName:    dep.Name,
				FilesystemPath: "unknown",
				Kind:           string(dependencyKindToToolKind(dep.Kind)),
				Reliability:    manifest.DefaultReliability,
				DebtScore:      manifest.DefaultDebtScore,
				IsStub:         true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := r.store.UpsertTool(ctx, tx, stub); err != nil {
				return nil, err
			}
			warnings = append(warnings, fmt.Sprintf("stub_created(%s)", dep.Name))
		}

		edge := store.DependencyEdge{
			ID:                uuid.NewString(),
			ConsumerID:        tool.ID,
			ProviderID:        dep.Name,
			Kind:              string(dep.Kind),
			VersionConstraint: dep.Version,
			Optional:          dep.Optional,
			CreatedAt:         now,
		}
		if err := r.store.InsertEdge(ctx, tx, edge); err != nil {
			return nil, err
		}
	}

	if err := r.upsertContracts(ctx, tx, tool.ID, m); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.StoreErrorf(err, "committing registration of %s", tool.ID)
	}

	cycleWarnings, err := r.detectAndRecordCycles(ctx, tool.ID)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("degraded: cycle detection failed: %v", err))
	} else {
		warnings = append(warnings, cycleWarnings...)
	}

	return &Result{Action: action, Tool: tool, Warnings: warnings}, nil
}

func manifestPathOf(m *manifest.Manifest) string {
	if m.Path == "" {
		return ""
	}
	return m.Path + "/" + manifest.ManifestFileName
}

// contractKey identifies a facet by the same (contract_kind, name) pair
// UpsertContract keys on.
type contractKey struct {
	kind string
	name string
}

// upsertContracts projects every provides facet onto a Contract row,
// keyed by (tool_id, name, contract_kind); UpsertContract preserves an
// existing schema_hash when the new row leaves it empty. Any existing
// contract whose facet is no longer declared by m is deleted, so
// re-registering a manifest that dropped a facet doesn't leave a stale
// row behind forever (spec.md's register-is-idempotent invariant: a
// manifest missing a previously-declared facet must converge to the
// same contract set a fresh register(M) would produce).
func (r *Registrar) upsertContracts(ctx context.Context, tx *sql.Tx, toolID string, m *manifest.Manifest) error {
	declared := make(map[contractKey]bool)

	for _, f := range m.Provides.CLI {
		c := store.Contract{
			ID:           uuid.NewString(),
			ToolID:       toolID,
			ContractKind: string(manifest.ContractCLIOutput),
			Name:         f.Command,
			SchemaPath:   f.OutputSchema,
		}
		declared[contractKey{kind: c.ContractKind, name: c.Name}] = true
		if err := r.store.UpsertContract(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, f := range m.Provides.MCP {
		name := f.Tool
		if name == "" {
			name = f.Resource
		}
		c := store.Contract{
			ID:           uuid.NewString(),
			ToolID:       toolID,
			ContractKind: string(manifest.ContractMCPTool),
			Name:         name,
			SchemaPath:   f.Schema,
		}
		declared[contractKey{kind: c.ContractKind, name: c.Name}] = true
		if err := r.store.UpsertContract(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, f := range m.Provides.Library {
		c := store.Contract{
			ID:           uuid.NewString(),
			ToolID:       toolID,
			ContractKind: string(manifest.ContractLibraryExport),
			Name:         f.Export,
			SchemaPath:   f.Path,
		}
		declared[contractKey{kind: c.ContractKind, name: c.Name}] = true
		if err := r.store.UpsertContract(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, f := range m.Provides.Database {
		c := store.Contract{
			ID:           uuid.NewString(),
			ToolID:       toolID,
			ContractKind: string(manifest.ContractDBSchema),
			Name:         f.Path,
			SchemaPath:   f.Schema,
		}
		declared[contractKey{kind: c.ContractKind, name: c.Name}] = true
		if err := r.store.UpsertContract(ctx, tx, c); err != nil {
			return err
		}
	}

	existing, err := r.store.ListContractsByTool(ctx, tx, toolID)
	if err != nil {
		return err
	}
	for _, c := range existing {
		if !declared[contractKey{kind: c.ContractKind, name: c.Name}] {
			if err := r.store.DeleteContract(ctx, tx, c.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectAndRecordCycles loads a fresh graph snapshot and records any
// cycle touching toolID. This runs outside the registration transaction
// per spec.md §4.4 step 7: a failure here degrades to a warning rather
// than rolling back the already-committed registration.
//
// Re-registering an unchanged manifest must not grow the cycle log
// (spec.md §"registering the same manifest twice yields the same...
// cycle-record sets as a single register(M)"), so an already-logged,
// still-unresolved occurrence of the same cycle is skipped rather than
// appended again.
func (r *Registrar) detectAndRecordCycles(ctx context.Context, toolID string) ([]string, error) {
	tools, err := r.store.ListTools(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}
	edges, err := r.store.ListEdges(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}

	nodes := make([]depgraph.Node, 0, len(tools))
	for _, t := range tools {
		nodes = append(nodes, depgraph.Node{ID: t.ID, Kind: t.Kind, Reliability: t.Reliability, DebtScore: t.DebtScore, IsStub: t.IsStub})
	}
	gedges := make([]depgraph.Edge, 0, len(edges))
	for _, e := range edges {
		gedges = append(gedges, depgraph.Edge{ConsumerID: e.ConsumerID, ProviderID: e.ProviderID, Kind: e.Kind})
	}
	g := depgraph.New(nodes, gedges, r.clock())

	existing, err := r.store.ListCircularDepRecords(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}
	unresolved := make(map[string]bool, len(existing))
	for _, rec := range existing {
		if !rec.Resolved {
			unresolved[cycleKey(rec.Cycle)] = true
		}
	}

	var warnings []string
	for _, cycle := range g.Cycles() {
		touches := false
		for _, id := range cycle.Nodes {
			if id == toolID {
				touches = true
				break
			}
		}
		if !touches {
			continue
		}

		key := cycleKey(cycle.Nodes)
		if unresolved[key] {
			warnings = append(warnings, fmt.Sprintf("cycle_already_recorded(%v)", cycle.Nodes))
			continue
		}

		rec := store.CircularDepRecord{
			ID:         uuid.NewString(),
			Cycle:      cycle.Nodes,
			DetectedAt: r.clock().UTC(),
			Resolved:   false,
		}
		if err := r.store.InsertCircularDepRecord(ctx, r.store.DB(), rec); err != nil {
			return warnings, err
		}
		unresolved[key] = true
		warnings = append(warnings, fmt.Sprintf("cycle_detected(%v)", cycle.Nodes))
	}
	return warnings, nil
}

// cycleKey normalizes a cycle's node set so that two detections of the
// same cycle compare equal regardless of which node the DFS started
// from or which direction it walked the back edge.
func cycleKey(nodes []string) string {
	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}
