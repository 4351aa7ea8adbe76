// Package sync implements bulk idempotent registration over a discovery
// result: each discovered manifest is classified against the current
// store state, and only changed manifests are sent through the
// registrar (unless forced).
package sync

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jcfischer/pai-deps/internal/apperr"
	"github.com/jcfischer/pai-deps/internal/canon"
	"github.com/jcfischer/pai-deps/internal/discovery"
	"github.com/jcfischer/pai-deps/internal/manifest"
	"github.com/jcfischer/pai-deps/internal/registrar"
	"github.com/jcfischer/pai-deps/internal/store"
)

// Status classifies one discovered manifest relative to stored state.
type Status string

const (
	StatusNew       Status = "new"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusError     Status = "error"
)

// DefaultConcurrency bounds how many manifests are classified or
// registered at once.
const DefaultConcurrency = 8

// Item is the per-manifest outcome of a Sync run.
type Item struct {
	Path     string
	ToolName string
	Status   Status
	Err      error
	Register *registrar.Result
}

// Summary aggregates a Sync run.
type Summary struct {
	Items     []Item
	New       int
	Updated   int
	Unchanged int
	Errors    int
}

// Options configures a Sync run.
type Options struct {
	// Force proceeds through the registrar for every item regardless of
	// classification.
	Force bool
	// Concurrency bounds classification and registration parallelism.
	// Zero uses DefaultConcurrency.
	Concurrency int
}

// Sync classifies every discovered manifest and registers the new and
// updated ones (or all of them, when Force is set). Running Sync twice
// over the same discovery set with no intervening filesystem changes
// classifies everything as unchanged on the second run.
func Sync(ctx context.Context, reg *registrar.Registrar, s *store.Store, found []discovery.Found, opts Options) (*Summary, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	items := make([]Item, len(found))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, f := range found {
		i, f := i, f
		g.Go(func() error {
			items[i] = classify(gctx, s, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rg, rgctx := errgroup.WithContext(ctx)
	rg.SetLimit(concurrency)
	for i := range items {
		i := i
		if items[i].Status == StatusError {
			continue
		}
		if items[i].Status == StatusUnchanged && !opts.Force {
			continue
		}
		rg.Go(func() error {
			res, err := reg.RegisterManifest(rgctx, found[i].Manifest)
			if err != nil {
				items[i].Status = StatusError
				items[i].Err = err
				return nil
			}
			items[i].Register = res
			return nil
		})
	}
	if err := rg.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{Items: items}
	for _, it := range items {
		switch it.Status {
		case StatusNew:
			summary.New++
		case StatusUpdated:
			summary.Updated++
		case StatusUnchanged:
			summary.Unchanged++
		case StatusError:
			summary.Errors++
		}
	}
	sort.Slice(summary.Items, func(i, j int) bool { return summary.Items[i].Path < summary.Items[j].Path })
	return summary, nil
}

// classify compares a discovered manifest's structural content against
// the stored tool/edges/contracts it would project onto, without
// mutating the store.
func classify(ctx context.Context, s *store.Store, f discovery.Found) Item {
	item := Item{Path: f.Path, ToolName: f.Manifest.Name}

	existing, err := s.GetTool(ctx, s.DB(), f.Manifest.Name)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindNotFound {
			item.Status = StatusNew
			return item
		}
		item.Status = StatusError
		item.Err = err
		return item
	}

	edges, err := s.ListEdgesByConsumer(ctx, s.DB(), existing.ID)
	if err != nil {
		item.Status = StatusError
		item.Err = err
		return item
	}
	contracts, err := s.ListContractsByTool(ctx, s.DB(), existing.ID)
	if err != nil {
		item.Status = StatusError
		item.Err = err
		return item
	}

	storedHash, err := canon.Hash(snapshotFromStore(*existing, edges, contracts))
	if err != nil {
		item.Status = StatusError
		item.Err = err
		return item
	}
	manifestHash, err := canon.Hash(snapshotFromManifest(f.Manifest))
	if err != nil {
		item.Status = StatusError
		item.Err = err
		return item
	}

	if storedHash == manifestHash {
		item.Status = StatusUnchanged
	} else {
		item.Status = StatusUpdated
	}
	return item
}

type depSnapshot struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Version  string `json:"version"`
	Optional bool   `json:"optional"`
}

type facetSnapshot struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	SchemaPath string `json:"schema_path"`
}

type toolSnapshot struct {
	Kind         string          `json:"kind"`
	Version      string          `json:"version"`
	Reliability  float64         `json:"reliability"`
	DebtScore    int             `json:"debt_score"`
	StartCommand string          `json:"start_command"`
	DependsOn    []depSnapshot   `json:"depends_on"`
	Provides     []facetSnapshot `json:"provides"`
}

func snapshotFromManifest(m *manifest.Manifest) toolSnapshot {
	deps := make([]depSnapshot, 0, len(m.DependsOn))
	for _, d := range m.DependsOn {
		deps = append(deps, depSnapshot{Name: d.Name, Kind: string(d.Kind), Version: d.Version, Optional: d.Optional})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

	facets := make([]facetSnapshot, 0)
	for _, f := range m.Provides.CLI {
		facets = append(facets, facetSnapshot{Kind: string(manifest.ContractCLIOutput), Name: f.Command, SchemaPath: f.OutputSchema})
	}
	for _, f := range m.Provides.MCP {
		name := f.Tool
		if name == "" {
			name = f.Resource
		}
		facets = append(facets, facetSnapshot{Kind: string(manifest.ContractMCPTool), Name: name, SchemaPath: f.Schema})
	}
	for _, f := range m.Provides.Library {
		facets = append(facets, facetSnapshot{Kind: string(manifest.ContractLibraryExport), Name: f.Export, SchemaPath: f.Path})
	}
	for _, f := range m.Provides.Database {
		facets = append(facets, facetSnapshot{Kind: string(manifest.ContractDBSchema), Name: f.Path, SchemaPath: f.Schema})
	}
	sort.Slice(facets, func(i, j int) bool {
		if facets[i].Kind != facets[j].Kind {
			return facets[i].Kind < facets[j].Kind
		}
		return facets[i].Name < facets[j].Name
	})

	return toolSnapshot{
		Kind:         string(m.Kind),
		Version:      m.Version,
		Reliability:  m.ResolvedReliability(),
		DebtScore:    m.ResolvedDebtScore(),
		StartCommand: m.StartCommand,
		DependsOn:    deps,
		Provides:     facets,
	}
}

func snapshotFromStore(tool store.Tool, edges []store.DependencyEdge, contracts []store.Contract) toolSnapshot {
	deps := make([]depSnapshot, 0, len(edges))
	for _, e := range edges {
		deps = append(deps, depSnapshot{Name: e.ProviderID, Kind: e.Kind, Version: e.VersionConstraint, Optional: e.Optional})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

	facets := make([]facetSnapshot, 0, len(contracts))
	for _, c := range contracts {
		facets = append(facets, facetSnapshot{Kind: c.ContractKind, Name: c.Name, SchemaPath: c.SchemaPath})
	}
	sort.Slice(facets, func(i, j int) bool {
		if facets[i].Kind != facets[j].Kind {
			return facets[i].Kind < facets[j].Kind
		}
		return facets[i].Name < facets[j].Name
	})

	return toolSnapshot{
		Kind:         tool.Kind,
		Version:      tool.Version,
		Reliability:  tool.Reliability,
		DebtScore:    tool.DebtScore,
		StartCommand: tool.StartCommand,
		DependsOn:    deps,
		Provides:     facets,
	}
}
