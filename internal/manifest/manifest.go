// Package manifest implements the canonical pai-manifest.yaml schema and
// a deterministic parse/validate pipeline. Validation collects every
// failing constraint rather than stopping at the first.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jcfischer/pai-deps/internal/apperr"
)

// Kind enumerates the tool kinds a manifest may declare.
type Kind string

const (
	KindCLI      Kind = "cli"
	KindMCP      Kind = "mcp"
	KindLibrary  Kind = "library"
	KindWorkflow Kind = "workflow"
	KindHook     Kind = "hook"
	KindCLIMCP   Kind = "cli+mcp"
)

func (k Kind) valid() bool {
	switch k {
	case KindCLI, KindMCP, KindLibrary, KindWorkflow, KindHook, KindCLIMCP:
		return true
	}
	return false
}

// DependencyKind enumerates the kinds a depends_on entry may declare.
type DependencyKind string

const (
	DepCLI      DependencyKind = "cli"
	DepMCP      DependencyKind = "mcp"
	DepLibrary  DependencyKind = "library"
	DepDatabase DependencyKind = "database"
	DepNPM      DependencyKind = "npm"
	DepImplicit DependencyKind = "implicit"
)

func (k DependencyKind) valid() bool {
	switch k {
	case DepCLI, DepMCP, DepLibrary, DepDatabase, DepNPM, DepImplicit:
		return true
	}
	return false
}

// ContractKind enumerates the kinds a provides facet may declare.
type ContractKind string

const (
	ContractCLIOutput     ContractKind = "cli_output"
	ContractMCPTool       ContractKind = "mcp_tool"
	ContractLibraryExport ContractKind = "library_export"
	ContractDBSchema      ContractKind = "db_schema"
)

// Dependency is one depends_on entry.
type Dependency struct {
	Name     string         `yaml:"name"`
	Kind     DependencyKind `yaml:"kind"`
	Version  string         `yaml:"version,omitempty"`
	Import   string         `yaml:"import,omitempty"`
	Commands []string       `yaml:"commands,omitempty"`
	Optional bool           `yaml:"optional,omitempty"`
}

// CLIFacet is one provides.cli entry.
type CLIFacet struct {
	Command      string `yaml:"command"`
	OutputSchema string `yaml:"output_schema,omitempty"`
}

// MCPFacet is one provides.mcp entry. Exactly one of Tool/Resource is set.
type MCPFacet struct {
	Tool     string `yaml:"tool,omitempty"`
	Resource string `yaml:"resource,omitempty"`
	Schema   string `yaml:"schema,omitempty"`
}

// LibraryFacet is one provides.library entry.
type LibraryFacet struct {
	Export string `yaml:"export"`
	Path   string `yaml:"path,omitempty"`
}

// DatabaseFacet is one provides.database entry.
type DatabaseFacet struct {
	Path   string `yaml:"path"`
	Schema string `yaml:"schema,omitempty"`
}

// Provides holds every facet sequence a manifest may declare.
type Provides struct {
	CLI      []CLIFacet      `yaml:"cli,omitempty"`
	MCP      []MCPFacet      `yaml:"mcp,omitempty"`
	Library  []LibraryFacet  `yaml:"library,omitempty"`
	Database []DatabaseFacet `yaml:"database,omitempty"`
}

// Manifest is the in-memory decode target for pai-manifest.yaml. It is
// never persisted verbatim; the Registrar projects it onto Tool,
// DependencyEdge, and Contract rows.
type Manifest struct {
	Name        string       `yaml:"name"`
	Version     string       `yaml:"version,omitempty"`
	Kind        Kind         `yaml:"kind"`
	Description string       `yaml:"description,omitempty"`
	Provides    Provides     `yaml:"provides,omitempty"`
	DependsOn   []Dependency `yaml:"depends_on,omitempty"`
	Reliability *float64     `yaml:"reliability,omitempty"`
	DebtScore   *int         `yaml:"debt_score,omitempty"`

	// StartCommand is the command used to spawn an MCP server for
	// verification (C9). Required when Provides.MCP is non-empty;
	// ignored otherwise.
	StartCommand string `yaml:"start_command,omitempty"`

	// Path is the directory the manifest was loaded from; not a YAML
	// field. Relative schema_path/output_schema values resolve against it.
	Path string `yaml:"-"`
}

const (
	ManifestFileName      = "pai-manifest.yaml"
	DefaultReliability    = 0.95
	DefaultDebtScore      = 0
	minReliability        = 0.0
	maxReliability        = 1.0
)

// ResolvedReliability returns the manifest's reliability, defaulted.
func (m *Manifest) ResolvedReliability() float64 {
	if m.Reliability != nil {
		return *m.Reliability
	}
	return DefaultReliability
}

// ResolvedDebtScore returns the manifest's debt score, defaulted.
func (m *Manifest) ResolvedDebtScore() int {
	if m.DebtScore != nil {
		return *m.DebtScore
	}
	return DefaultDebtScore
}

// Load resolves a filesystem path (a directory containing
// pai-manifest.yaml, or a manifest file directly), parses it, and
// validates it. On any validation failure it returns an
// *apperr.Error of KindInvalidManifest listing every failed constraint.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.IOErrorf(err, "stat %s", path)
	}

	manifestPath := path
	dir := filepath.Dir(path)
	if info.IsDir() {
		manifestPath = filepath.Join(path, ManifestFileName)
		dir = path
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, apperr.IOErrorf(err, "reading manifest %s", manifestPath)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.Path = dir
	return m, nil
}

// Parse decodes and validates raw manifest YAML. Unknown top-level keys
// are rejected via yaml.v3's KnownFields strict decoding.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, apperr.InvalidManifest(apperr.FieldError{
			Path:    "$",
			Message: fmt.Sprintf("parsing YAML: %v", err),
		})
	}

	if errs := validate(&m); len(errs) > 0 {
		return nil, apperr.InvalidManifest(errs...)
	}
	return &m, nil
}

func validate(m *Manifest) []apperr.FieldError {
	var errs []apperr.FieldError

	if m.Name == "" {
		errs = append(errs, apperr.FieldError{Path: "name", Message: "required, must be nonempty"})
	}

	if m.Kind == "" {
		errs = append(errs, apperr.FieldError{Path: "kind", Message: "required"})
	} else if !m.Kind.valid() {
		errs = append(errs, apperr.FieldError{Path: "kind", Message: fmt.Sprintf("invalid kind %q", m.Kind)})
	}

	if m.Reliability != nil {
		r := *m.Reliability
		if r < minReliability || r > maxReliability {
			errs = append(errs, apperr.FieldError{Path: "reliability", Message: "must be in [0,1]"})
		}
	}

	if m.DebtScore != nil && *m.DebtScore < 0 {
		errs = append(errs, apperr.FieldError{Path: "debt_score", Message: "must be >= 0"})
	}

	if len(m.Provides.MCP) > 0 && m.StartCommand == "" {
		errs = append(errs, apperr.FieldError{Path: "start_command", Message: "required when provides.mcp is non-empty"})
	}

	for i, dep := range m.DependsOn {
		prefix := fmt.Sprintf("depends_on.%d", i)
		if dep.Name == "" {
			errs = append(errs, apperr.FieldError{Path: prefix + ".name", Message: "required"})
		}
		if dep.Kind == "" {
			errs = append(errs, apperr.FieldError{Path: prefix + ".kind", Message: "required"})
		} else if !dep.Kind.valid() {
			errs = append(errs, apperr.FieldError{Path: prefix + ".kind", Message: fmt.Sprintf("invalid kind %q", dep.Kind)})
		}
	}

	return errs
}
