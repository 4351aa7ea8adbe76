package store

import "time"

// Tool is the persistent row for a registered tool. See spec.md §3.
type Tool struct {
	ID             string
	DisplayName    string
	FilesystemPath string
	Kind           string
	Version        string
	Reliability    float64
	DebtScore      int
	ManifestPath   string
	StartCommand   string
	IsStub         bool
	LastVerifiedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DependencyEdge is the persistent row for one consumer->provider edge.
type DependencyEdge struct {
	ID                string
	ConsumerID        string
	ProviderID        string
	Kind              string
	VersionConstraint string
	Optional          bool
	CreatedAt         time.Time
}

// Contract is the persistent row for one tool facet.
type Contract struct {
	ID           string
	ToolID       string
	ContractKind string
	Name         string
	SchemaPath   string
	SchemaHash   string
	// SchemaContent is the raw schema bytes as of SchemaHash, persisted
	// so a later drift check can compute a top-level field diff against
	// the version that was last recorded as valid.
	SchemaContent  []byte
	LastVerifiedAt *time.Time
	Status         string // valid, drift, broken, unknown
}

// Verification is one per-contract verification attempt.
type Verification struct {
	ID         string
	ContractID string
	VerifiedAt time.Time
	Status     string // pass, fail, drift
	Details    string // JSON blob
	VCSCommit  string
}

// ToolVerification is one per-tool summary verification attempt.
type ToolVerification struct {
	ID             string
	ToolID         string
	VerifiedAt     time.Time
	CLIPass        int
	CLIFail        int
	CLISkip        int
	MCPFound       int
	MCPMissing     int
	MCPExtra       int
	OverallStatus  string // pass, fail
	VCSCommit      string
	DurationMillis int64
}

// CircularDepRecord is one append-only cycle detection.
type CircularDepRecord struct {
	ID         string
	Cycle      []string // ordered tool ids, first == last
	DetectedAt time.Time
	Resolved   bool
}

// Contract status values.
const (
	ContractStatusValid   = "valid"
	ContractStatusDrift   = "drift"
	ContractStatusBroken  = "broken"
	ContractStatusUnknown = "unknown"
)

// Verification status values.
const (
	VerificationPass  = "pass"
	VerificationFail  = "fail"
	VerificationDrift = "drift"
)

// ToolVerification overall status values.
const (
	ToolVerificationPass = "pass"
	ToolVerificationFail = "fail"
)
