// Package store implements the transactional persistent registry over
// the five entity kinds (Tool, DependencyEdge, Contract, Verification,
// ToolVerification) plus the append-only CircularDepRecord log. The
// backing engine is an embedded, CGo-free SQLite (modernc.org/sqlite) so
// the registry stays a single static binary.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jcfischer/pai-deps/internal/apperr"
)

// Store wraps a single-writer SQLite connection over the registry schema.
type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx, so every CRUD helper
// below can run either standalone or inside a Registrar transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EnvStorePath overrides the default storage location.
const EnvStorePath = "PAI_DEPS_STORE_PATH"

// DefaultPath returns the platform-appropriate configuration path for the
// registry database, honoring EnvStorePath.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvStorePath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(dir, "pai-deps", "registry.db"), nil
}

// Open opens or creates the backing file at path and runs the idempotent
// schema bootstrap. A single connection is kept (single-writer model).
func Open(path string) (*Store, error) {
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, apperr.IOErrorf(err, "creating store directory for %s", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "opening store at %s", path)
	}
	db.SetMaxOpenConns(1) // single-writer model; avoids SQLITE_BUSY

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, apperr.StoreErrorf(err, "enabling foreign keys")
	}

	s := &Store{db: db}
	if err := s.bootstrap(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Begin starts a transaction for one atomic Registrar call or
// verification write.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "beginning transaction")
	}
	return tx, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tools (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			filesystem_path TEXT NOT NULL,
			kind TEXT NOT NULL,
			version TEXT,
			reliability REAL NOT NULL DEFAULT 0.95,
			debt_score INTEGER NOT NULL DEFAULT 0,
			manifest_path TEXT,
			start_command TEXT,
			is_stub INTEGER NOT NULL DEFAULT 0,
			last_verified_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tools_kind ON tools(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_tools_is_stub ON tools(is_stub)`,

		`CREATE TABLE IF NOT EXISTS dependency_edges (
			id TEXT PRIMARY KEY,
			consumer_id TEXT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
			provider_id TEXT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			version_constraint TEXT,
			optional INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_consumer ON dependency_edges(consumer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_provider ON dependency_edges(provider_id)`,

		`CREATE TABLE IF NOT EXISTS contracts (
			id TEXT PRIMARY KEY,
			tool_id TEXT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
			contract_kind TEXT NOT NULL,
			name TEXT NOT NULL,
			schema_path TEXT,
			schema_hash TEXT,
			schema_content BLOB,
			last_verified_at TEXT,
			status TEXT NOT NULL DEFAULT 'unknown'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_tool ON contracts(tool_id)`,

		`CREATE TABLE IF NOT EXISTS verifications (
			id TEXT PRIMARY KEY,
			contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
			verified_at TEXT NOT NULL,
			status TEXT NOT NULL,
			details TEXT,
			vcs_commit TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verifications_contract ON verifications(contract_id)`,

		`CREATE TABLE IF NOT EXISTS tool_verifications (
			id TEXT PRIMARY KEY,
			tool_id TEXT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
			verified_at TEXT NOT NULL,
			cli_pass INTEGER NOT NULL DEFAULT 0,
			cli_fail INTEGER NOT NULL DEFAULT 0,
			cli_skip INTEGER NOT NULL DEFAULT 0,
			mcp_found INTEGER NOT NULL DEFAULT 0,
			mcp_missing INTEGER NOT NULL DEFAULT 0,
			mcp_extra INTEGER NOT NULL DEFAULT 0,
			overall_status TEXT NOT NULL,
			vcs_commit TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_verifications_tool ON tool_verifications(tool_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_verifications_verified_at ON tool_verifications(verified_at)`,

		`CREATE TABLE IF NOT EXISTS circular_dep_records (
			id TEXT PRIMARY KEY,
			cycle TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.StoreErrorf(err, "bootstrapping schema")
		}
	}
	return nil
}

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseTimeStr(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }

func nullableTimeStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

// --- Tools ---

// UpsertTool inserts or updates a tool row, preserving created_at on
// update (the caller supplies the original created_at when updating).
func (s *Store) UpsertTool(ctx context.Context, q queryer, t Tool) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tools (id, display_name, filesystem_path, kind, version, reliability, debt_score, manifest_path, start_command, is_stub, last_verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name=excluded.display_name,
			filesystem_path=excluded.filesystem_path,
			kind=excluded.kind,
			version=excluded.version,
			reliability=excluded.reliability,
			debt_score=excluded.debt_score,
			manifest_path=excluded.manifest_path,
			start_command=excluded.start_command,
			is_stub=excluded.is_stub,
			last_verified_at=excluded.last_verified_at,
			updated_at=excluded.updated_at
	`, t.ID, t.DisplayName, t.FilesystemPath, t.Kind, t.Version, t.Reliability, t.DebtScore,
		t.ManifestPath, t.StartCommand, boolToInt(t.IsStub), nullableTimeStr(t.LastVerifiedAt),
		timeStr(t.CreatedAt), timeStr(t.UpdatedAt))
	if err != nil {
		return apperr.StoreErrorf(err, "upserting tool %s", t.ID)
	}
	return nil
}

// GetTool returns a tool by id, or a *apperr.Error of KindNotFound.
func (s *Store) GetTool(ctx context.Context, q queryer, id string) (*Tool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, display_name, filesystem_path, kind, version, reliability, debt_score,
			manifest_path, start_command, is_stub, last_verified_at, created_at, updated_at
		FROM tools WHERE id = ?`, id)
	t, err := scanTool(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("tool", id)
	}
	if err != nil {
		return nil, apperr.StoreErrorf(err, "getting tool %s", id)
	}
	return t, nil
}

// ListTools returns every tool row.
func (s *Store) ListTools(ctx context.Context, q queryer) ([]Tool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, display_name, filesystem_path, kind, version, reliability, debt_score,
			manifest_path, start_command, is_stub, last_verified_at, created_at, updated_at
		FROM tools`)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "listing tools")
	}
	defer rows.Close()

	var out []Tool
	for rows.Next() {
		t, err := scanToolRows(rows)
		if err != nil {
			return nil, apperr.StoreErrorf(err, "scanning tool row")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DeleteTool removes a tool; cascades to contracts, verifications,
// tool_verifications, and incident edges via FK ON DELETE CASCADE.
func (s *Store) DeleteTool(ctx context.Context, q queryer, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tools WHERE id = ?`, id)
	if err != nil {
		return apperr.StoreErrorf(err, "deleting tool %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("tool", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTool(row scannable) (*Tool, error) {
	return scanToolRows(row)
}

func scanToolRows(row scannable) (*Tool, error) {
	var (
		t              Tool
		version        sql.NullString
		manifestPath   sql.NullString
		startCommand   sql.NullString
		isStub         int
		lastVerifiedAt sql.NullString
		createdAt      string
		updatedAt      string
	)
	if err := row.Scan(&t.ID, &t.DisplayName, &t.FilesystemPath, &t.Kind, &version,
		&t.Reliability, &t.DebtScore, &manifestPath, &startCommand, &isStub, &lastVerifiedAt,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Version = version.String
	t.ManifestPath = manifestPath.String
	t.StartCommand = startCommand.String
	t.IsStub = isStub != 0
	if lastVerifiedAt.Valid {
		ts, err := parseTimeStr(lastVerifiedAt.String)
		if err != nil {
			return nil, err
		}
		t.LastVerifiedAt = &ts
	}
	createdTs, err := parseTimeStr(createdAt)
	if err != nil {
		return nil, err
	}
	updatedTs, err := parseTimeStr(updatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = createdTs
	t.UpdatedAt = updatedTs
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- DependencyEdges ---

// DeleteEdgesByConsumer removes every edge where consumerID is the
// consumer; used by the Registrar for en-bloc edge replacement.
func (s *Store) DeleteEdgesByConsumer(ctx context.Context, q queryer, consumerID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM dependency_edges WHERE consumer_id = ?`, consumerID); err != nil {
		return apperr.StoreErrorf(err, "deleting edges for consumer %s", consumerID)
	}
	return nil
}

// InsertEdge inserts a new dependency edge.
func (s *Store) InsertEdge(ctx context.Context, q queryer, e DependencyEdge) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO dependency_edges (id, consumer_id, provider_id, kind, version_constraint, optional, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ConsumerID, e.ProviderID, e.Kind, e.VersionConstraint, boolToInt(e.Optional), timeStr(e.CreatedAt))
	if err != nil {
		return apperr.StoreErrorf(err, "inserting edge %s->%s", e.ConsumerID, e.ProviderID)
	}
	return nil
}

// ListEdges returns every dependency edge.
func (s *Store) ListEdges(ctx context.Context, q queryer) ([]DependencyEdge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, consumer_id, provider_id, kind, version_constraint, optional, created_at
		FROM dependency_edges`)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "listing edges")
	}
	defer rows.Close()
	return scanEdgeRows(rows)
}

// ListEdgesByConsumer returns every edge where consumerID is the consumer,
// via idx_edges_consumer rather than a full-table scan.
func (s *Store) ListEdgesByConsumer(ctx context.Context, q queryer, consumerID string) ([]DependencyEdge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, consumer_id, provider_id, kind, version_constraint, optional, created_at
		FROM dependency_edges WHERE consumer_id = ?`, consumerID)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "listing edges for consumer %s", consumerID)
	}
	defer rows.Close()
	return scanEdgeRows(rows)
}

func scanEdgeRows(rows *sql.Rows) ([]DependencyEdge, error) {
	var out []DependencyEdge
	for rows.Next() {
		var (
			e            DependencyEdge
			versionConst sql.NullString
			optional     int
			createdAt    string
		)
		if err := rows.Scan(&e.ID, &e.ConsumerID, &e.ProviderID, &e.Kind, &versionConst, &optional, &createdAt); err != nil {
			return nil, apperr.StoreErrorf(err, "scanning edge row")
		}
		e.VersionConstraint = versionConst.String
		e.Optional = optional != 0
		ts, err := parseTimeStr(createdAt)
		if err != nil {
			return nil, apperr.StoreErrorf(err, "parsing edge created_at")
		}
		e.CreatedAt = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Contracts ---

// UpsertContract inserts or updates a contract keyed by (tool_id, name,
// contract_kind), preserving schema_hash if the caller leaves it empty.
func (s *Store) UpsertContract(ctx context.Context, q queryer, c Contract) error {
	existing, err := s.findContract(ctx, q, c.ToolID, c.Name, c.ContractKind)
	if err != nil {
		return err
	}
	if existing != nil {
		c.ID = existing.ID
		if c.SchemaHash == "" {
			c.SchemaHash = existing.SchemaHash
		}
		if c.Status == "" {
			c.Status = existing.Status
		}
	}
	if c.Status == "" {
		c.Status = ContractStatusUnknown
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO contracts (id, tool_id, contract_kind, name, schema_path, schema_hash, schema_content, last_verified_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_path=excluded.schema_path,
			schema_hash=excluded.schema_hash,
			last_verified_at=excluded.last_verified_at,
			status=excluded.status
	`, c.ID, c.ToolID, c.ContractKind, c.Name, c.SchemaPath, c.SchemaHash, c.SchemaContent, nullableTimeStr(c.LastVerifiedAt), c.Status)
	if err != nil {
		return apperr.StoreErrorf(err, "upserting contract %s/%s", c.ToolID, c.Name)
	}
	return nil
}

func (s *Store) findContract(ctx context.Context, q queryer, toolID, name, contractKind string) (*Contract, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, tool_id, contract_kind, name, schema_path, schema_hash, schema_content, last_verified_at, status
		FROM contracts WHERE tool_id = ? AND name = ? AND contract_kind = ?`, toolID, name, contractKind)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.StoreErrorf(err, "finding contract %s/%s", toolID, name)
	}
	return c, nil
}

// GetContract returns a contract by id.
func (s *Store) GetContract(ctx context.Context, q queryer, id string) (*Contract, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, tool_id, contract_kind, name, schema_path, schema_hash, schema_content, last_verified_at, status
		FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("contract", id)
	}
	if err != nil {
		return nil, apperr.StoreErrorf(err, "getting contract %s", id)
	}
	return c, nil
}

// ListContractsByTool returns every contract owned by toolID.
func (s *Store) ListContractsByTool(ctx context.Context, q queryer, toolID string) ([]Contract, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tool_id, contract_kind, name, schema_path, schema_hash, schema_content, last_verified_at, status
		FROM contracts WHERE tool_id = ?`, toolID)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "listing contracts for tool %s", toolID)
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, apperr.StoreErrorf(err, "scanning contract row")
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanContract(row scannable) (*Contract, error) {
	var (
		c              Contract
		schemaPath     sql.NullString
		schemaHash     sql.NullString
		schemaContent  []byte
		lastVerifiedAt sql.NullString
	)
	if err := row.Scan(&c.ID, &c.ToolID, &c.ContractKind, &c.Name, &schemaPath, &schemaHash, &schemaContent, &lastVerifiedAt, &c.Status); err != nil {
		return nil, err
	}
	c.SchemaPath = schemaPath.String
	c.SchemaHash = schemaHash.String
	c.SchemaContent = schemaContent
	if lastVerifiedAt.Valid {
		ts, err := parseTimeStr(lastVerifiedAt.String)
		if err != nil {
			return nil, err
		}
		c.LastVerifiedAt = &ts
	}
	return &c, nil
}

// DeleteContract removes a contract (and, via cascade, its verification
// history) by id. Used by the Registrar to prune a facet dropped from a
// re-registered manifest.
func (s *Store) DeleteContract(ctx context.Context, q queryer, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, id); err != nil {
		return apperr.StoreErrorf(err, "deleting contract %s", id)
	}
	return nil
}

// UpdateContractSchema persists a new schema_hash, the raw schema bytes
// it was computed from, and a last_verified_at stamp, used by the Drift
// Engine's update mode. Recording the content lets the *next* drift
// check compute a field diff against this exact version.
func (s *Store) UpdateContractSchema(ctx context.Context, q queryer, contractID, hash string, content []byte, status string, verifiedAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE contracts SET schema_hash = ?, schema_content = ?, status = ?, last_verified_at = ? WHERE id = ?
	`, hash, content, status, timeStr(verifiedAt), contractID)
	if err != nil {
		return apperr.StoreErrorf(err, "updating contract hash %s", contractID)
	}
	return nil
}

// --- Verifications ---

// InsertVerification records one per-contract verification attempt.
func (s *Store) InsertVerification(ctx context.Context, q queryer, v Verification) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO verifications (id, contract_id, verified_at, status, details, vcs_commit)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.ID, v.ContractID, timeStr(v.VerifiedAt), v.Status, v.Details, v.VCSCommit)
	if err != nil {
		return apperr.StoreErrorf(err, "inserting verification for contract %s", v.ContractID)
	}
	return nil
}

// ListVerificationsByContract returns every verification row for a contract.
func (s *Store) ListVerificationsByContract(ctx context.Context, q queryer, contractID string) ([]Verification, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, contract_id, verified_at, status, details, vcs_commit
		FROM verifications WHERE contract_id = ? ORDER BY verified_at`, contractID)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "listing verifications for contract %s", contractID)
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		var verifiedAt string
		var details, vcsCommit sql.NullString
		if err := rows.Scan(&v.ID, &v.ContractID, &verifiedAt, &v.Status, &details, &vcsCommit); err != nil {
			return nil, apperr.StoreErrorf(err, "scanning verification row")
		}
		ts, err := parseTimeStr(verifiedAt)
		if err != nil {
			return nil, apperr.StoreErrorf(err, "parsing verification timestamp")
		}
		v.VerifiedAt = ts
		v.Details = details.String
		v.VCSCommit = vcsCommit.String
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- ToolVerifications ---

// InsertToolVerification records one per-tool verification summary.
func (s *Store) InsertToolVerification(ctx context.Context, q queryer, tv ToolVerification) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tool_verifications
			(id, tool_id, verified_at, cli_pass, cli_fail, cli_skip, mcp_found, mcp_missing, mcp_extra, overall_status, vcs_commit, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tv.ID, tv.ToolID, timeStr(tv.VerifiedAt), tv.CLIPass, tv.CLIFail, tv.CLISkip,
		tv.MCPFound, tv.MCPMissing, tv.MCPExtra, tv.OverallStatus, tv.VCSCommit, tv.DurationMillis)
	if err != nil {
		return apperr.StoreErrorf(err, "inserting tool verification for %s", tv.ToolID)
	}
	return nil
}

// ListToolVerifications returns every tool verification for toolID, most
// recent last.
func (s *Store) ListToolVerifications(ctx context.Context, q queryer, toolID string) ([]ToolVerification, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tool_id, verified_at, cli_pass, cli_fail, cli_skip, mcp_found, mcp_missing, mcp_extra, overall_status, vcs_commit, duration_ms
		FROM tool_verifications WHERE tool_id = ? ORDER BY verified_at`, toolID)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "listing tool verifications for %s", toolID)
	}
	defer rows.Close()

	var out []ToolVerification
	for rows.Next() {
		var tv ToolVerification
		var verifiedAt string
		var vcsCommit sql.NullString
		if err := rows.Scan(&tv.ID, &tv.ToolID, &verifiedAt, &tv.CLIPass, &tv.CLIFail, &tv.CLISkip,
			&tv.MCPFound, &tv.MCPMissing, &tv.MCPExtra, &tv.OverallStatus, &vcsCommit, &tv.DurationMillis); err != nil {
			return nil, apperr.StoreErrorf(err, "scanning tool verification row")
		}
		ts, err := parseTimeStr(verifiedAt)
		if err != nil {
			return nil, apperr.StoreErrorf(err, "parsing tool verification timestamp")
		}
		tv.VerifiedAt = ts
		tv.VCSCommit = vcsCommit.String
		out = append(out, tv)
	}
	return out, rows.Err()
}

// --- CircularDepRecords ---

// InsertCircularDepRecord appends one detected cycle to the log.
func (s *Store) InsertCircularDepRecord(ctx context.Context, q queryer, r CircularDepRecord) error {
	cycleJSON, err := json.Marshal(r.Cycle)
	if err != nil {
		return apperr.StoreErrorf(err, "marshaling cycle")
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO circular_dep_records (id, cycle, detected_at, resolved)
		VALUES (?, ?, ?, ?)
	`, r.ID, string(cycleJSON), timeStr(r.DetectedAt), boolToInt(r.Resolved))
	if err != nil {
		return apperr.StoreErrorf(err, "inserting circular dep record")
	}
	return nil
}

// ListCircularDepRecords returns every recorded cycle.
func (s *Store) ListCircularDepRecords(ctx context.Context, q queryer) ([]CircularDepRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, cycle, detected_at, resolved FROM circular_dep_records`)
	if err != nil {
		return nil, apperr.StoreErrorf(err, "listing circular dep records")
	}
	defer rows.Close()

	var out []CircularDepRecord
	for rows.Next() {
		var (
			r          CircularDepRecord
			cycleJSON  string
			detectedAt string
			resolved   int
		)
		if err := rows.Scan(&r.ID, &cycleJSON, &detectedAt, &resolved); err != nil {
			return nil, apperr.StoreErrorf(err, "scanning circular dep record")
		}
		if err := json.Unmarshal([]byte(cycleJSON), &r.Cycle); err != nil {
			return nil, apperr.StoreErrorf(err, "unmarshaling cycle")
		}
		ts, err := parseTimeStr(detectedAt)
		if err != nil {
			return nil, apperr.StoreErrorf(err, "parsing detected_at")
		}
		r.DetectedAt = ts
		r.Resolved = resolved != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkCircularDepResolved flips the resolved flag for operator bookkeeping.
func (s *Store) MarkCircularDepResolved(ctx context.Context, q queryer, id string, resolved bool) error {
	res, err := q.ExecContext(ctx, `UPDATE circular_dep_records SET resolved = ? WHERE id = ?`, boolToInt(resolved), id)
	if err != nil {
		return apperr.StoreErrorf(err, "marking circular dep record %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("circular_dep_record", id)
	}
	return nil
}

// DB exposes the underlying *sql.DB for callers (e.g. the graph loaders in
// cmd/paideps and the registrar) that run outside a transaction.
func (s *Store) DB() *sql.DB { return s.db }
