// Command paideps is the thin CLI entrypoint over the pai-deps registry:
// manifest discovery and registration, bulk sync, CLI/MCP contract
// verification, schema drift detection, and dependency-graph analytics.
//
// Every subcommand prints a single JSON envelope ({success, data, error,
// warnings}) to stdout and exits 0 on success, 1 when the requested
// checks failed (verification, drift), or 2 on a runtime/config error.
//
// Optional environment variables:
//
//	PAI_DEPS_CONFIG    - path to a pai-deps.toml config file
//	PAI_DEPS_STORE_PATH - path to the SQLite registry file
//	PAI_DEPS_LOG_LEVEL  - log level: debug, info, warn, error (default: info)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jcfischer/pai-deps/internal/analysis"
	"github.com/jcfischer/pai-deps/internal/apperr"
	"github.com/jcfischer/pai-deps/internal/config"
	"github.com/jcfischer/pai-deps/internal/depgraph"
	"github.com/jcfischer/pai-deps/internal/discovery"
	"github.com/jcfischer/pai-deps/internal/drift"
	"github.com/jcfischer/pai-deps/internal/manifest"
	"github.com/jcfischer/pai-deps/internal/registrar"
	"github.com/jcfischer/pai-deps/internal/schema"
	"github.com/jcfischer/pai-deps/internal/store"
	"github.com/jcfischer/pai-deps/internal/sync"
	"github.com/jcfischer/pai-deps/internal/verify/cliverify"
	"github.com/jcfischer/pai-deps/internal/verify/mcpverify"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Exit codes per spec.md §6.
const (
	exitOK           = 0
	exitChecksFailed = 1
	exitRuntimeError = 2
)

var (
	configPath  string
	storePath   string
	quickFlag   bool
	forceFlag   bool
	updateFlag  bool
	strictExtra bool

	cfg    *config.Config
	logger *slog.Logger
	code   = exitOK
)

var rootCmd = &cobra.Command{
	Use:           "paideps",
	Short:         "Dependency and contract registry for a personal tool ecosystem",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return apperr.IOErrorf(err, "loading config")
		}
		cfg = loaded
		if strictExtra {
			cfg.Verify.StrictExtraMCPTools = true
		}

		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Log.Level),
		}))
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to pai-deps.toml")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "path to the registry database file")
	rootCmd.PersistentFlags().BoolVar(&strictExtra, "strict-extra-mcp-tools", false, "fail verification when an MCP server reports undeclared tools")

	if err := rootCmd.Execute(); err != nil {
		emit(apperr.Fail(err))
		if code == exitOK {
			code = exitRuntimeError
		}
	}
	os.Exit(code)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func emit(env apperr.Envelope) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(env)
}

func fail(err error, exitCode int) error {
	logger.Error("command failed", "error", err, "exit_code", exitCode)
	emit(apperr.Fail(err))
	code = exitCode
	return nil
}

func succeed(data any, warnings ...string) error {
	emit(apperr.OK(data, warnings...))
	return nil
}

func openStore() (*store.Store, error) {
	path := storePath
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		var err error
		path, err = store.DefaultPath()
		if err != nil {
			return nil, apperr.IOErrorf(err, "resolving default store path")
		}
	}
	return store.Open(path)
}

// loadGraph reconstructs an in-memory depgraph.Graph snapshot from every
// tool and dependency edge currently in the store. Mirrors the
// registrar's own post-commit cycle-detection loader.
func loadGraph(ctx context.Context, s *store.Store) (*depgraph.Graph, error) {
	tools, err := s.ListTools(ctx, s.DB())
	if err != nil {
		return nil, err
	}
	edges, err := s.ListEdges(ctx, s.DB())
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
	return depgraph.New(nodes, gedges, time.Now()), nil
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(graphCmd)

	syncCmd.Flags().BoolVar(&forceFlag, "force", false, "register every discovered manifest, even unchanged ones")
	verifyCmd.Flags().BoolVar(&quickFlag, "quick", false, "skip CLI execution; presence on PATH alone determines pass/fail")
	driftCmd.Flags().BoolVar(&updateFlag, "update", false, "persist the current hash and stamp last_verified_at")

	analyzeCmd.AddCommand(analyzeBlastRadiusCmd)
	analyzeCmd.AddCommand(analyzeReliabilityCmd)

	graphCmd.AddCommand(graphCyclesCmd)
	graphCmd.AddCommand(graphToposortCmd)
	graphCmd.AddCommand(graphSummaryCmd)
}

// --- register ---

var registerCmd = &cobra.Command{
	Use:   "register <path>",
	Short: "Register a single manifest (directory or pai-manifest.yaml file)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger.Info("registering manifest", "path", args[0])
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		res, err := registrar.New(s).Register(ctx, args[0])
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		return succeed(res, res.Warnings...)
	},
}

// --- discover ---

var discoverCmd = &cobra.Command{
	Use:   "discover <root>...",
	Short: "Recursively find manifests under one or more roots, without registering them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := discovery.Options{
			MaxDepth:         cfg.Discovery.MaxDepth,
			MaxEntriesPerDir: cfg.Discovery.MaxEntriesPerDir,
			RespectGitignore: cfg.Discovery.RespectGitignore,
		}
		result := discovery.Walk(args, opts)

		warnings := make([]string, 0, len(result.Warnings))
		for _, w := range result.Warnings {
			warnings = append(warnings, fmt.Sprintf("%s: %s", w.Path, w.Message))
		}

		type foundSummary struct {
			Path string `json:"path"`
			Name string `json:"name"`
			Kind string `json:"kind"`
		}
		found := make([]foundSummary, 0, len(result.Found))
		for _, f := range result.Found {
			found = append(found, foundSummary{Path: f.Path, Name: f.Manifest.Name, Kind: string(f.Manifest.Kind)})
		}
		return succeed(found, warnings...)
	},
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync <root>...",
	Short: "Discover manifests under one or more roots and register new/updated ones",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		opts := discovery.Options{
			MaxDepth:         cfg.Discovery.MaxDepth,
			MaxEntriesPerDir: cfg.Discovery.MaxEntriesPerDir,
			RespectGitignore: cfg.Discovery.RespectGitignore,
		}
		result := discovery.Walk(args, opts)

		summary, err := sync.Sync(ctx, registrar.New(s), s, result.Found, sync.Options{Force: forceFlag})
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		if summary.Errors > 0 {
			return fail(fmt.Errorf("%d manifest(s) failed to sync", summary.Errors), exitChecksFailed)
		}
		return succeed(summary)
	},
}

// --- verify ---

var verifyCmd = &cobra.Command{
	Use:   "verify <tool-id>",
	Short: "Execute declared CLI commands and probe MCP servers for a registered tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		report, err := runVerify(ctx, s, args[0])
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		if report.OverallStatus == store.ToolVerificationFail {
			emit(apperr.OK(report))
			code = exitChecksFailed
			return nil
		}
		return succeed(report)
	},
}

type verifyReport struct {
	ToolID        string              `json:"tool_id"`
	OverallStatus string              `json:"overall_status"`
	DurationMs    int64               `json:"duration_ms"`
	CLI           []cliVerifyDetail   `json:"cli"`
	MCP           *mcpverify.Outcome  `json:"mcp,omitempty"`
	Validation    []schema.FieldError `json:"output_validation,omitempty"`
}

type cliVerifyDetail struct {
	Contract string `json:"contract"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

func runVerify(ctx context.Context, s *store.Store, toolID string) (*verifyReport, error) {
	start := time.Now()
	logger.Info("verifying tool", "tool_id", toolID, "quick", quickFlag)

	tool, err := s.GetTool(ctx, s.DB(), toolID)
	if err != nil {
		return nil, err
	}
	contracts, err := s.ListContractsByTool(ctx, s.DB(), toolID)
	if err != nil {
		return nil, err
	}

	report := &verifyReport{ToolID: toolID}
	validator := schema.NewValidator()

	cliPass, cliFail, cliSkip := 0, 0, 0
	for _, c := range contracts {
		if c.ContractKind != string(manifest.ContractCLIOutput) {
			continue
		}
		plan := cliverify.Plan{
			Quick:   quickFlag,
			Timeout: time.Duration(cfg.Verify.CLITimeoutSeconds) * time.Second,
			Dir:     tool.FilesystemPath,
		}
		outcome := cliverify.Verify(ctx, c.Name, plan)

		switch {
		case outcome.Status != "pass":
			cliFail++
		case quickFlag:
			cliSkip++
		default:
			cliPass++
		}

		var fieldErrs []schema.FieldError
		if outcome.Status == "pass" && c.SchemaPath != "" && len(outcome.Stdout) > 0 {
			var decoded any
			if jsonErr := json.Unmarshal(outcome.Stdout, &decoded); jsonErr == nil {
				schemaPath := resolveSchemaPath(tool.FilesystemPath, c.SchemaPath)
				if errs, valErr := validator.Validate(schemaPath, decoded); valErr == nil {
					fieldErrs = errs
				}
			}
		}
		report.Validation = append(report.Validation, fieldErrs...)

		detail := cliVerifyDetail{Contract: c.Name, Status: outcome.Status, Reason: string(outcome.Reason)}
		report.CLI = append(report.CLI, detail)

		verificationStatus := store.VerificationPass
		if outcome.Status != "pass" {
			verificationStatus = store.VerificationFail
		}
		v := store.Verification{
			ID:         uuid.NewString(),
			ContractID: c.ID,
			VerifiedAt: time.Now().UTC(),
			Status:     verificationStatus,
			Details:    outcome.Details,
		}
		if err := s.InsertVerification(ctx, s.DB(), v); err != nil {
			return nil, err
		}
	}

	mcpFound, mcpMissing, mcpExtra := 0, 0, 0
	var declared []string
	for _, c := range contracts {
		if c.ContractKind == string(manifest.ContractMCPTool) {
			declared = append(declared, c.Name)
		}
	}
	if len(declared) > 0 {
		outcome := mcpverify.Verify(ctx, mcpverify.Plan{
			Command:  strings.Fields(tool.StartCommand),
			Dir:      tool.FilesystemPath,
			Timeout:  time.Duration(cfg.Verify.MCPTimeoutSeconds) * time.Second,
			Declared: declared,
		})
		report.MCP = &outcome
		mcpFound = len(outcome.Found)
		mcpMissing = len(outcome.Missing)
		mcpExtra = len(outcome.Extra)

		mcpDetails, err := json.Marshal(outcome)
		if err != nil {
			mcpDetails = []byte("{}")
		}
		for _, c := range contracts {
			if c.ContractKind != string(manifest.ContractMCPTool) {
				continue
			}
			status := store.VerificationPass
			if contains(outcome.Missing, c.Name) {
				status = store.VerificationFail
			}
			v := store.Verification{
				ID:         uuid.NewString(),
				ContractID: c.ID,
				VerifiedAt: time.Now().UTC(),
				Status:     status,
				Details:    string(mcpDetails),
			}
			if err := s.InsertVerification(ctx, s.DB(), v); err != nil {
				return nil, err
			}
		}
	}

	overall := store.ToolVerificationPass
	if cliFail > 0 || mcpMissing > 0 {
		overall = store.ToolVerificationFail
	}
	if cfg.Verify.StrictExtraMCPTools && mcpExtra > 0 {
		overall = store.ToolVerificationFail
	}
	report.OverallStatus = overall
	report.DurationMs = time.Since(start).Milliseconds()

	tv := store.ToolVerification{
		ID:             uuid.NewString(),
		ToolID:         toolID,
		VerifiedAt:     time.Now().UTC(),
		CLIPass:        cliPass,
		CLIFail:        cliFail,
		CLISkip:        cliSkip,
		MCPFound:       mcpFound,
		MCPMissing:     mcpMissing,
		MCPExtra:       mcpExtra,
		OverallStatus:  overall,
		DurationMillis: report.DurationMs,
	}
	if err := s.InsertToolVerification(ctx, s.DB(), tv); err != nil {
		return nil, err
	}
	return report, nil
}

func resolveSchemaPath(toolPath, schemaPath string) string {
	if filepath.IsAbs(schemaPath) {
		return schemaPath
	}
	return filepath.Join(toolPath, schemaPath)
}

func contains(items []string, target string) bool {
	for _, it := range items {
		if it == target {
			return true
		}
	}
	return false
}

// --- drift ---

var driftCmd = &cobra.Command{
	Use:   "drift <tool-id>",
	Short: "Check every schema-bearing contract of a tool for drift against its stored hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		toolID := args[0]
		tool, err := s.GetTool(ctx, s.DB(), toolID)
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		contracts, err := s.ListContractsByTool(ctx, s.DB(), toolID)
		if err != nil {
			return fail(err, exitRuntimeError)
		}

		var results []drift.Result
		anyProblem := false
		now := time.Now().UTC()
		for _, c := range contracts {
			if c.SchemaPath == "" {
				continue
			}
			result := drift.Check(c, tool.FilesystemPath, c.SchemaContent)
			results = append(results, result)
			if result.Class == drift.ClassDrift || result.Class == drift.ClassMissing || result.Class == drift.ClassError {
				anyProblem = true
			}
			if updateFlag {
				if err := drift.Update(ctx, s, result, result.CurrentContent, now); err != nil {
					return fail(err, exitRuntimeError)
				}
			}
		}

		if anyProblem {
			emit(apperr.OK(results))
			code = exitChecksFailed
			return nil
		}
		return succeed(results)
	},
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Graph analytics: compound reliability and blast radius",
}

var analyzeBlastRadiusCmd = &cobra.Command{
	Use:   "blast-radius <tool-id>",
	Short: "Compute the blast-radius risk report for a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		g, err := loadGraph(ctx, s)
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		br, ok := analysis.Blast(g, args[0])
		if !ok {
			return fail(apperr.NotFound("tool", args[0]), exitRuntimeError)
		}
		return succeed(br)
	},
}

var analyzeReliabilityCmd = &cobra.Command{
	Use:   "reliability <tool-id>",
	Short: "Compute compound reliability for a tool over its transitive forward dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		g, err := loadGraph(ctx, s)
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		rel, ok := analysis.CompoundReliability(g, args[0])
		if !ok {
			return fail(apperr.NotFound("tool", args[0]), exitRuntimeError)
		}
		return succeed(rel)
	},
}

// --- graph ---

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Raw dependency-graph queries: cycles, topological order, summary",
}

var graphCyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List every circular dependency chain currently in the graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		g, err := loadGraph(ctx, s)
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		return succeed(g.Cycles())
	},
}

var graphToposortCmd = &cobra.Command{
	Use:   "toposort",
	Short: "Topologically order tools, providers before consumers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		g, err := loadGraph(ctx, s)
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		order := g.TopologicalOrder()
		if len(order) < g.NodeCount() {
			return succeed(order, "topological order omits nodes participating in a cycle; see graph cycles")
		}
		return succeed(order)
	},
}

var graphSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the full graph snapshot: nodes, edges, and counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore()
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		defer s.Close()

		g, err := loadGraph(ctx, s)
		if err != nil {
			return fail(err, exitRuntimeError)
		}
		return succeed(g.Serialize())
	},
}
