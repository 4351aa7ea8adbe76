// Package mcpverify spawns a declared MCP server over stdio, performs
// the initialize/tools/list handshake, and diffs the server's reported
// tool set against the tools a manifest declares under provides.mcp.
package mcpverify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/jcfischer/pai-deps/internal/mcprpc"
)

// DefaultTimeout is the overall handshake deadline applied when Plan.Timeout
// is zero.
const DefaultTimeout = 10 * time.Second

// gracePeriod is how long terminate (and the deadline path) waits after
// SIGTERM before SIGKILL.
const gracePeriod = 2 * time.Second

// Plan configures one verification attempt.
type Plan struct {
	// Command is the server's start command: first token is the
	// invocable, remainder are arguments.
	Command []string
	Dir     string
	Timeout time.Duration
	// Declared is the set of MCP tool names the manifest promises.
	Declared []string
}

// Reason enumerates the non-pass outcomes.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonStartupError  Reason = "startup_error"
	ReasonTimeout       Reason = "timeout"
	ReasonProtocolError Reason = "protocol_error"
)

// Outcome is the result of one MCP verification attempt.
type Outcome struct {
	Status  string // "pass" or "fail"
	Reason  Reason
	Found   []string
	Missing []string
	Extra   []string
}

// Verify spawns the server, performs the handshake, and diffs tool sets.
// The child is always reaped, including on the timeout path.
func Verify(ctx context.Context, plan Plan) Outcome {
	if len(plan.Command) == 0 {
		return Outcome{Status: "fail", Reason: ReasonStartupError}
	}

	timeout := plan.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, plan.Command[0], plan.Command[1:]...)
	cmd.Dir = plan.Dir
	// On deadline expiry send SIGTERM first; the child is killed only if
	// it is still running gracePeriod later.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Outcome{Status: "fail", Reason: ReasonStartupError}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{Status: "fail", Reason: ReasonStartupError}
	}

	if err := cmd.Start(); err != nil {
		return Outcome{Status: "fail", Reason: ReasonStartupError}
	}
	defer terminate(cmd)

	client := &session{stdin: stdin, scanner: bufio.NewScanner(stdout)}
	client.scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	if _, err := client.call(1, "initialize", mcprpc.InitializeParams{
		ProtocolVersion: mcprpc.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      mcprpc.ClientInfo{Name: "pai-deps", Version: "0.1.0"},
	}); err != nil {
		return classifyError(runCtx, err)
	}

	result, err := client.call(2, "tools/list", nil)
	if err != nil {
		return classifyError(runCtx, err)
	}

	var listResult mcprpc.ToolsListResult
	if err := json.Unmarshal(result, &listResult); err != nil {
		return Outcome{Status: "fail", Reason: ReasonProtocolError}
	}

	reported := make([]string, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		reported = append(reported, t.Name)
	}

	found, missing, extra := diff(plan.Declared, reported)
	status := "pass"
	if len(missing) > 0 {
		status = "fail"
	}
	return Outcome{Status: status, Found: found, Missing: missing, Extra: extra}
}

func classifyError(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return Outcome{Status: "fail", Reason: ReasonTimeout}
	}
	return Outcome{Status: "fail", Reason: ReasonProtocolError}
}

// diff computes found/missing/extra over declared vs. reported tool
// names, each returned sorted.
func diff(declared, reported []string) (found, missing, extra []string) {
	reportedSet := make(map[string]bool, len(reported))
	for _, r := range reported {
		reportedSet[r] = true
	}
	declaredSet := make(map[string]bool, len(declared))
	for _, d := range declared {
		declaredSet[d] = true
	}

	for _, d := range declared {
		if reportedSet[d] {
			found = append(found, d)
		} else {
			missing = append(missing, d)
		}
	}
	for _, r := range reported {
		if !declaredSet[r] {
			extra = append(extra, r)
		}
	}
	sort.Strings(found)
	sort.Strings(missing)
	sort.Strings(extra)
	return found, missing, extra
}

// session issues one outstanding request at a time over a child's stdio
// pipes, but does not assume the server answers in order: every line
// read off stdout is correlated against the request id before being
// accepted, so a stray notification or a late response to a previous
// call is skipped rather than mistaken for the current answer.
type session struct {
	mu      sync.Mutex
	stdin   io.Writer
	scanner *bufio.Scanner
}

func (s *session) call(id int, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := mcprpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		return nil, err
	}

	for s.scanner.Scan() {
		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var resp mcprpc.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("mcpverify: malformed response: %w", err)
		}
		if !idsEqual(resp.ID, req.ID) {
			// Not our response (a notification, or a late/duplicate
			// answer to a previous call) — keep waiting for the id we
			// actually sent.
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("mcpverify: rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("mcpverify: server closed stdout without responding")
}

// idsEqual compares two raw JSON-RPC ids by decoded value rather than
// by byte, so differing whitespace doesn't defeat the comparison.
func idsEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return av == bv
}

// terminate sends SIGTERM, waits up to gracePeriod, then SIGKILL; it
// always reaps the child.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(gracePeriod):
	}
	_ = cmd.Process.Kill()
	<-done
}
