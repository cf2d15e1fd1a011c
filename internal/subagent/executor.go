package subagent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/samsaffron/term-llm/internal/corekit/errs"
)

// SandboxPolicy governs how a write-mode spawn is isolated from the host.
// Arbitrary code sandboxing is outside this runtime's scope (see
// DESIGN.md Open Questions); DangerFullAccess is the only implementation
// provided, a direct passthrough with no isolation.
type SandboxPolicy interface {
	// Wrap adjusts cmd (e.g. to run under a sandbox shim) before it is
	// started. DangerFullAccess returns cmd unchanged.
	Wrap(cmd *exec.Cmd) *exec.Cmd
}

// DangerFullAccess is a SandboxPolicy that applies no isolation.
type DangerFullAccess struct{}

func (DangerFullAccess) Wrap(cmd *exec.Cmd) *exec.Cmd { return cmd }

// Request describes a single sub-agent process spawn.
type Request struct {
	// Program is the binary to run: either the re-entrant current
	// executable (for built-in agent kinds) or a resolved PATH binary.
	Program string
	Args    []string
	Env     map[string]string
	Dir     string

	// ReadOnly selects the unsandboxed fast path; false spawns under
	// Sandbox.
	ReadOnly bool
	Sandbox  SandboxPolicy

	Progress  ProgressFunc
	Heartbeat HeartbeatFunc
}

// Result holds a completed spawn's captured output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run spawns req.Program, streams its stdout/stderr through req.Progress,
// runs a heartbeat ticker for req.Heartbeat until the process exits, and
// returns the combined output. A missing binary is reported as a
// classified NotFound error naming both the requested and resolved
// command, matching the original runtime's diagnostic.
func Run(ctx context.Context, req Request) (Result, error) {
	cmd := exec.CommandContext(ctx, req.Program, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = buildEnv(req.Env)

	if !req.ReadOnly {
		sandbox := req.Sandbox
		if sandbox == nil {
			sandbox = DangerFullAccess{}
		}
		cmd = sandbox.Wrap(cmd)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, errs.Wrap(errs.Fatal, "create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, errs.Wrap(errs.Fatal, "create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "executable file not found") {
			return Result{}, errs.Wrap(errs.NotFound, formatNotFoundError(req.Program, req.Program), err)
		}
		return Result{}, errs.Wrap(errs.Fatal, "start sub-agent process", err)
	}

	stop := make(chan struct{})
	go RunHeartbeat(stop, req.Heartbeat)

	stdoutFull, stderrFull := CombinedOutput(stdout, stderr, req.Progress)
	waitErr := cmd.Wait()
	close(stop)

	result := Result{Stdout: stdoutFull, Stderr: stderrFull}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return result, nil // non-zero exit is a normal outcome, not a spawn error
		}
		return result, errs.Wrap(errs.Fatal, "sub-agent process wait failed", waitErr)
	}
	return result, nil
}

func buildEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// formatNotFoundError names both the command the caller asked for and the
// resolved path the executor attempted, so the failure is actionable.
func formatNotFoundError(requested, resolved string) string {
	if requested == resolved {
		return fmt.Sprintf("sub-agent binary %q not found", requested)
	}
	return fmt.Sprintf("sub-agent binary %q not found (resolved to %q)", requested, resolved)
}

// ResolveProgram returns the re-entrant current executable path when
// useCurrentExe is true, otherwise resolves name against PATH.
func ResolveProgram(name string, useCurrentExe bool) (string, error) {
	if useCurrentExe {
		exePath, err := os.Executable()
		if err != nil {
			return "", errs.Wrap(errs.Fatal, "resolve current executable", err)
		}
		return exePath, nil
	}
	resolved, err := exec.LookPath(name)
	if err != nil {
		return "", errs.Wrap(errs.NotFound, formatNotFoundError(name, name), err)
	}
	return resolved, nil
}

// AgentWorkDir returns "<cwd>/.code/agents/<agentID>"-shaped path without
// creating it — callers that need the directory created should use
// internal/safepath.EnsureAgentDir instead; this helper is for read paths
// (e.g. checking whether prior artifacts exist).
func AgentWorkDir(cwd, agentID string) string {
	return filepath.Join(cwd, ".code", "agents", agentID)
}
