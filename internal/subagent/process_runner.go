package subagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/samsaffron/term-llm/internal/tools"
)

// ProcessRunner implements tools.SpawnAgentRunner by re-exec'ing the
// current binary as a headless `batch` run per sub-agent call, exactly the
// "spawn a child agent process" model of
// original_source/code-rs/core/src/agent_tool/exec/spawn_exec.rs — unlike
// an in-process engine loop, this gives every sub-agent its own process
// (and its own crash domain) at the cost of one process spawn per call.
type ProcessRunner struct {
	// UseCurrentExe selects the re-entrant current executable; false
	// resolves AgentBinary against PATH instead (for a dedicated
	// sub-agent binary distinct from the parent).
	UseCurrentExe bool
	AgentBinary   string

	// ProviderFlag is passed as `--provider` when non-empty, letting a
	// caller pin every spawned sub-agent to one backend regardless of the
	// parent's own provider.
	ProviderFlag string
}

// RunAgent runs agentName headlessly with no progress callback.
func (r ProcessRunner) RunAgent(ctx context.Context, agentName, prompt string, depth int) (tools.SpawnAgentRunResult, error) {
	return r.run(ctx, agentName, prompt, depth, "", nil)
}

// RunAgentWithCallback runs agentName headlessly, translating the child
// batch process's JSONL event stream into SubagentEvent callbacks so the
// parent can show live progress the same way it would for its own tools.
func (r ProcessRunner) RunAgentWithCallback(ctx context.Context, agentName, prompt string, depth int,
	callID string, cb tools.SubagentEventCallback) (tools.SpawnAgentRunResult, error) {
	return r.run(ctx, agentName, prompt, depth, callID, cb)
}

func (r ProcessRunner) run(ctx context.Context, agentName, prompt string, depth int,
	callID string, cb tools.SubagentEventCallback) (tools.SpawnAgentRunResult, error) {

	program, err := ResolveProgram(r.AgentBinary, r.UseCurrentExe || r.AgentBinary == "")
	if err != nil {
		return tools.SpawnAgentRunResult{}, err
	}

	args := []string{"batch", "--format", "jsonl", fmt.Sprintf("@%s: %s", agentName, prompt)}
	if r.ProviderFlag != "" {
		args = append([]string{args[0], "--provider", r.ProviderFlag}, args[1:]...)
	}

	env := map[string]string{
		"TERM_LLM_SUBAGENT_DEPTH": fmt.Sprintf("%d", depth),
	}
	if DebugEnabled() && !HasDebugFlag(args) {
		args = append(args, "--debug")
	}

	var transcript bytes.Buffer
	progress := func(label, chunk string) {
		transcript.WriteString(chunk)
		if cb == nil || callID == "" {
			return
		}
		cb(callID, tools.SubagentEvent{Type: tools.SubagentEventText, Text: chunk})
	}
	heartbeat := func() {
		if cb != nil && callID != "" {
			cb(callID, tools.SubagentEvent{Type: tools.SubagentEventPhase, Phase: "running"})
		}
	}

	result, err := Run(ctx, Request{
		Program:   program,
		Args:      args,
		Env:       env,
		Dir:       currentDir(),
		ReadOnly:  true,
		Progress:  progress,
		Heartbeat: heartbeat,
	})
	if err != nil {
		return tools.SpawnAgentRunResult{}, err
	}

	output := extractFinalText(result.Stdout)
	if cb != nil && callID != "" {
		cb(callID, tools.SubagentEvent{Type: tools.SubagentEventDone})
	}
	return tools.SpawnAgentRunResult{Output: output}, nil
}

// extractFinalText scans a `batch --format jsonl` child's stdout for its
// trailing {"type":"final",...} marker and returns its result.text; if no
// such line is found (e.g. the child ran in plain-text mode), the raw
// trimmed stdout is returned instead.
func extractFinalText(stdout string) string {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lastText string
	for scanner.Scan() {
		line := scanner.Bytes()
		var final struct {
			Type   string `json:"type"`
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		}
		if err := json.Unmarshal(line, &final); err != nil {
			continue
		}
		if final.Type == "final" {
			lastText = final.Result.Text
		}
	}
	if lastText != "" {
		return lastText
	}
	return strings.TrimSpace(stdout)
}

func currentDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return dir
}
