package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/samsaffron/term-llm/internal/batch"
	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/signal"
	"github.com/samsaffron/term-llm/internal/subagent"
	"github.com/samsaffron/term-llm/internal/tools"
	"github.com/samsaffron/term-llm/internal/turn"
	"github.com/spf13/cobra"
)

var (
	batchProvider string
	batchDebug    bool
	batchFormat   string
	batchMaxRetry int
)

var batchCmd = &cobra.Command{
	Use:   "batch <request>",
	Short: "Run one turn headlessly and print its result",
	Long: `Run a single turn against the model with no terminal UI and no
JSON-RPC transport attached: one request in, one result out. Scripts and
CI jobs drive the same turn scheduler the "ask"/"chat" front-ends and the
app server use, just rendered to stdout instead of a screen or a socket.

Examples:
  term-llm batch "summarize the open PRs"
  term-llm batch --format jsonl "list go files with TODOs" > run.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	AddProviderFlag(batchCmd, &batchProvider)
	AddDebugFlag(batchCmd, &batchDebug)
	batchCmd.Flags().StringVar(&batchFormat, "format", "text", "Output format: text or jsonl")
	batchCmd.Flags().IntVar(&batchMaxRetry, "max-retry", 3, "Maximum attempt retries per turn")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfigWithSetup()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, cfg.Ask.Provider, cfg.Ask.Model, batchProvider); err != nil {
		return err
	}

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return err
	}

	debugLogger, err := createDebugLogger(cfg)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	if debugLogger != nil {
		defer debugLogger.Close()
	}

	sched := turn.NewScheduler(provider, batchToolRegistry(), turn.Config{MaxRetries: batchMaxRetry})

	var renderer batch.Renderer
	if batchFormat == "jsonl" {
		renderer = batch.NewJSONLRenderer(os.Stdout)
	}
	runner := batch.NewRunner(sched, renderer)

	result, runErr := runner.Run(ctx, 1, llm.Request{
		Messages: []llm.Message{llm.UserText(request)},
		Model:    cfg.Ask.Model,
	})
	if result == nil {
		return runErr
	}

	switch batchFormat {
	case "jsonl":
		// Events were already streamed line-by-line; nothing left to print
		// except a final marker so a consumer knows the stream is done.
		return json.NewEncoder(os.Stdout).Encode(map[string]any{"type": "final", "result": result})
	default:
		fmt.Println(result.Text)
	}

	if result.Err != nil {
		return result.Err
	}
	return nil
}

// batchToolRegistry is defaultToolRegistry plus spawn_agent, wired to a
// subagent.ProcessRunner: a headless run re-execs itself per sub-agent
// call rather than sharing its engine in-process, so a sub-agent spawned
// from `batch` gets its own process the same way
// original_source/code-rs/core/src/agent_tool/exec does.
func batchToolRegistry() *llm.ToolRegistry {
	registry := defaultToolRegistry()
	spawnTool := tools.NewSpawnAgentTool(tools.DefaultSpawnConfig(), 0)
	spawnTool.SetRunner(subagent.ProcessRunner{UseCurrentExe: true})
	registry.Register(spawnTool)
	return registry
}
