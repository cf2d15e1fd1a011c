package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/rpc"
	"github.com/samsaffron/term-llm/internal/signal"
	"github.com/samsaffron/term-llm/internal/threadstate"
	"github.com/samsaffron/term-llm/internal/turn"
	"github.com/spf13/cobra"
)

const rpcStdioConnID = threadstate.ConnectionID("stdio")

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Run the JSON-RPC app server over stdio",
	Long: `Run the app-server front-end: one JSON-RPC 2.0 request per line on
stdin, one Response or Notification per line on stdout. A single stdio
connection subscribes to every session it creates or attaches to — this
is the binding a client library (editor plugin, another process) drives
directly; term-llm itself never needs more than one connection per
invocation.`,
	RunE: runRPC,
}

func init() {
	rootCmd.AddCommand(rpcCmd)
}

// stdioOutbox writes every delivered notification as one JSON line on
// stdout, guarded so it never interleaves with a concurrently-written
// Response.
type stdioOutbox struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (o *stdioOutbox) Deliver(_ threadstate.ConnectionID, notif rpc.Notification) {
	o.writeLine(notif)
}

func (o *stdioOutbox) writeLine(v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := json.NewEncoder(o.w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "rpc: failed to encode response: %v\n", err)
		return
	}
	o.w.Flush()
}

func runRPC(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfigWithSetup()
	if err != nil {
		return err
	}

	outbox := &stdioOutbox{w: bufio.NewWriter(os.Stdout)}
	factory := func(model string) (*turn.Scheduler, error) {
		provider, err := llm.NewProviderByName(cfg, cfg.DefaultProvider, model)
		if err != nil {
			return nil, err
		}
		return turn.NewScheduler(provider, defaultToolRegistry(), turn.Config{MaxRetries: 3}), nil
	}

	server := rpc.NewServer(outbox, factory)
	if anthropic, err := llm.NewProviderByName(cfg, "anthropic", ""); err == nil {
		if lister, ok := anthropic.(rpc.ModelLister); ok {
			server.RegisterModelLister("anthropic", lister)
		}
	}
	if openai, err := llm.NewProviderByName(cfg, "openai", ""); err == nil {
		if lister, ok := openai.(rpc.ModelLister); ok {
			server.RegisterModelLister("openai", lister)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			outbox.writeLine(rpc.Response{
				JSONRPC: rpc.JSONRPCVersion,
				Error:   &rpc.Error{Code: rpc.InvalidRequestErrorCode, Message: "malformed request: " + err.Error()},
			})
			continue
		}

		resp := server.Dispatch(ctx, rpcStdioConnID, req)
		outbox.writeLine(resp)
	}
	server.SessionDetach(rpcStdioConnID)
	return scanner.Err()
}
