package testutil

import (
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/samsaffron/term-llm/internal/llm"
)

// EngineHarness wires a MockProvider and a ToolRegistry into a real Engine,
// so integration tests exercise the engine's agentic loop end to end
// without touching a network.
type EngineHarness struct {
	Provider *llm.MockProvider
	Registry *llm.ToolRegistry
	Engine   *llm.Engine

	Screen *ScreenCapture
}

// NewEngineHarness builds a harness around a fresh MockProvider and an
// empty tool registry.
func NewEngineHarness() *EngineHarness {
	provider := llm.NewMockProvider("test-mock")
	registry := llm.NewToolRegistry()
	return &EngineHarness{
		Provider: provider,
		Registry: registry,
		Engine:   llm.NewEngine(provider, registry),
		Screen:   NewScreenCapture(),
	}
}

// AddTool registers an already-constructed tool on the harness's registry.
func (h *EngineHarness) AddTool(tool llm.Tool) {
	h.Registry.Register(tool)
}

// AddMockTool registers a MockTool that always returns result, returning it
// so the caller can assert on its invocation count/args afterward.
func (h *EngineHarness) AddMockTool(name, result string) *MockTool {
	tool := NewMockTool(name, result)
	h.Registry.Register(tool)
	return tool
}

// EnableScreenCapture turns on frame capture for subsequent Run calls.
func (h *EngineHarness) EnableScreenCapture() {
	h.Screen.Enable()
}

// Run drives the engine's Stream for req to completion, concatenating every
// EventTextDelta into the returned string. If screen capture is enabled, a
// frame is captured after every delta/tool event.
func (h *EngineHarness) Run(ctx context.Context, req llm.Request) (string, error) {
	stream, err := h.Engine.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var text strings.Builder
	phase := ""
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return text.String(), err
		}
		switch event.Type {
		case llm.EventTextDelta:
			text.WriteString(event.Text)
		case llm.EventToolExecStart:
			phase = event.ToolName
		case llm.EventToolExecEnd:
			phase = ""
		case llm.EventError:
			if event.Err != nil {
				return text.String(), event.Err
			}
		}
		if h.Screen.enabled {
			h.Screen.Capture(text.String(), phase)
		}
	}
	return text.String(), nil
}

// DumpScreen prints every captured frame to stdout, for ad-hoc debugging.
func (h *EngineHarness) DumpScreen() {
	h.Screen.RenderAllFrames()
}

// SaveFrames writes every captured frame to dir.
func (h *EngineHarness) SaveFrames(dir string) error {
	return h.Screen.SaveFrames(dir)
}

// AssertContains fails the test if haystack does not contain needle.
func AssertContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI removes SGR escape sequences from s.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// DebugScreensEnabled reports whether TERM_LLM_DEBUG_SCREENS is set, which
// tests use to gate verbose frame dumps.
func DebugScreensEnabled() bool {
	return os.Getenv("TERM_LLM_DEBUG_SCREENS") != ""
}

// SaveFramesEnabled reports whether TERM_LLM_SAVE_FRAMES is set, which tests
// use to gate writing frames to testdata/debug for manual inspection.
func SaveFramesEnabled() bool {
	return os.Getenv("TERM_LLM_SAVE_FRAMES") != ""
}
