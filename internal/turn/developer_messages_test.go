package turn

import (
	"strings"
	"testing"

	"github.com/samsaffron/term-llm/internal/llm"
)

func searchResultMessage(content string) llm.Message {
	return llm.Message{
		Role: llm.RoleTool,
		Parts: []llm.Part{{
			Type:       llm.PartToolResult,
			ToolResult: &llm.ToolResult{ID: "c1", Name: llm.WebSearchToolName, Content: content},
		}},
	}
}

func TestInjectDeveloperMessagesSearchInstructions(t *testing.T) {
	input := []llm.Message{llm.UserText("q"), searchResultMessage("result one")}
	out := InjectDeveloperMessages(input, llm.WebSearchToolName)

	if len(out) != len(input)+1 {
		t.Fatalf("expected one injected message, got %d total", len(out))
	}
	if !strings.Contains(out[len(out)-1].Parts[0].Text, searchInstructionsSentinel) {
		t.Fatalf("expected search instructions sentinel in injected message")
	}
}

func TestInjectDeveloperMessagesIdempotent(t *testing.T) {
	input := []llm.Message{searchResultMessage("r")}
	first := InjectDeveloperMessages(input, llm.WebSearchToolName)
	second := InjectDeveloperMessages(first, llm.WebSearchToolName)

	if len(second) != len(first) {
		t.Fatalf("expected no duplicate injection on second pass, got %d vs %d", len(second), len(first))
	}
}

func TestInjectDeveloperMessagesHTMLGuardrail(t *testing.T) {
	htmlResult := llm.Message{
		Role: llm.RoleTool,
		Parts: []llm.Part{{
			Type:       llm.PartToolResult,
			ToolResult: &llm.ToolResult{ID: "c2", Name: "fetch_url", Content: "<script>alert(1)</script>"},
		}},
	}
	out := InjectDeveloperMessages([]llm.Message{htmlResult}, "")

	found := false
	for _, msg := range out {
		for _, part := range msg.Parts {
			if strings.Contains(part.Text, htmlGuardrailSentinel) {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected HTML guardrail injection, got: %+v", out)
	}
}

func TestInjectDeveloperMessagesNoTriggerNoInjection(t *testing.T) {
	input := []llm.Message{llm.UserText("hello")}
	out := InjectDeveloperMessages(input, llm.WebSearchToolName)
	if len(out) != len(input) {
		t.Fatalf("expected no injection without a trigger, got %d messages", len(out))
	}
}
