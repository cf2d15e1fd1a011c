package turn

import (
	"strings"
	"testing"

	"github.com/samsaffron/term-llm/internal/llm"
)

func TestSpliceOrderAndDedup(t *testing.T) {
	existing := llm.ToolCall{ID: "call-1", Name: "read_file"}
	input := []llm.Message{
		llm.UserText("read config.yaml"),
		{Role: llm.RoleAssistant, Parts: []llm.Part{{Type: llm.PartToolCall, ToolCall: &existing}}},
	}

	pad := Scratchpad{
		ToolCalls: []llm.ToolCall{
			existing, // already in input: must not be duplicated
			{ID: "call-2", Name: "grep"},
		},
		ToolResults: []llm.ToolResult{
			{ID: "call-1", Name: "read_file", Content: "key: value"},
			{ID: "call-2", Name: "grep", Content: "no matches"},
		},
	}

	out := Splice(input, pad)

	if len(out) != len(input)+3 { // +1 new tool call, +2 tool results
		t.Fatalf("expected %d spliced messages, got %d", len(input)+3, len(out))
	}

	var callIDs []string
	for _, msg := range out {
		for _, part := range msg.Parts {
			if part.Type == llm.PartToolCall {
				callIDs = append(callIDs, part.ToolCall.ID)
			}
		}
	}
	if len(callIDs) != 2 {
		t.Fatalf("expected exactly 2 tool-call items after dedup, got %d: %v", len(callIDs), callIDs)
	}

	last := out[len(out)-1]
	if !strings.Contains(last.Parts[0].Text, RetryHintSentinel) {
		t.Fatalf("expected last message to carry the retry hint sentinel, got: %q", last.Parts[0].Text)
	}
}

func TestSpliceNoHintWhenScratchpadHasNoPartialText(t *testing.T) {
	input := []llm.Message{llm.UserText("hello")}
	pad := Scratchpad{}

	out := Splice(input, pad)
	if len(out) != len(input) {
		t.Fatalf("expected no messages appended for an empty scratchpad, got %d", len(out))
	}
}

func TestRetryHintTruncatesTo800Chars(t *testing.T) {
	pad := Scratchpad{PartialAssistantText: strings.Repeat("x", 1000)}
	out := Splice(nil, pad)

	last := out[len(out)-1]
	text := last.Parts[0].Text
	if !strings.HasPrefix(text, RetryHintSentinel) {
		t.Fatalf("expected message to start with sentinel, got prefix: %q", text[:40])
	}
	if !strings.HasSuffix(text, strings.Repeat("x", 800)) {
		t.Fatalf("expected message to end with exactly 800 x's")
	}
}

func TestRetryHintRespectsUTF8Boundary(t *testing.T) {
	pad := Scratchpad{PartialAssistantText: strings.Repeat("世", 801)}
	out := Splice(nil, pad)

	last := out[len(out)-1]
	runes := []rune(last.Parts[0].Text)
	// sentinel + instructions + "\n\nPartial response so far:\n" + <=800 runes
	tailStart := len(runes) - 800
	tail := string(runes[tailStart:])
	if strings.Count(tail, "世") > 800 {
		t.Fatalf("expected at most 800 multi-byte glyphs in the tail")
	}
	if !strings.HasSuffix(last.Parts[0].Text, strings.Repeat("世", 800)) {
		t.Fatalf("expected tail to end with exactly 800 valid glyphs")
	}
}
