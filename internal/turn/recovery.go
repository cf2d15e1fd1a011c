package turn

import (
	"strings"

	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/truncate"
)

// RetryHintSentinel tags the ephemeral message Splice appends so a later
// injection pass (see developer_messages.go) can recognize it and so a
// provider-side transcript viewer can strip it before display.
const RetryHintSentinel = "[EPHEMERAL:RETRY_HINT]"

// retryHintMaxChars caps how much of each partial buffer the retry hint
// carries forward, keeping a long-running interrupted attempt from
// ballooning the next attempt's input.
const retryHintMaxChars = 800

// Splice rebuilds the next attempt's input from the prior attempt's input
// plus the scratchpad left behind by an interrupted attempt. The splice
// order is fixed: existing input first, then the scratchpad's finalized
// tool-call items, then their outputs, then — last, so the model reads it
// immediately before generating — an ephemeral retry hint built from
// whatever text had streamed before the interruption. Tool calls already
// present in input (by call id) are not duplicated.
func Splice(input []llm.Message, pad Scratchpad) []llm.Message {
	out := make([]llm.Message, len(input), len(input)+len(pad.ToolCalls)+len(pad.ToolResults)+1)
	copy(out, input)

	seen := make(map[string]bool)
	for _, msg := range input {
		for _, part := range msg.Parts {
			if part.Type == llm.PartToolCall && part.ToolCall != nil {
				seen[part.ToolCall.ID] = true
			}
		}
	}

	for _, call := range pad.ToolCalls {
		if seen[call.ID] {
			continue
		}
		seen[call.ID] = true
		call := call
		out = append(out, llm.Message{
			Role:  llm.RoleAssistant,
			Parts: []llm.Part{{Type: llm.PartToolCall, ToolCall: &call}},
		})
	}

	for _, result := range pad.ToolResults {
		result := result
		out = append(out, llm.Message{
			Role:  llm.RoleTool,
			Parts: []llm.Part{{Type: llm.PartToolResult, ToolResult: &result}},
		})
	}

	if pad.PartialAssistantText != "" || pad.PartialReasoningSummary != "" {
		out = append(out, retryHintMessage(pad))
	}

	return out
}

// retryHintMessage builds the ephemeral continuation message. The partial
// assistant text, when present, is written last so a caller inspecting the
// tail of the message sees exactly the truncated buffer with nothing
// appended after it.
func retryHintMessage(pad Scratchpad) llm.Message {
	var b strings.Builder
	b.WriteString(RetryHintSentinel)
	b.WriteString(" The previous attempt was interrupted mid-response. Continue from exactly where this partial output leaves off; do not repeat any of it.")

	if pad.PartialReasoningSummary != "" {
		b.WriteString("\n\nPartial reasoning so far:\n")
		b.WriteString(truncate.Tail(pad.PartialReasoningSummary, retryHintMaxChars))
	}
	if pad.PartialAssistantText != "" {
		b.WriteString("\n\nPartial response so far:\n")
		b.WriteString(truncate.Tail(pad.PartialAssistantText, retryHintMaxChars))
	}

	return llm.UserText(b.String())
}
