package turn

import "github.com/samsaffron/term-llm/internal/llm"

// Scratchpad is the recovery record an attempt accumulates as it streams,
// so an interrupted attempt can hand its partial progress to the next one
// instead of starting the turn over from nothing. It holds every
// tool-call/tool-output pair the attempt finalized plus whatever partial
// assistant text or reasoning summary had streamed before the interruption.
type Scratchpad struct {
	ToolCalls   []llm.ToolCall
	ToolResults []llm.ToolResult

	PartialAssistantText   string
	PartialReasoningSummary string
}

// IsEmpty reports whether the scratchpad carries nothing worth splicing
// into a retry.
func (s Scratchpad) IsEmpty() bool {
	return len(s.ToolCalls) == 0 && len(s.ToolResults) == 0 &&
		s.PartialAssistantText == "" && s.PartialReasoningSummary == ""
}

// AddToolCall records a finalized tool-call item.
func (s *Scratchpad) AddToolCall(call llm.ToolCall) {
	s.ToolCalls = append(s.ToolCalls, call)
}

// AddToolResult records the output produced for a tool call, in the order
// it completed.
func (s *Scratchpad) AddToolResult(result llm.ToolResult) {
	s.ToolResults = append(s.ToolResults, result)
}

// AppendAssistantText accumulates a streamed text delta.
func (s *Scratchpad) AppendAssistantText(delta string) {
	s.PartialAssistantText += delta
}

// AppendReasoningSummary accumulates a streamed reasoning delta.
func (s *Scratchpad) AppendReasoningSummary(delta string) {
	s.PartialReasoningSummary += delta
}
