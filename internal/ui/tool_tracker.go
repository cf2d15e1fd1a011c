package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// WaveTickMsg is sent to advance the wave animation
type WaveTickMsg struct{}

// WavePauseMsg is sent when wave pause ends
type WavePauseMsg struct{}

var flushDebugEnabled = os.Getenv("TERM_LLM_DEBUG_FLUSH") != ""

func debugFlushf(format string, args ...any) {
	if !flushDebugEnabled {
		return
	}
	fmt.Fprintf(os.Stderr, "[flush] "+format+"\n", args...)
}

// stripLeadingBlankLine removes exactly ONE leading blank line from content.
// A blank line is defined as a line containing only whitespace (spaces/tabs) and ANSI codes.
// This is used to prevent double blank lines when tea.Printf adds its own newline
// after each flush and the next flush starts with a blank line.
func stripLeadingBlankLine(s string) string {
	if s == "" {
		return s
	}
	// Find the first newline
	idx := strings.Index(s, "\n")
	if idx == -1 {
		return s
	}
	// Check if everything before the newline is whitespace/ANSI
	firstLine := s[:idx]
	if isBlankOrANSI(firstLine) {
		// Strip this one blank line
		return s[idx+1:]
	}
	return s
}

// isBlankOrANSI returns true if the string contains only whitespace and ANSI escape codes.
func isBlankOrANSI(s string) bool {
	i := 0
	for i < len(s) {
		if s[i] == '\x1b' {
			// Skip ANSI escape sequence
			i++
			if i < len(s) && s[i] == '[' {
				i++
				// Skip until we hit the terminating letter
				for i < len(s) && !((s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z')) {
					i++
				}
				if i < len(s) {
					i++ // Skip the terminating letter
				}
			}
		} else if s[i] == ' ' || s[i] == '\t' {
			i++
		} else {
			// Non-whitespace, non-ANSI character
			return false
		}
	}
	return true
}

// ToolTracker manages tool segment state and wave animation.
// Designed to be embedded in larger models (ask, chat) for consistent tool tracking.
type ToolTracker struct {
	Segments     []Segment
	WavePos      int
	WavePaused   bool
	LastActivity time.Time
	Version      uint64 // Incremented when content changes (segments added/modified)
	TextMode     bool   // When true, skip markdown rendering (plain text output)

	// Flush state for consistent spacing
	LastFlushedType SegmentType
	HasFlushed      bool
}

// NewToolTracker creates a new ToolTracker
func NewToolTracker() *ToolTracker {
	return &ToolTracker{
		Segments:     make([]Segment, 0),
		LastActivity: time.Now(),
	}
}

// RecordActivity records the current time as the last activity.
// Call this when text is received, tools start, or tools end.
func (t *ToolTracker) RecordActivity() {
	t.LastActivity = time.Now()
}

// IsIdle returns true if there has been no activity for the given duration
// and there are no pending tools (tools have their own wave animation).
func (t *ToolTracker) IsIdle(d time.Duration) bool {
	return time.Since(t.LastActivity) > d && !t.HasPending()
}

// HandleToolStart adds a pending segment for this tool call.
// Uses the unique callID to track this specific invocation.
// Returns true if a new segment was added (caller should start wave animation).
func (t *ToolTracker) HandleToolStart(callID, toolName, toolInfo string) bool {
	t.RecordActivity()

	// Check if we already have a segment for this call ID (any status)
	// This prevents duplicate segments if duplicate events arrive
	for i := len(t.Segments) - 1; i >= 0; i-- {
		seg := t.Segments[i]
		if seg.Type == SegmentTool && seg.ToolCallID == callID {
			return false
		}
	}

	// Add new pending segment
	t.Segments = append(t.Segments, Segment{
		Type:       SegmentTool,
		ToolCallID: callID,
		ToolName:   toolName,
		ToolInfo:   toolInfo,
		ToolStatus: ToolPending,
	})
	t.Version++
	return true
}

// HandleToolEnd updates the status of a pending tool by its call ID.
func (t *ToolTracker) HandleToolEnd(callID string, success bool) {
	t.RecordActivity()
	t.Segments = UpdateToolStatus(t.Segments, callID, success)
	t.Version++
}

// HasPending returns true if there are any pending tool segments.
func (t *ToolTracker) HasPending() bool {
	return HasPendingTool(t.Segments)
}

// StartWave initializes and starts the wave animation.
// Returns the command to start the tick cycle.
func (t *ToolTracker) StartWave() tea.Cmd {
	t.WavePos = 0
	t.WavePaused = false
	return t.waveTickCmd()
}

// HandleWaveTick advances the wave animation.
// Returns the next command (tick, pause, or nil if no pending tools).
func (t *ToolTracker) HandleWaveTick() tea.Cmd {
	if !t.HasPending() || t.WavePaused {
		return nil
	}

	toolTextLen := GetPendingToolTextLen(t.Segments)
	t.WavePos++

	if t.WavePos >= toolTextLen {
		// Wave complete, start pause
		t.WavePaused = true
		t.WavePos = -1
		return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
			return WavePauseMsg{}
		})
	}

	return t.waveTickCmd()
}

// HandleWavePause handles the end of a wave pause.
// Returns the next tick command if there are still pending tools.
func (t *ToolTracker) HandleWavePause() tea.Cmd {
	if !t.HasPending() {
		return nil
	}

	t.WavePaused = false
	t.WavePos = 0
	return t.waveTickCmd()
}

// waveTickCmd returns the command for the next wave tick.
func (t *ToolTracker) waveTickCmd() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return WaveTickMsg{}
	})
}

// ActiveSegments returns only the pending tool segments (for rendering).
// Returns pointers so mutations (like SafeRendered caching) persist.
func (t *ToolTracker) ActiveSegments() []*Segment {
	var active []*Segment
	for i := range t.Segments {
		if t.Segments[i].Type == SegmentTool && t.Segments[i].ToolStatus == ToolPending {
			active = append(active, &t.Segments[i])
		}
	}
	return active
}

// CompletedSegments returns non-pending, non-flushed segments up to (but not past) the first pending tool.
// This preserves interleaving order: text before a pending tool is shown, but text after it is held back
// until the tool completes. Returns pointers so mutations (like SafeRendered caching) persist.
func (t *ToolTracker) CompletedSegments() []*Segment {
	var completed []*Segment
	for i := range t.Segments {
		seg := &t.Segments[i]
		if seg.Flushed {
			continue
		}
		// Stop at the first pending tool - don't include segments after it
		if seg.Type == SegmentTool && seg.ToolStatus == ToolPending {
			break
		}
		completed = append(completed, seg)
	}
	return completed
}

// AllCompletedSegments returns all non-pending segments regardless of Flushed status.
// Use this for the final View() to ensure nothing is lost when segments were flushed
// to scrollback during streaming but we need the complete content for the final render.
func (t *ToolTracker) AllCompletedSegments() []*Segment {
	var completed []*Segment
	for i := range t.Segments {
		if t.Segments[i].Type == SegmentTool && t.Segments[i].ToolStatus == ToolPending {
			continue
		}
		completed = append(completed, &t.Segments[i])
	}
	return completed
}

// AllSegments returns all segments regardless of Flushed status.
// Use for alt screen mode where we render everything in View().
func (t *ToolTracker) AllSegments() []Segment {
	return t.Segments
}

// UnflushedSegments returns segments with unflushed content for final rendering.
// For text segments with partial flushes (FlushedPos > 0), creates a copy with only
// the unflushed portion. This ensures we don't duplicate content that was already
// printed to scrollback during streaming.
func (t *ToolTracker) UnflushedSegments() []*Segment {
	var result []*Segment
	for i := range t.Segments {
		seg := &t.Segments[i]
		// Skip fully flushed segments
		if seg.Flushed {
			continue
		}
		// Skip pending tools
		if seg.Type == SegmentTool && seg.ToolStatus == ToolPending {
			continue
		}
		// For text segments with partial flushes, create a copy with unflushed portion
		if seg.Type == SegmentText && seg.FlushedPos > 0 {
			text := seg.GetText()
			if seg.FlushedPos < len(text) {
				// Create a partial segment with only unflushed content
				partial := &Segment{
					Type:     SegmentText,
					Text:     text[seg.FlushedPos:],
					Complete: seg.Complete,
				}
				result = append(result, partial)
			}
			continue
		}
		result = append(result, seg)
	}
	return result
}

// AddTextSegment adds or appends to a text segment.
// width is used to create the streaming markdown renderer for proper formatting.
// Returns true if this created a new segment.
func (t *ToolTracker) AddTextSegment(text string, width int) bool {
	t.RecordActivity()

	// Find or append to current incomplete text segment
	if len(t.Segments) > 0 {
		last := &t.Segments[len(t.Segments)-1]
		if last.Type == SegmentText && !last.Complete {
			if last.TextBuilder == nil {
				last.TextBuilder = &strings.Builder{}
				last.TextBuilder.WriteString(last.Text)
				last.Text = ""
			}
			last.TextBuilder.WriteString(text)
			last.TextSnapshot = strings.Clone(last.TextBuilder.String())
			last.TextSnapshotLen = last.TextBuilder.Len()

			// Write to streaming renderer if present
			if last.StreamRenderer != nil {
				if err := last.StreamRenderer.Write(text); err != nil {
					// Disable renderer on error to avoid inconsistent output
					last.StreamRenderer = nil
				}
			}
			t.Version++
			return false
		}
	}

	// Create new text segment - clone text to avoid sharing memory with caller's buffer
	builder := &strings.Builder{}
	builder.WriteString(text)

	// Create streaming renderer for progressive markdown rendering
	// Skip in text mode to avoid glamour rendering entirely
	var renderer *TextSegmentRenderer
	if width > 0 && !t.TextMode {
		var err error
		renderer, err = NewTextSegmentRenderer(width)
		if err == nil {
			if err := renderer.Write(text); err != nil {
				// Disable renderer on write error
				renderer = nil
			}
		}
		// If renderer creation fails, fall back to raw text display
	}

	t.Segments = append(t.Segments, Segment{
		Type:            SegmentText,
		TextBuilder:     builder,
		TextSnapshot:    strings.Clone(text),
		TextSnapshotLen: len(text),
		StreamRenderer:  renderer,
	})
	t.Version++
	return true
}

// CompleteTextSegments marks all incomplete text segments as complete.
// Renders the full text with glamour on completion.
func (t *ToolTracker) CompleteTextSegments(renderFunc func(string) string) {
	for i := range t.Segments {
		if t.Segments[i].Type == SegmentText && !t.Segments[i].Complete {
			// Finalize TextBuilder to Text - clone to avoid sharing memory with builder
			if t.Segments[i].TextBuilder != nil {
				t.Segments[i].Text = strings.Clone(t.Segments[i].TextBuilder.String())
				t.Segments[i].TextBuilder = nil
			}

			// Flush and close streaming renderer, capturing its output
			if t.Segments[i].StreamRenderer != nil {
				if err := t.Segments[i].StreamRenderer.Flush(); err != nil {
					// Flush failed, fall back to renderFunc
					t.Segments[i].StreamRenderer = nil
					if t.Segments[i].Text != "" && renderFunc != nil {
						t.Segments[i].Rendered = renderFunc(t.Segments[i].Text)
					}
				} else {
					t.Segments[i].Rendered = t.Segments[i].StreamRenderer.RenderedAll()
					t.Segments[i].StreamRenderer = nil
				}
			} else if t.Segments[i].Text != "" && renderFunc != nil {
				// Fallback: no streaming renderer, render full text
				t.Segments[i].Rendered = renderFunc(t.Segments[i].Text)
			}

			t.Segments[i].Complete = true
		}
	}
}

// MarkCurrentTextComplete marks the current text segment as complete before a tool starts.
// Renders the full text with glamour.
func (t *ToolTracker) MarkCurrentTextComplete(renderFunc func(string) string) {
	if len(t.Segments) > 0 {
		last := &t.Segments[len(t.Segments)-1]
		if last.Type == SegmentText && !last.Complete {
			// Finalize TextBuilder to Text - clone to avoid sharing memory with builder
			if last.TextBuilder != nil {
				last.Text = strings.Clone(last.TextBuilder.String())
				last.TextBuilder = nil
			}

			// Flush and close streaming renderer, capturing its output
			if last.StreamRenderer != nil {
				if err := last.StreamRenderer.Flush(); err != nil {
					// Flush failed, fall back to renderFunc
					last.StreamRenderer = nil
					if last.Text != "" && renderFunc != nil {
						last.Rendered = renderFunc(last.Text)
					}
				} else {
					last.Rendered = last.StreamRenderer.RenderedAll()
					last.StreamRenderer = nil
				}
			} else if last.Text != "" && renderFunc != nil {
				// Fallback: no streaming renderer, render full text
				last.Rendered = renderFunc(last.Text)
			}

			last.Complete = true
		}
	}
}

// AddExternalUIResult adds a result from external UI (like ask_user) as a completed segment.
// The summary is plain text - styling is applied at render time to avoid ANSI corruption
// when passing through different tea.Program instances.
func (t *ToolTracker) AddExternalUIResult(summary string) {
	if summary == "" {
		return
	}
	t.RecordActivity()
	t.Segments = append(t.Segments, Segment{
		Type:     SegmentAskUserResult,
		Text:     summary,
		Complete: true,
	})
	t.Version++
}

// AddImageSegment adds an image segment for inline display.
func (t *ToolTracker) AddImageSegment(path string) {
	if path == "" {
		return
	}
	t.RecordActivity()
	t.Segments = append(t.Segments, Segment{
		Type:      SegmentImage,
		ImagePath: path,
		Complete:  true,
	})
	t.Version++
}

// AddDiffSegment adds a diff segment for inline display.
func (t *ToolTracker) AddDiffSegment(path, old, new string, line int) {
	if path == "" {
		return
	}
	t.RecordActivity()

	// Deduplicate: check if this diff already exists in the tracker
	for i := len(t.Segments) - 1; i >= 0; i-- {
		seg := t.Segments[i]
		if seg.Type == SegmentDiff && seg.DiffPath == path && seg.DiffOld == old && seg.DiffNew == new && seg.DiffLine == line {
			return
		}
	}

	t.Segments = append(t.Segments, Segment{
		Type:     SegmentDiff,
		DiffPath: path,
		DiffOld:  old,
		DiffNew:  new,
		DiffLine: line,
		Complete: true,
	})
	t.Version++
}

// FlushStreamingTextResult contains the result of a streaming text flush.
type FlushStreamingTextResult struct {
	// ToPrint is the rendered content to print to scrollback (empty if nothing to flush)
	ToPrint string
}

// FlushStreamingText flushes portions of in-progress text segments to scrollback
// when they exceed the threshold. Uses safe markdown boundaries to avoid breaking
// formatting. Returns rendered content to print, or empty if nothing to flush.
//
// Parameters:
//   - threshold: minimum bytes before attempting flush (e.g., 4000)
//   - width: terminal width for rendering
//   - renderMd: markdown render function (text, width) -> rendered
func (t *ToolTracker) FlushStreamingText(threshold int, width int, renderMd func(string, int) string) FlushStreamingTextResult {
	// Find the current incomplete text segment
	var seg *Segment
	segIdx := -1
	for i := range t.Segments {
		if t.Segments[i].Type == SegmentText && !t.Segments[i].Complete {
			seg = &t.Segments[i]
			segIdx = i
			break
		}
	}
	if seg == nil {
		return FlushStreamingTextResult{}
	}

	// Get current text length
	textLen := 0
	if seg.TextBuilder != nil {
		textLen = seg.TextBuilder.Len()
	} else {
		textLen = len(seg.Text)
	}

	// Check if we have enough unflushed content to bother flushing
	unflushedLen := textLen - seg.FlushedPos
	if unflushedLen < threshold {
		debugFlushf("stream skip seg=%d reason=below-threshold textLen=%d flushedPos=%d unflushedLen=%d threshold=%d", segIdx, textLen, seg.FlushedPos, unflushedLen, threshold)
		return FlushStreamingTextResult{}
	}

	debugFlushf("stream enter seg=%d textLen=%d flushedPos=%d unflushedLen=%d threshold=%d hasRenderer=%v", segIdx, textLen, seg.FlushedPos, unflushedLen, threshold, seg.StreamRenderer != nil)

	// Get the full text
	var fullText string
	if seg.TextBuilder != nil {
		fullText = seg.TextSnapshot
		if fullText == "" || seg.TextSnapshotLen != seg.TextBuilder.Len() {
			fullText = seg.TextBuilder.String()
		}
	} else {
		fullText = seg.Text
	}

	// If we have a streaming renderer, it's our source of truth for rendered output.
	// We MUST use its output instead of re-rendering raw markdown to avoid duplication
	// and drift.
	if seg.StreamRenderer != nil {
		// Use the committed markdown length from the renderer so raw/flushed state stays aligned.
		safeBoundary := seg.StreamRenderer.CommittedMarkdownLen()
		if safeBoundary <= seg.FlushedPos {
			// No new committed blocks to flush yet
			debugFlushf("stream skip seg=%d reason=no-committed committed=%d flushedPos=%d", segIdx, safeBoundary, seg.FlushedPos)
			return FlushStreamingTextResult{}
		}
		rendered := seg.StreamRenderer.RenderedUnflushed()
		if rendered == "" {
			debugFlushf("stream skip seg=%d reason=empty-rendered committed=%d flushedPos=%d", segIdx, safeBoundary, seg.FlushedPos)
			return FlushStreamingTextResult{}
		}

		var b strings.Builder
		if t.HasFlushed && seg.FlushedPos == 0 {
			b.WriteString(t.LeadingSeparator(SegmentText))
		}

		// Strip leading blank line if we've already flushed content,
		// since tea.Printf adds a newline after each flush
		if t.HasFlushed {
			rendered = stripLeadingBlankLine(rendered)
		}
		b.WriteString(rendered)

		// Update tracker state
		seg.FlushedPos = safeBoundary
		t.HasFlushed = true
		t.LastFlushedType = SegmentText
		seg.StreamRenderer.MarkFlushed()
		seg.FlushedRenderedPos = seg.StreamRenderer.FlushedRenderedPos()

		debugFlushf("stream flush seg=%d committed=%d flushedPos=%d renderedUnflushedLen=%d flushedRenderedPos=%d", segIdx, safeBoundary, seg.FlushedPos, len(rendered), seg.FlushedRenderedPos)

		return FlushStreamingTextResult{
			ToPrint: b.String(),
		}
	}

	// Find a safe boundary to flush up to (don't break markdown)
	safeBoundary := FindSafeBoundaryIncremental(fullText, seg.FlushedPos)
	if safeBoundary <= seg.FlushedPos {
		// No safe boundary found, can't flush yet
		debugFlushf("stream skip seg=%d reason=no-safe-boundary flushedPos=%d textLen=%d", segIdx, seg.FlushedPos, len(fullText))
		return FlushStreamingTextResult{}
	}

	// Fallback for when no streaming renderer is available (should be rare)
	toFlush := fullText[seg.FlushedPos:safeBoundary]
	if toFlush == "" {
		debugFlushf("stream skip seg=%d reason=empty-toFlush safeBoundary=%d flushedPos=%d", segIdx, safeBoundary, seg.FlushedPos)
		return FlushStreamingTextResult{}
	}

	if renderMd == nil {
		debugFlushf("stream skip seg=%d reason=no-renderer safeBoundary=%d flushedPos=%d", segIdx, safeBoundary, seg.FlushedPos)
		return FlushStreamingTextResult{}
	}

	// Render the full committed markdown so inter-block spacing is preserved.
	renderedAll := renderMd(fullText[:safeBoundary], width)
	if renderedAll == "" {
		debugFlushf("stream skip seg=%d reason=empty-rendered-fallback safeBoundary=%d flushedPos=%d", segIdx, safeBoundary, seg.FlushedPos)
		return FlushStreamingTextResult{}
	}

	rendered := renderedAll
	if seg.FlushedRenderedPos > 0 {
		if seg.FlushedRenderedPos >= len(renderedAll) {
			debugFlushf("stream skip seg=%d reason=rendered-pos>=len safeBoundary=%d flushedRenderedPos=%d renderedLen=%d", segIdx, safeBoundary, seg.FlushedRenderedPos, len(renderedAll))
			return FlushStreamingTextResult{}
		}
		rendered = renderedAll[seg.FlushedRenderedPos:]
	}
	if rendered == "" {
		debugFlushf("stream skip seg=%d reason=empty-rendered-slice safeBoundary=%d flushedPos=%d", segIdx, safeBoundary, seg.FlushedPos)
		return FlushStreamingTextResult{}
	}

	var b strings.Builder
	// Only add leading separator if this is the very FIRST flush for this segment.
	if t.HasFlushed && seg.FlushedPos == 0 {
		b.WriteString(t.LeadingSeparator(SegmentText))
	}
	// Strip leading blank line since tea.Printf adds a newline after each flush
	if t.HasFlushed {
		rendered = stripLeadingBlankLine(rendered)
	}
	b.WriteString(rendered)

	// Update flushed position/state
	seg.FlushedPos = safeBoundary
	seg.FlushedRenderedPos = len(renderedAll)
	t.HasFlushed = true
	t.LastFlushedType = SegmentText
	debugFlushf("stream flush seg=%d safeBoundary=%d flushedPos=%d toFlushLen=%d renderedLen=%d", segIdx, safeBoundary, seg.FlushedPos, len(toFlush), len(rendered))

	return FlushStreamingTextResult{
		ToPrint: b.String(),
	}
}

// FlushToScrollbackResult contains the result of a scrollback flush operation.
type FlushToScrollbackResult struct {
	// ToPrint is the content to print to scrollback (empty if nothing to flush)
	ToPrint string
	// NewPrintedLines is kept for API compatibility but no longer used for tracking
	NewPrintedLines int
}

// FlushToScrollback flushes completed segments to scrollback.
// Incomplete text segments are NOT flushed - they show as raw text in View()
// and get rendered with glamour only when completed.
//
// Parameters:
//   - width: terminal width for rendering
//   - printedLines: (unused, kept for API compatibility)
//   - maxViewLines: minimum completed segments to keep unflushed for View()
//   - renderMd: markdown render function (text, width) -> rendered
func (t *ToolTracker) FlushToScrollback(
	width int,
	printedLines int,
	maxViewLines int,
	renderMd func(string, int) string,
) FlushToScrollbackResult {
	var contentBuilder strings.Builder

	// Only flush complete segments - incomplete text shows as raw in View()
	isFlushable := func(seg *Segment) bool {
		if seg.Flushed {
			return false // already flushed
		}
		if seg.Type == SegmentTool && seg.ToolStatus == ToolPending {
			return false // pending tools can't be flushed
		}
		if seg.Type == SegmentText && !seg.Complete {
			return false // incomplete text can't be flushed as a whole
		}
		return true
	}

	// Count unflushed flushable segments
	var unflushedCount int
	for i := range t.Segments {
		if isFlushable(&t.Segments[i]) {
			unflushedCount++
		}
	}

	// Keep at least some segments unflushed for View()
	// But always flush images and diffs immediately since they need to go to scrollback
	minKeep := maxViewLines
	debugFlushf("scrollback enter unflushedCount=%d minKeep=%d hasFlushed=%v lastFlushed=%d", unflushedCount, minKeep, t.HasFlushed, t.LastFlushedType)
	if unflushedCount <= minKeep {
		// Check if there's an image or diff that needs flushing
		hasUnflushedSpecial := false
		for i := range t.Segments {
			seg := &t.Segments[i]
			if (seg.Type == SegmentImage || seg.Type == SegmentDiff) && !seg.Flushed {
				hasUnflushedSpecial = true
				break
			}
		}
		if !hasUnflushedSpecial && contentBuilder.Len() == 0 {
			debugFlushf("scrollback skip reason=min-keep unflushedCount=%d minKeep=%d", unflushedCount, minKeep)
			return FlushToScrollbackResult{NewPrintedLines: 0}
		}
	}

	// Collect segments to flush (all flushable segments except the last few)
	var toFlush []*Segment
	unflushedSeen := 0
	for i := range t.Segments {
		seg := &t.Segments[i]
		if !isFlushable(seg) {
			continue
		}
		unflushedSeen++
		// Flush if: it's an image/diff OR we have more than minKeep unflushed segments
		shouldFlush := seg.Type == SegmentImage || seg.Type == SegmentDiff || unflushedSeen <= unflushedCount-minKeep
		if shouldFlush {
			toFlush = append(toFlush, seg)
			seg.Flushed = true
		}
	}
	if len(toFlush) == 0 {
		debugFlushf("scrollback skip reason=no-segments-to-flush")
	} else {
		debugFlushf("scrollback flushing count=%d hasFlushed=%v lastFlushed=%d", len(toFlush), t.HasFlushed, t.LastFlushedType)
	}

	// Render complete segments to flush
	if len(toFlush) > 0 {
		content := RenderSegments(toFlush, width, -1, renderMd, true)
		if t.HasFlushed {
			// Strip leading blank line FIRST since tea.Printf adds a newline after each flush
			// This prevents double blank lines without removing intentional separator prefix
			content = stripLeadingBlankLine(content)
			prefix := t.LeadingSeparator(toFlush[0].Type)
			if prefix != "" {
				content = prefix + content
			}
		}
		if content != "" {
			contentBuilder.WriteString(content)
			t.HasFlushed = true
			t.LastFlushedType = toFlush[len(toFlush)-1].Type
			debugFlushf("scrollback flushed lastType=%d contentLen=%d", t.LastFlushedType, len(content))
			// Ensure streaming renderer matches flush state if this was a text segment
			for _, seg := range toFlush {
				if seg.StreamRenderer != nil {
					seg.StreamRenderer.MarkFlushed()
					seg.FlushedRenderedPos = seg.StreamRenderer.FlushedRenderedPos()
				} else if seg.Type == SegmentText && seg.Complete {
					// For completed text segments, mark the whole thing as flushed rendered
					if seg.Rendered != "" {
						seg.FlushedRenderedPos = len(seg.Rendered)
					} else {
						// This case shouldn't really happen if Rendered was set correctly
						// but as a fallback we could try to render it here if we had the width
					}
				}
			}
		}
	}

	if contentBuilder.Len() == 0 {
		return FlushToScrollbackResult{NewPrintedLines: 0}
	}

	return FlushToScrollbackResult{
		ToPrint:         contentBuilder.String(),
		NewPrintedLines: 0, // No longer used
	}
}

// ForceCompletePendingTools marks any pending tools as complete.
// Call this before FlushAllRemaining when streaming is done to ensure
// no tools are left in pending state (which would be skipped during flush).
func (t *ToolTracker) ForceCompletePendingTools() {
	for i := range t.Segments {
		seg := &t.Segments[i]
		if seg.Type == SegmentTool && seg.ToolStatus == ToolPending {
			seg.ToolStatus = ToolSuccess
		}
	}
}

// FlushAllRemaining returns any remaining unflushed content.
// Use this at the end of streaming to ensure all content is visible.
func (t *ToolTracker) FlushAllRemaining(
	width int,
	printedLines int,
	renderMd func(string, int) string,
) FlushToScrollbackResult {
	// Collect all unflushed segments (excluding pending tools)
	var toFlush []*Segment
	for i := range t.Segments {
		seg := &t.Segments[i]
		if seg.Flushed {
			continue
		}
		if seg.Type == SegmentTool && seg.ToolStatus == ToolPending {
			continue
		}
		toFlush = append(toFlush, seg)
	}

	if len(toFlush) == 0 {
		debugFlushf("flush-all skip reason=no-segments")
		return FlushToScrollbackResult{NewPrintedLines: 0}
	}

	content := RenderSegments(toFlush, width, -1, renderMd, true)
	if t.HasFlushed {
		// Strip leading blank line FIRST since tea.Printf adds a newline after each flush
		// This prevents double blank lines without removing intentional separator prefix
		content = stripLeadingBlankLine(content)
		prefix := t.LeadingSeparator(toFlush[0].Type)
		if prefix != "" {
			content = prefix + content
		}
	}

	// Always mark segments as flushed, even if content is empty (already streamed out)
	for _, seg := range toFlush {
		seg.Flushed = true
		if seg.StreamRenderer != nil {
			seg.StreamRenderer.MarkFlushed()
			seg.FlushedRenderedPos = seg.StreamRenderer.FlushedRenderedPos()
		} else if seg.Type == SegmentText && seg.Complete && seg.Rendered != "" {
			seg.FlushedRenderedPos = len(seg.Rendered)
		}
	}

	if content == "" {
		debugFlushf("flush-all skip reason=empty-render count=%d (segments marked flushed)", len(toFlush))
		return FlushToScrollbackResult{NewPrintedLines: 0}
	}

	t.HasFlushed = true
	t.LastFlushedType = toFlush[len(toFlush)-1].Type
	debugFlushf("flush-all flushed count=%d lastType=%d contentLen=%d", len(toFlush), t.LastFlushedType, len(content))

	return FlushToScrollbackResult{
		ToPrint:         content,
		NewPrintedLines: 0,
	}
}

// FlushBeforeExternalUI flushes content to scrollback before showing external UI.
// Keeps some recent content visible for context.
func (t *ToolTracker) FlushBeforeExternalUI(
	width int,
	printedLines int,
	keepLines int,
	renderMd func(string, int) string,
) FlushToScrollbackResult {
	// Flush all but the last segment (keep some context visible)
	var toFlush []*Segment
	unflushedCompleted := 0

	// First count unflushed completed segments
	for i := range t.Segments {
		seg := &t.Segments[i]
		if !seg.Flushed && !(seg.Type == SegmentTool && seg.ToolStatus == ToolPending) {
			unflushedCompleted++
		}
	}

	// Flush all but the last one
	seen := 0
	for i := range t.Segments {
		seg := &t.Segments[i]
		if seg.Flushed {
			continue
		}
		isPending := seg.Type == SegmentTool && seg.ToolStatus == ToolPending
		if isPending {
			continue
		}
		seen++
		// Keep the last segment unflushed for context
		if seen < unflushedCompleted {
			toFlush = append(toFlush, seg)
			seg.Flushed = true
		}
	}

	if len(toFlush) == 0 {
		debugFlushf("flush-external skip reason=no-segments")
		return FlushToScrollbackResult{NewPrintedLines: 0}
	}

	content := RenderSegments(toFlush, width, -1, renderMd, true)
	if t.HasFlushed {
		// Strip leading blank line FIRST since tea.Printf adds a newline after each flush
		// This prevents double blank lines without removing intentional separator prefix
		content = stripLeadingBlankLine(content)
		prefix := t.LeadingSeparator(toFlush[0].Type)
		if prefix != "" {
			content = prefix + content
		}
	}
	if content == "" {
		debugFlushf("flush-external skip reason=empty-render count=%d", len(toFlush))
		return FlushToScrollbackResult{NewPrintedLines: 0}
	}

	t.HasFlushed = true
	t.LastFlushedType = toFlush[len(toFlush)-1].Type
	// Ensure streaming renderer matches flush state if this was a text segment
	for _, seg := range toFlush {
		if seg.StreamRenderer != nil {
			seg.StreamRenderer.MarkFlushed()
		}
	}
	debugFlushf("flush-external flushed count=%d lastType=%d contentLen=%d", len(toFlush), t.LastFlushedType, len(content))

	return FlushToScrollbackResult{
		ToPrint:         content,
		NewPrintedLines: 0,
	}
}

// ResizeStreamRenderers updates all active streaming renderers with new width.
// On resize error, the renderer is disabled to avoid inconsistent output.
func (t *ToolTracker) ResizeStreamRenderers(width int) {
	for i := range t.Segments {
		if t.Segments[i].StreamRenderer != nil {
			if err := t.Segments[i].StreamRenderer.Resize(width); err != nil {
				// Disable renderer on resize error to avoid inconsistent output
				t.Segments[i].StreamRenderer = nil
			}
		}
	}
}

// CountLines counts the number of newlines in content
func CountLines(content string) int {
	count := 0
	for _, c := range content {
		if c == '\n' {
			count++
		}
	}
	return count
}

// SplitLines splits content by newlines. Unlike strings.Split, this does NOT
// include an empty trailing element for content ending in newline.
// Example: "hello\nworld\n" → ["hello", "world"] (not ["hello", "world", ""])
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	var lines []string
	start := 0
	for i, c := range content {
		if c == '\n' {
			lines = append(lines, content[start:i])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

// RenderUnflushed renders all non-pending, non-flushed segments with proper leading spacing.
func (t *ToolTracker) RenderUnflushed(width int, renderMd func(string, int) string, includeImages bool) string {
	unflushed := t.CompletedSegments()
	if len(unflushed) == 0 {
		return ""
	}

	var leading *Segment
	// Only add leading context if the FIRST unflushed segment is at its very start.
	if t.HasFlushed && unflushed[0].FlushedPos == 0 {
		leading = &Segment{Type: t.LastFlushedType}
	}

	return RenderSegmentsWithLeading(leading, unflushed, width, -1, renderMd, includeImages)
}

// LeadingSeparator returns the required spacing before a segment of the given type,
// based on the last flushed segment.
func (t *ToolTracker) LeadingSeparator(nextType SegmentType) string {
	if !t.HasFlushed {
		return ""
	}
	return SegmentSeparator(t.LastFlushedType, nextType)
}
