package ui

import "github.com/samsaffron/term-llm/internal/tools"

// ToolPhase carries the present-tense status text shown next to the
// spinner while a tool call is pending (e.g. "Viewing abc.png").
type ToolPhase struct {
	Active string
}

// toolPhaseVerbs maps a tool name to the gerund shown while it's running.
// Tools not listed fall back to "Running <name>".
var toolPhaseVerbs = map[string]string{
	tools.ReadFileToolName:      "Reading",
	tools.WriteFileToolName:     "Writing",
	tools.EditFileToolName:      "Editing",
	tools.ShellToolName:         "Running",
	tools.GrepToolName:          "Searching",
	tools.GlobToolName:          "Searching",
	tools.ViewImageToolName:     "Viewing",
	tools.ShowImageToolName:     "Showing",
	tools.ImageGenerateToolName: "Generating",
	tools.AskUserToolName:       "Asking",
	tools.ActivateSkillToolName: "Activating",
}

// FormatToolPhase builds the active-phase status text for a pending tool
// call, combining its gerund with a short info string (e.g. a file path or
// query) when one is available.
func FormatToolPhase(toolName, info string) ToolPhase {
	verb, ok := toolPhaseVerbs[toolName]
	if !ok {
		verb = "Running " + toolName
	}
	if info == "" {
		return ToolPhase{Active: verb}
	}
	return ToolPhase{Active: verb + " " + info}
}
