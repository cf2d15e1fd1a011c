package subagent

import "testing"

func TestNormalizeAgentName(t *testing.T) {
	cases := map[string]string{
		"codebase-reviewer":  "Codebase Reviewer",
		"commit_message":     "Commit Message",
		"fileOrganizer":      "File Organizer",
		"llm.api.client":     "LLM API Client",
		"  spaced   out  ":   "Spaced Out",
		"ui/tui":             "UI TUI",
	}
	for in, want := range cases {
		if got := NormalizeAgentName(in); got != want {
			t.Errorf("NormalizeAgentName(%q) = %q, want %q", in, got, want)
		}
	}
}
