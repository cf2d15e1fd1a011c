package subagent

import "testing"

func TestExtractFinalTextPrefersFinalMarker(t *testing.T) {
	stdout := `{"order":{"request_ordinal":1,"output_index":0,"sequence_number":0},"type":"text_delta","text":"hel"}
{"order":{"request_ordinal":1,"output_index":0,"sequence_number":1},"type":"text_delta","text":"lo"}
{"type":"final","result":{"text":"hello"}}
`
	got := extractFinalText(stdout)
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestExtractFinalTextFallsBackToRawStdout(t *testing.T) {
	got := extractFinalText("plain text output\n")
	if got != "plain text output" {
		t.Fatalf("expected trimmed raw stdout, got %q", got)
	}
}
