package subagent

import (
	"context"
	"errors"
	"testing"
)

func TestRunSmokeTestSuccess(t *testing.T) {
	err := RunSmokeTest(context.Background(), func(ctx context.Context, prompt string) (string, error) {
		if prompt != SmokePrompt {
			t.Errorf("unexpected prompt: %q", prompt)
		}
		return " OK \n", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunSmokeTestMismatch(t *testing.T) {
	err := RunSmokeTest(context.Background(), func(ctx context.Context, prompt string) (string, error) {
		return "nope", nil
	})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestRunSmokeTestPropagatesRunError(t *testing.T) {
	wantErr := errors.New("spawn failed")
	err := RunSmokeTest(context.Background(), func(ctx context.Context, prompt string) (string, error) {
		return "", wantErr
	})
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped spawn error, got %v", err)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if got := summarize("   "); got != "<empty response>" {
		t.Fatalf("got %q", got)
	}
}

func TestSummarizeTruncatesLongOutput(t *testing.T) {
	long := make([]rune, 500)
	for i := range long {
		long[i] = 'x'
	}
	got := summarize(string(long))
	runes := []rune(got)
	if runes[len(runes)-1] != '…' {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if len(runes) != smokeSummaryMaxLen+1 {
		t.Fatalf("expected length %d, got %d", smokeSummaryMaxLen+1, len(runes))
	}
}
