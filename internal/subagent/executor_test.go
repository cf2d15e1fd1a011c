package subagent

import (
	"context"
	"strings"
	"testing"

	"github.com/samsaffron/term-llm/internal/corekit/errs"
)

func TestRunCapturesStdout(t *testing.T) {
	req := Request{
		Program:  "/bin/sh",
		Args:     []string{"-c", "echo hello; echo world 1>&2"},
		ReadOnly: true,
	}
	var progressLines []string
	req.Progress = func(label, chunk string) {
		progressLines = append(progressLines, label+":"+chunk)
	}

	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Fatalf("expected stdout to contain hello, got %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "world") {
		t.Fatalf("expected stderr to contain world, got %q", res.Stderr)
	}
	if len(progressLines) == 0 {
		t.Fatal("expected progress callbacks to fire")
	}
}

func TestRunMissingBinaryIsNotFound(t *testing.T) {
	req := Request{Program: "/no/such/binary-xyz", ReadOnly: true}
	_, err := Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected error")
	}
	if errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound kind, got %v", errs.KindOf(err))
	}
}

func TestRunHeartbeatFiresUntilStopped(t *testing.T) {
	stop := make(chan struct{})
	count := 0
	done := make(chan struct{})
	go func() {
		RunHeartbeat(stop, func() { count++ })
		close(done)
	}()
	close(stop)
	<-done
	if count != 0 {
		t.Fatalf("expected no beats before the first interval elapses, got %d", count)
	}
}
