package truncate

import "strings"

import "testing"

func TestMiddleUnchangedWhenShort(t *testing.T) {
	s := "hello"
	out, truncated, _, _ := Middle(s, 100)
	if truncated || out != s {
		t.Fatalf("expected unchanged, got %q truncated=%v", out, truncated)
	}
}

func TestMiddleZeroBudget(t *testing.T) {
	out, truncated, _, _ := Middle("hello world", 0)
	if !truncated {
		t.Fatal("expected truncated")
	}
	if out != strings.TrimSuffix(Marker, "\n") {
		t.Fatalf("got %q", out)
	}
}

func TestMiddlePrefersNewlineBoundary(t *testing.T) {
	s := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10) + "\n" + strings.Repeat("c", 10)
	out, truncated, prefixEnd, _ := Middle(s, 20)
	if !truncated {
		t.Fatal("expected truncated")
	}
	if prefixEnd != 11 {
		t.Fatalf("expected prefix to end right after the first newline, got %d in %q", prefixEnd, out)
	}
}

func TestMiddleCharBoundarySafe(t *testing.T) {
	s := strings.Repeat("€", 50) // each € is 3 bytes in UTF-8
	out, truncated, prefixEnd, suffixStart := Middle(s, 10)
	if !truncated {
		t.Fatal("expected truncated")
	}
	if !isCharBoundary(s, prefixEnd) || !isCharBoundary(s, suffixStart) {
		t.Fatalf("cut points not on char boundaries: %d %d", prefixEnd, suffixStart)
	}
	if !strings.Contains(out, Marker) {
		t.Fatalf("expected marker in output: %q", out)
	}
}

func TestTail(t *testing.T) {
	s := "0123456789"
	if got := Tail(s, 3); got != "789" {
		t.Fatalf("got %q", got)
	}
	if got := Tail(s, 100); got != s {
		t.Fatalf("got %q", got)
	}
}
