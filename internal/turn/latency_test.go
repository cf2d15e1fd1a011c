package turn

import "testing"

func TestLatencyGuardMarkCompletedReportsOnce(t *testing.T) {
	var reports []LatencyReport
	guard := NewLatencyGuard(func(r LatencyReport) { reports = append(reports, r) })

	guard.MarkCompleted(3, nil)
	guard.MarkFailed("should be ignored")
	guard.Finish()

	if len(reports) != 1 {
		t.Fatalf("expected exactly one report, got %d: %+v", len(reports), reports)
	}
	if reports[0].Outcome != LatencyCompleted {
		t.Fatalf("expected LatencyCompleted, got %s", reports[0].Outcome)
	}
}

func TestLatencyGuardDropWithoutOutcome(t *testing.T) {
	var reports []LatencyReport
	guard := NewLatencyGuard(func(r LatencyReport) { reports = append(reports, r) })

	guard.Finish() // neither MarkCompleted nor MarkFailed was called

	if len(reports) != 1 || reports[0].Outcome != LatencyDroppedWithoutOutcome {
		t.Fatalf("expected a single dropped_without_outcome report, got %+v", reports)
	}
}

func TestLatencyGuardMarkFailedThenFinishReportsOnce(t *testing.T) {
	var reports []LatencyReport
	guard := NewLatencyGuard(func(r LatencyReport) { reports = append(reports, r) })

	guard.MarkFailed("boom")
	guard.Finish()

	if len(reports) != 1 || reports[0].Outcome != LatencyFailed || reports[0].Detail != "boom" {
		t.Fatalf("expected a single failed report with detail, got %+v", reports)
	}
}
