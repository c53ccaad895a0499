package analytics

import "testing"

func TestRecordInvocation_SplitsByOutcome(t *testing.T) {
	r := New()
	r.RecordInvocation("rename", true)
	r.RecordInvocation("rename", true)
	r.RecordInvocation("rename", false)

	success, failure := r.Counts("rename")
	if success != 2 {
		t.Fatalf("expected 2 successes, got %d", success)
	}
	if failure != 1 {
		t.Fatalf("expected 1 failure, got %d", failure)
	}
}

func TestCounts_UnknownToolIsZero(t *testing.T) {
	r := New()
	success, failure := r.Counts("search")
	if success != 0 || failure != 0 {
		t.Fatalf("expected zero counts for unrecorded tool, got %d/%d", success, failure)
	}
}
