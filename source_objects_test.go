package main

import "testing"

func TestSkippedViewWarnings(t *testing.T) {
	if got := skippedViewWarnings(nil); got != nil {
		t.Fatalf("skippedViewWarnings(nil) = %v, want nil", got)
	}

	got := skippedViewWarnings([]string{"invoice_totals", "top_artists"})
	want := []string{
		"source contains 2 view(s) that are not cloned",
		"view: invoice_totals",
		"view: top_artists",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d warnings, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("warning %d = %q, want %q", i, got[i], want[i])
		}
	}
}
