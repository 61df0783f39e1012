package session

import "testing"

func TestSummarize_Deterministic(t *testing.T) {
	a := Summarize("", "hello there", "hi, how can I help?", 1)
	b := Summarize("", "hello there", "hi, how can I help?", 1)
	if a != b {
		t.Fatalf("expected identical output for identical input, got %q vs %q", a, b)
	}
}

func TestSummarize_AccumulatesBullets(t *testing.T) {
	s1 := Summarize("", "first question", "first answer", 1)
	s2 := Summarize(s1, "second question", "second answer", 2)

	if !contains(s2, "turn 1") || !contains(s2, "turn 2") {
		t.Fatalf("expected both turns represented, got %q", s2)
	}
}

func TestSummarize_BoundedLength(t *testing.T) {
	summary := ""
	for i := 1; i <= 50; i++ {
		summary = Summarize(summary, "question number with some extra padding text", "answer number with some extra padding text too", i)
	}
	if len(summary) > 2000 {
		t.Fatalf("expected bounded summary length, got %d chars", len(summary))
	}
	if !contains(summary, "earlier turn(s) omitted") {
		t.Fatalf("expected omitted-count line after 50 turns, got %q", summary)
	}
}

func TestSummarize_TruncatesLongFields(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	out := Summarize("", long, long, 1)
	if contains(out, long) {
		t.Fatalf("expected long field to be truncated, got %q", out)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
