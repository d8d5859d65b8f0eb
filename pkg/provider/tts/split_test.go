package tts_test

import (
	"strings"
	"testing"

	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
)

func TestSplit_BasicSentences(t *testing.T) {
	t.Parallel()
	got := tts.Split("Hello there, this is Sarah. I am calling about your inquiry. Is now a good time?")
	want := []string{
		"Hello there, this is Sarah.",
		"I am calling about your inquiry.",
		"Is now a good time?",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplit_ProtectsAbbreviations(t *testing.T) {
	t.Parallel()
	got := tts.Split("You have an appointment with Dr. Smith tomorrow. Please arrive early.")
	if len(got) != 2 {
		t.Fatalf("got %d sentences %q, want 2", len(got), got)
	}
	if !strings.Contains(got[0], "Dr. Smith") {
		t.Errorf("abbreviation split apart: %q", got[0])
	}
}

func TestSplit_ProtectsDecimals(t *testing.T) {
	t.Parallel()
	got := tts.Split("The rate is 3.75 percent right now. That could change next week.")
	if len(got) != 2 {
		t.Fatalf("got %d sentences %q, want 2", len(got), got)
	}
	if !strings.Contains(got[0], "3.75") {
		t.Errorf("decimal split apart: %q", got[0])
	}
}

func TestSplit_ProtectsEllipsis(t *testing.T) {
	t.Parallel()
	got := tts.Split("Well... let me check the calendar for you. One moment please.")
	if len(got) != 2 {
		t.Fatalf("got %d sentences %q, want 2", len(got), got)
	}
	if !strings.HasPrefix(got[0], "Well...") {
		t.Errorf("ellipsis handling broke the first sentence: %q", got[0])
	}
}

func TestSplit_MergesShortFragments(t *testing.T) {
	t.Parallel()
	got := tts.Split("Great. I will book that appointment for you right away.")
	if len(got) != 1 {
		t.Fatalf("short fragment should merge: got %q", got)
	}
}

func TestSplit_BreaksLongSentences(t *testing.T) {
	t.Parallel()
	long := "We can offer you a fifteen year fixed rate with no origination fee and a very competitive monthly payment, " +
		"or we can look at a thirty year option that keeps the payment lower while you build equity in the property over time and decide later"
	got := tts.Split(long)
	if len(got) < 2 {
		t.Fatalf("long sentence should split: got %d pieces", len(got))
	}
	for i, s := range got {
		if len(s) > 250 {
			t.Errorf("piece %d still too long (%d chars): %q", i, len(s), s)
		}
	}
	joined := strings.Join(got, " ")
	for _, word := range []string{"fifteen", "origination", "equity", "decide"} {
		if !strings.Contains(joined, word) {
			t.Errorf("content lost in split: missing %q", word)
		}
	}
}

func TestSplitBounds_CustomBounds(t *testing.T) {
	t.Parallel()
	// "Great." stays separate once the merge floor drops below its length.
	got := tts.SplitBounds("Great. I will book that appointment for you right away.", 5, 200)
	if len(got) != 2 {
		t.Fatalf("got %d sentences %q, want 2", len(got), got)
	}

	// A tighter ceiling splits a sentence the defaults leave whole.
	text := "We can meet on Tuesday morning before the lunch rush, or Wednesday afternoon works too."
	if got := tts.Split(text); len(got) != 1 {
		t.Fatalf("default bounds: got %q, want one sentence", got)
	}
	if got := tts.SplitBounds(text, 15, 60); len(got) < 2 {
		t.Errorf("lowered ceiling did not split: %q", got)
	}

	// Non-positive bounds fall back to the defaults.
	if got := tts.SplitBounds(text, 0, 0); len(got) != 1 {
		t.Errorf("zero bounds: got %q, want one sentence", got)
	}
}

func TestSplit_Empty(t *testing.T) {
	t.Parallel()
	if got := tts.Split("   "); got != nil {
		t.Errorf("blank input: got %q, want nil", got)
	}
}
