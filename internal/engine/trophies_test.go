package engine

import "testing"

func TestTrophyCatalog_Glyphs(t *testing.T) {
	c := DefaultTrophyCatalog()

	got := c.Glyphs([]string{"gold_cup", "scholar"})
	if len(got) != 2 || got[0] != "🏆" || got[1] != "📚" {
		t.Fatalf("Glyphs = %v", got)
	}

	// order is preserved and unknown ids still show as an award
	got = c.Glyphs([]string{"mystery_award", "gold_cup"})
	if len(got) != 2 || got[0] != fallbackGlyph || got[1] != "🏆" {
		t.Fatalf("Glyphs with unknown id = %v", got)
	}

	if got := c.Glyphs(nil); len(got) != 0 {
		t.Fatalf("Glyphs(nil) = %v, want empty", got)
	}
}
