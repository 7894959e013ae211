package engine

// TrophyCatalog maps opaque trophy identifiers to display glyphs.
type TrophyCatalog map[string]string

// fallbackGlyph stands in for ids awarded by newer backends this build does
// not know about; the award still shows, just without a dedicated symbol.
const fallbackGlyph = "🏅"

// DefaultTrophyCatalog returns the static catalog of known awards.
func DefaultTrophyCatalog() TrophyCatalog {
	return TrophyCatalog{
		"gold_cup":    "🏆",
		"silver_cup":  "🥈",
		"bronze_cup":  "🥉",
		"streak_week": "🔥",
		"early_bird":  "🌅",
		"night_owl":   "🦉",
		"coin_hoard":  "💰",
		"scholar":     "📚",
	}
}

// Glyphs resolves an ordered id sequence to its ordered glyph sequence.
func (c TrophyCatalog) Glyphs(ids []string) []string {
	glyphs := make([]string, 0, len(ids))
	for _, id := range ids {
		if g, ok := c[id]; ok {
			glyphs = append(glyphs, g)
			continue
		}
		glyphs = append(glyphs, fallbackGlyph)
	}
	return glyphs
}
