package normalize

import "strings"

// UID returns a normalized form of a user id suitable for document keys and
// comparisons. Normalization currently trims surrounding whitespace.
func UID(id string) string {
	return strings.TrimSpace(id)
}

// Username returns a normalized display name: surrounding whitespace is
// trimmed and internal runs of whitespace collapse to single spaces.
func Username(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
