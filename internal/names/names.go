// Package names provides accent- and case-insensitive matching of identity
// display names (e.g. "Jiří" finds "jiri").
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Normalize folds a name for comparison: no diacritics, case folded, dashes
// read as spaces and runs of whitespace collapsed.
func Normalize(name string) string {
	name = RemoveDiacritics(name)
	name = folder.String(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}

// Matches reports whether query occurs in name after normalization.
// An empty query matches everything.
func Matches(name, query string) bool {
	q := Normalize(query)
	if q == "" {
		return true
	}
	return strings.Contains(Normalize(name), q)
}

// Filter keeps the items whose name matches query, preserving order.
func Filter[T any](items []T, query string, name func(T) string) []T {
	q := Normalize(query)
	if q == "" {
		return items
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		if strings.Contains(Normalize(name(it)), q) {
			out = append(out, it)
		}
	}
	return out
}
