package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Slug maps a state name to its partition filename stem: lowercase, with every
// run of non-alphanumeric characters collapsed to a single '-'.
// "Jammu & Kashmir" -> "jammu-kashmir".
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// DisplayName reconstructs a title-cased name from a slug. The mapping is
// lossy; partitions carry the canonical state name in their payload.
func DisplayName(slug string) string {
	words := strings.ReplaceAll(slug, "-", " ")
	return cases.Title(language.English).String(words)
}
