package slug

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Generate turns a display name into a lowercase, hyphen-separated slug.
// Ampersands read as "and" so "Mugs & Bottles" becomes "mugs-and-bottles".
func Generate(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "&", " and ")
	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Equal reports whether a and b produce the same slug. Empty slugs never
// match.
func Equal(a, b string) bool {
	sa := Generate(a)
	return sa != "" && sa == Generate(b)
}
