package domain

import "strings"

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify converts a name into one compose accepts as a project name.
//
// The transformation rules are:
//   - Lowercase letters, digits, hyphens and underscores are kept
//   - Uppercase letters are converted to lowercase
//   - Spaces and dots are converted to hyphens
//   - All other characters are removed
//   - Leading hyphens and underscores are trimmed
//
// Example:
//
//	Slugify("Hello World")   // returns "hello-world"
//	Slugify("api.v2 (ci)")   // returns "api-v2-ci"
//	Slugify("_scratch")      // returns "scratch"
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
		// All other characters are dropped
	}
	return strings.TrimLeft(b.String(), "-_")
}
