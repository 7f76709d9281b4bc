package repositorysource

import (
	"strings"
	"unicode"
)

// toSnake maps a query field to its column name: "createdAt" becomes
// "created_at" and "owner.id" becomes "owner_id". Anything that is not a
// letter or digit collapses into a single underscore, so the result is
// always a plain identifier.
func toSnake(field string) string {
	runes := []rune(field)

	var b strings.Builder
	b.Grow(len(runes) + 4)

	split := false
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			split = b.Len() > 0
			continue
		}

		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			acronymEnd := unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || acronymEnd {
				split = b.Len() > 0
			}
		}

		if split {
			b.WriteByte('_')
			split = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
