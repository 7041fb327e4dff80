// Package match classifies item names that likely denote the same product.
//
// The heuristics are deliberately small: exact match after normalization,
// a trailing "s"/"es" plural, and the "y"/"ies" pair. There is no stemming
// and no edit distance, so irregular plurals ("mouse"/"mice") are missed.
package match

import (
	"strings"
	"unicode/utf8"

	"github.com/shopsmart/shopsync/internal/schema"
)

// IsSimilar reports whether a and b probably name the same item.
// It is symmetric and case-insensitive, and ignores surrounding whitespace.
func IsSimilar(a, b string) bool {
	x := normalize(a)
	y := normalize(b)
	if x == y {
		return true
	}

	shorter, longer := x, y
	if utf8.RuneCountInString(y) < utf8.RuneCountInString(x) {
		shorter, longer = y, x
	}
	if strings.HasPrefix(longer, shorter) {
		suffix := longer[len(shorter):]
		if suffix == "s" || suffix == "es" {
			return true
		}
	}

	xBase, xOK := pluralBase(x)
	yBase, yOK := pluralBase(y)
	return xOK && yOK && xBase == yBase
}

// FindSimilar returns the items whose names are similar to name, in input order.
func FindSimilar(name string, items []*schema.Item) []*schema.Item {
	var out []*schema.Item
	for _, item := range items {
		if item != nil && IsSimilar(item.Name, name) {
			out = append(out, item)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// pluralBase strips "ies" or "y" so "berry" and "berries" share "berr".
func pluralBase(s string) (string, bool) {
	switch {
	case strings.HasSuffix(s, "ies"):
		return s[:len(s)-3], true
	case strings.HasSuffix(s, "y"):
		return s[:len(s)-1], true
	default:
		return "", false
	}
}
