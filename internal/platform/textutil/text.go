// Package textutil holds string normalisation shared by the cart, inventory and payment layers.
package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	folder       = cases.Fold()
)

// NormalizeName produces the comparison key used to match product names: NFKC form,
// case-folded, trimmed, with inner whitespace runs collapsed to one space.
func NormalizeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	folded := folder.String(norm.NFKC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}

// SameName reports whether two product names normalise to the same key.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// SanitizeText strips markup from customer-supplied free text and truncates it to limit runes.
// The result is stored as plain text, so entities produced by the policy are decoded again.
func SanitizeText(value string, limit int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
