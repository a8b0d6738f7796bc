package textutil

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

const maxFreeTextLength = 500

var (
	strictPolicy = bluemonday.StrictPolicy()
	upperCaser   = cases.Upper(language.Und)
)

// NormalizeCode canonicalises a human-entered code such as a coupon: full-width characters are
// folded to ASCII, whitespace is removed and letters are upper-cased.
func NormalizeCode(raw string) string {
	folded := width.Fold.String(raw)
	folded = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
	return upperCaser.String(folded)
}

// SanitizeText strips markup and control characters from free text supplied by clients or
// payment processors before it is persisted or logged.
func SanitizeText(raw string) string {
	cleaned := strictPolicy.Sanitize(raw)
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if runes := []rune(cleaned); len(runes) > maxFreeTextLength {
		cleaned = string(runes[:maxFreeTextLength])
	}
	return cleaned
}
