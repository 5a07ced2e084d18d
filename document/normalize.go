package document

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// numberingRe matches leading section numbering such as "1.", "2.3" or "4)".
var numberingRe = regexp.MustCompile(`^\d+(?:\.\d+)*[.)]?\s+`)

// NormalizeKey folds a heading or section name into a lookup key: NFC,
// emphasis and numbering stripped, case folded, whitespace collapsed.
func NormalizeKey(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '*', '_', '`':
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	s = numberingRe.ReplaceAllString(s, "")
	s = strings.TrimRight(s, ": ")
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
