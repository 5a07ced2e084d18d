package significance

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Names of the three significance tests, as reported in Candidate.Failed.
const (
	TestImpact       = "impact"
	TestAlternatives = "alternatives"
	TestScope        = "scope"
)

// Tier grades how close a candidate came to a record for reviewers. It is
// reporting only; the verdict is always VerdictFor.
type Tier string

const (
	// TierRecord passed all three tests.
	TierRecord Tier = "record"
	// TierPossible failed exactly one test and is worth a second look.
	TierPossible Tier = "possible"
	// TierLow failed two or more tests.
	TierLow Tier = "low"
)

// FailedTests names the tests that did not pass, in a fixed order.
func FailedTests(impact, alternatives, scope bool) []string {
	var failed []string
	if !impact {
		failed = append(failed, TestImpact)
	}
	if !alternatives {
		failed = append(failed, TestAlternatives)
	}
	if !scope {
		failed = append(failed, TestScope)
	}
	return failed
}

// TierFor grades a candidate by how many tests it failed.
func TierFor(impact, alternatives, scope bool) Tier {
	switch len(FailedTests(impact, alternatives, scope)) {
	case 0:
		return TierRecord
	case 1:
		return TierPossible
	default:
		return TierLow
	}
}

const maxTitleLen = 80

var (
	titleSentenceRe = regexp.MustCompile(`[.!?](?:\s|$)`)
	titleLeadRe     = regexp.MustCompile(`(?i)^(?:we|the|this)\s+`)
)

// DecisionTitle derives a short record title from a candidate: its first
// line and sentence without list markers or emphasis, a leading "we", "the"
// or "this" dropped, capitalized, and cut to 80 characters.
func DecisionTitle(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(listItemRe.ReplaceAllString(line, "$1"))
	line = strings.ReplaceAll(line, "**", "")
	if loc := titleSentenceRe.FindStringIndex(line); loc != nil {
		line = line[:loc[0]]
	}
	line = strings.TrimSpace(titleLeadRe.ReplaceAllString(strings.TrimSpace(line), ""))
	line = strings.TrimRight(line, ":;, ")

	if utf8.RuneCountInString(line) > maxTitleLen {
		r := []rune(line)
		line = strings.TrimSpace(string(r[:maxTitleLen-3])) + "..."
	}
	if r, size := utf8.DecodeRuneInString(line); r != utf8.RuneError {
		line = string(unicode.ToUpper(r)) + line[size:]
	}
	return line
}
