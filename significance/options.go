package significance

import (
	"regexp"
	"strings"
)

var (
	listItemRe    = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.+)$`)
	optionLabelRe = regexp.MustCompile(`(?i)^\**\s*(?:option|alternative|approach)\s+[\w]+\**\s*[:.)\-]\**\s*(.*)$`)
	labelSepRe    = regexp.MustCompile(`\s*(?::|\s-\s|\s–\s|\s—\s|\(|,)`)

	pivotRe = regexp.MustCompile(`(?i)\b(?:over|instead of|rather than|versus|vs\.?|compared (?:to|with)|in favou?r of)\s+`)
	verbRe  = regexp.MustCompile(`(?i)\b(?:chose|choose|chosen|choosing|select(?:ed|ing)?|pick(?:ed)?|prefer(?:red|s)?|adopt(?:ed|s)?|use[ds]?|using|went with|go(?:ing)? with|decided on|opted for|settled on|recommend(?:ed|s)?|standardi[sz]ed? on|switch(?:ed|ing)? to|migrat(?:e|ed|ing) to|mov(?:e|ed|ing) to)\s+`)
	// clause ends an option list on the right of a pivot.
	clauseRe      = regexp.MustCompile(`(?i)[.;:()!?\n]|\s+(?:for|because|due|since|given|as|to|which|that|so|while|whereas|but|with|in|on|across|at|when|if)\b`)
	betweenRe     = regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+(.+?)(?:[,.;:)]|\s+(?:for|because|due|since|given|as|to|which|that|so|while|whereas|but)\b|$)`)
	consideredRe  = regexp.MustCompile(`(?i)\b(?:alternatives?|options?)(?:\s+considered)?\s*(?:were|are|:)\s*(.+)`)
	optionSplitRe = regexp.MustCompile(`(?i)\s*(?:,|/|&|\band\b|\bor\b|\bnor\b)\s*`)
	articleRe     = regexp.MustCompile(`(?i)^(?:the|a|an|both|either|neither)\s+`)
)

// maxOptionWords bounds a named option; longer phrases are prose, not names.
const maxOptionWords = 5

type optionItem struct {
	label string
	text  string
}

// optionItems returns the list items of an option list: bullet or numbered
// lines, or "Option N:" lines.
func optionItems(text string) []optionItem {
	var items []optionItem
	for _, ln := range strings.Split(text, "\n") {
		body := ""
		if m := listItemRe.FindStringSubmatch(ln); m != nil {
			body = m[1]
		} else if optionLabelRe.MatchString(strings.TrimSpace(ln)) {
			body = strings.TrimSpace(ln)
		} else {
			continue
		}
		items = append(items, optionItem{label: itemLabel(body), text: body})
	}
	return items
}

// itemLabel is the option's name: the text before the first separator, with
// any "Option N:" prefix removed.
func itemLabel(body string) string {
	if m := optionLabelRe.FindStringSubmatch(body); m != nil {
		body = m[1]
	}
	body = strings.ReplaceAll(body, "**", "")
	if loc := labelSepRe.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	return cleanOption(body)
}

// namedOptions finds the options compared by a single statement.
func namedOptions(text string) []string {
	var options []string

	for _, m := range betweenRe.FindAllStringSubmatch(text, -1) {
		options = append(options, cleanOption(m[1]), cleanOption(m[2]))
	}

	if m := consideredRe.FindStringSubmatch(text); m != nil {
		options = append(options, splitOptions(upToClause(m[1]))...)
	}

	for _, loc := range pivotRe.FindAllStringIndex(text, -1) {
		options = append(options, splitOptions(leftOfPivot(text[:loc[0]]))...)
		options = append(options, splitOptions(upToClause(text[loc[1]:]))...)
	}

	return options
}

// leftOfPivot returns the chosen option: the words after the last decision
// verb, or the last few words when there is none.
func leftOfPivot(before string) string {
	if locs := verbRe.FindAllStringIndex(before, -1); len(locs) > 0 {
		return before[locs[len(locs)-1][1]:]
	}
	words := strings.Fields(before)
	if len(words) > 3 {
		words = words[len(words)-3:]
	}
	return strings.Join(words, " ")
}

func upToClause(s string) string {
	if loc := clauseRe.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	return s
}

func splitOptions(s string) []string {
	var out []string
	for _, part := range optionSplitRe.Split(s, -1) {
		if opt := cleanOption(part); opt != "" {
			out = append(out, opt)
		}
	}
	return out
}

// cleanOption trims articles, emphasis and punctuation and rejects phrases
// too long to be a name.
func cleanOption(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "*`\"'.,;:")
	s = articleRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" || len(strings.Fields(s)) > maxOptionWords {
		return ""
	}
	return s
}
