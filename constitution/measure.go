package constitution

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360studio/semgate/document"
)

var (
	numberRe    = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	keyValueRe  = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 _/\-]*?)\s*[:=]\s*(.+)$`)
	bulletRe    = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)
	tableSepRe  = regexp.MustCompile(`^\|?[\s:|-]+\|?$`)
	listItemRe  = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+\S`)
	metricKeyRe = regexp.MustCompile(`[\s\-]+`)
)

// metricKey folds a metric or label name for comparison:
// "Service Count", "service-count" and "service_count" are the same key.
func metricKey(s string) string {
	s = strings.NewReplacer("*", "", "`", "").Replace(s)
	s = strings.ToLower(strings.TrimSpace(s))
	return metricKeyRe.ReplaceAllString(s, "_")
}

// firstNumber returns the first number in s.
func firstNumber(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}

// ExtractMetric finds a numeric metric in the artifact. Sources are tried in
// order: frontmatter key, "key: value" lines (bullets and bold labels
// allowed), two-column table rows. The first number in the value is used.
// A metric of the form "count:<Section>" counts the top-level list items of
// that section. sections limits the line and table search.
func ExtractMetric(a *document.Artifact, metric string, sections []string) (float64, error) {
	if name, ok := strings.CutPrefix(metric, CountPrefix); ok {
		sec, found := a.Lookup(name)
		if !found {
			return 0, fmt.Errorf("%w: %s (no section %q)", ErrMetricNotFound, metric, name)
		}
		return float64(countListItems(sec.Content)), nil
	}

	key := metricKey(metric)

	for k, v := range a.Frontmatter {
		if metricKey(k) != key {
			continue
		}
		if n, ok := frontmatterNumber(v); ok {
			return n, nil
		}
	}

	var tableHit *float64
	for _, text := range scopeTexts(a, sections) {
		for _, ln := range strings.Split(text, "\n") {
			line := strings.TrimSpace(ln)
			if strings.HasPrefix(line, "|") {
				if tableHit == nil {
					if n, ok := tableMetric(line, key); ok {
						tableHit = &n
					}
				}
				continue
			}
			line = bulletRe.ReplaceAllString(line, "")
			line = strings.ReplaceAll(line, "**", "")
			m := keyValueRe.FindStringSubmatch(line)
			if m == nil || metricKey(m[1]) != key {
				continue
			}
			if n, ok := firstNumber(m[2]); ok {
				return n, nil
			}
		}
	}
	if tableHit != nil {
		return *tableHit, nil
	}

	return 0, fmt.Errorf("%w: %s", ErrMetricNotFound, metric)
}

func frontmatterNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		return firstNumber(n)
	default:
		return 0, false
	}
}

// tableMetric reads "| key | value |" rows.
func tableMetric(line, key string) (float64, bool) {
	if tableSepRe.MatchString(line) {
		return 0, false
	}
	cells := strings.Split(strings.Trim(line, "|"), "|")
	if len(cells) < 2 || metricKey(cells[0]) != key {
		return 0, false
	}
	return firstNumber(cells[1])
}

// countListItems counts unindented list items.
func countListItems(content string) int {
	n := 0
	inFence := false
	for _, ln := range strings.Split(content, "\n") {
		if document.IsCodeFence(ln) {
			inFence = !inFence
			continue
		}
		if !inFence && listItemRe.MatchString(ln) {
			n++
		}
	}
	return n
}

// scopeTexts returns the texts a predicate searches: the named sections if
// any exist, otherwise the artifact body.
func scopeTexts(a *document.Artifact, sections []string) []string {
	if len(sections) == 0 {
		return []string{a.Body()}
	}
	var texts []string
	for _, name := range sections {
		if sec, ok := a.Lookup(name); ok {
			texts = append(texts, sec.Content)
		}
	}
	return texts
}
