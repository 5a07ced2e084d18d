package constitution

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360studio/semgate/document"
)

// DefaultJustificationSection is where plans justify rule violations.
const DefaultJustificationSection = "Complexity Tracking"

// DefaultGateName names the checkpoint between design and task breakdown.
const DefaultGateName = "design->task_breakdown"

// Outcome is the evaluation of one rule.
type Outcome struct {
	RuleID   string   `json:"rule_id"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Reason   string   `json:"reason"`

	// MetricMissing is set when the rule's metric was absent.
	MetricMissing bool `json:"metric_missing,omitempty"`

	// Justification is text from the plan that mentions the rule id.
	Justification string `json:"justification,omitempty"`

	// Accepted is set when the caller accepted the failure as an exception
	// and the plan carries a justification for it.
	Accepted bool `json:"accepted,omitempty"`
}

// Blocking reports whether this outcome refuses phase advancement.
func (o Outcome) Blocking() bool {
	return !o.Passed && !o.Accepted && o.Severity == SeverityBlocking
}

// Gate holds ordered rule outcomes for one checkpoint.
type Gate struct {
	Name     string    `json:"name"`
	Outcomes []Outcome `json:"outcomes"`
}

// Passed reports whether no outcome blocks.
func (g *Gate) Passed() bool {
	return len(g.BlockingFailures()) == 0
}

// BlockingFailures returns the unresolved blocking failures in rule order.
func (g *Gate) BlockingFailures() []Outcome {
	var out []Outcome
	for _, o := range g.Outcomes {
		if o.Blocking() {
			out = append(out, o)
		}
	}
	return out
}

// Failures returns every failing outcome, including advisory and accepted ones.
func (g *Gate) Failures() []Outcome {
	var out []Outcome
	for _, o := range g.Outcomes {
		if !o.Passed {
			out = append(out, o)
		}
	}
	return out
}

// ReportEntry is one row of a gate report.
type ReportEntry struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Report maps rule id to its pass state and reason.
func (g *Gate) Report() map[string]ReportEntry {
	r := make(map[string]ReportEntry, len(g.Outcomes))
	for _, o := range g.Outcomes {
		reason := o.Reason
		if o.Accepted {
			reason += " (accepted exception)"
		}
		r[o.RuleID] = ReportEntry{Passed: o.Passed, Reason: reason}
	}
	return r
}

// Evaluator evaluates artifacts against a rule set.
type Evaluator struct {
	// JustificationSection defaults to DefaultJustificationSection.
	JustificationSection string
}

// Evaluate runs every rule against the artifact with default options.
func Evaluate(a *document.Artifact, rules *RuleSet, exceptions map[string]bool) *Gate {
	return Evaluator{}.Evaluate(a, rules, exceptions)
}

// Evaluate runs every rule against the artifact in rule-set order. It is a
// pure function of its inputs. exceptions holds rule ids the caller accepts
// as justified; an accepted failure stops blocking only when the artifact
// also carries a justification for it. An empty rule set passes.
func (e Evaluator) Evaluate(a *document.Artifact, rules *RuleSet, exceptions map[string]bool) *Gate {
	section := e.JustificationSection
	if section == "" {
		section = DefaultJustificationSection
	}

	g := &Gate{Name: DefaultGateName, Outcomes: make([]Outcome, 0, rules.Len())}
	for _, r := range rules.Rules() {
		o := evaluateRule(a, r, rules.patterns[r.ID])
		if !o.Passed {
			o.Justification = justification(a, section, r.ID)
			o.Accepted = exceptions[r.ID] && o.Justification != ""
		}
		g.Outcomes = append(g.Outcomes, o)
	}
	return g
}

func evaluateRule(a *document.Artifact, r Rule, re *regexp.Regexp) Outcome {
	o := Outcome{RuleID: r.ID, Category: r.Category, Severity: r.Severity}
	p := r.Predicate

	if p.IsPattern() {
		o.Passed, o.Reason = evaluatePattern(a, p, re)
		return o
	}

	value, err := ExtractMetric(a, p.Metric, p.Sections)
	if err != nil {
		o.Reason = err.Error()
		o.MetricMissing = errors.Is(err, ErrMetricNotFound)
		return o
	}
	o.Passed = p.Operator.Compare(value, p.Threshold)
	o.Reason = fmt.Sprintf("%s = %s, want %s %s", p.Metric, formatNumber(value), p.Operator, formatNumber(p.Threshold))
	return o
}

func evaluatePattern(a *document.Artifact, p Predicate, re *regexp.Regexp) (bool, string) {
	where := "document"
	if len(p.Sections) > 0 {
		where = strings.Join(p.Sections, ", ")
	}

	found := false
	for _, text := range scopeTexts(a, p.Sections) {
		if re.MatchString(text) {
			found = true
			break
		}
	}

	switch {
	case p.Expect == ExpectAbsent && found:
		return false, fmt.Sprintf("pattern %q must be absent from %s", p.Pattern, where)
	case p.Expect == ExpectAbsent:
		return true, fmt.Sprintf("pattern %q absent from %s", p.Pattern, where)
	case found:
		return true, fmt.Sprintf("pattern %q found in %s", p.Pattern, where)
	default:
		return false, fmt.Sprintf("pattern %q not found in %s", p.Pattern, where)
	}
}

// justification collects lines of the justification section that mention
// the rule id.
func justification(a *document.Artifact, section, ruleID string) string {
	sec, ok := a.Lookup(section)
	if !ok {
		return ""
	}
	id := strings.ToLower(ruleID)
	var lines []string
	for _, ln := range strings.Split(sec.Content, "\n") {
		if strings.Contains(strings.ToLower(ln), id) {
			lines = append(lines, strings.TrimSpace(ln))
		}
	}
	return strings.Join(lines, "\n")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
