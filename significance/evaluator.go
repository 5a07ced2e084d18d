// Package significance decides whether a decision statement warrants a
// durable decision record.
//
// Three predicates are computed independently from an inspectable
// Vocabulary: impact (the subject falls in a long-lived consequence
// category), alternatives (two or more named options with stated
// trade-offs) and scope (the effect spans more than one component). The
// verdict is their strict conjunction. The evaluator only classifies; a
// human confirms every record.
package significance

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/semgate/document"
)

// Category is a long-lived consequence category.
type Category string

// Impact categories.
const (
	CategoryArchitecture       Category = "architecture"
	CategoryPlatform           Category = "platform"
	CategorySecurity           Category = "security"
	CategoryPerformanceAtScale Category = "performance-at-scale"
	CategoryMaintainability    Category = "maintainability"
)

// Verdict is the outcome of the significance test.
type Verdict string

// VerdictCreateRecord asks a human to confirm a durable record.
// VerdictLogOnly means the statement is logged and nothing more.
const (
	VerdictCreateRecord Verdict = "create-record"
	VerdictLogOnly      Verdict = "log-only"
)

// VerdictFor is the strict conjunction of the three predicates.
func VerdictFor(impact, alternatives, scope bool) Verdict {
	if impact && alternatives && scope {
		return VerdictCreateRecord
	}
	return VerdictLogOnly
}

// Span is a byte range [Start, End) in the scanned text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Evidence records what each predicate matched.
type Evidence struct {
	Categories  []Category `json:"categories,omitempty"`
	Options     []string   `json:"options,omitempty"`
	TradeOffs   []string   `json:"trade_offs,omitempty"`
	Components  []string   `json:"components,omitempty"`
	ScopeMarker string     `json:"scope_marker,omitempty"`
	Localized   string     `json:"localized,omitempty"`
}

// Candidate is a classified decision statement.
type Candidate struct {
	Text    string `json:"text"`
	Title   string `json:"title"`
	Span    Span   `json:"span"`
	Section string `json:"section,omitempty"`

	Impact       bool     `json:"impact"`
	Alternatives bool     `json:"alternatives"`
	Scope        bool     `json:"scope"`
	Verdict      Verdict  `json:"verdict"`
	Tier         Tier     `json:"tier"`
	Failed       []string `json:"failed,omitempty"`

	Evidence Evidence `json:"evidence"`
}

// Context carries what the evaluator knows about where a statement sits.
type Context struct {
	// Section is the heading the statement appears under.
	Section string

	// Components are the named components or services of the feature.
	// Mentioning two or more of them makes a statement cross-cutting.
	Components []string

	// CrossCutting is an explicit tag from the caller.
	CrossCutting bool
}

type categoryMatcher struct {
	category Category
	patterns []*regexp.Regexp
}

// Evaluator applies a compiled Vocabulary. It is immutable and safe for
// concurrent use.
type Evaluator struct {
	impact       []categoryMatcher
	tradeOffs    []*regexp.Regexp
	crossCutting []*regexp.Regexp
	localized    []*regexp.Regexp
	sections     map[string]bool
}

// NewEvaluator compiles a vocabulary.
func NewEvaluator(v Vocabulary) (*Evaluator, error) {
	e := &Evaluator{sections: make(map[string]bool)}

	for _, cp := range v.Impact {
		res, err := compileAll(cp.Patterns)
		if err != nil {
			return nil, fmt.Errorf("impact %s: %w", cp.Category, err)
		}
		e.impact = append(e.impact, categoryMatcher{category: cp.Category, patterns: res})
	}

	var err error
	if e.tradeOffs, err = compileAll(v.TradeOffs); err != nil {
		return nil, fmt.Errorf("trade-offs: %w", err)
	}
	if e.crossCutting, err = compileAll(v.CrossCutting); err != nil {
		return nil, fmt.Errorf("cross-cutting: %w", err)
	}
	if e.localized, err = compileAll(v.Localized); err != nil {
		return nil, fmt.Errorf("localized: %w", err)
	}
	for _, s := range v.CrossCuttingSections {
		e.sections[document.NormalizeKey(s)] = true
	}
	return e, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

var defaultEvaluator = func() *Evaluator {
	e, err := NewEvaluator(DefaultVocabulary())
	if err != nil {
		panic(err)
	}
	return e
}()

// Default returns the evaluator built from DefaultVocabulary.
func Default() *Evaluator {
	return defaultEvaluator
}

// Test classifies text with the default vocabulary.
func Test(text string, ctx Context) Candidate {
	return defaultEvaluator.Test(text, ctx)
}

// Test computes the three predicates and the verdict for text. Span is left
// for the caller to fill in.
func (e *Evaluator) Test(text string, ctx Context) Candidate {
	c := Candidate{Text: text, Title: DecisionTitle(text), Section: ctx.Section}

	c.Evidence.Categories = e.categories(text)
	c.Impact = len(c.Evidence.Categories) > 0

	c.Alternatives, c.Evidence.Options, c.Evidence.TradeOffs = e.alternatives(text)

	c.Scope = e.scope(text, ctx, &c.Evidence)

	c.Verdict = VerdictFor(c.Impact, c.Alternatives, c.Scope)
	c.Tier = TierFor(c.Impact, c.Alternatives, c.Scope)
	c.Failed = FailedTests(c.Impact, c.Alternatives, c.Scope)
	return c
}

func (e *Evaluator) categories(text string) []Category {
	var cats []Category
	for _, m := range e.impact {
		for _, re := range m.patterns {
			if re.MatchString(text) {
				cats = append(cats, m.category)
				break
			}
		}
	}
	return cats
}

func (e *Evaluator) tradeOffsIn(text string) []string {
	var found []string
	for _, re := range e.tradeOffs {
		if m := re.FindString(text); m != "" {
			found = append(found, strings.ToLower(m))
		}
	}
	return found
}

// alternatives reports whether text names two or more distinct options with
// stated trade-offs. An option list needs a trade-off on every option line;
// a single comparison sentence needs one trade-off for the choice it makes.
func (e *Evaluator) alternatives(text string) (bool, []string, []string) {
	if items := optionItems(text); len(items) >= 2 {
		var options, tradeOffs []string
		each := true
		for _, item := range items {
			options = append(options, item.label)
			t := e.tradeOffsIn(item.text)
			if len(t) == 0 {
				each = false
			}
			tradeOffs = append(tradeOffs, t...)
		}
		options = distinct(options)
		return each && len(options) >= 2, options, distinct(tradeOffs)
	}

	options := distinct(namedOptions(text))
	tradeOffs := e.tradeOffsIn(text)
	return len(options) >= 2 && len(tradeOffs) > 0, options, tradeOffs
}

func (e *Evaluator) scope(text string, ctx Context, ev *Evidence) bool {
	ev.Components = mentionedComponents(text, ctx.Components)
	if len(ev.Components) >= 2 {
		return true
	}
	if ctx.CrossCutting {
		ev.ScopeMarker = "tagged cross-cutting"
		return true
	}
	if ctx.Section != "" && e.sections[document.NormalizeKey(ctx.Section)] {
		ev.ScopeMarker = "section " + ctx.Section
		return true
	}

	for _, re := range e.localized {
		if m := re.FindString(text); m != "" {
			ev.Localized = strings.ToLower(m)
			return false
		}
	}
	for _, re := range e.crossCutting {
		if m := re.FindString(text); m != "" {
			ev.ScopeMarker = strings.ToLower(m)
			return true
		}
	}
	return false
}

// mentionedComponents returns the components named in text, in the order given.
func mentionedComponents(text string, components []string) []string {
	var found []string
	seen := make(map[string]bool)
	for _, comp := range components {
		key := strings.ToLower(strings.TrimSpace(comp))
		if key == "" || seen[key] {
			continue
		}
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(key) + `\b`)
		if re.MatchString(text) {
			seen[key] = true
			found = append(found, comp)
		}
	}
	return found
}

// distinct drops case-insensitive duplicates and empties, keeping order.
func distinct(items []string) []string {
	var out []string
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(it))
	}
	return out
}
