// Package constitution evaluates planning artifacts against the project's
// declared rules. A RuleSet is loaded once, is immutable, and may be shared
// by any number of concurrent evaluations.
package constitution

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

var (
	// ErrMetricNotFound marks an outcome whose metric is absent from the artifact.
	ErrMetricNotFound = errors.New("metric not found")

	// ErrRuleConflict is returned when two rules share an identifier but differ.
	ErrRuleConflict = errors.New("rule conflict")

	// ErrInvalidRule is returned when a rule definition is incomplete or inconsistent.
	ErrInvalidRule = errors.New("invalid rule")
)

// Category groups rules by the concern they constrain.
type Category string

// CategoryArchitectureLimit and related constants enumerate rule categories.
const (
	CategoryArchitectureLimit Category = "architecture-limit"
	CategoryTesting           Category = "testing"
	CategoryPerformance       Category = "performance"
	CategorySecurity          Category = "security"
	CategoryOperations        Category = "operations"
)

// IsValid returns true if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryArchitectureLimit, CategoryTesting, CategoryPerformance, CategorySecurity, CategoryOperations:
		return true
	default:
		return false
	}
}

// Severity is the enforcement level of a rule.
type Severity string

// SeverityBlocking failures refuse phase advancement.
// SeverityAdvisory failures are reported only.
const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// IsValid returns true if the severity is known.
func (s Severity) IsValid() bool {
	return s == SeverityBlocking || s == SeverityAdvisory
}

// Operator is a numeric comparison.
type Operator string

// Supported comparison operators.
const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// IsValid returns true if the operator is supported.
func (o Operator) IsValid() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// Compare applies the operator to value and threshold.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	default:
		return false
	}
}

// Expectation is whether a pattern check wants a match or no match.
type Expectation string

// ExpectPresent requires the pattern to match; ExpectAbsent forbids it.
const (
	ExpectPresent Expectation = "present"
	ExpectAbsent  Expectation = "absent"
)

// CountPrefix turns a metric into a count of top-level list items in the
// named section, e.g. "count:Services".
const CountPrefix = "count:"

// Predicate is either a metric comparison or a pattern-presence check.
type Predicate struct {
	// Metric names the value to extract; see ExtractMetric.
	Metric    string   `json:"metric,omitempty"`
	Operator  Operator `json:"operator,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`

	// Pattern is a case-insensitive regular expression.
	Pattern string      `json:"pattern,omitempty"`
	Expect  Expectation `json:"expect,omitempty"`

	// Sections limits where the metric or pattern is looked for.
	// Empty means the whole artifact body.
	Sections []string `json:"sections,omitempty"`
}

// IsPattern reports whether this is a pattern-presence check.
func (p Predicate) IsPattern() bool {
	return p.Pattern != ""
}

// Rule is a single constitution rule.
type Rule struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	Description string    `json:"description,omitempty"`
	Predicate   Predicate `json:"predicate"`
	Severity    Severity  `json:"severity"`
}

// normalized fills defaults: blocking severity and present expectation.
func (r Rule) normalized() Rule {
	if r.Severity == "" {
		r.Severity = SeverityBlocking
	}
	if r.Predicate.IsPattern() && r.Predicate.Expect == "" {
		r.Predicate.Expect = ExpectPresent
	}
	return r
}

// compile validates the rule and returns its compiled pattern, if any.
func (r Rule) compile() (*regexp.Regexp, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if !r.Category.IsValid() {
		return nil, fmt.Errorf("%w: rule %s: unknown category %q", ErrInvalidRule, r.ID, r.Category)
	}
	if !r.Severity.IsValid() {
		return nil, fmt.Errorf("%w: rule %s: unknown severity %q", ErrInvalidRule, r.ID, r.Severity)
	}

	p := r.Predicate
	switch {
	case p.Metric != "" && p.Pattern != "":
		return nil, fmt.Errorf("%w: rule %s: metric and pattern are mutually exclusive", ErrInvalidRule, r.ID)
	case p.Metric != "":
		if !p.Operator.IsValid() {
			return nil, fmt.Errorf("%w: rule %s: unknown operator %q", ErrInvalidRule, r.ID, p.Operator)
		}
		return nil, nil
	case p.Pattern != "":
		if p.Expect != ExpectPresent && p.Expect != ExpectAbsent {
			return nil, fmt.Errorf("%w: rule %s: expect must be present or absent", ErrInvalidRule, r.ID)
		}
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: pattern: %v", ErrInvalidRule, r.ID, err)
		}
		return re, nil
	default:
		return nil, fmt.Errorf("%w: rule %s: needs a metric or a pattern", ErrInvalidRule, r.ID)
	}
}

// Equal reports whether two rules have the same definition.
func (r Rule) Equal(o Rule) bool {
	a, b := r.normalized(), o.normalized()
	return a.ID == b.ID &&
		a.Category == b.Category &&
		a.Description == b.Description &&
		a.Severity == b.Severity &&
		a.Predicate.Metric == b.Predicate.Metric &&
		a.Predicate.Operator == b.Predicate.Operator &&
		a.Predicate.Threshold == b.Predicate.Threshold &&
		a.Predicate.Pattern == b.Predicate.Pattern &&
		a.Predicate.Expect == b.Predicate.Expect &&
		slices.Equal(a.Predicate.Sections, b.Predicate.Sections)
}

// RuleConflictError reports two different definitions for one rule id.
type RuleConflictError struct {
	ID       string
	Existing Rule
	Incoming Rule
	Source   string
}

func (e *RuleConflictError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("rule conflict: %q redefined differently in %s", e.ID, e.Source)
	}
	return fmt.Sprintf("rule conflict: %q defined twice with different definitions", e.ID)
}

func (e *RuleConflictError) Unwrap() error {
	return ErrRuleConflict
}
