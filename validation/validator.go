// Package validation checks planning artifacts for required sections and
// unresolved template placeholders.
//
// Only a missing section fails validation. Placeholder sections, unresolved
// markers and missing required fields are reported so that authors can fix
// them, but they never fail a result on their own.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/c360studio/semgate/document"
)

// Status is the state of one required section.
type Status string

// StatusPresent, StatusMissing and StatusPlaceholder enumerate section states.
const (
	StatusPresent     Status = "present"
	StatusMissing     Status = "missing"
	StatusPlaceholder Status = "placeholder"
)

// DefaultRequiredSections are the plan sections checked when none are given.
var DefaultRequiredSections = []string{
	"Summary",
	"Technical Context",
	"Constitution Check",
	"Project Structure",
}

// DefaultSentinels are the placeholder markers left behind by plan templates.
// Each is a case-insensitive regular expression.
var DefaultSentinels = []string{
	`\[TODO[:\]]`,
	`\[FEATURE\]`,
	`\[DATE\]`,
	`\[###-feature-name\]`,
	`NEEDS CLARIFICATION`,
	`\[ACTION REQUIRED\]`,
	`\[Option \d+:`,
	`(?m)^\s*(?:[-*]\s+)?\**Option \d+\**:?\**\s*$`,
	`\[REMOVE IF UNUSED\]`,
	`:\s*\[\s*\]`,
	`\bTBD\b`,
}

// FieldRequirement lists labelled fields a section must fill in.
type FieldRequirement struct {
	Section string   `yaml:"section" json:"section"`
	Fields  []string `yaml:"fields" json:"fields"`
}

// DefaultRequiredFields are the Technical Context fields plan templates ask for.
var DefaultRequiredFields = []FieldRequirement{
	{
		Section: "Technical Context",
		Fields:  []string{"Language/Version", "Primary Dependencies", "Testing", "Target Platform"},
	},
}

// Config configures a Validator.
type Config struct {
	// Sentinels replaces DefaultSentinels when non-empty.
	Sentinels []string `yaml:"sentinels" json:"sentinels,omitempty"`

	// RequiredFields replaces DefaultRequiredFields when non-nil.
	RequiredFields []FieldRequirement `yaml:"required_fields" json:"required_fields,omitempty"`
}

// Validator checks artifacts. It is immutable and safe for concurrent use.
type Validator struct {
	sentinels []*regexp.Regexp
	fields    []FieldRequirement
}

// NewValidator compiles the sentinel vocabulary.
func NewValidator(cfg Config) (*Validator, error) {
	patterns := cfg.Sentinels
	if len(patterns) == 0 {
		patterns = DefaultSentinels
	}
	fields := cfg.RequiredFields
	if fields == nil {
		fields = DefaultRequiredFields
	}

	v := &Validator{fields: fields}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid sentinel %q: %w", p, err)
		}
		v.sentinels = append(v.sentinels, re)
	}
	return v, nil
}

var defaultValidator = func() *Validator {
	v, err := NewValidator(Config{})
	if err != nil {
		panic(err)
	}
	return v
}()

// Default returns the validator built from the default vocabulary.
func Default() *Validator {
	return defaultValidator
}

// Validate checks an artifact with the default vocabulary.
func Validate(a *document.Artifact, required []string) *Result {
	return defaultValidator.Validate(a, required)
}

// Validate reports the status of each required section, in the order given
// with duplicates removed. Section order within the artifact is not checked.
// A nil or empty required list uses DefaultRequiredSections.
func (v *Validator) Validate(a *document.Artifact, required []string) *Result {
	if len(required) == 0 {
		required = DefaultRequiredSections
	}

	result := &Result{Passed: true, Sections: []SectionStatus{}}

	seen := make(map[string]bool, len(required))
	for _, name := range required {
		key := document.NormalizeKey(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		st := SectionStatus{Section: name}
		sec, ok := a.Lookup(name)
		switch {
		case !ok:
			st.Status = StatusMissing
			result.Passed = false
		case sec.IsBlank():
			st.Status = StatusPlaceholder
			st.Marker = "(empty)"
		default:
			st.Status = StatusPresent
			if marker := v.match(sec.Content); marker != "" {
				st.Status = StatusPlaceholder
				st.Marker = marker
			}
		}
		result.Sections = append(result.Sections, st)
	}

	result.Findings = append(result.Findings, v.markerFindings(a)...)
	result.Findings = append(result.Findings, v.fieldFindings(a)...)
	return result
}

// match returns the first sentinel text found in content.
func (v *Validator) match(content string) string {
	for _, re := range v.sentinels {
		if m := re.FindString(content); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

// markerFindings lists every placeholder marker in the body with its line,
// skipping fenced code.
func (v *Validator) markerFindings(a *document.Artifact) []Finding {
	var findings []Finding
	inFence := false
	for _, ln := range document.Lines(a.Raw, a.BodyOffset) {
		if document.IsCodeFence(ln.Text) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, re := range v.sentinels {
			m := re.FindString(ln.Text)
			if m == "" {
				continue
			}
			findings = append(findings, Finding{
				Kind:    FindingPlaceholder,
				Section: sectionAt(a, ln.Num),
				Line:    ln.Num,
				Marker:  strings.TrimSpace(m),
				Message: fmt.Sprintf("unresolved placeholder %q", strings.TrimSpace(m)),
			})
		}
	}
	return findings
}

// fieldFindings reports required fields that are absent or unresolved.
func (v *Validator) fieldFindings(a *document.Artifact) []Finding {
	var findings []Finding
	for _, req := range v.fields {
		sec, ok := a.Lookup(req.Section)
		if !ok {
			continue
		}
		for _, field := range req.Fields {
			value, found := fieldValue(sec.Content, field)
			switch {
			case !found:
				findings = append(findings, Finding{
					Kind:    FindingMissingField,
					Section: sec.Name,
					Line:    sec.Line,
					Marker:  field,
					Message: fmt.Sprintf("%s: missing field %s", sec.Name, field),
				})
			case strings.TrimSpace(value) == "" || v.match(field+": "+value) != "":
				findings = append(findings, Finding{
					Kind:    FindingUnresolvedField,
					Section: sec.Name,
					Line:    sec.Line,
					Marker:  field,
					Message: fmt.Sprintf("%s: field %s is not filled in", sec.Name, field),
				})
			}
		}
	}
	return findings
}

// fieldValue finds a "**Field**: value" style line.
func fieldValue(content, field string) (string, bool) {
	re := regexp.MustCompile(`(?im)^\s*(?:[-*]\s+)?\**` + regexp.QuoteMeta(field) + `\**\s*:\**[ \t]*(.*)$`)
	m := re.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// sectionAt names the section whose heading precedes line.
func sectionAt(a *document.Artifact, line int) string {
	i := sort.Search(len(a.Sections), func(i int) bool {
		return a.Sections[i].Line > line
	})
	if i == 0 {
		return ""
	}
	return a.Sections[i-1].Name
}
