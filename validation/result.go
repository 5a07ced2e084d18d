package validation

import (
	"fmt"
	"strings"
)

// SectionStatus is the state of one required section.
type SectionStatus struct {
	Section string `json:"section"`
	Status  Status `json:"status"`

	// Marker is the placeholder text that made the section a placeholder.
	Marker string `json:"marker,omitempty"`
}

// FindingKind classifies advisory findings.
type FindingKind string

// Finding kinds.
const (
	FindingPlaceholder     FindingKind = "placeholder"
	FindingMissingField    FindingKind = "missing-field"
	FindingUnresolvedField FindingKind = "unresolved-field"
)

// Finding is an advisory problem that does not fail validation.
type Finding struct {
	Kind    FindingKind `json:"kind"`
	Section string      `json:"section,omitempty"`
	Line    int         `json:"line"`
	Marker  string      `json:"marker,omitempty"`
	Message string      `json:"message"`
}

// Result is the outcome of validating one artifact.
type Result struct {
	Sections []SectionStatus `json:"sections"`
	Passed   bool            `json:"passed"`
	Findings []Finding       `json:"findings,omitempty"`
}

// Summary maps section name to status.
func (r *Result) Summary() map[string]Status {
	m := make(map[string]Status, len(r.Sections))
	for _, s := range r.Sections {
		m[s.Section] = s.Status
	}
	return m
}

// Missing returns the names of missing sections in required order.
func (r *Result) Missing() []string {
	return r.withStatus(StatusMissing)
}

// Placeholders returns the names of placeholder sections in required order.
func (r *Result) Placeholders() []string {
	return r.withStatus(StatusPlaceholder)
}

func (r *Result) withStatus(status Status) []string {
	var names []string
	for _, s := range r.Sections {
		if s.Status == status {
			names = append(names, s.Section)
		}
	}
	return names
}

// FormatFeedback renders the result as markdown for the plan author.
// It returns an empty string when there is nothing to report.
func (r *Result) FormatFeedback() string {
	missing, placeholders := r.Missing(), r.Placeholders()
	if len(missing) == 0 && len(placeholders) == 0 && len(r.Findings) == 0 {
		return ""
	}

	var sb strings.Builder
	if r.Passed {
		sb.WriteString("## Validation Passed With Warnings\n\n")
	} else {
		sb.WriteString("## Validation Failed\n\n")
		sb.WriteString("The plan is missing required sections.\n\n")
	}

	if len(missing) > 0 {
		sb.WriteString("### Missing Sections\n\n")
		for _, name := range missing {
			fmt.Fprintf(&sb, "- %s\n", name)
		}
		sb.WriteString("\n")
	}

	if len(placeholders) > 0 {
		sb.WriteString("### Placeholder Sections\n\n")
		for _, s := range r.Sections {
			if s.Status == StatusPlaceholder {
				fmt.Fprintf(&sb, "- %s (%s)\n", s.Section, s.Marker)
			}
		}
		sb.WriteString("\n")
	}

	if len(r.Findings) > 0 {
		sb.WriteString("### Warnings\n\n")
		for _, f := range r.Findings {
			fmt.Fprintf(&sb, "- line %d: %s\n", f.Line, f.Message)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
