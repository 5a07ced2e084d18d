// Package document parses design and planning artifacts into ordered,
// heading-delimited sections.
//
// An artifact is plain markdown with optional YAML frontmatter. Headings at or
// above the configured section level open a new section; deeper headings stay
// inside their parent's content. Unknown headings are kept as opaque sections
// so that newer document layouts survive older configurations.
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

// ErrMalformedDocument is returned when text has no recognizable heading structure.
var ErrMalformedDocument = errors.New("malformed document: no heading structure")

// Kind identifies the role an artifact plays in a feature's planning.
type Kind string

const (
	// KindSpec is the feature specification.
	KindSpec Kind = "spec"
	// KindConstitution is the project-wide rule document.
	KindConstitution Kind = "constitution"
	// KindPlan is the draft design plan checked at the design gate.
	KindPlan Kind = "plan"
	// KindResearch holds research notes gathered before design.
	KindResearch Kind = "research"
	// KindTasks is the task breakdown produced after the design gate.
	KindTasks Kind = "tasks"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid returns true if the kind is a known artifact kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindSpec, KindConstitution, KindPlan, KindResearch, KindTasks:
		return true
	default:
		return false
	}
}

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("invalid artifact kind %q: must be one of: spec, constitution, plan, research, tasks", s)
	}
	return k, nil
}

// kindFiles maps conventional artifact filenames (without extension) to kinds.
var kindFiles = map[string]Kind{
	"spec":         KindSpec,
	"constitution": KindConstitution,
	"plan":         KindPlan,
	"research":     KindResearch,
	"tasks":        KindTasks,
}

// KindFromPath infers the artifact kind from a conventional filename such as
// plan.md or constitution.html.
func KindFromPath(path string) (Kind, bool) {
	base := strings.ToLower(filepath.Base(path))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	k, ok := kindFiles[name]
	return k, ok
}

// Section is one heading-delimited part of an artifact.
type Section struct {
	// Name is the heading text as written.
	Name string `json:"name"`

	// Key is the normalized heading used for lookups.
	Key string `json:"key"`

	// Canonical is the normalized canonical name when the heading matched an
	// alias in the heading vocabulary.
	Canonical string `json:"canonical,omitempty"`

	// Level is the heading depth (1 for #, 2 for ##, ...).
	Level int `json:"level"`

	// Line is the 1-based line number of the heading.
	Line int `json:"line"`

	// Offset is the byte offset of Content within the artifact's raw text.
	Offset int `json:"offset"`

	// Content is the trimmed text between this heading and the next section.
	Content string `json:"content"`
}

// IsBlank reports whether the section has no content.
func (s Section) IsBlank() bool {
	return strings.TrimSpace(s.Content) == ""
}

// Artifact is a parsed design or planning document.
type Artifact struct {
	Kind        Kind           `json:"kind"`
	Path        string         `json:"path,omitempty"`
	Raw         string         `json:"raw"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`

	// BodyOffset is the byte offset in Raw where the body starts (after frontmatter).
	BodyOffset int `json:"body_offset"`

	// Preamble is any text before the first section heading.
	Preamble string `json:"preamble,omitempty"`

	// Sections are kept in document order; names are unique by Key.
	Sections []Section `json:"sections"`
}

// Lookup finds a section by name. It matches the normalized heading first,
// then alias canonical names, then any heading whose leading words are the
// name's words, so "Constitution Check (Gate)" answers "Constitution Check"
// while "Out of Scope" does not answer "Scope". The first match in document
// order wins.
func (a *Artifact) Lookup(name string) (Section, bool) {
	key := NormalizeKey(name)
	if key == "" {
		return Section{}, false
	}
	for _, s := range a.Sections {
		if s.Key == key || s.Canonical == key {
			return s, true
		}
	}
	words := keyWords(key)
	for _, s := range a.Sections {
		if hasLeadingWords(keyWords(s.Key), words) {
			return s, true
		}
	}
	return Section{}, false
}

func keyWords(key string) []string {
	return strings.FieldsFunc(key, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func hasLeadingWords(heading, words []string) bool {
	return len(words) > 0 && len(heading) >= len(words) && slices.Equal(heading[:len(words)], words)
}

// Has reports whether the artifact has a section matching name.
func (a *Artifact) Has(name string) bool {
	_, ok := a.Lookup(name)
	return ok
}

// SectionNames returns heading names in document order.
func (a *Artifact) SectionNames() []string {
	names := make([]string, 0, len(a.Sections))
	for _, s := range a.Sections {
		names = append(names, s.Name)
	}
	return names
}

// Body returns the raw text after any frontmatter.
func (a *Artifact) Body() string {
	if a.BodyOffset >= len(a.Raw) {
		return ""
	}
	return a.Raw[a.BodyOffset:]
}

// LineAt returns the 1-based line number of a byte offset in Raw.
func (a *Artifact) LineAt(offset int) int {
	if offset > len(a.Raw) {
		offset = len(a.Raw)
	}
	if offset < 0 {
		offset = 0
	}
	return strings.Count(a.Raw[:offset], "\n") + 1
}
