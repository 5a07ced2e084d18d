package phase

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/significance"
	"github.com/c360studio/semgate/validation"
)

// Sentinel errors for lifecycle operations.
var (
	ErrFeatureIDRequired = errors.New("feature id is required")
	ErrInvalidFeatureID  = errors.New("invalid feature id: must be lowercase alphanumeric with hyphens, no path separators")
	ErrFeatureNotFound   = errors.New("feature not found")
	ErrFeatureExists     = errors.New("feature already exists")
	ErrMissingArtifact   = errors.New("missing artifact")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrGateBlocked       = errors.New("gate blocked")
)

// GateBlockedError refuses the design gate. It carries everything the
// caller needs to fix the plan.
type GateBlockedError struct {
	FeatureID  string
	Validation *validation.Result
	Gate       *constitution.Gate
}

func (e *GateBlockedError) Error() string {
	var reasons []string
	if e.Validation != nil {
		for _, name := range e.Validation.Missing() {
			reasons = append(reasons, "section "+name+" missing")
		}
	}
	if e.Gate != nil {
		for _, o := range e.Gate.BlockingFailures() {
			reasons = append(reasons, "rule "+o.RuleID+": "+o.Reason)
		}
	}
	return fmt.Sprintf("%s: feature %s: %s", ErrGateBlocked, e.FeatureID, strings.Join(reasons, "; "))
}

func (e *GateBlockedError) Unwrap() error {
	return ErrGateBlocked
}

var idPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

// ValidateID checks that a feature id is safe to use as a file name and a
// key in a KV bucket.
func ValidateID(id string) error {
	if id == "" {
		return ErrFeatureIDRequired
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return ErrInvalidFeatureID
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidFeatureID
	}
	return nil
}

// Transition is one entry of a feature's history.
type Transition struct {
	From    Phase     `json:"from"`
	To      Phase     `json:"to"`
	Trigger Trigger   `json:"trigger"`
	At      time.Time `json:"at"`
}

// Feature is a unit of planned work moving through the lifecycle.
type Feature struct {
	ID    string `json:"id"`
	Phase Phase  `json:"phase"`

	// Artifacts are kept in attach order, one per kind.
	Artifacts []*document.Artifact `json:"artifacts"`

	// Exceptions maps a rule id to the caller's acceptance note.
	Exceptions map[string]string `json:"exceptions,omitempty"`

	LastValidation *validation.Result  `json:"last_validation,omitempty"`
	LastGate       *constitution.Gate `json:"last_gate,omitempty"`

	History   []Transition `json:"history,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Artifact returns the artifact of the given kind.
func (f *Feature) Artifact(kind document.Kind) (*document.Artifact, bool) {
	for _, a := range f.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return nil, false
}

// setArtifact replaces the artifact of a's kind or appends it.
func (f *Feature) setArtifact(a *document.Artifact) {
	for i, existing := range f.Artifacts {
		if existing.Kind == a.Kind {
			f.Artifacts[i] = a
			return
		}
	}
	f.Artifacts = append(f.Artifacts, a)
}

// acceptedRules returns the accepted exceptions as the set the gate takes.
func (f *Feature) acceptedRules() map[string]bool {
	out := make(map[string]bool, len(f.Exceptions))
	for id := range f.Exceptions {
		out[id] = true
	}
	return out
}

// components lists the feature's named components from the spec's
// "components" frontmatter key.
func (f *Feature) components() []string {
	spec, ok := f.Artifact(document.KindSpec)
	if !ok {
		return nil
	}
	raw, ok := spec.Frontmatter["components"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// Result is the outcome of a lifecycle operation.
type Result struct {
	Feature  *Feature `json:"feature"`
	From     Phase    `json:"from"`
	To       Phase    `json:"to"`
	Advanced bool     `json:"advanced"`

	Validation *validation.Result       `json:"validation,omitempty"`
	Gate       *constitution.Gate       `json:"gate,omitempty"`
	Candidates []significance.Candidate `json:"candidates,omitempty"`
}
