// Package review runs the stateless checks on a single plan: section
// validation, the constitution gate, and decision extraction. The CLI and
// the MCP server both call into it; feature lifecycle state lives in phase.
package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/extract"
	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/significance"
	"github.com/c360studio/semgate/validation"
)

// DefaultConcurrency bounds Batch when no limit is given.
const DefaultConcurrency = 8

// Reviewer holds the immutable evaluation components. It is safe for
// concurrent use.
type Reviewer struct {
	Parser    *document.Parser
	Validator *validation.Validator
	Gate      constitution.Evaluator
	Evaluator *significance.Evaluator

	// Rules is read once per review so a watcher reload never splits one.
	Rules phase.RuleSource

	// Required overrides validation.DefaultRequiredSections.
	Required []string
}

// New returns a reviewer with defaults filled in for nil fields.
func New(r Reviewer) *Reviewer {
	if r.Parser == nil {
		r.Parser = document.NewParser(document.DefaultHeadingConfig())
	}
	if r.Validator == nil {
		r.Validator = validation.Default()
	}
	if r.Evaluator == nil {
		r.Evaluator = significance.Default()
	}
	if r.Rules == nil {
		r.Rules = phase.StaticRules{}
	}
	return &r
}

// Report is the review of one plan.
type Report struct {
	Path       string                   `json:"path,omitempty"`
	Passed     bool                     `json:"passed"`
	Validation *validation.Result       `json:"validation,omitempty"`
	Gate       *constitution.Gate       `json:"gate,omitempty"`
	Candidates []significance.Candidate `json:"candidates,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Parse parses a plan.
func (r *Reviewer) Parse(raw string) (*document.Artifact, error) {
	return r.Parser.Parse(document.KindPlan, raw)
}

// Validate checks the plan's required sections. Nil required uses the
// reviewer's list.
func (r *Reviewer) Validate(raw string, required []string) (*validation.Result, error) {
	a, err := r.Parse(raw)
	if err != nil {
		return nil, err
	}
	return r.Validator.Validate(a, r.required(required)), nil
}

// CheckGate evaluates the plan against the shared rules merged with extra.
func (r *Reviewer) CheckGate(raw string, extra *constitution.RuleSet) (*constitution.Gate, error) {
	a, err := r.Parse(raw)
	if err != nil {
		return nil, err
	}
	rules, err := r.rules(extra)
	if err != nil {
		return nil, err
	}
	return r.Gate.Evaluate(a, rules, nil), nil
}

// Extract returns the plan's decision candidates with section context.
func (r *Reviewer) Extract(raw string, components []string) ([]significance.Candidate, error) {
	a, err := r.Parse(raw)
	if err != nil {
		return nil, err
	}
	return extract.Collect(extract.New(r.Evaluator, components).ExtractArtifact(a)), nil
}

// Review validates and gates one plan. Candidates are surfaced only when
// both pass, matching what the design gate does.
func (r *Reviewer) Review(raw string, extra *constitution.RuleSet) (Report, error) {
	a, err := r.Parse(raw)
	if err != nil {
		return Report{}, err
	}
	rules, err := r.rules(extra)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Validation: r.Validator.Validate(a, r.required(nil)),
		Gate:       r.Gate.Evaluate(a, rules, nil),
	}
	rep.Passed = rep.Validation.Passed && rep.Gate.Passed()
	if rep.Passed {
		rep.Candidates = extract.Collect(extract.New(r.Evaluator, components(a)).ExtractArtifact(a))
	}
	return rep, nil
}

// ReviewFile reads and reviews one plan file.
func (r *Reviewer) ReviewFile(path string, extra *constitution.RuleSet) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read plan: %w", err)
	}
	rep, err := r.Review(string(data), extra)
	rep.Path = path
	return rep, err
}

// Batch reviews files concurrently, at most limit at a time. Every review
// uses the same rule snapshot. A file that cannot be read or parsed gets a
// report with Error set; Batch itself fails only on cancellation. Reports
// are returned in input order.
func (r *Reviewer) Batch(ctx context.Context, paths []string, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	snapshot := r.snapshot()

	reports := make([]Report, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep, err := snapshot.ReviewFile(path, nil)
			if err != nil {
				rep = Report{Path: path, Error: err.Error()}
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Glob expands doublestar patterns relative to root into sorted, de-duplicated
// file paths.
func Glob(root string, patterns ...string) ([]string, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			p := filepath.Join(root, filepath.FromSlash(m))
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// snapshot pins the current rule set for the duration of a batch.
func (r *Reviewer) snapshot() *Reviewer {
	s := *r
	s.Rules = phase.StaticRules{Rules: r.Rules.Current()}
	return &s
}

func (r *Reviewer) required(required []string) []string {
	if len(required) > 0 {
		return required
	}
	if len(r.Required) > 0 {
		return r.Required
	}
	return validation.DefaultRequiredSections
}

func (r *Reviewer) rules(extra *constitution.RuleSet) (*constitution.RuleSet, error) {
	shared := r.Rules.Current()
	if extra == nil {
		return shared, nil
	}
	return shared.Merge(extra)
}

// components reads the plan's "components" frontmatter list.
func components(a *document.Artifact) []string {
	list, _ := a.Frontmatter["components"].([]any)
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
