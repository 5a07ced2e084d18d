package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/review"
	"github.com/c360studio/semgate/significance"
)

func validateCmd(opts *rootOptions) *cobra.Command {
	var required []string

	cmd := &cobra.Command{
		Use:   "validate <plan>",
		Short: "Check a plan for missing and placeholder sections",
		Long: `Validate checks that every required section of a plan is present and
holds real content. It prints a JSON object mapping each required section
to present, missing, or placeholder and exits 1 when a section is missing.
Placeholder sections and missing Technical Context fields are reported on
stderr as warnings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			raw, err := app.readArtifact(document.KindPlan, args[0])
			if err != nil {
				return err
			}
			r, err := app.Reviewer(nil)
			if err != nil {
				return err
			}
			res, err := r.Validate(raw, required)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse plan", err)
			}

			if fb := res.FormatFeedback(); fb != "" {
				fmt.Fprint(cmd.ErrOrStderr(), fb)
			}
			if err := writeJSON(cmd.OutOrStdout(), res.Summary()); err != nil {
				return err
			}
			if !res.Passed {
				return NewExitError(ExitFailure, fmt.Sprintf("validation failed: missing %v", res.Missing()))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&required, "require", nil, "Required sections (comma-separated); defaults to the configured sections")
	return cmd
}

// candidateLine is one line of extract output.
type candidateLine struct {
	Text         string               `json:"text"`
	Title        string               `json:"title"`
	Section      string               `json:"section"`
	Start        int                  `json:"start"`
	End          int                  `json:"end"`
	Impact       bool                 `json:"impact"`
	Alternatives bool                 `json:"alternatives"`
	Scope        bool                 `json:"scope"`
	Verdict      significance.Verdict `json:"verdict"`
	Tier         significance.Tier    `json:"tier"`
	Failed       []string             `json:"failed,omitempty"`
}

func newCandidateLine(c significance.Candidate) candidateLine {
	return candidateLine{
		Text:         c.Text,
		Title:        c.Title,
		Section:      c.Section,
		Start:        c.Span.Start,
		End:          c.Span.End,
		Impact:       c.Impact,
		Alternatives: c.Alternatives,
		Scope:        c.Scope,
		Verdict:      c.Verdict,
		Tier:         c.Tier,
		Failed:       c.Failed,
	}
}

func extractCmd(opts *rootOptions) *cobra.Command {
	var components []string

	cmd := &cobra.Command{
		Use:   "extract <plan>",
		Short: "List decision statements with their significance verdict",
		Long: `Extract finds the decision statements in a plan and applies the
significance test to each. It prints one JSON object per statement.
Components default to the plan's "components" frontmatter list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			raw, err := app.readArtifact(document.KindPlan, args[0])
			if err != nil {
				return err
			}
			r, err := app.Reviewer(nil)
			if err != nil {
				return err
			}
			if len(components) == 0 {
				a, err := r.Parse(raw)
				if err != nil {
					return WrapExitError(ExitCommandError, "parse plan", err)
				}
				components = frontmatterList(a, "components")
			}
			cands, err := r.Extract(raw, components)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse plan", err)
			}

			for _, c := range cands {
				if err := writeJSONLine(cmd.OutOrStdout(), newCandidateLine(c)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&components, "components", nil, "Component names of the feature (comma-separated)")
	return cmd
}

func gateCmd(opts *rootOptions) *cobra.Command {
	var ruleFiles []string

	cmd := &cobra.Command{
		Use:   "gate <plan>",
		Short: "Evaluate a plan against constitution rules",
		Long: `Gate evaluates a plan against the configured rule files and any given
with --rules. It prints a JSON object mapping each rule id to its pass
state and reason, and exits 1 when a blocking rule fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			raw, err := app.readArtifact(document.KindPlan, args[0])
			if err != nil {
				return err
			}
			extra, err := constitution.LoadFiles(ruleFiles...)
			if err != nil {
				return WrapExitError(ExitCommandError, "load rules", err)
			}
			r, err := app.Reviewer(nil)
			if err != nil {
				return err
			}
			g, err := r.CheckGate(raw, extra)
			if err != nil {
				return WrapExitError(ExitCommandError, "evaluate gate", err)
			}

			if err := writeJSON(cmd.OutOrStdout(), g.Report()); err != nil {
				return err
			}
			if !g.Passed() {
				ids := make([]string, 0, len(g.BlockingFailures()))
				for _, o := range g.BlockingFailures() {
					ids = append(ids, o.RuleID)
				}
				return NewExitError(ExitFailure, fmt.Sprintf("gate blocked by %v", ids))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ruleFiles, "rules", nil, "Rule files (YAML or JSON) to add to the configured ones")
	return cmd
}

func batchCmd(opts *rootOptions) *cobra.Command {
	var (
		root        string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "batch <pattern>...",
		Short: "Validate and gate every plan matching the patterns",
		Long: `Batch expands doublestar patterns such as "specs/**/plan.md" under
--root and reviews the matching plans concurrently. It prints one JSON
report per plan in path order and exits 1 when any plan fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			if root == "" {
				if root, err = os.Getwd(); err != nil {
					return WrapExitError(ExitCommandError, "resolve root", err)
				}
			}
			paths, err := review.Glob(root, args...)
			if err != nil {
				return WrapExitError(ExitCommandError, "expand patterns", err)
			}
			if len(paths) == 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("no plans match %v under %s", args, root))
			}

			r, err := app.Reviewer(nil)
			if err != nil {
				return err
			}
			reports, err := r.Batch(cmd.Context(), paths, concurrency)
			if err != nil {
				return WrapExitError(ExitCommandError, "batch review", err)
			}

			failed := 0
			for _, rep := range reports {
				if !rep.Passed {
					failed++
				}
				if err := writeJSONLine(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			app.logger.Info("Batch review complete", "plans", len(reports), "failed", failed)
			if failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d plans failed", failed, len(reports)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Directory the patterns are relative to (default: current directory)")
	cmd.Flags().IntVar(&concurrency, "concurrency", review.DefaultConcurrency, "Plans reviewed at once")
	return cmd
}

// frontmatterList reads a string list from the artifact's frontmatter.
func frontmatterList(a *document.Artifact, key string) []string {
	list, _ := a.Frontmatter[key].([]any)
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
