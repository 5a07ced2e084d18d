package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/mcpserver"
	"github.com/c360studio/semgate/phase"
)

func featureCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "Move features through research, design, task breakdown, and done",
		Long: `Feature commands run the planning lifecycle. Features are kept in the
file store under storage.root, or in NATS KV when --nats-url is set.
Leaving design runs the gate on the attached plan.`,
	}

	cmd.AddCommand(
		featureOpenCmd(opts),
		featureAttachCmd(opts),
		featureAdvanceCmd(opts),
		featureCheckCmd(opts),
		featureCompleteCmd(opts),
		featureAcceptCmd(opts),
		featureStatusCmd(opts),
	)
	return cmd
}

// withController runs fn with a controller on the configured store.
func withController(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *App, c *phase.Controller) error) error {
	app, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	c, err := app.Controller(cmd.Context(), nil)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), app, c)
}

// lifecycleError maps controller errors to exit codes.
func lifecycleError(op string, err error) error {
	var blocked *phase.GateBlockedError
	if errors.As(err, &blocked) {
		return WrapExitError(ExitFailure, op, err)
	}
	return WrapExitError(ExitCommandError, op, err)
}

func featureOpenCmd(opts *rootOptions) *cobra.Command {
	var specPath, constitutionPath string

	cmd := &cobra.Command{
		Use:   "open <id>",
		Short: "Open a feature in research from its spec and constitution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(ctx context.Context, app *App, c *phase.Controller) error {
				spec, err := app.readArtifact(document.KindSpec, specPath)
				if err != nil {
					return err
				}
				cons, err := app.readArtifact(document.KindConstitution, constitutionPath)
				if err != nil {
					return err
				}
				f, err := c.Open(ctx, args[0], spec, cons)
				if err != nil {
					return lifecycleError("open feature", err)
				}
				return writeJSON(app.out, mcpserver.NewStatus(f))
			})
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "", "Feature spec file")
	cmd.Flags().StringVar(&constitutionPath, "constitution", "", "Constitution file")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("constitution")
	return cmd
}

func featureAttachCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id> <spec|constitution|plan> <file>",
		Short: "Attach or replace an artifact of a feature",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := document.Kind(args[1])
			if !kind.IsValid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown artifact kind %q", args[1]))
			}
			return withController(cmd, opts, func(ctx context.Context, app *App, c *phase.Controller) error {
				raw, err := app.readArtifact(kind, args[2])
				if err != nil {
					return err
				}
				f, err := c.Attach(ctx, args[0], kind, raw)
				if err != nil {
					return lifecycleError("attach artifact", err)
				}
				return writeJSON(app.out, mcpserver.NewStatus(f))
			})
		},
	}
}

// transitionOutput is what advance, check and complete print.
type transitionOutput struct {
	ID         string          `json:"id"`
	From       phase.Phase     `json:"from"`
	To         phase.Phase     `json:"to"`
	Advanced   bool            `json:"advanced"`
	Validation any             `json:"validation,omitempty"`
	Gate       any             `json:"gate,omitempty"`
	Candidates []candidateLine `json:"candidates,omitempty"`
}

func newTransitionOutput(id string, res *phase.Result) transitionOutput {
	out := transitionOutput{ID: id, From: res.From, To: res.To, Advanced: res.Advanced}
	if res.Validation != nil {
		out.Validation = res.Validation.Summary()
	}
	if res.Gate != nil {
		out.Gate = res.Gate.Report()
	}
	for _, c := range res.Candidates {
		out.Candidates = append(out.Candidates, newCandidateLine(c))
	}
	return out
}

func featureAdvanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <id>",
		Short: "Move a feature to its next phase",
		Long: `Advance moves research to design and design to task breakdown. Leaving
design requires a plan that passes validation and has no unresolved
blocking rule failure; otherwise the feature stays in design, the gate
result is printed, and the command exits 1. Significant decisions found
in a passing plan are logged for confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(ctx context.Context, app *App, c *phase.Controller) error {
				res, err := c.Advance(ctx, args[0])
				if res != nil {
					if werr := writeJSON(app.out, newTransitionOutput(args[0], res)); werr != nil {
						return werr
					}
				}
				if err != nil {
					return lifecycleError("advance feature", err)
				}
				return nil
			})
		},
	}
}

func featureCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <id>",
		Short: "Run the design gate without moving the feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(ctx context.Context, app *App, c *phase.Controller) error {
				res, err := c.Check(ctx, args[0])
				if err != nil {
					return lifecycleError("check feature", err)
				}
				if err := writeJSON(app.out, newTransitionOutput(args[0], res)); err != nil {
					return err
				}
				if !res.Validation.Passed || !res.Gate.Passed() {
					return NewExitError(ExitFailure, "gate would block")
				}
				return nil
			})
		},
	}
}

func featureCompleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark task generation done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(ctx context.Context, app *App, c *phase.Controller) error {
				res, err := c.Complete(ctx, args[0])
				if err != nil {
					return lifecycleError("complete feature", err)
				}
				return writeJSON(app.out, newTransitionOutput(args[0], res))
			})
		},
	}
}

func featureAcceptCmd(opts *rootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "accept <id> <rule-id>",
		Short: "Accept a justified exception to a rule",
		Long: `Accept records that a failing rule is an accepted exception for the
feature. The exception clears the failure only while the plan's Complexity
Tracking section justifies it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(ctx context.Context, app *App, c *phase.Controller) error {
				f, err := c.AcceptException(ctx, args[0], args[1], note)
				if err != nil {
					return lifecycleError("accept exception", err)
				}
				return writeJSON(app.out, mcpserver.NewStatus(f))
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Why the exception is accepted")
	return cmd
}

// featureSummary is one line of the feature list.
type featureSummary struct {
	ID    string      `json:"id"`
	Phase phase.Phase `json:"phase"`
}

func featureStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show one feature, or list every feature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, opts, func(ctx context.Context, app *App, c *phase.Controller) error {
				if len(args) == 1 {
					f, err := c.Get(ctx, args[0])
					if err != nil {
						return lifecycleError("get feature", err)
					}
					return writeJSON(app.out, mcpserver.NewStatus(f))
				}

				features, err := c.List(ctx)
				if err != nil {
					return lifecycleError("list features", err)
				}
				list := make([]featureSummary, 0, len(features))
				for _, f := range features {
					list = append(list, featureSummary{ID: f.ID, Phase: f.Phase})
				}
				return writeJSON(app.out, list)
			})
		},
	}
}
