package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/semgate/adr"
	"github.com/c360studio/semgate/decisionlog"
	"github.com/c360studio/semgate/significance"
)

func decisionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Review logged decision candidates",
		Long: `Decisions commands work on the decision log. Candidates that pass the
significance test wait as pending until a human confirms or dismisses
them. Confirming writes an architecture decision record.`,
	}

	cmd.AddCommand(
		decisionsListCmd(opts),
		decisionsConfirmCmd(opts),
		decisionsDismissCmd(opts),
	)
	return cmd
}

func decisionsListCmd(opts *rootOptions) *cobra.Command {
	var feature, status, tier string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := decisionlog.Filter{
				FeatureID: feature,
				Status:    decisionlog.Status(status),
				Tier:      significance.Tier(tier),
			}
			if status != "" && !filter.Status.IsValid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown status %q", status))
			}
			switch filter.Tier {
			case "", significance.TierRecord, significance.TierPossible, significance.TierLow:
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown tier %q", tier))
			}

			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			log, err := app.Decisions()
			if err != nil {
				return err
			}
			entries, err := log.List(cmd.Context(), filter)
			if err != nil {
				return WrapExitError(ExitCommandError, "list decisions", err)
			}
			return writeJSON(app.out, entries)
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "Only this feature")
	cmd.Flags().StringVar(&status, "status", "", "Only this status (pending, logged, confirmed, dismissed)")
	cmd.Flags().StringVar(&tier, "tier", "", "Only this tier (record, possible, low)")
	return cmd
}

// confirmOutput is what confirm prints.
type confirmOutput struct {
	Entry  decisionlog.Entry `json:"entry"`
	Record string            `json:"record"`
}

func decisionsConfirmCmd(opts *rootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a pending candidate and write its decision record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			log, err := app.Decisions()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			entry, err := log.Confirm(ctx, args[0], note)
			if err != nil {
				return WrapExitError(ExitCommandError, "confirm decision", err)
			}

			path, err := adr.NewWriter(app.cfg.Resolve(app.cfg.Storage.ADRDir)).Write(entry)
			if err != nil {
				return WrapExitError(ExitCommandError, "write decision record", err)
			}
			if err := log.SetRecord(ctx, entry.ID, path); err != nil {
				return WrapExitError(ExitCommandError, "store record path", err)
			}
			entry.Record = path
			app.logger.Info("Decision record written", "id", entry.ID, "feature", entry.FeatureID, "path", path)

			return writeJSON(app.out, confirmOutput{Entry: entry, Record: path})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Reviewer note stored with the decision")
	return cmd
}

func decisionsDismissCmd(opts *rootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Dismiss a pending candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			log, err := app.Decisions()
			if err != nil {
				return err
			}
			entry, err := log.Dismiss(cmd.Context(), args[0], note)
			if err != nil {
				return WrapExitError(ExitCommandError, "dismiss decision", err)
			}
			return writeJSON(app.out, entry)
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Why the candidate is not a significant decision")
	return cmd
}
