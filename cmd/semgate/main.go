// Package main provides the semgate binary entry point.
// Semgate validates implementation plans, gates them against constitution
// rules, and surfaces architecturally significant decisions.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semgate"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(ExitCommandError)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
	logLevel   string
	natsURL    string
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Plan gate and decision governance",
		Long: `Semgate checks implementation plans before they are broken into tasks.

It provides:
- Section validation for missing and placeholder content
- A constitution gate over architectural rules
- Decision extraction with a three-part significance test
- A feature lifecycle (research, design, task breakdown, done)
- A decision log where significant decisions wait for human confirmation

Results are written to stdout as JSON; logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logLevel != "" {
				if _, err := parseLevel(opts.logLevel); err != nil {
					return WrapExitError(ExitCommandError, "invalid --log-level", err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	cmd.PersistentFlags().StringVar(&opts.natsURL, "nats-url", "", "NATS server URL; stores features in NATS KV and publishes lifecycle events")

	cmd.AddCommand(
		validateCmd(opts),
		extractCmd(opts),
		gateCmd(opts),
		batchCmd(opts),
		featureCmd(opts),
		decisionsCmd(opts),
		serveCmd(opts),
	)

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, errors.New("must be one of debug, info, warn, error: got " + s)
}

// newLogger writes text logs to w so stdout stays machine-readable.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, _ := parseLevel(level)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
