package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/mcpserver"
	"github.com/c360studio/semgate/metrics"
	"github.com/c360studio/semgate/phase"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(opts *rootOptions) *cobra.Command {
	var noFeatures bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the checks as MCP tools over stdio",
		Long: `Serve runs an MCP server on stdin and stdout with the validate, gate,
and extract tools, plus feature status and advance unless --no-features
is set. With metrics.addr configured, Prometheus metrics are served on
/metrics. With constitution.watch set, rule files are reloaded when they
change; a reload that fails keeps the previous rules.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)

			rules, err := app.ruleSource(ctx, g)
			if err != nil {
				return err
			}
			reviewer, err := app.Reviewer(rules)
			if err != nil {
				return err
			}

			var observers []phase.Observer
			if app.cfg.Metrics.Addr != "" {
				recorder := metrics.New(true)
				observers = append(observers, recorder)
				serveMetrics(ctx, g, app, recorder)
			}

			var controller *phase.Controller
			if !noFeatures {
				if controller, err = app.Controller(ctx, rules, observers...); err != nil {
					return err
				}
			}

			s := mcpserver.New(Version, reviewer, controller)
			g.Go(func() error {
				defer cancel()
				return mcpserver.ServeStdio(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout(), app.logger)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitCommandError, "serve", err)
			}
			app.logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noFeatures, "no-features", false, "Only register the stateless plan tools")
	return cmd
}

// ruleSource returns the shared rules, reloaded from disk when watching.
func (a *App) ruleSource(ctx context.Context, g *errgroup.Group) (phase.RuleSource, error) {
	files := a.cfg.RuleFiles()
	if !a.cfg.Constitution.Watch || len(files) == 0 {
		rules, err := constitution.LoadFiles(files...)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load rules", err)
		}
		return phase.StaticRules{Rules: rules}, nil
	}

	w, err := constitution.NewWatcher(files, a.cfg.Constitution.Debounce, a.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "watch rules", err)
	}
	g.Go(func() error {
		return w.Run(ctx)
	})
	return w, nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, app *App, recorder *metrics.Recorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{
		Addr:              app.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		app.logger.Info("Metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
