package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360studio/semgate/config"
	"github.com/c360studio/semgate/decisionlog"
	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/events"
	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/review"
	"github.com/c360studio/semgate/storage"
)

// App wires the configured components for one command.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	// NATS
	publisher *events.NATSPublisher
	js        jetstream.JetStream

	// Storage
	decisions *decisionlog.Log
}

// newApp loads the layered configuration and applies the global flags.
func newApp(cmd *cobra.Command, opts *rootOptions) (*App, error) {
	bootstrap := newLogger(cmd.ErrOrStderr(), opts.logLevel)
	cfg, err := config.NewLoader(bootstrap).Load(opts.configPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
		cfg.Storage.Backend = config.BackendNATS
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	slog.SetDefault(logger)

	return &App{cfg: cfg, logger: logger, out: cmd.OutOrStdout()}, nil
}

// Reviewer builds the stateless reviewer over rules. Nil rules loads the
// configured rule files once.
func (a *App) Reviewer(rules phase.RuleSource) (*review.Reviewer, error) {
	if rules == nil {
		loaded, err := a.cfg.Rules()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load rules", err)
		}
		rules = phase.StaticRules{Rules: loaded}
	}
	validator, err := a.cfg.Validator()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "build validator", err)
	}
	evaluator, err := a.cfg.Evaluator()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "build significance evaluator", err)
	}
	return review.New(review.Reviewer{
		Parser:    a.cfg.Parser(),
		Validator: validator,
		Gate:      a.cfg.Gate(),
		Evaluator: evaluator,
		Rules:     rules,
		Required:  a.cfg.Validation.RequiredSections,
	}), nil
}

// Controller builds the lifecycle controller on the configured store.
// The decision log always observes it; events are published when a NATS
// URL is configured.
func (a *App) Controller(ctx context.Context, rules phase.RuleSource, observers ...phase.Observer) (*phase.Controller, error) {
	r, err := a.Reviewer(rules)
	if err != nil {
		return nil, err
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	decisions, err := a.Decisions()
	if err != nil {
		return nil, err
	}
	observers = append(observers, decisions)

	if a.cfg.NATS.URL != "" {
		if err := a.connectNATS(); err != nil {
			return nil, err
		}
		observers = append(observers, events.NewEmitter(a.publisher, a.cfg.NATS.SubjectPrefix, a.logger))
	}

	return phase.NewController(phase.Config{
		Rules:            r.Rules,
		Parser:           r.Parser,
		Validator:        r.Validator,
		Gate:             r.Gate,
		Evaluator:        r.Evaluator,
		RequiredSections: r.Required,
		Store:            store,
		Observers:        observers,
		Logger:           a.logger,
	}), nil
}

// Store opens the configured feature store.
func (a *App) Store(ctx context.Context) (phase.Store, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendNATS:
		if err := a.connectNATS(); err != nil {
			return nil, err
		}
		if a.js == nil {
			js, err := jetstream.New(a.publisher.Conn())
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "create JetStream context", err)
			}
			a.js = js
		}
		store, err := storage.NewKVStore(ctx, a.js)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open KV store", err)
		}
		return store, nil
	default:
		return storage.NewFileStore(a.cfg.Resolve(a.cfg.Storage.Root)), nil
	}
}

// Decisions opens the decision log once per app.
func (a *App) Decisions() (*decisionlog.Log, error) {
	if a.decisions != nil {
		return a.decisions, nil
	}
	l, err := decisionlog.Open(a.cfg.Resolve(a.cfg.Storage.DecisionDB), a.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open decision log", err)
	}
	a.decisions = l
	return l, nil
}

func (a *App) connectNATS() error {
	if a.publisher != nil {
		return nil
	}
	a.logger.Debug("Connecting to NATS", "url", a.cfg.NATS.URL)
	pub, err := events.Connect(a.cfg.NATS.URL, appName)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect to NATS", err)
	}
	a.publisher = pub
	return nil
}

// Close releases the decision log and the NATS connection.
func (a *App) Close() {
	if a.decisions != nil {
		if err := a.decisions.Close(); err != nil {
			a.logger.Warn("Failed to close decision log", "error", err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Failed to drain NATS connection", "error", err)
		}
	}
}

// readArtifact reads an artifact file as markdown. HTML files are
// converted first.
func (a *App) readArtifact(kind document.Kind, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "read "+string(kind), err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		art, err := a.cfg.Parser().FromHTML(kind, data)
		if err != nil {
			return "", WrapExitError(ExitCommandError, fmt.Sprintf("convert %s", path), err)
		}
		return art.Raw, nil
	}
	return string(data), nil
}
