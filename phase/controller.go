package phase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/extract"
	"github.com/c360studio/semgate/significance"
	"github.com/c360studio/semgate/validation"
)

// ErrUnknownRule is returned when an exception names a rule that no rule set
// of the feature defines.
var ErrUnknownRule = errors.New("unknown rule")

// timeNow is replaced in tests.
var timeNow = time.Now

// RuleSource supplies the current shared rule set. *constitution.Watcher
// satisfies it.
type RuleSource interface {
	Current() *constitution.RuleSet
}

// StaticRules is a RuleSource that never changes.
type StaticRules struct {
	Rules *constitution.RuleSet
}

// Current returns the fixed rule set.
func (s StaticRules) Current() *constitution.RuleSet {
	return s.Rules
}

// Config configures a Controller. Zero values use defaults.
type Config struct {
	// Rules is the shared, read-only rule set. Rules from a feature's own
	// constitution artifact are merged on top of it at every evaluation.
	Rules RuleSource

	Parser    *document.Parser
	Validator *validation.Validator
	Gate      constitution.Evaluator
	Evaluator *significance.Evaluator

	// RequiredSections the plan must contain. Empty uses
	// validation.DefaultRequiredSections.
	RequiredSections []string

	Store     Store
	Observers []Observer
	Logger    *slog.Logger
}

// Controller runs the feature lifecycle. Transitions of one feature are
// serialized; different features proceed in parallel.
type Controller struct {
	rules     RuleSource
	parser    *document.Parser
	validator *validation.Validator
	gate      constitution.Evaluator
	evaluator *significance.Evaluator
	required  []string
	store     Store
	observers []Observer
	logger    *slog.Logger

	locks sync.Map // feature id -> *sync.Mutex
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	c := &Controller{
		rules:     cfg.Rules,
		parser:    cfg.Parser,
		validator: cfg.Validator,
		gate:      cfg.Gate,
		evaluator: cfg.Evaluator,
		required:  cfg.RequiredSections,
		store:     cfg.Store,
		observers: cfg.Observers,
		logger:    cfg.Logger,
	}
	if c.rules == nil {
		c.rules = StaticRules{}
	}
	if c.parser == nil {
		c.parser = document.NewParser(document.DefaultHeadingConfig())
	}
	if c.validator == nil {
		c.validator = validation.Default()
	}
	if c.evaluator == nil {
		c.evaluator = significance.Default()
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// lock validates id, takes the feature's exclusive lock and returns its
// release. Invalid ids never get a lock.
func (c *Controller) lock(id string) (func(), error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	v, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}

// Open creates a feature in Research from its spec and constitution. A
// feature cannot exist without both.
func (c *Controller) Open(ctx context.Context, id, spec, constitutionText string) (*Feature, error) {
	unlock, err := c.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := c.store.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrFeatureExists, id)
	} else if !errors.Is(err, ErrFeatureNotFound) {
		return nil, err
	}

	specDoc, err := c.parse(document.KindSpec, spec)
	if err != nil {
		return nil, err
	}
	consDoc, err := c.parse(document.KindConstitution, constitutionText)
	if err != nil {
		return nil, err
	}
	if _, err := c.ruleSet(consDoc); err != nil {
		return nil, err
	}

	now := timeNow()
	f := &Feature{
		ID:        id,
		Phase:     Research,
		Artifacts: []*document.Artifact{specDoc, consDoc},
		History:   []Transition{{To: Research, Trigger: TriggerOpen, At: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.Put(ctx, f); err != nil {
		return nil, fmt.Errorf("store feature %s: %w", id, err)
	}

	c.logger.Info("Feature opened", "feature", id, "phase", Research)
	c.notify(ctx, Event{FeatureID: id, To: Research, Trigger: TriggerOpen, Advanced: true, At: now})
	return f, nil
}

// Attach parses raw and replaces the feature's artifact of that kind.
// Nothing is evaluated; the next gate works from the fresh parse.
func (c *Controller) Attach(ctx context.Context, id string, kind document.Kind, raw string) (*Feature, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("invalid artifact kind %q", kind)
	}
	unlock, err := c.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Phase == Done {
		return nil, fmt.Errorf("%w: feature %s is done", ErrInvalidTransition, id)
	}

	a, err := c.parse(kind, raw)
	if err != nil {
		return nil, err
	}
	if kind == document.KindConstitution {
		if _, err := c.ruleSet(a); err != nil {
			return nil, err
		}
	}

	f.setArtifact(a)
	f.UpdatedAt = timeNow()
	if err := c.store.Put(ctx, f); err != nil {
		return nil, fmt.Errorf("store feature %s: %w", id, err)
	}
	c.logger.Debug("Artifact attached", "feature", id, "kind", kind, "sections", len(a.Sections))
	return f, nil
}

// AcceptException records that the caller accepts a failure of ruleID. The
// failure stops blocking only while the plan also justifies it.
func (c *Controller) AcceptException(ctx context.Context, id, ruleID, note string) (*Feature, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule id is required", ErrUnknownRule)
	}
	unlock, err := c.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cons, _ := f.Artifact(document.KindConstitution)
	rules, err := c.ruleSet(cons)
	if err != nil {
		return nil, err
	}
	if _, ok := rules.Get(ruleID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}

	if f.Exceptions == nil {
		f.Exceptions = make(map[string]string)
	}
	f.Exceptions[ruleID] = note
	f.UpdatedAt = timeNow()
	if err := c.store.Put(ctx, f); err != nil {
		return nil, fmt.Errorf("store feature %s: %w", id, err)
	}
	c.logger.Info("Exception accepted", "feature", id, "rule", ruleID)
	return f, nil
}

// Get returns the feature.
func (c *Controller) Get(ctx context.Context, id string) (*Feature, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, id)
}

// List returns every stored feature.
func (c *Controller) List(ctx context.Context) ([]*Feature, error) {
	return c.store.List(ctx)
}

// Advance moves the feature one phase forward. Research moves to Design
// unconditionally. Design moves to TaskBreakdown only when the plan passes
// validation and the gate has no unresolved blocking failure; otherwise the
// feature stays in Design and a *GateBlockedError is returned together with
// the result holding the validation and gate for remediation. On success
// the plan's decision candidates are in the result. TaskBreakdown leaves
// only through Complete.
func (c *Controller) Advance(ctx context.Context, id string) (*Result, error) {
	unlock, err := c.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tr, ok := next(f.Phase, TriggerAdvance)
	if !ok {
		return nil, fmt.Errorf("%w: cannot advance feature %s from %s", ErrInvalidTransition, id, f.Phase)
	}

	res := &Result{Feature: f, From: f.Phase, To: f.Phase}
	if !tr.gated {
		for _, kind := range []document.Kind{document.KindSpec, document.KindConstitution} {
			if _, ok := f.Artifact(kind); !ok {
				return nil, fmt.Errorf("%w: feature %s has no %s", ErrMissingArtifact, id, kind)
			}
		}
		return res, c.move(ctx, f, tr, res)
	}

	v, g, plan, err := c.evaluate(f)
	if err != nil {
		return nil, err
	}
	res.Validation, res.Gate = v, g
	f.LastValidation, f.LastGate = v, g

	passed := v.Passed && g.Passed()
	rec := GateRecord{ID: uuid.NewString(), FeatureID: id, Passed: passed, Validation: v, Gate: g, At: timeNow()}
	if err := c.store.RecordGate(ctx, rec); err != nil {
		c.logger.Warn("Failed to record gate", "feature", id, "error", err)
	}

	if !passed {
		f.UpdatedAt = rec.At
		if err := c.store.Put(ctx, f); err != nil {
			return nil, fmt.Errorf("store feature %s: %w", id, err)
		}
		c.logger.Info("Gate blocked", "feature", id, "phase", f.Phase,
			"missing", v.Missing(), "blocking", len(g.BlockingFailures()))
		c.notify(ctx, Event{
			FeatureID: id, From: f.Phase, To: tr.to, Trigger: tr.trigger,
			Validation: v, Gate: g, At: rec.At,
		})
		return res, &GateBlockedError{FeatureID: id, Validation: v, Gate: g}
	}

	res.Candidates = extract.Collect(extract.New(c.evaluator, f.components()).ExtractArtifact(plan))
	return res, c.move(ctx, f, tr, res)
}

// Complete confirms task generation and moves TaskBreakdown to Done. It is
// a no-op for a feature already done.
func (c *Controller) Complete(ctx context.Context, id string) (*Result, error) {
	unlock, err := c.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &Result{Feature: f, From: f.Phase, To: f.Phase}
	if f.Phase == Done {
		return res, nil
	}
	tr, ok := next(f.Phase, TriggerComplete)
	if !ok {
		return nil, fmt.Errorf("%w: cannot complete feature %s from %s", ErrInvalidTransition, id, f.Phase)
	}
	return res, c.move(ctx, f, tr, res)
}

// Check evaluates the design gate without moving the feature. Running it
// on unchanged artifacts always reports the same outcome.
func (c *Controller) Check(ctx context.Context, id string) (*Result, error) {
	unlock, err := c.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v, g, _, err := c.evaluate(f)
	if err != nil {
		return nil, err
	}
	return &Result{Feature: f, From: f.Phase, To: f.Phase, Validation: v, Gate: g}, nil
}

// evaluate validates and gates a fresh parse of the plan.
func (c *Controller) evaluate(f *Feature) (*validation.Result, *constitution.Gate, *document.Artifact, error) {
	stored, ok := f.Artifact(document.KindPlan)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: feature %s has no %s", ErrMissingArtifact, f.ID, document.KindPlan)
	}
	plan, err := c.parse(document.KindPlan, stored.Raw)
	if err != nil {
		return nil, nil, nil, err
	}
	plan.Path = stored.Path

	cons, _ := f.Artifact(document.KindConstitution)
	rules, err := c.ruleSet(cons)
	if err != nil {
		return nil, nil, nil, err
	}

	v := c.validator.Validate(plan, c.required)
	g := c.gate.Evaluate(plan, rules, f.acceptedRules())
	return v, g, plan, nil
}

// ruleSet merges the constitution's own rules over the shared set.
func (c *Controller) ruleSet(cons *document.Artifact) (*constitution.RuleSet, error) {
	shared := c.rules.Current()
	if cons == nil {
		return shared.Merge(nil)
	}
	own, err := constitution.FromArtifact(cons)
	if err != nil {
		return nil, fmt.Errorf("constitution rules: %w", err)
	}
	merged, err := shared.Merge(own)
	if err != nil {
		return nil, fmt.Errorf("constitution rules: %w", err)
	}
	return merged, nil
}

func (c *Controller) parse(kind document.Kind, raw string) (*document.Artifact, error) {
	a, err := c.parser.Parse(kind, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", kind, err)
	}
	return a, nil
}

// move applies a transition, stores the feature and notifies observers.
func (c *Controller) move(ctx context.Context, f *Feature, tr transition, res *Result) error {
	now := timeNow()
	f.Phase = tr.to
	f.History = append(f.History, Transition{From: tr.from, To: tr.to, Trigger: tr.trigger, At: now})
	f.UpdatedAt = now
	if err := c.store.Put(ctx, f); err != nil {
		return fmt.Errorf("store feature %s: %w", f.ID, err)
	}

	res.To = tr.to
	res.Advanced = true
	c.logger.Info("Feature advanced", "feature", f.ID, "from", tr.from, "to", tr.to)
	c.notify(ctx, Event{
		FeatureID: f.ID, From: tr.from, To: tr.to, Trigger: tr.trigger, Advanced: true,
		Validation: res.Validation, Gate: res.Gate, Candidates: res.Candidates, At: now,
	})
	return nil
}

func (c *Controller) notify(ctx context.Context, ev Event) {
	for _, o := range c.observers {
		if err := o.ObserveTransition(ctx, ev); err != nil {
			c.logger.Warn("Observer failed", "feature", ev.FeatureID, "to", ev.To, "error", err)
		}
	}
}
