package phase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/significance"
	"github.com/c360studio/semgate/validation"
)

const testSpec = `---
components: [billing, ledger]
---
# Checkout

## Overview

Customers pay for an order.
`

const testConstitution = "# Constitution\n\n" +
	"## Principles\n\nKeep the service count small.\n\n" +
	"## Rules\n\n" +
	"```yaml\n" +
	"rules:\n" +
	"  max-services:\n" +
	"    category: architecture-limit\n" +
	"    metric: service_count\n" +
	"    operator: \"<=\"\n" +
	"    threshold: 3\n" +
	"    severity: blocking\n" +
	"```\n"

func testPlan(services string, extra ...string) string {
	return "# Plan: checkout\n\n" +
		"## Summary\n\nCheckout flow.\n\n" +
		"## Technical Context\n\n" +
		"**Language/Version**: Go 1.25\n" +
		"**Primary Dependencies**: NATS\n" +
		"**Testing**: go test\n" +
		"**Target Platform**: Linux\n" +
		"**Service count**: " + services + "\n\n" +
		"## Constitution Check\n\nSee rules.\n\n" +
		"## Project Structure\n\ncmd/ and internal/\n\n" +
		"## Decisions\n\n" +
		"We chose PostgreSQL over MongoDB and DynamoDB for ACID guarantees across all services.\n" +
		strings.Join(extra, "")
}

func freezeTime(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })
	return now
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) ObserveTransition(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// openInDesign opens a feature, advances it to Design and attaches a plan.
func openInDesign(t *testing.T, c *Controller, id, plan string) {
	t.Helper()
	ctx := context.Background()
	_, err := c.Open(ctx, id, testSpec, testConstitution)
	require.NoError(t, err)
	_, err = c.Advance(ctx, id)
	require.NoError(t, err)
	_, err = c.Attach(ctx, id, document.KindPlan, plan)
	require.NoError(t, err)
}

func TestController_Lifecycle(t *testing.T) {
	freezeTime(t)
	ctx := context.Background()
	rec := &recorder{}
	c := NewController(Config{Observers: []Observer{rec}})

	f, err := c.Open(ctx, "checkout", testSpec, testConstitution)
	require.NoError(t, err)
	assert.Equal(t, Research, f.Phase)
	assert.Len(t, f.Artifacts, 2)

	res, err := c.Advance(ctx, "checkout")
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, Design, res.To)
	assert.Nil(t, res.Gate, "research to design is not gated")

	_, err = c.Attach(ctx, "checkout", document.KindPlan, testPlan("2"))
	require.NoError(t, err)

	res, err = c.Advance(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, TaskBreakdown, res.To)
	assert.True(t, res.Validation.Passed)
	assert.True(t, res.Gate.Passed())
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, significance.VerdictCreateRecord, res.Candidates[0].Verdict)
	assert.Equal(t, "Decisions", res.Candidates[0].Section)

	res, err = c.Complete(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, Done, res.To)

	res, err = c.Complete(ctx, "checkout")
	require.NoError(t, err, "done is idempotent")
	assert.False(t, res.Advanced)
	assert.Equal(t, Done, res.Feature.Phase)

	f, err = c.Get(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, Done, f.Phase)
	assert.Equal(t, []Phase{Research, Design, TaskBreakdown, Done}, historyPhases(f))

	events := rec.all()
	require.Len(t, events, 4)
	assert.Equal(t, TriggerOpen, events[0].Trigger)
	assert.Len(t, events[2].Candidates, 1)
	assert.Equal(t, Done, events[3].To)
}

func historyPhases(f *Feature) []Phase {
	var out []Phase
	for _, h := range f.History {
		out = append(out, h.To)
	}
	return out
}

func TestController_GateBlocksOnRuleFailure(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	c := NewController(Config{Observers: []Observer{rec}})
	openInDesign(t, c, "checkout", testPlan("4"))

	res, err := c.Advance(ctx, "checkout")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGateBlocked)

	var blocked *GateBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.True(t, blocked.Validation.Passed)
	require.Len(t, blocked.Gate.BlockingFailures(), 1)
	assert.Equal(t, "service_count = 4, want <= 3", blocked.Gate.Report()["max-services"].Reason)
	assert.Contains(t, err.Error(), "rule max-services")

	require.NotNil(t, res)
	assert.False(t, res.Advanced)
	assert.Empty(t, res.Candidates, "nothing is surfaced while blocked")

	f, err := c.Get(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, Design, f.Phase)
	require.NotNil(t, f.LastGate)
	assert.False(t, f.LastGate.Passed())

	last := rec.all()[len(rec.all())-1]
	assert.False(t, last.Advanced)
	assert.Equal(t, TaskBreakdown, last.To)

	_, err = c.Attach(ctx, "checkout", document.KindPlan, testPlan("3"))
	require.NoError(t, err)
	res, err = c.Advance(ctx, "checkout")
	require.NoError(t, err, "a fixed plan passes on a fresh evaluation")
	assert.Equal(t, TaskBreakdown, res.To)
}

func TestController_GateBlocksOnMissingSection(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})
	plan := strings.Replace(testPlan("2"), "## Project Structure\n\ncmd/ and internal/\n\n", "", 1)
	openInDesign(t, c, "checkout", plan)

	_, err := c.Advance(ctx, "checkout")
	var blocked *GateBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, []string{"Project Structure"}, blocked.Validation.Missing())
	assert.True(t, blocked.Gate.Passed())
	assert.Contains(t, err.Error(), "section Project Structure missing")
}

func TestController_PlaceholderIsAdvisory(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})
	plan := strings.Replace(testPlan("2"), "cmd/ and internal/", "[TODO: layout]", 1)
	openInDesign(t, c, "checkout", plan)

	res, err := c.Advance(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, []string{"Project Structure"}, res.Validation.Placeholders())
}

func TestController_AcceptedExceptionNeedsJustification(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})
	justified := testPlan("4", "\n## Complexity Tracking\n\n- max-services: billing needs an isolated worker\n")
	openInDesign(t, c, "justified", justified)
	openInDesign(t, c, "unjustified", testPlan("4"))

	_, err := c.Advance(ctx, "justified")
	require.ErrorIs(t, err, ErrGateBlocked, "a justification alone does not resolve the failure")

	_, err = c.AcceptException(ctx, "justified", "max-services", "approved in review")
	require.NoError(t, err)
	_, err = c.AcceptException(ctx, "unjustified", "max-services", "approved in review")
	require.NoError(t, err)

	res, err := c.Advance(ctx, "justified")
	require.NoError(t, err)
	assert.True(t, res.Gate.Outcomes[0].Accepted)
	assert.Contains(t, res.Gate.Report()["max-services"].Reason, "accepted exception")

	_, err = c.Advance(ctx, "unjustified")
	assert.ErrorIs(t, err, ErrGateBlocked)

	_, err = c.AcceptException(ctx, "unjustified", "no-such-rule", "")
	assert.ErrorIs(t, err, ErrUnknownRule)
}

func TestController_RegateReproducesPassState(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})
	openInDesign(t, c, "checkout", testPlan("2"))

	advanced, err := c.Advance(ctx, "checkout")
	require.NoError(t, err)

	for range 3 {
		checked, err := c.Check(ctx, "checkout")
		require.NoError(t, err)
		assert.Equal(t, advanced.Gate, checked.Gate)
		assert.Equal(t, advanced.Validation, checked.Validation)
		assert.Equal(t, TaskBreakdown, checked.Feature.Phase)
	}
}

func TestController_GateHistoryRecorded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := NewController(Config{Store: store})
	openInDesign(t, c, "checkout", testPlan("4"))

	_, err := c.Advance(ctx, "checkout")
	require.Error(t, err)
	_, err = c.Attach(ctx, "checkout", document.KindPlan, testPlan("1"))
	require.NoError(t, err)
	_, err = c.Advance(ctx, "checkout")
	require.NoError(t, err)

	gates, err := store.Gates(ctx, "checkout")
	require.NoError(t, err)
	require.Len(t, gates, 2)
	assert.False(t, gates[0].Passed)
	assert.True(t, gates[1].Passed)
	assert.NotEqual(t, gates[0].ID, gates[1].ID)
}

func TestController_Errors(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})

	_, err := c.Open(ctx, "Bad/ID", testSpec, testConstitution)
	assert.ErrorIs(t, err, ErrInvalidFeatureID)

	_, err = c.Open(ctx, "no-headings", "just text", testConstitution)
	assert.ErrorIs(t, err, document.ErrMalformedDocument)

	_, err = c.Advance(ctx, "ghost")
	assert.ErrorIs(t, err, ErrFeatureNotFound)

	_, err = c.Open(ctx, "checkout", testSpec, testConstitution)
	require.NoError(t, err)
	_, err = c.Open(ctx, "checkout", testSpec, testConstitution)
	assert.ErrorIs(t, err, ErrFeatureExists)

	_, err = c.Complete(ctx, "checkout")
	assert.ErrorIs(t, err, ErrInvalidTransition, "research cannot complete")

	_, err = c.Advance(ctx, "checkout")
	require.NoError(t, err)
	_, err = c.Advance(ctx, "checkout")
	assert.ErrorIs(t, err, ErrMissingArtifact, "design needs a plan")

	_, err = c.Attach(ctx, "checkout", document.KindPlan, testPlan("2"))
	require.NoError(t, err)
	_, err = c.Advance(ctx, "checkout")
	require.NoError(t, err)
	_, err = c.Advance(ctx, "checkout")
	assert.ErrorIs(t, err, ErrInvalidTransition, "task breakdown leaves only through Complete")

	_, err = c.Complete(ctx, "checkout")
	require.NoError(t, err)
	_, err = c.Attach(ctx, "checkout", document.KindPlan, testPlan("2"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestController_InvalidIDNeverLocks(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})

	calls := map[string]func(id string) error{
		"get": func(id string) error { _, err := c.Get(ctx, id); return err },
		"attach": func(id string) error {
			_, err := c.Attach(ctx, id, document.KindPlan, testPlan("2"))
			return err
		},
		"accept":   func(id string) error { _, err := c.AcceptException(ctx, id, "max-services", ""); return err },
		"advance":  func(id string) error { _, err := c.Advance(ctx, id); return err },
		"complete": func(id string) error { _, err := c.Complete(ctx, id); return err },
		"check":    func(id string) error { _, err := c.Check(ctx, id); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call("../escape"), ErrInvalidFeatureID)
			assert.ErrorIs(t, call("Bad ID"), ErrInvalidFeatureID)
			assert.ErrorIs(t, call(""), ErrFeatureIDRequired)
		})
	}

	held := 0
	c.locks.Range(func(_, _ any) bool {
		held++
		return true
	})
	assert.Zero(t, held)
}

func TestController_RuleConflictAtOpen(t *testing.T) {
	shared, err := constitution.NewRuleSet(constitution.Rule{
		ID:       "max-services",
		Category: constitution.CategoryArchitectureLimit,
		Predicate: constitution.Predicate{
			Metric: "service_count", Operator: constitution.OpLessEqual, Threshold: 5,
		},
		Severity: constitution.SeverityBlocking,
	})
	require.NoError(t, err)

	c := NewController(Config{Rules: StaticRules{Rules: shared}})
	_, err = c.Open(context.Background(), "checkout", testSpec, testConstitution)
	assert.ErrorIs(t, err, constitution.ErrRuleConflict)
}

type swappableRules struct {
	mu    sync.Mutex
	rules *constitution.RuleSet
}

func (s *swappableRules) Current() *constitution.RuleSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules
}

func TestController_SharedRulesReadAtEachEvaluation(t *testing.T) {
	ctx := context.Background()
	src := &swappableRules{}
	c := NewController(Config{Rules: src})
	_, err := c.Open(ctx, "checkout", testSpec, "# Constitution\n\n## Principles\n\nNone.\n")
	require.NoError(t, err)
	_, err = c.Advance(ctx, "checkout")
	require.NoError(t, err)
	_, err = c.Attach(ctx, "checkout", document.KindPlan, testPlan("2"))
	require.NoError(t, err)

	res, err := c.Check(ctx, "checkout")
	require.NoError(t, err)
	assert.Empty(t, res.Gate.Outcomes)

	strict, err := constitution.NewRuleSet(constitution.Rule{
		ID:       "one-service",
		Category: constitution.CategoryArchitectureLimit,
		Predicate: constitution.Predicate{
			Metric: "service_count", Operator: constitution.OpLessEqual, Threshold: 1,
		},
	})
	require.NoError(t, err)
	src.mu.Lock()
	src.rules = strict
	src.mu.Unlock()

	_, err = c.Advance(ctx, "checkout")
	assert.ErrorIs(t, err, ErrGateBlocked)
}

func TestController_RequiredSectionsConfigurable(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{RequiredSections: []string{"Summary", "Risk Analysis"}})
	openInDesign(t, c, "checkout", testPlan("2"))

	_, err := c.Advance(ctx, "checkout")
	var blocked *GateBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, map[string]validation.Status{
		"Summary":       validation.StatusPresent,
		"Risk Analysis": validation.StatusMissing,
	}, blocked.Validation.Summary())
}

func TestController_TransitionsOfOneFeatureAreSerialized(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})
	_, err := c.Open(ctx, "checkout", testSpec, testConstitution)
	require.NoError(t, err)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Advance(ctx, "checkout")
		}()
	}
	wg.Wait()

	succeeded, missing := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrMissingArtifact):
			missing++
		}
	}
	assert.Equal(t, 1, succeeded, "only research to design can fire")
	assert.Equal(t, workers-1, missing)

	f, err := c.Get(ctx, "checkout")
	require.NoError(t, err)
	assert.Len(t, f.History, 2)
}

func TestController_FeaturesRunInParallel(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})
	ids := []string{"alpha", "beta", "gamma", "delta"}
	for _, id := range ids {
		openInDesign(t, c, id, testPlan("2"))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Advance(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	features, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, features, len(ids))
	for _, f := range features {
		assert.Equal(t, TaskBreakdown, f.Phase, f.ID)
	}
}

func TestController_ObserverErrorDoesNotUndoTransition(t *testing.T) {
	ctx := context.Background()
	failing := ObserverFunc(func(context.Context, Event) error { return errors.New("broker down") })
	c := NewController(Config{Observers: []Observer{failing}})

	_, err := c.Open(ctx, "checkout", testSpec, testConstitution)
	require.NoError(t, err)
	res, err := c.Advance(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, Design, res.To)
}

func TestFeature_Components(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{})
	f, err := c.Open(ctx, "checkout", testSpec, testConstitution)
	require.NoError(t, err)

	assert.Equal(t, []string{"billing", "ledger"}, f.components())

	stored, err := c.Get(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "ledger"}, stored.components(), "survives the store round trip")
}
