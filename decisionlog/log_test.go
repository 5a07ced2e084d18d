package decisionlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/significance"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "data", "decisions.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func freezeTime(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })
	return now
}

func candidates() []significance.Candidate {
	significant := significance.Test("We chose PostgreSQL over MongoDB and DynamoDB for ACID guarantees across all services", significance.Context{Section: "Decisions"})
	significant.Span = significance.Span{Start: 10, End: 96}
	minor := significance.Test("Renamed a local variable for clarity", significance.Context{Section: "Notes"})
	minor.Span = significance.Span{Start: 120, End: 156}
	return []significance.Candidate{significant, minor}
}

func TestRecord_StatusFollowsVerdict(t *testing.T) {
	now := freezeTime(t)
	l := openTestLog(t)
	ctx := context.Background()

	inserted, err := l.Record(ctx, "checkout", candidates())
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.Equal(t, StatusPending, inserted[0].Status)
	assert.Equal(t, StatusLogged, inserted[1].Status)

	entries, err := l.List(ctx, Filter{FeatureID: "checkout"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, inserted[0].ID, entries[0].ID)
	assert.Equal(t, candidates()[0], entries[0].Candidate)
	assert.Equal(t, now, entries[0].CreatedAt)
	assert.Nil(t, entries[0].DecidedAt)
}

func TestRecord_RepeatedGateDoesNotDuplicate(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	_, err := l.Record(ctx, "checkout", candidates())
	require.NoError(t, err)
	inserted, err := l.Record(ctx, "checkout", candidates())
	require.NoError(t, err)
	assert.Empty(t, inserted)

	inserted, err = l.Record(ctx, "billing", candidates()[:1])
	require.NoError(t, err)
	assert.Len(t, inserted, 1, "the same text under another feature is a new entry")

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConfirmAndDismiss(t *testing.T) {
	now := freezeTime(t)
	l := openTestLog(t)
	ctx := context.Background()

	inserted, err := l.Record(ctx, "checkout", candidates())
	require.NoError(t, err)
	pending, logged := inserted[0], inserted[1]

	e, err := l.Confirm(ctx, pending.ID, "agreed in design review")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, e.Status)
	assert.Equal(t, "agreed in design review", e.Note)
	require.NotNil(t, e.DecidedAt)
	assert.Equal(t, now, *e.DecidedAt)

	_, err = l.Confirm(ctx, pending.ID, "")
	assert.ErrorIs(t, err, ErrNotPending)
	_, err = l.Dismiss(ctx, pending.ID, "")
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = l.Confirm(ctx, logged.ID, "")
	assert.ErrorIs(t, err, ErrNotPending, "log-only candidates never become records")

	_, err = l.Dismiss(ctx, "no-such-id", "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, l.SetRecord(ctx, pending.ID, "docs/adr/ADR-001-use-postgresql.md"))
	e, err = l.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "docs/adr/ADR-001-use-postgresql.md", e.Record)

	assert.ErrorIs(t, l.SetRecord(ctx, "no-such-id", "x"), ErrNotFound)
}

func TestList_Filters(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	_, err := l.Record(ctx, "checkout", candidates())
	require.NoError(t, err)
	_, err = l.Record(ctx, "billing", candidates())
	require.NoError(t, err)

	pending, err := l.List(ctx, Filter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	one, err := l.List(ctx, Filter{FeatureID: "billing", Status: StatusLogged})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "Renamed a local variable for clarity", one[0].Candidate.Text)

	none, err := l.List(ctx, Filter{FeatureID: "unknown"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestObserveTransition(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.ObserveTransition(ctx, phase.Event{FeatureID: "checkout", Advanced: false, Candidates: candidates()}))
	entries, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "a blocked gate surfaces nothing")

	require.NoError(t, l.ObserveTransition(ctx, phase.Event{FeatureID: "checkout", Advanced: true, Candidates: candidates()}))
	entries, err = l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLog_ObservesController(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	c := phase.NewController(phase.Config{Observers: []phase.Observer{l}})

	plan := "## Summary\n\nCheckout.\n\n" +
		"## Technical Context\n\nGo.\n\n" +
		"## Constitution Check\n\nOK.\n\n" +
		"## Project Structure\n\ncmd/\n\n" +
		"## Decisions\n\nWe chose PostgreSQL over MongoDB and DynamoDB for ACID guarantees across all services.\n"

	_, err := c.Open(ctx, "checkout", "# Spec\n\n## Overview\n\nPay.\n", "# Constitution\n\n## Principles\n\nSmall.\n")
	require.NoError(t, err)
	_, err = c.Advance(ctx, "checkout")
	require.NoError(t, err)
	_, err = c.Attach(ctx, "checkout", document.KindPlan, plan)
	require.NoError(t, err)
	_, err = c.Advance(ctx, "checkout")
	require.NoError(t, err)

	pending, err := l.List(ctx, Filter{FeatureID: "checkout", Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Decisions", pending[0].Candidate.Section)
}

func TestList_TierFilter(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	near := significance.Test("We chose PostgreSQL over MongoDB for ACID guarantees in the billing service", significance.Context{Section: "Decisions"})
	near.Span = significance.Span{Start: 200, End: 276}
	_, err := l.Record(ctx, "checkout", append(candidates(), near))
	require.NoError(t, err)

	entries, err := l.List(ctx, Filter{Tier: significance.TierPossible})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusLogged, entries[0].Status)
	assert.Equal(t, []string{significance.TestScope}, entries[0].Candidate.Failed)
	assert.Equal(t, "Chose PostgreSQL over MongoDB for ACID guarantees in the billing service", entries[0].Candidate.Title)

	entries, err = l.List(ctx, Filter{Tier: significance.TierRecord})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusPending, entries[0].Status)
}
