package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/significance"
	"github.com/c360studio/semgate/validation"
)

func TestRecorder_BlockedGate(t *testing.T) {
	r := New(false)
	ev := phase.Event{
		FeatureID: "checkout", From: phase.Design, To: phase.TaskBreakdown,
		Validation: &validation.Result{Sections: []validation.SectionStatus{
			{Section: "Project Structure", Status: validation.StatusMissing},
		}},
		Gate: &constitution.Gate{Outcomes: []constitution.Outcome{
			{RuleID: "max-services", Severity: constitution.SeverityBlocking},
			{RuleID: "prefer-libraries", Severity: constitution.SeverityAdvisory},
			{RuleID: "no-orm", Severity: constitution.SeverityBlocking, Accepted: true},
			{RuleID: "has-tests", Severity: constitution.SeverityBlocking, Passed: true},
		}},
	}
	require.NoError(t, r.ObserveTransition(context.Background(), ev))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.gates.WithLabelValues("blocked")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.gates.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.missing.WithLabelValues("Project Structure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ruleFailures.WithLabelValues("max-services", "blocking", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ruleFailures.WithLabelValues("no-orm", "blocking", "true")))
	assert.Equal(t, 3, testutil.CollectAndCount(r.ruleFailures))
	assert.Equal(t, 0, testutil.CollectAndCount(r.transitions))
}

func TestRecorder_Lifecycle(t *testing.T) {
	r := New(false)
	ctx := context.Background()

	events := []phase.Event{
		{To: phase.Research, Advanced: true},
		{From: phase.Research, To: phase.Design, Advanced: true},
		{
			From: phase.Design, To: phase.TaskBreakdown, Advanced: true,
			Validation: &validation.Result{Passed: true},
			Gate:       &constitution.Gate{},
			Candidates: []significance.Candidate{
				{Verdict: significance.VerdictCreateRecord},
				{Verdict: significance.VerdictLogOnly},
				{Verdict: significance.VerdictLogOnly},
			},
		},
	}
	for _, ev := range events {
		require.NoError(t, r.ObserveTransition(ctx, ev))
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(r.features))

	require.NoError(t, r.ObserveTransition(ctx, phase.Event{From: phase.TaskBreakdown, To: phase.Done, Advanced: true}))

	assert.Equal(t, 0.0, testutil.ToFloat64(r.features))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.gates.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.candidates.WithLabelValues("create-record")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.candidates.WithLabelValues("log-only")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New(false)
	require.NoError(t, r.ObserveTransition(context.Background(), phase.Event{To: phase.Research, Advanced: true}))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `semgate_phase_transitions_total{to="research"} 1`)
	assert.Contains(t, body, "semgate_features_open 1")
}

func TestRecorder_ExpositionFormat(t *testing.T) {
	r := New(false)
	require.NoError(t, r.ObserveTransition(context.Background(), phase.Event{
		To: phase.TaskBreakdown, Gate: &constitution.Gate{},
	}))

	expected := `
# HELP semgate_gate_evaluations_total Gate evaluations by outcome.
# TYPE semgate_gate_evaluations_total counter
semgate_gate_evaluations_total{outcome="blocked"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "semgate_gate_evaluations_total"))
}

func TestRecorder_ProcessCollectors(t *testing.T) {
	r := New(true)
	n, err := testutil.GatherAndCount(r.Registry(), "go_goroutines")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
