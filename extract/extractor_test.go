package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/significance"
)

const planText = "---\n" +
	"title: Plan\n" +
	"---\n" +
	"# Plan\n\n" +
	"## Decisions\n\n" +
	"We chose PostgreSQL over MongoDB and DynamoDB for ACID guarantees across all services. The schema lives in one repo.\n\n" +
	"We evaluated two queue options:\n" +
	"- Kafka: durable log, but heavy to operate\n" +
	"- NATS: simpler to run, however fewer connectors\n\n" +
	"```go\n" +
	"// we chose this over that\n" +
	"```\n\n" +
	"## Notes\n\n" +
	"Renamed a local variable for clarity.\n" +
	"We chose PostgreSQL over MongoDB and DynamoDB for ACID guarantees across all services.\n"

func TestExtract_Candidates(t *testing.T) {
	got := Collect(Extract(planText))
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "We chose PostgreSQL over MongoDB and DynamoDB for ACID guarantees across all services.", first.Text)
	assert.Equal(t, "Decisions", first.Section)
	assert.Equal(t, significance.VerdictCreateRecord, first.Verdict)

	block := got[1]
	assert.Equal(t, "We evaluated two queue options:\n"+
		"- Kafka: durable log, but heavy to operate\n"+
		"- NATS: simpler to run, however fewer connectors", block.Text)
	assert.True(t, block.Alternatives)
	assert.Equal(t, []string{"Kafka", "NATS"}, block.Evidence.Options)
	assert.Equal(t, "Decisions", block.Section)
}

func TestExtract_SpansPointIntoText(t *testing.T) {
	for c := range Extract(planText) {
		assert.Equal(t, c.Text, planText[c.Span.Start:c.Span.End])
	}
}

func TestExtract_SkipsFrontmatterAndCode(t *testing.T) {
	text := "---\ndecision: we chose A over B because reasons\n---\n## X\n\n```\nWe chose C over D because E.\n```\n"
	assert.Empty(t, Collect(Extract(text)))
}

func TestExtract_StopsEarly(t *testing.T) {
	yielded := 0
	for range Extract(planText) {
		yielded++
		break
	}
	assert.Equal(t, 1, yielded)
}

func TestExtract_FreshScanPerCall(t *testing.T) {
	seq := Extract(planText)
	assert.Equal(t, Collect(seq), Collect(seq))

	edited := planText + "\nWe will use gRPC instead of REST because streaming is faster.\n"
	assert.Len(t, Collect(Extract(edited)), 3)
}

func TestExtract_LabelledOptionsWithoutLeadIn(t *testing.T) {
	text := "## Repository Layout\n\n" +
		"Option 1: Monorepo - simpler refactors, but slower CI\n" +
		"Option 2: Polyrepo - independent releases, at the cost of drift\n"

	got := Collect(Extract(text))
	require.Len(t, got, 1)
	assert.True(t, got[0].Alternatives)
	assert.True(t, got[0].Impact)
	assert.Equal(t, []string{"Monorepo", "Polyrepo"}, got[0].Evidence.Options)
	assert.Equal(t, significance.VerdictLogOnly, got[0].Verdict, "nothing marks it cross-cutting")
}

func TestExtract_PlainListIsNotAnOptionBlock(t *testing.T) {
	text := "## Tasks\n\n- write code\n- write tests\n"
	assert.Empty(t, Collect(Extract(text)))
}

func TestExtractor_Components(t *testing.T) {
	x := New(nil, []string{"billing", "ledger"})
	text := "## Decisions\n\nBilling and ledger switched to gRPC instead of REST because streaming is faster.\n"

	got := Collect(x.Extract(text))
	require.Len(t, got, 1)
	c := got[0]
	assert.True(t, c.Impact)
	assert.True(t, c.Alternatives)
	assert.True(t, c.Scope)
	assert.Equal(t, []string{"gRPC", "REST"}, c.Evidence.Options)
	assert.Equal(t, []string{"billing", "ledger"}, c.Evidence.Components)
	assert.Equal(t, significance.VerdictCreateRecord, c.Verdict)
}

func TestExtractor_ExtractArtifact(t *testing.T) {
	a, err := document.Parse(document.KindPlan, planText)
	require.NoError(t, err)

	assert.Equal(t, Collect(Extract(planText)), Collect(New(nil, nil).ExtractArtifact(a)))
}

func TestExtractor_ExtractArtifact_NestedHeading(t *testing.T) {
	text := "# Plan\n\n" +
		"## Architecture\n\n" +
		"### Storage\n\n" +
		"We chose PostgreSQL over MongoDB for ACID guarantees.\n"
	a, err := document.Parse(document.KindPlan, text)
	require.NoError(t, err)
	require.Equal(t, []string{"Plan", "Architecture"}, a.SectionNames())

	v := significance.DefaultVocabulary()
	v.CrossCuttingSections = []string{"Architecture"}
	e, err := significance.NewEvaluator(v)
	require.NoError(t, err)

	got := Collect(New(e, nil).ExtractArtifact(a))
	require.Len(t, got, 1)
	assert.Equal(t, "Architecture", got[0].Section)
	assert.True(t, got[0].Scope)
	assert.Equal(t, significance.VerdictCreateRecord, got[0].Verdict)
	assert.Equal(t, text[got[0].Span.Start:got[0].Span.End], got[0].Text)

	// Plain text follows the same section level.
	plain := Collect(Extract(text))
	require.Len(t, plain, 1)
	assert.Equal(t, "Architecture", plain[0].Section)
}

func TestExtractor_ExtractArtifact_MergedDuplicateUsesFirstName(t *testing.T) {
	text := "## Decisions\n\nNone yet.\n\n## DECISIONS\n\nWe chose NATS over Kafka because it is simpler to run.\n"
	a, err := document.Parse(document.KindPlan, text)
	require.NoError(t, err)

	got := Collect(New(nil, nil).ExtractArtifact(a))
	require.Len(t, got, 1)
	assert.Equal(t, "Decisions", got[0].Section)
}

func TestSentences(t *testing.T) {
	text := "We chose A vs. B for speed. Done."
	spans := sentences(text, 0, len(text))

	require.Len(t, spans, 2)
	assert.Equal(t, "We chose A vs. B for speed.", text[spans[0].Start:spans[0].End])
	assert.Equal(t, "Done.", text[spans[1].Start:spans[1].End])
}

func TestMergeSpans_LongestWins(t *testing.T) {
	got := mergeSpans([]significance.Span{
		{Start: 0, End: 10},
		{Start: 5, End: 30},
		{Start: 31, End: 40},
		{Start: 32, End: 35},
	})

	assert.Equal(t, []significance.Span{
		{Start: 5, End: 30},
		{Start: 31, End: 40},
	}, got)
}
