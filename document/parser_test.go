package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `---
title: Plan
feature: 001-auth
---
# Plan

Intro text.

## Summary

Build a thing.

### Detail

Nested.

## Technical Context

**Language/Version**: Go 1.25
`

func TestParse_SectionsInOrder(t *testing.T) {
	a, err := Parse(KindPlan, samplePlan)
	require.NoError(t, err)

	assert.Equal(t, KindPlan, a.Kind)
	assert.Equal(t, []string{"Plan", "Summary", "Technical Context"}, a.SectionNames())
	assert.Equal(t, "Plan", a.Frontmatter["title"])
	assert.Equal(t, "001-auth", a.Frontmatter["feature"])
	assert.Empty(t, a.Preamble)

	summary, ok := a.Lookup("summary")
	require.True(t, ok)
	assert.Equal(t, "Build a thing.\n\n### Detail\n\nNested.", summary.Content, "deeper headings stay inside the section")
	assert.Equal(t, 2, summary.Level)

	plan := a.Sections[0]
	assert.Equal(t, 5, plan.Line, "line numbers count frontmatter lines")
	assert.Equal(t, "Intro text.", plan.Content)
}

func TestParse_OffsetsPointIntoRaw(t *testing.T) {
	a, err := Parse(KindPlan, samplePlan)
	require.NoError(t, err)

	for _, s := range a.Sections {
		require.LessOrEqual(t, s.Offset+len(s.Content), len(a.Raw))
		assert.Equal(t, s.Content, a.Raw[s.Offset:s.Offset+len(s.Content)], s.Name)
	}
}

func TestParse_Deterministic(t *testing.T) {
	first, err := Parse(KindPlan, samplePlan)
	require.NoError(t, err)
	second, err := Parse(KindPlan, samplePlan)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParse_IgnoresHeadingsInCodeFences(t *testing.T) {
	raw := "## A\n\n```markdown\n## Not a heading\n```\n\n## B\n\nb\n"

	a, err := Parse(KindPlan, raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, a.SectionNames())
	assert.Contains(t, a.Sections[0].Content, "## Not a heading")
}

func TestParse_TildeFence(t *testing.T) {
	raw := "## A\n\n~~~\n# inside\n~~~\n"

	a, err := Parse(KindPlan, raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, a.SectionNames())
}

func TestParse_DuplicateHeadingsMerge(t *testing.T) {
	raw := "## Risks\n\none\n\n## Other\n\nx\n\n## risks\n\ntwo\n"

	a, err := Parse(KindPlan, raw)
	require.NoError(t, err)

	require.Len(t, a.Sections, 2)
	risks, ok := a.Lookup("Risks")
	require.True(t, ok)
	assert.Equal(t, "one\n\ntwo", risks.Content)
}

func TestParse_Preamble(t *testing.T) {
	a, err := Parse(KindSpec, "Loose text first.\n\n## Summary\n\nbody\n")
	require.NoError(t, err)
	assert.Equal(t, "Loose text first.", a.Preamble)
	assert.Equal(t, []string{"Summary"}, a.SectionNames())
}

func TestParse_NoHeadings(t *testing.T) {
	_, err := Parse(KindPlan, "just some prose\nwithout any structure\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedDocument)

	_, err = Parse(KindPlan, "")
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestParse_OnlyDeepHeadings(t *testing.T) {
	a, err := Parse(KindResearch, "### A\n\nx\n\n### B\n\ny\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, a.SectionNames())
}

func TestParse_UnknownHeadingsKept(t *testing.T) {
	a, err := Parse(KindPlan, "## Summary\n\ns\n\n## Quantum Flux Notes\n\nq\n")
	require.NoError(t, err)
	assert.True(t, a.Has("Quantum Flux Notes"))
}

func TestParser_Aliases(t *testing.T) {
	a, err := Parse(KindPlan, "## Risk Assessment\n\nThe cache may go stale.\n")
	require.NoError(t, err)

	s, ok := a.Lookup("Risk Analysis")
	require.True(t, ok)
	assert.Equal(t, "Risk Assessment", s.Name)
	assert.Equal(t, "risk analysis", s.Canonical)
}

func TestParser_CustomSectionLevel(t *testing.T) {
	p := NewParser(HeadingConfig{SectionLevel: 3})

	a, err := p.Parse(KindPlan, "## Top\n\n### Child\n\nc\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"Top", "Child"}, a.SectionNames())
}

func TestLookup_Containment(t *testing.T) {
	a, err := Parse(KindPlan, "## 3. Constitution Check (Gate)\n\nok\n")
	require.NoError(t, err)

	s, ok := a.Lookup("Constitution Check")
	require.True(t, ok)
	assert.Equal(t, "ok", s.Content)

	_, ok = a.Lookup("")
	assert.False(t, ok)
}

func TestLookup_WordBoundaries(t *testing.T) {
	a, err := Parse(KindPlan, "## Out of Scope\n\nbilling\n\n## Rapid Prototyping\n\nx\n\n## API Design\n\nrest\n")
	require.NoError(t, err)

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"Scope", "", false},
		{"API", "API Design", true},
		{"api design", "API Design", true},
		{"Design", "", false},
		{"Rapid Proto", "", false},
		{"Out of", "Out of Scope", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := a.Lookup(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, s.Name)
		})
	}
}

func TestParseHeading(t *testing.T) {
	tests := []struct {
		line  string
		level int
		title string
		ok    bool
	}{
		{"# Title", 1, "Title", true},
		{"### Deep", 3, "Deep", true},
		{"   ## Indented", 2, "Indented", true},
		{"    ## Code", 0, "", false},
		{"####### Seven", 0, "", false},
		{"#NoSpace", 0, "", false},
		{"#", 0, "", false},
		{"## Closing ##", 2, "Closing", true},
		{"## C#", 2, "C#", true},
		{"plain text", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			level, title, ok := ParseHeading(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.level, level)
			assert.Equal(t, tt.title, title)
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Summary", "summary"},
		{"  Technical   Context ", "technical context"},
		{"1. **Technical Context**:", "technical context"},
		{"2.3) Risks", "risks"},
		{"`Project` Structure", "project structure"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKey(tt.in))
		})
	}
}

func TestSplitFrontmatter(t *testing.T) {
	fm, off := SplitFrontmatter("---\nkey: value\n---\nbody")
	assert.Equal(t, map[string]any{"key": "value"}, fm)
	assert.Equal(t, "body", "---\nkey: value\n---\nbody"[off:])

	fm, off = SplitFrontmatter("---\nunterminated: true\n")
	assert.Nil(t, fm)
	assert.Zero(t, off)

	fm, off = SplitFrontmatter("no frontmatter")
	assert.Nil(t, fm)
	assert.Zero(t, off)
}

func TestKindFromPath(t *testing.T) {
	k, ok := KindFromPath("/work/specs/001/plan.md")
	assert.True(t, ok)
	assert.Equal(t, KindPlan, k)

	k, ok = KindFromPath("Constitution.HTML")
	assert.True(t, ok)
	assert.Equal(t, KindConstitution, k)

	_, ok = KindFromPath("notes.md")
	assert.False(t, ok)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Tasks ")
	require.NoError(t, err)
	assert.Equal(t, KindTasks, k)

	_, err = ParseKind("roadmap")
	assert.Error(t, err)
}

func TestArtifact_LineAt(t *testing.T) {
	a := &Artifact{Raw: "a\nb\nc"}
	assert.Equal(t, 1, a.LineAt(0))
	assert.Equal(t, 2, a.LineAt(2))
	assert.Equal(t, 3, a.LineAt(100))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.md")
	require.NoError(t, os.WriteFile(path, []byte("## Summary\n\nhello\n"), 0644))

	a, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, KindPlan, a.Kind)
	assert.Equal(t, path, a.Path)

	other := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(other, []byte("## Summary\n"), 0644))
	_, err = Load(other, "")
	assert.Error(t, err)

	a, err = Load(other, KindResearch)
	require.NoError(t, err)
	assert.Equal(t, KindResearch, a.Kind)

	_, err = Load(filepath.Join(dir, "missing.md"), KindPlan)
	assert.Error(t, err)
}
