// Package extract scans design prose for decision-like statements and
// classifies each one with the significance evaluator.
package extract

import (
	"iter"
	"regexp"
	"sort"
	"strings"

	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/significance"
)

var (
	// decisionRe marks sentences with decision or comparison language.
	decisionRe = regexp.MustCompile(`(?i)\b(?:chose|choose|chosen|choosing|select(?:ed|ing)?|picked|opt(?:ed|ing)? for|decided?|decision|went with|go(?:ing)? with|settled on|adopt(?:ed|ing)?|prefer(?:red)?|instead of|rather than|versus|vs|compared (?:to|with)|alternatives?|trade-?offs?|in favou?r of|replac(?:e|ed|ing)|migrat(?:e|ed|ing) (?:to|from)|switch(?:ed|ing)? (?:to|from)|standardi[sz]e on|will use)\b`)

	// leadInRe marks a line that introduces an option list.
	leadInRe = regexp.MustCompile(`(?i)\b(?:options?|alternatives?|approaches|choices|candidates|considered|evaluated|compared)\b`)

	listItemRe   = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+\S`)
	bulletRe     = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	optionLineRe = regexp.MustCompile(`(?i)^\s*\**(?:option|alternative|approach)\s+\w+\**\s*[:.)\-]`)
	sentenceEnd  = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
	abbrevRe     = regexp.MustCompile(`(?i)\b(?:vs|e\.g|i\.e|etc|approx|incl)\.$`)
)

// Extractor finds candidate spans and runs them through an evaluator.
type Extractor struct {
	evaluator  *significance.Evaluator
	components []string
}

// New creates an extractor. A nil evaluator uses the default vocabulary.
// components are passed to the evaluator as the feature's named components.
func New(evaluator *significance.Evaluator, components []string) *Extractor {
	if evaluator == nil {
		evaluator = significance.Default()
	}
	return &Extractor{evaluator: evaluator, components: components}
}

// Extract scans text with the default extractor.
func Extract(text string) iter.Seq[significance.Candidate] {
	return New(nil, nil).Extract(text)
}

// Extract lazily yields candidates in document order. Headings open
// sections the way the default parser does; deeper headings only break
// paragraphs. Frontmatter and fenced code are skipped. Overlapping spans
// within a paragraph are merged, longest first; spans with the same
// normalized text are yielded once. The scan reads text only; iterating
// again rescans the same text.
func (x *Extractor) Extract(text string) iter.Seq[significance.Candidate] {
	_, offset := document.SplitFrontmatter(text)
	return x.scan(text, offset, sectionLevel(text, offset), nil)
}

// ExtractArtifact scans a parsed artifact. Candidates carry the name of the
// parsed section they sit in, so sub-headings below the section level do not
// rename it.
func (x *Extractor) ExtractArtifact(a *document.Artifact) iter.Seq[significance.Candidate] {
	level := 0
	names := make(map[string]string, len(a.Sections))
	for _, sec := range a.Sections {
		level = max(level, sec.Level)
		names[sec.Key] = sec.Name
	}
	return x.scan(a.Raw, a.BodyOffset, level, func(title string) string {
		if name, ok := names[document.NormalizeKey(title)]; ok {
			return name
		}
		return title
	})
}

func (x *Extractor) scan(text string, offset, level int, name func(string) string) iter.Seq[significance.Candidate] {
	return func(yield func(significance.Candidate) bool) {
		seen := make(map[string]bool)
		for p := range paragraphs(text, offset, level, name) {
			for _, sp := range mergeSpans(spansIn(text, p)) {
				raw := text[sp.Start:sp.End]
				key := strings.ToLower(strings.Join(strings.Fields(raw), " "))
				if seen[key] {
					continue
				}
				seen[key] = true

				c := x.evaluator.Test(raw, significance.Context{
					Section:    p.section,
					Components: x.components,
				})
				c.Span = sp
				if !yield(c) {
					return
				}
			}
		}
	}
}

// Collect drains a candidate sequence into a slice.
func Collect(seq iter.Seq[significance.Candidate]) []significance.Candidate {
	out := []significance.Candidate{}
	for c := range seq {
		out = append(out, c)
	}
	return out
}

// paragraph is a run of non-blank prose lines under one heading.
type paragraph struct {
	section string
	lines   []document.Line
}

// sectionLevel is the deepest heading level that opens a section when no
// parsed artifact is at hand: the default level, or the shallowest heading
// if every heading is deeper.
func sectionLevel(text string, offset int) int {
	shallowest := 0
	inFence := false
	for _, ln := range document.Lines(text, offset) {
		if document.IsCodeFence(ln.Text) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if lvl, _, ok := document.ParseHeading(ln.Text); ok && (shallowest == 0 || lvl < shallowest) {
			shallowest = lvl
		}
	}
	return max(document.DefaultSectionLevel, shallowest)
}

// paragraphs yields prose paragraphs. Headings at or above level set the
// section, named through name when it is not nil.
func paragraphs(text string, offset, level int, name func(string) string) iter.Seq[paragraph] {
	return func(yield func(paragraph) bool) {
		var cur paragraph
		section := ""
		inFence := false

		flush := func() bool {
			if len(cur.lines) == 0 {
				return true
			}
			p := cur
			cur = paragraph{section: section}
			return yield(p)
		}

		for _, ln := range document.Lines(text, offset) {
			switch {
			case document.IsCodeFence(ln.Text):
				if !flush() {
					return
				}
				inFence = !inFence
			case inFence:
			case strings.TrimSpace(ln.Text) == "":
				if !flush() {
					return
				}
			default:
				if lvl, title, ok := document.ParseHeading(ln.Text); ok {
					if !flush() {
						return
					}
					if lvl <= level {
						section = title
						if name != nil {
							section = name(title)
						}
						cur.section = section
					}
					continue
				}
				cur.section = section
				cur.lines = append(cur.lines, ln)
			}
		}
		flush()
	}
}

// spansIn returns every candidate span of a paragraph, possibly overlapping.
func spansIn(text string, p paragraph) []significance.Span {
	var spans []significance.Span

	if block, ok := optionBlock(p); ok {
		spans = append(spans, block)
	}

	// Each list item is its own unit; wrapped prose lines join into one.
	var units [][]document.Line
	for _, ln := range p.lines {
		if listItemRe.MatchString(ln.Text) || optionLineRe.MatchString(ln.Text) || len(units) == 0 {
			units = append(units, []document.Line{ln})
			continue
		}
		units[len(units)-1] = append(units[len(units)-1], ln)
	}

	for _, u := range units {
		start, end := u[0].Start, u[len(u)-1].End()
		if loc := bulletRe.FindStringIndex(u[0].Text); loc != nil {
			start += loc[1]
		}
		for _, s := range sentences(text, start, end) {
			if decisionRe.MatchString(text[s.Start:s.End]) {
				spans = append(spans, s)
			}
		}
	}
	return spans
}

// optionBlock spans a paragraph that is an option list: two or more list or
// "Option N:" lines, introduced by a lead-in line or labelled as options.
func optionBlock(p paragraph) (significance.Span, bool) {
	items, labelled := 0, 0
	for _, ln := range p.lines {
		switch {
		case optionLineRe.MatchString(ln.Text):
			items++
			labelled++
		case listItemRe.MatchString(ln.Text):
			items++
		}
	}
	if items < 2 {
		return significance.Span{}, false
	}

	first := p.lines[0]
	leadIn := !listItemRe.MatchString(first.Text) && !optionLineRe.MatchString(first.Text) &&
		(leadInRe.MatchString(first.Text) || decisionRe.MatchString(first.Text))
	if !leadIn && labelled < 2 {
		return significance.Span{}, false
	}
	return significance.Span{Start: first.Start, End: p.lines[len(p.lines)-1].End()}, true
}

// sentences splits text[start:end] into trimmed sentence spans.
func sentences(text string, start, end int) []significance.Span {
	var out []significance.Span
	seg := text[start:end]
	from := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(seg, -1) {
		stop := loc[0] + len(strings.TrimRight(seg[loc[0]:loc[1]], " \t\r\n"))
		if abbrevRe.MatchString(seg[from:stop]) && loc[1] < len(seg) {
			continue
		}
		if sp, ok := trimmed(text, start+from, start+stop); ok {
			out = append(out, sp)
		}
		from = loc[1]
	}
	if sp, ok := trimmed(text, start+from, end); ok {
		out = append(out, sp)
	}
	return out
}

func trimmed(text string, start, end int) (significance.Span, bool) {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	if start >= end {
		return significance.Span{}, false
	}
	return significance.Span{Start: start, End: end}, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// mergeSpans keeps the longest of any overlapping spans and returns the
// survivors in document order.
func mergeSpans(spans []significance.Span) []significance.Span {
	sort.SliceStable(spans, func(i, j int) bool {
		li, lj := spans[i].End-spans[i].Start, spans[j].End-spans[j].Start
		if li != lj {
			return li > lj
		}
		return spans[i].Start < spans[j].Start
	})

	var kept []significance.Span
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.Start < k.End && k.Start < s.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
