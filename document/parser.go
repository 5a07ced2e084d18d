package document

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultSectionLevel is the deepest heading level that opens a section.
const DefaultSectionLevel = 2

// HeadingConfig is the heading vocabulary used while parsing.
type HeadingConfig struct {
	// SectionLevel is the deepest heading level that opens a new section.
	// Deeper headings remain part of the enclosing section's content. If a
	// document has no heading at or above this level, its shallowest heading
	// level is used instead.
	SectionLevel int `yaml:"section_level" json:"section_level"`

	// Aliases maps a canonical section name to alternative headings that
	// should be treated as the same section (e.g. "Risk Analysis" -> "Risks").
	Aliases map[string][]string `yaml:"aliases" json:"aliases,omitempty"`
}

// DefaultHeadingConfig returns the heading vocabulary used by plan templates.
func DefaultHeadingConfig() HeadingConfig {
	return HeadingConfig{
		SectionLevel: DefaultSectionLevel,
		Aliases: map[string][]string{
			"Risk Analysis":     {"Risks", "Risk Assessment"},
			"Decisions":         {"Key Decisions", "Architecture Decisions"},
			"Technical Context": {"Tech Context", "Technology Context"},
			"Interfaces":        {"External Interfaces", "APIs"},
		},
	}
}

// Parser splits raw text into artifacts using a heading vocabulary.
// A Parser is immutable after construction and safe for concurrent use.
type Parser struct {
	sectionLevel int
	aliases      map[string]string // normalized alias -> normalized canonical
}

// NewParser creates a parser for the given heading vocabulary.
func NewParser(cfg HeadingConfig) *Parser {
	level := cfg.SectionLevel
	if level <= 0 || level > 6 {
		level = DefaultSectionLevel
	}
	aliases := make(map[string]string)
	for canonical, alts := range cfg.Aliases {
		ck := NormalizeKey(canonical)
		for _, alt := range alts {
			if ak := NormalizeKey(alt); ak != "" && ak != ck {
				aliases[ak] = ck
			}
		}
	}
	return &Parser{sectionLevel: level, aliases: aliases}
}

var defaultParser = NewParser(DefaultHeadingConfig())

// Parse parses raw text with the default heading vocabulary.
func Parse(kind Kind, raw string) (*Artifact, error) {
	return defaultParser.Parse(kind, raw)
}

// Line is one physical line of an artifact with its position in the raw text.
type Line struct {
	Text  string // without the trailing newline
	Start int    // byte offset of the first character
	Next  int    // byte offset of the following line
	Num   int    // 1-based line number
}

// End returns the byte offset just past the line's text.
func (l Line) End() int { return l.Start + len(l.Text) }

// heading is a recognized ATX heading line.
type heading struct {
	Line
	level int
	title string
}

// Parse splits raw into sections. Parsing the same text twice yields equal
// artifacts; nothing outside the returned value is touched.
func (p *Parser) Parse(kind Kind, raw string) (*Artifact, error) {
	fm, bodyOffset := SplitFrontmatter(raw)
	a := &Artifact{
		Kind:        kind,
		Raw:         raw,
		Frontmatter: fm,
		BodyOffset:  bodyOffset,
		Sections:    []Section{},
	}

	headings := scanHeadings(raw, bodyOffset)
	if len(headings) == 0 {
		return nil, fmt.Errorf("%w: %s artifact has no headings", ErrMalformedDocument, kind)
	}

	level := p.sectionLevel
	shallowest := 6
	for _, h := range headings {
		shallowest = min(shallowest, h.level)
	}
	level = max(level, shallowest)

	var opening []heading
	for _, h := range headings {
		if h.level <= level {
			opening = append(opening, h)
		}
	}

	a.Preamble = strings.TrimSpace(raw[bodyOffset:opening[0].Start])

	index := make(map[string]int)
	for i, h := range opening {
		end := len(raw)
		if i+1 < len(opening) {
			end = opening[i+1].Start
		}
		contentStart := min(h.Next, end)
		seg := raw[contentStart:end]
		lead := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
		content := strings.TrimSpace(seg)

		key := NormalizeKey(h.title)
		if at, dup := index[key]; dup {
			existing := &a.Sections[at]
			switch {
			case existing.Content == "":
				existing.Content = content
			case content != "":
				existing.Content += "\n\n" + content
			}
			continue
		}

		index[key] = len(a.Sections)
		a.Sections = append(a.Sections, Section{
			Name:      h.title,
			Key:       key,
			Canonical: p.aliases[key],
			Level:     h.level,
			Line:      h.Num,
			Offset:    contentStart + lead,
			Content:   content,
		})
	}

	return a, nil
}

// scanHeadings returns every ATX heading outside fenced code blocks.
func scanHeadings(raw string, bodyOffset int) []heading {
	var out []heading
	inFence := false
	for _, ln := range Lines(raw, bodyOffset) {
		if IsCodeFence(ln.Text) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if level, title, ok := ParseHeading(ln.Text); ok {
			out = append(out, heading{Line: ln, level: level, title: title})
		}
	}
	return out
}

// Lines splits raw (from offset onward) into lines that remember their byte
// positions and 1-based line numbers.
func Lines(raw string, offset int) []Line {
	num := strings.Count(raw[:offset], "\n") + 1
	var out []Line
	for pos := offset; pos < len(raw); {
		end := strings.IndexByte(raw[pos:], '\n')
		next := len(raw)
		text := raw[pos:]
		if end >= 0 {
			text = raw[pos : pos+end]
			next = pos + end + 1
		}
		out = append(out, Line{Text: strings.TrimRight(text, "\r"), Start: pos, Next: next, Num: num})
		pos = next
		num++
	}
	return out
}

// IsCodeFence checks if a line opens or closes a fenced code block (``` or ~~~).
func IsCodeFence(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// ParseHeading recognizes an ATX heading: up to three spaces of indentation,
// one to six '#', then whitespace and a non-empty title. Closing '#'
// sequences are removed from the title.
func ParseHeading(s string) (level int, title string, ok bool) {
	indent := len(s) - len(strings.TrimLeft(s, " "))
	if indent > 3 {
		return 0, "", false
	}
	trimmed := s[indent:]
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title = strings.TrimSpace(rest)
	if stripped := strings.TrimRight(title, "#"); stripped != title && (stripped == "" || strings.HasSuffix(stripped, " ")) {
		title = strings.TrimSpace(stripped)
	}
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}
