// Package adr writes numbered architecture decision records for decision
// candidates a human has confirmed.
package adr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semgate/decisionlog"
	"github.com/c360studio/semgate/significance"
)

// DefaultDir is where records are written relative to the project root.
const DefaultDir = "docs/adr"

// ErrNotConfirmed is returned for an entry no human has confirmed.
var ErrNotConfirmed = errors.New("decision is not confirmed")

var (
	fileRe = regexp.MustCompile(`^ADR-(\d{3,})(?:-.*)?\.md$`)
	slugRe = regexp.MustCompile(`[^a-z0-9]+`)
)

const maxSlugLen = 48

// Writer numbers and writes records into one directory.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// NewWriter creates a writer for dir. Empty dir uses DefaultDir.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = DefaultDir
	}
	return &Writer{dir: dir}
}

// Write renders a confirmed entry as ADR-NNN-<slug>.md, numbered one past
// the highest record in the directory, and returns its path.
func (w *Writer) Write(e decisionlog.Entry) (string, error) {
	if e.Status != decisionlog.StatusConfirmed {
		return "", fmt.Errorf("%w: %s is %s", ErrNotConfirmed, e.ID, e.Status)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating adr directory: %w", err)
	}
	n, err := w.next()
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("ADR-%03d", n)
	if slug := Slug(e.Candidate.Text); slug != "" {
		name += "-" + slug
	}
	path := filepath.Join(w.dir, name+".md")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("writing ADR: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(Render(n, e)); err != nil {
		return "", fmt.Errorf("writing ADR: %w", err)
	}
	return path, nil
}

// next returns one past the highest existing record number.
func (w *Writer) next() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("reading adr directory: %w", err)
	}
	highest := 0
	for _, entry := range entries {
		m := fileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// Render builds the record's markdown.
func Render(n int, e decisionlog.Entry) string {
	c := e.Candidate
	var b strings.Builder

	heading := c.Title
	if heading == "" {
		heading = significance.DecisionTitle(c.Text)
	}
	fmt.Fprintf(&b, "# ADR-%03d: %s\n\n", n, heading)
	b.WriteString("**Status:** accepted\n")
	if e.DecidedAt != nil {
		fmt.Fprintf(&b, "**Date:** %s\n", e.DecidedAt.UTC().Format(time.DateOnly))
	}
	fmt.Fprintf(&b, "**Feature:** %s\n", e.FeatureID)
	if c.Section != "" {
		fmt.Fprintf(&b, "**Source section:** %s\n", c.Section)
	}
	b.WriteString("\n## Decision\n\n")
	b.WriteString(strings.TrimSpace(c.Text) + "\n")

	if len(c.Evidence.Options) > 0 {
		b.WriteString("\n## Options Considered\n\n")
		for _, o := range c.Evidence.Options {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}
	if len(c.Evidence.TradeOffs) > 0 {
		b.WriteString("\n## Trade-offs\n\n")
		for _, t := range c.Evidence.TradeOffs {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}

	b.WriteString("\n## Significance\n\n")
	cats := make([]string, 0, len(c.Evidence.Categories))
	for _, cat := range c.Evidence.Categories {
		cats = append(cats, string(cat))
	}
	fmt.Fprintf(&b, "- Impact: %s\n", strings.Join(cats, ", "))
	scope := c.Evidence.ScopeMarker
	if len(c.Evidence.Components) > 0 {
		scope = strings.Join(c.Evidence.Components, ", ")
	}
	fmt.Fprintf(&b, "- Scope: %s\n", scope)

	if e.Note != "" {
		b.WriteString("\n## Notes\n\n")
		b.WriteString(strings.TrimSpace(e.Note) + "\n")
	}
	return b.String()
}

// Slug derives a short file-name slug from decision text.
func Slug(text string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(text), "-"), "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
		if i := strings.LastIndex(s, "-"); i > maxSlugLen/2 {
			s = s[:i]
		}
	}
	return s
}
