package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads and parses an artifact from disk. When kind is empty it is
// inferred from the filename. Files ending in .html or .htm are converted
// to markdown first.
func (p *Parser) Load(path string, kind Kind) (*Artifact, error) {
	if kind == "" {
		k, ok := KindFromPath(path)
		if !ok {
			return nil, fmt.Errorf("cannot infer artifact kind from %q", filepath.Base(path))
		}
		kind = k
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var a *Artifact
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		a, err = p.FromHTML(kind, content)
	default:
		a, err = p.Parse(kind, string(content))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.Path = path
	return a, nil
}

// Load reads an artifact with the default heading vocabulary.
func Load(path string, kind Kind) (*Artifact, error) {
	return defaultParser.Load(path, kind)
}
