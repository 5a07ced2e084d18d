package document

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SplitFrontmatter separates YAML frontmatter from the body. It returns the
// decoded map (nil when absent) and the byte offset where the body begins.
// If the frontmatter block is unterminated or not valid YAML, the whole text
// is treated as body.
func SplitFrontmatter(content string) (map[string]any, int) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return nil, 0
	}
	fm, bodyStart, err := extractFrontmatter(content)
	if err != nil {
		return nil, 0
	}
	return fm, bodyStart
}

// extractFrontmatter parses the YAML block between the opening and closing
// "---" delimiters.
func extractFrontmatter(content string) (map[string]any, int, error) {
	const delimiter = "---"

	start := len(delimiter)
	if len(content) > start && content[start] == '\r' {
		start++
	}
	if len(content) > start && content[start] == '\n' {
		start++
	}

	closeIdx := strings.Index(content[start:], "\n"+delimiter)
	if closeIdx == -1 {
		return nil, 0, fmt.Errorf("no closing frontmatter delimiter")
	}

	yamlContent := content[start : start+closeIdx]

	bodyStart := start + closeIdx + 1 + len(delimiter)
	for bodyStart < len(content) && (content[bodyStart] == '\n' || content[bodyStart] == '\r') {
		bodyStart++
	}

	var frontmatter map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &frontmatter); err != nil {
		return nil, 0, fmt.Errorf("parse YAML frontmatter: %w", err)
	}

	return frontmatter, bodyStart, nil
}
