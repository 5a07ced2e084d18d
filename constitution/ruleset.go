package constitution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semgate/document"
)

// RulesSection is the constitution heading that carries fenced rule blocks.
const RulesSection = "Rules"

// RuleSet is an ordered, immutable collection of rules with unique ids.
type RuleSet struct {
	rules    []Rule
	byID     map[string]int
	patterns map[string]*regexp.Regexp
}

// NewRuleSet validates rules and builds a set. Identical duplicates collapse
// into one; the same id with a different definition is a *RuleConflictError.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	s := &RuleSet{
		byID:     make(map[string]int, len(rules)),
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, r := range rules {
		if err := s.add(r, ""); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *RuleSet) add(r Rule, source string) error {
	r = r.normalized()
	re, err := r.compile()
	if err != nil {
		return err
	}
	if at, ok := s.byID[r.ID]; ok {
		if s.rules[at].Equal(r) {
			return nil
		}
		return &RuleConflictError{ID: r.ID, Existing: s.rules[at], Incoming: r, Source: source}
	}
	r.Predicate.Sections = slices.Clone(r.Predicate.Sections)
	s.byID[r.ID] = len(s.rules)
	s.rules = append(s.rules, r)
	if re != nil {
		s.patterns[r.ID] = re
	}
	return nil
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns a copy of the rules in set order.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	return slices.Clone(s.rules)
}

// Get returns the rule with the given id.
func (s *RuleSet) Get(id string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	at, ok := s.byID[id]
	if !ok {
		return Rule{}, false
	}
	return s.rules[at], true
}

// Merge returns a new set holding the rules of s followed by those of other.
func (s *RuleSet) Merge(other *RuleSet) (*RuleSet, error) {
	merged, _ := NewRuleSet()
	for _, src := range []*RuleSet{s, other} {
		for _, r := range src.Rules() {
			if err := merged.add(r, ""); err != nil {
				return nil, err
			}
		}
	}
	return merged, nil
}

// ruleSpec is the on-disk shape of one rule.
type ruleSpec struct {
	Category    string   `yaml:"category" json:"category"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Metric      string   `yaml:"metric,omitempty" json:"metric,omitempty"`
	Operator    string   `yaml:"operator,omitempty" json:"operator,omitempty"`
	Threshold   float64  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Pattern     string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Expect      string   `yaml:"expect,omitempty" json:"expect,omitempty"`
	Sections    []string `yaml:"sections,omitempty" json:"sections,omitempty"`
	Severity    string   `yaml:"severity,omitempty" json:"severity,omitempty"`
}

func (rs ruleSpec) rule(id string) Rule {
	return Rule{
		ID:          id,
		Category:    Category(rs.Category),
		Description: rs.Description,
		Severity:    Severity(rs.Severity),
		Predicate: Predicate{
			Metric:    rs.Metric,
			Operator:  Operator(rs.Operator),
			Threshold: rs.Threshold,
			Pattern:   rs.Pattern,
			Expect:    Expectation(rs.Expect),
			Sections:  rs.Sections,
		},
	}
}

type namedSpec struct {
	id   string
	spec ruleSpec
}

// orderedRules decodes a rule-id mapping while keeping document order.
type orderedRules []namedSpec

// UnmarshalYAML walks the mapping node pairwise so that file order becomes
// rule-set order.
func (o *orderedRules) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("rules must be a mapping of id to rule, got line %d", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var spec ruleSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("rule %s: %w", node.Content[i].Value, err)
		}
		*o = append(*o, namedSpec{id: node.Content[i].Value, spec: spec})
	}
	return nil
}

// UnmarshalJSON walks the object token by token so that file order becomes
// rule-set order and a repeated id reaches the conflict check.
func (o *orderedRules) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("rules must be an object of id to rule, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("rule id must be a string, got %v", tok)
		}
		var spec ruleSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("rule %s: %w", id, err)
		}
		*o = append(*o, namedSpec{id: id, spec: spec})
	}
	_, err = dec.Token()
	return err
}

// File is the rule file format.
type File struct {
	Version string       `yaml:"version" json:"version"`
	Rules   orderedRules `yaml:"rules" json:"rules"`
}

func (f File) build(s *RuleSet, source string) error {
	for _, ns := range f.Rules {
		if err := s.add(ns.spec.rule(ns.id), source); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads a YAML or JSON rule file, chosen by extension.
func LoadFile(path string) (*RuleSet, error) {
	return LoadFiles(path)
}

// LoadFiles reads and merges rule files in order. A rule id defined
// differently in two files is a *RuleConflictError.
func LoadFiles(paths ...string) (*RuleSet, error) {
	s, _ := NewRuleSet()
	for _, path := range paths {
		f, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := f.build(s, path); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return s, nil
}

func readFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read rule file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return f, fmt.Errorf("parse YAML %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return f, fmt.Errorf("parse JSON %s: %w", path, err)
		}
	default:
		return f, fmt.Errorf("unsupported rule file format: %s", ext)
	}
	return f, nil
}

// FromArtifact reads rules from fenced yaml blocks in the constitution's
// Rules section. Each block holds either a File document or a bare id
// mapping. A constitution without a Rules section yields an empty set.
func FromArtifact(a *document.Artifact) (*RuleSet, error) {
	s, _ := NewRuleSet()
	sec, ok := a.Lookup(RulesSection)
	if !ok {
		return s, nil
	}

	for i, block := range yamlBlocks(sec.Content) {
		source := fmt.Sprintf("%s rules block %d", a.Kind, i+1)

		var f File
		err := yaml.Unmarshal([]byte(block), &f)
		if err != nil || len(f.Rules) == 0 {
			var bare orderedRules
			if bareErr := yaml.Unmarshal([]byte(block), &bare); bareErr != nil {
				return nil, fmt.Errorf("%s: %w", source, errors.Join(err, bareErr))
			}
			f = File{Rules: bare}
		}
		if err := f.build(s, source); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// yamlBlocks returns the bodies of ```yaml / ```yml fenced blocks.
func yamlBlocks(content string) []string {
	var blocks []string
	var cur []string
	inBlock, capture := false, false
	for _, ln := range strings.Split(content, "\n") {
		if document.IsCodeFence(ln) {
			if inBlock {
				if capture {
					blocks = append(blocks, strings.Join(cur, "\n"))
				}
				inBlock, capture, cur = false, false, nil
				continue
			}
			inBlock = true
			info := strings.ToLower(strings.TrimLeft(strings.TrimSpace(ln), "`~"))
			capture = info == "yaml" || info == "yml"
			continue
		}
		if inBlock && capture {
			cur = append(cur, ln)
		}
	}
	return blocks
}
