// Package config provides configuration loading and management for semgate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/significance"
	"github.com/c360studio/semgate/validation"
)

// Storage backends.
const (
	BackendFile = "file"
	BackendNATS = "nats"
)

// Config represents the complete semgate configuration
type Config struct {
	LogLevel     string                 `yaml:"log_level"`
	Project      ProjectConfig          `yaml:"project"`
	Headings     document.HeadingConfig `yaml:"headings"`
	Validation   ValidationConfig       `yaml:"validation"`
	Significance SignificanceConfig     `yaml:"significance"`
	Constitution ConstitutionConfig     `yaml:"constitution"`
	Storage      StorageConfig          `yaml:"storage"`
	NATS         NATSConfig             `yaml:"nats"`
	Metrics      MetricsConfig          `yaml:"metrics"`
}

// ProjectConfig configures the project settings
type ProjectConfig struct {
	// Root is the project root path (auto-detected from git if empty).
	// Relative paths elsewhere in the config resolve against it.
	Root string `yaml:"root"`
}

// ValidationConfig configures plan validation
type ValidationConfig struct {
	// RequiredSections are checked at the design gate (default: the plan template sections)
	RequiredSections []string `yaml:"required_sections"`
	// Sentinels replace the built-in placeholder markers when set
	Sentinels []string `yaml:"sentinels,omitempty"`
	// RequiredFields replace the built-in labelled field checks when set
	RequiredFields []validation.FieldRequirement `yaml:"required_fields,omitempty"`
}

// SignificanceConfig configures the decision significance test
type SignificanceConfig struct {
	// VocabularyFile is a YAML file overriding parts of the built-in vocabulary
	VocabularyFile string `yaml:"vocabulary_file,omitempty"`
	// CrossCuttingSections are headings whose statements are cross-cutting by placement
	CrossCuttingSections []string `yaml:"cross_cutting_sections,omitempty"`
}

// ConstitutionConfig configures shared rule files
type ConstitutionConfig struct {
	// RuleFiles are YAML or JSON rule files shared by every feature
	RuleFiles []string `yaml:"rule_files,omitempty"`
	// Watch reloads rule files on change while serving
	Watch bool `yaml:"watch"`
	// Debounce is how long to wait for more writes before reloading
	Debounce time.Duration `yaml:"debounce"`
	// JustificationSection is where plans justify rule violations
	JustificationSection string `yaml:"justification_section"`
}

// StorageConfig configures where features and decisions are kept
type StorageConfig struct {
	// Backend is "file" or "nats"
	Backend string `yaml:"backend"`
	// Root is the file store directory
	Root string `yaml:"root"`
	// DecisionDB is the SQLite decision log path
	DecisionDB string `yaml:"decision_db"`
	// ADRDir is where confirmed decisions are written
	ADRDir string `yaml:"adr_dir"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = no NATS)
	URL string `yaml:"url"`
	// SubjectPrefix roots lifecycle event subjects, published whenever a URL is set
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus listener
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Headings: document.DefaultHeadingConfig(),
		Validation: ValidationConfig{
			RequiredSections: slices.Clone(validation.DefaultRequiredSections),
		},
		Constitution: ConstitutionConfig{
			Debounce:             constitution.DefaultDebounce,
			JustificationSection: constitution.DefaultJustificationSection,
		},
		Storage: StorageConfig{
			Backend:    BackendFile,
			Root:       ".semgate",
			DecisionDB: ".semgate/decisions.db",
			ADRDir:     "docs/adr",
		},
		NATS: NATSConfig{
			SubjectPrefix: "semgate",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error: got %q", c.LogLevel)
	}
	if c.Headings.SectionLevel < 1 || c.Headings.SectionLevel > 6 {
		return fmt.Errorf("headings.section_level must be between 1 and 6")
	}
	if len(c.Validation.RequiredSections) == 0 {
		return fmt.Errorf("validation.required_sections must not be empty")
	}
	if c.Constitution.Debounce < 0 {
		return fmt.Errorf("constitution.debounce must not be negative")
	}
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the file backend")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q: got %q", BackendFile, BackendNATS, c.Storage.Backend)
	}
	if c.Storage.DecisionDB == "" {
		return fmt.Errorf("storage.decision_db is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadLayer reads a file without defaults so Merge only sees what it sets.
func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Project.Root != "" {
		c.Project.Root = other.Project.Root
	}

	// Headings
	if other.Headings.SectionLevel != 0 {
		c.Headings.SectionLevel = other.Headings.SectionLevel
	}
	if len(other.Headings.Aliases) > 0 {
		c.Headings.Aliases = other.Headings.Aliases
	}

	// Validation
	if len(other.Validation.RequiredSections) > 0 {
		c.Validation.RequiredSections = other.Validation.RequiredSections
	}
	if len(other.Validation.Sentinels) > 0 {
		c.Validation.Sentinels = other.Validation.Sentinels
	}
	if other.Validation.RequiredFields != nil {
		c.Validation.RequiredFields = other.Validation.RequiredFields
	}

	// Significance
	if other.Significance.VocabularyFile != "" {
		c.Significance.VocabularyFile = other.Significance.VocabularyFile
	}
	if len(other.Significance.CrossCuttingSections) > 0 {
		c.Significance.CrossCuttingSections = other.Significance.CrossCuttingSections
	}

	// Constitution
	if len(other.Constitution.RuleFiles) > 0 {
		c.Constitution.RuleFiles = other.Constitution.RuleFiles
	}
	if other.Constitution.Watch {
		c.Constitution.Watch = true
	}
	if other.Constitution.Debounce != 0 {
		c.Constitution.Debounce = other.Constitution.Debounce
	}
	if other.Constitution.JustificationSection != "" {
		c.Constitution.JustificationSection = other.Constitution.JustificationSection
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.Root != "" {
		c.Storage.Root = other.Storage.Root
	}
	if other.Storage.DecisionDB != "" {
		c.Storage.DecisionDB = other.Storage.DecisionDB
	}
	if other.Storage.ADRDir != "" {
		c.Storage.ADRDir = other.Storage.ADRDir
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}

// Resolve returns path relative to the project root unless it is absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Project.Root == "" {
		return path
	}
	return filepath.Join(c.Project.Root, path)
}

// Parser builds the document parser for the configured headings.
func (c *Config) Parser() *document.Parser {
	return document.NewParser(c.Headings)
}

// Validator builds the plan validator.
func (c *Config) Validator() (*validation.Validator, error) {
	return validation.NewValidator(validation.Config{
		Sentinels:      c.Validation.Sentinels,
		RequiredFields: c.Validation.RequiredFields,
	})
}

// Gate builds the gate evaluator.
func (c *Config) Gate() constitution.Evaluator {
	return constitution.Evaluator{JustificationSection: c.Constitution.JustificationSection}
}

// Evaluator builds the significance evaluator. A vocabulary file overrides
// the built-in vocabulary key by key.
func (c *Config) Evaluator() (*significance.Evaluator, error) {
	vocab := significance.DefaultVocabulary()
	if c.Significance.VocabularyFile != "" {
		path := c.Resolve(c.Significance.VocabularyFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read vocabulary file: %w", err)
		}
		if err := yaml.Unmarshal(data, &vocab); err != nil {
			return nil, fmt.Errorf("failed to parse vocabulary file %s: %w", path, err)
		}
	}
	if len(c.Significance.CrossCuttingSections) > 0 {
		vocab.CrossCuttingSections = c.Significance.CrossCuttingSections
	}
	return significance.NewEvaluator(vocab)
}

// RuleFiles returns the resolved rule file paths.
func (c *Config) RuleFiles() []string {
	paths := make([]string, 0, len(c.Constitution.RuleFiles))
	for _, p := range c.Constitution.RuleFiles {
		paths = append(paths, c.Resolve(p))
	}
	return paths
}

// Rules loads the shared rule files.
func (c *Config) Rules() (*constitution.RuleSet, error) {
	return constitution.LoadFiles(c.RuleFiles()...)
}
