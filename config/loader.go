package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Config file locations. The project file is the nearest semgate.yaml at or
// above the working directory.
const (
	ProjectConfigFile = "semgate.yaml"
	UserConfigDir     = ".config/semgate"
	UserConfigFile    = "config.yaml"
)

// EnvConfigPath names a config file merged last when Load gets no path.
const EnvConfigPath = "SEMGATE_CONFIG"

// layer is one config file the loader may merge.
type layer struct {
	name string
	path string

	// optional layers that are missing or broken are skipped.
	optional bool
	// anchorsRoot makes the file's directory the project root when no
	// layer set one.
	anchorsRoot bool
}

// Loader merges, in order: defaults, the user file, the project file and an
// explicit file. The project root falls back to the git top level, then to
// the working directory.
type Loader struct {
	logger *slog.Logger

	// workDir and home replace the process values when set.
	workDir string
	home    string

	sources []string
}

// NewLoader creates a loader that reports merged layers at debug level.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds the effective configuration. path is the explicit file; when
// empty, $SEMGATE_CONFIG is used if set. A missing or broken user file is
// skipped; any other layer that fails to load is an error.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	l.sources = nil

	root := ""
	for _, ly := range l.layers(path) {
		next, err := loadLayer(ly.path)
		if err != nil {
			if !ly.optional {
				return nil, fmt.Errorf("%s config: %w", ly.name, err)
			}
			if !errors.Is(err, os.ErrNotExist) {
				l.logger.Warn("Skipping broken config", "layer", ly.name, "path", ly.path, "error", err)
			}
			continue
		}
		cfg.Merge(next)
		l.sources = append(l.sources, ly.path)
		l.logger.Debug("Config merged", "layer", ly.name, "path", ly.path)
		if ly.anchorsRoot {
			root = filepath.Dir(ly.path)
		}
	}

	if cfg.Project.Root == "" {
		cfg.Project.Root = root
	}
	if cfg.Project.Root == "" {
		cfg.Project.Root = l.fallbackRoot()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sources returns the files merged by the last Load, lowest precedence first.
func (l *Loader) Sources() []string {
	return append([]string(nil), l.sources...)
}

func (l *Loader) layers(explicit string) []layer {
	var out []layer
	if user := l.userConfigPath(); user != "" {
		out = append(out, layer{name: "user", path: user, optional: true})
	}
	if project := l.findProjectConfig(); project != "" {
		out = append(out, layer{name: "project", path: project, anchorsRoot: true})
	}
	if explicit == "" {
		explicit = os.Getenv(EnvConfigPath)
	}
	if explicit != "" {
		out = append(out, layer{name: "explicit", path: explicit, anchorsRoot: true})
	}
	return out
}

// EnsureUserConfig writes a default user file unless one exists.
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if path == "" {
		return errors.New("no home directory for user config")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("Created default user config", "path", path)
	return nil
}

func (l *Loader) getwd() (string, error) {
	if l.workDir != "" {
		return l.workDir, nil
	}
	return os.Getwd()
}

func (l *Loader) userConfigPath() string {
	home := l.home
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig walks up from the working directory.
func (l *Loader) findProjectConfig() string {
	dir, err := l.getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (l *Loader) fallbackRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = l.workDir
	if out, err := cmd.Output(); err == nil {
		root := strings.TrimSpace(string(out))
		l.logger.Debug("Project root from git", "path", root)
		return root
	}
	cwd, err := l.getwd()
	if err != nil {
		return ""
	}
	l.logger.Debug("Project root from working directory", "path", cwd)
	return cwd
}
