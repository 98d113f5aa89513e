package yaml

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

// ConfigEnv names a configuration file when no flag is given
const ConfigEnv = "PKGAUDIT_CONFIG"

// LocalConfigFile is looked up in the working directory
const LocalConfigFile = "pkgaudit.yml"

// ConfigLoader locates and parses the configuration file
type ConfigLoader struct {
	parser *ConfigParser
	getenv func(string) string
}

// NewConfigLoader creates a loader reading the process environment
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		parser: NewConfigParser(),
		getenv: os.Getenv,
	}
}

// FindConfigFile returns the configuration file to use. An explicit path
// from the flag or PKGAUDIT_CONFIG must exist; the implicit locations are
// skipped when missing. An empty result means built-in defaults.
func (l *ConfigLoader) FindConfigFile(flagPath string) (string, error) {
	for _, explicit := range []string{flagPath, l.getenv(ConfigEnv)} {
		if explicit == "" {
			continue
		}
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}

	for _, candidate := range l.implicitPaths() {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("config file: %w", err)
		}
	}
	return "", nil
}

// Load finds and parses the configuration, returning the file used
func (l *ConfigLoader) Load(flagPath string) (*entities.AuditConfig, string, error) {
	path, err := l.FindConfigFile(flagPath)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return entities.DefaultAuditConfig(), "", nil
	}

	cfg, err := l.parser.ParseFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func (l *ConfigLoader) implicitPaths() []string {
	paths := []string{LocalConfigFile}

	configHome := l.getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home := l.getenv("HOME"); home != "" {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		paths = append(paths, filepath.Join(configHome, "pkgaudit", "config.yml"))
	}
	return paths
}
