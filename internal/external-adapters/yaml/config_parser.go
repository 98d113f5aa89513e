// Package yaml provides YAML-based configuration parsing and discovery.
package yaml

import (
	"fmt"
	"os"
	"time"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

// yamlConfig represents the raw YAML structure
type yamlConfig struct {
	Sandbox  yamlSandbox  `yaml:"sandbox"`
	Manifest yamlManifest `yaml:"manifest"`
	Steps    yamlSteps    `yaml:"steps"`
	Output   yamlOutput   `yaml:"output"`
	Report   yamlReport   `yaml:"report"`
	Session  yamlSession  `yaml:"session"`
	Logging  yamlLogging  `yaml:"logging"`
	Server   yamlServer   `yaml:"server"`
}

type yamlSandbox struct {
	Backend      string            `yaml:"backend"`
	Root         string            `yaml:"root"`
	ShareNetwork bool              `yaml:"share_network"`
	ROBinds      []string          `yaml:"ro_binds"`
	Env          map[string]string `yaml:"env,omitempty"`
}

type yamlManifest struct {
	Path    string `yaml:"path"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type yamlSteps struct {
	Install   yamlStep `yaml:"install"`
	Configure yamlStep `yaml:"configure"`
	Audit     yamlStep `yaml:"audit"`
}

type yamlStep struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,flow"`
	Timeout string   `yaml:"timeout,omitempty"` // Go duration, e.g. "10m"
}

type yamlOutput struct {
	MaxBytes           int    `yaml:"max_bytes"`
	ArchiveCompression string `yaml:"archive_compression"`
}

type yamlReport struct {
	FailOn            string `yaml:"fail_on,omitempty"`
	SignKey           string `yaml:"sign_key,omitempty"`
	SignPassphraseEnv string `yaml:"sign_passphrase_env,omitempty"`
}

type yamlSession struct {
	MaxRuns int `yaml:"max_runs"`
}

type yamlLogging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type yamlServer struct {
	Addr string `yaml:"addr"`
}

// ConfigParser parses YAML configuration files
type ConfigParser struct{}

// NewConfigParser creates a new YAML parser
func NewConfigParser() *ConfigParser {
	return &ConfigParser{}
}

// ParseFile parses a YAML configuration file
func (p *ConfigParser) ParseFile(filePath string) (*entities.AuditConfig, error) {
	//nolint:gosec // G304: filePath is the user-selected configuration file
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	cfg, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return cfg, nil
}

// Parse parses YAML bytes over the built-in defaults. Keys missing from
// the document keep their default values.
func (p *ConfigParser) Parse(data []byte) (*entities.AuditConfig, error) {
	raw := fromEntity(entities.DefaultAuditConfig())
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg, err := raw.toEntity()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders a configuration as YAML
func (p *ConfigParser) Marshal(cfg *entities.AuditConfig) ([]byte, error) {
	data, err := yaml.Marshal(fromEntity(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to render YAML: %w", err)
	}
	return data, nil
}

// Validate checks the values a configuration must satisfy
func Validate(cfg *entities.AuditConfig) error {
	switch cfg.Sandbox.Backend {
	case entities.BackendLocal, entities.BackendBwrap:
	default:
		return fmt.Errorf("sandbox.backend: unknown backend %q (want local or bwrap)", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.Root == "" {
		return fmt.Errorf("sandbox.root must not be empty")
	}
	if cfg.Manifest.Path == "" {
		return fmt.Errorf("manifest.path must not be empty")
	}

	for _, step := range entities.Steps {
		command, ok := cfg.Steps[step]
		if !ok || command.Command == "" {
			return fmt.Errorf("steps.%s.command must not be empty", step)
		}
		if command.Timeout < 0 {
			return fmt.Errorf("steps.%s.timeout must not be negative", step)
		}
	}

	if cfg.Output.MaxBytes <= 0 {
		return fmt.Errorf("output.max_bytes must be positive")
	}
	switch cfg.Output.ArchiveCompression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("output.archive_compression: unknown codec %q (want none, lz4 or zstd)", cfg.Output.ArchiveCompression)
	}

	if cfg.Report.FailOn != "" && !cfg.Report.FailOn.Valid() {
		return fmt.Errorf("report.fail_on: unknown severity %q", cfg.Report.FailOn)
	}
	if cfg.Session.MaxRuns <= 0 {
		return fmt.Errorf("session.max_runs must be positive")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}
	return nil
}

func (y yamlConfig) toEntity() (*entities.AuditConfig, error) {
	install, err := y.Steps.Install.toEntity(entities.StepInstall)
	if err != nil {
		return nil, err
	}
	configure, err := y.Steps.Configure.toEntity(entities.StepConfigure)
	if err != nil {
		return nil, err
	}
	audit, err := y.Steps.Audit.toEntity(entities.StepAudit)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(y.Sandbox.Env))
	for k, v := range y.Sandbox.Env {
		env[k] = v
	}

	return &entities.AuditConfig{
		Sandbox: entities.SandboxConfig{
			Backend:      y.Sandbox.Backend,
			Root:         y.Sandbox.Root,
			ShareNetwork: y.Sandbox.ShareNetwork,
			ROBinds:      y.Sandbox.ROBinds,
			Env:          env,
		},
		Manifest: entities.ManifestConfig{
			Path:    y.Manifest.Path,
			Name:    y.Manifest.Name,
			Version: y.Manifest.Version,
		},
		Steps: map[entities.Step]entities.StepCommand{
			entities.StepInstall:   install,
			entities.StepConfigure: configure,
			entities.StepAudit:     audit,
		},
		Output: entities.OutputConfig{
			MaxBytes:           y.Output.MaxBytes,
			ArchiveCompression: y.Output.ArchiveCompression,
		},
		Report: entities.ReportConfig{
			FailOn:            entities.Severity(y.Report.FailOn),
			SignKey:           y.Report.SignKey,
			SignPassphraseEnv: y.Report.SignPassphraseEnv,
		},
		Session: entities.SessionConfig{MaxRuns: y.Session.MaxRuns},
		Logging: entities.LoggingConfig{
			Level:  y.Logging.Level,
			Format: y.Logging.Format,
		},
		Server: entities.ServerConfig{Addr: y.Server.Addr},
	}, nil
}

func (y yamlStep) toEntity(step entities.Step) (entities.StepCommand, error) {
	var timeout time.Duration
	if y.Timeout != "" {
		d, err := time.ParseDuration(y.Timeout)
		if err != nil {
			return entities.StepCommand{}, fmt.Errorf("steps.%s.timeout: %w", step, err)
		}
		timeout = d
	}
	return entities.StepCommand{
		Command: y.Command,
		Args:    append([]string(nil), y.Args...),
		Timeout: timeout,
	}, nil
}

func fromEntity(cfg *entities.AuditConfig) yamlConfig {
	step := func(s entities.Step) yamlStep {
		c := cfg.Steps[s]
		out := yamlStep{Command: c.Command, Args: append([]string(nil), c.Args...)}
		if c.Timeout > 0 {
			out.Timeout = c.Timeout.String()
		}
		return out
	}

	env := make(map[string]string, len(cfg.Sandbox.Env))
	for k, v := range cfg.Sandbox.Env {
		env[k] = v
	}

	return yamlConfig{
		Sandbox: yamlSandbox{
			Backend:      cfg.Sandbox.Backend,
			Root:         cfg.Sandbox.Root,
			ShareNetwork: cfg.Sandbox.ShareNetwork,
			ROBinds:      append([]string(nil), cfg.Sandbox.ROBinds...),
			Env:          env,
		},
		Manifest: yamlManifest{
			Path:    cfg.Manifest.Path,
			Name:    cfg.Manifest.Name,
			Version: cfg.Manifest.Version,
		},
		Steps: yamlSteps{
			Install:   step(entities.StepInstall),
			Configure: step(entities.StepConfigure),
			Audit:     step(entities.StepAudit),
		},
		Output: yamlOutput{
			MaxBytes:           cfg.Output.MaxBytes,
			ArchiveCompression: cfg.Output.ArchiveCompression,
		},
		Report: yamlReport{
			FailOn:            string(cfg.Report.FailOn),
			SignKey:           cfg.Report.SignKey,
			SignPassphraseEnv: cfg.Report.SignPassphraseEnv,
		},
		Session: yamlSession{MaxRuns: cfg.Session.MaxRuns},
		Logging: yamlLogging{Level: cfg.Logging.Level, Format: cfg.Logging.Format},
		Server:  yamlServer{Addr: cfg.Server.Addr},
	}
}
