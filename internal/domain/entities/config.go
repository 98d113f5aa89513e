package entities

import (
	"os"
	"path/filepath"
	"time"
)

// Sandbox backends
const (
	BackendLocal = "local"
	BackendBwrap = "bwrap"
)

// AuditConfig is the complete pipeline configuration
type AuditConfig struct {
	Sandbox  SandboxConfig
	Manifest ManifestConfig
	Steps    map[Step]StepCommand
	Output   OutputConfig
	Report   ReportConfig
	Session  SessionConfig
	Logging  LoggingConfig
	Server   ServerConfig
}

// SandboxConfig selects and tunes the isolated environment
type SandboxConfig struct {
	Backend      string
	Root         string // Host directory holding the workspace
	ShareNetwork bool   // bwrap only; install needs the registry
	ROBinds      []string
	Env          map[string]string
}

// ManifestConfig describes the manifest written into the environment
type ManifestConfig struct {
	Path    string
	Name    string
	Version string
}

// StepCommand is the command line of one pipeline step
type StepCommand struct {
	Command string
	Args    []string
	Timeout time.Duration // Zero disables the timeout
}

// Argv returns the full command line
func (c StepCommand) Argv() []string {
	return append([]string{c.Command}, c.Args...)
}

// OutputConfig bounds and archives captured output
type OutputConfig struct {
	MaxBytes           int
	ArchiveCompression string // "none", "lz4", "zstd"
}

// ReportConfig holds report policy and signing settings
type ReportConfig struct {
	FailOn            Severity // Empty never fails on findings
	SignKey           string
	SignPassphraseEnv string
}

// SessionConfig bounds the in-memory run history
type SessionConfig struct {
	MaxRuns int
}

// LoggingConfig selects log level and format
type LoggingConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "auto", "text", "json"
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string
}

// DefaultAuditConfig returns the configuration of the stock npm pipeline
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Sandbox: SandboxConfig{
			Backend:      BackendLocal,
			Root:         filepath.Join(os.TempDir(), "pkgaudit"),
			ShareNetwork: true,
			ROBinds:      []string{"/usr", "/bin", "/lib", "/lib64", "/etc"},
			Env:          map[string]string{},
		},
		Manifest: ManifestConfig{
			Path:    DefaultManifestPath,
			Name:    DefaultManifestName,
			Version: DefaultManifestVersion,
		},
		Steps: map[Step]StepCommand{
			StepInstall:   {Command: "npm", Args: []string{"install"}},
			StepConfigure: {Command: "sh", Args: []string{"-c", `echo "progress=false" > .npmrc`}},
			StepAudit:     {Command: "npm", Args: []string{"audit", "--json"}},
		},
		Output: OutputConfig{
			MaxBytes:           64 << 20,
			ArchiveCompression: "zstd",
		},
		Session: SessionConfig{
			MaxRuns: 32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}
