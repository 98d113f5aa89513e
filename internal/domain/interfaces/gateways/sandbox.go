// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"
	"os/exec"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

// Environment is a ready isolated execution environment
type Environment interface {
	// ID identifies the environment instance
	ID() string

	// Root is the host path of the environment workspace
	Root() string

	// WriteFile writes a file relative to the workspace, replacing any prior content
	WriteFile(ctx context.Context, name string, data []byte) error

	// Reset removes everything a previous run left in the workspace
	Reset(ctx context.Context) error

	// Command prepares a command that runs inside the environment.
	// It fails when the command cannot be resolved.
	Command(ctx context.Context, name string, args []string) (*exec.Cmd, error)
}

// Provisioner owns the single environment instance
type Provisioner interface {
	// Acquire returns the ready environment, booting it on first use
	Acquire(ctx context.Context) (Environment, error)

	// State returns the environment readiness
	State() entities.EnvironmentState
}

// ProcessHandle is a spawned process. Output must be drained until it is
// closed; Wait then returns the exit code.
type ProcessHandle interface {
	// Output delivers stdout chunks in emission order and is closed at EOF
	Output() <-chan []byte

	// Wait blocks until the process exits. The error is non-nil only when
	// the process was interrupted by its context.
	Wait() (int, error)

	// Stderr returns the retained tail of stderr
	Stderr() string
}

// ProcessRunner spawns commands inside an environment
type ProcessRunner interface {
	Spawn(ctx context.Context, env Environment, command string, args []string) (ProcessHandle, error)
}

// ManifestWriter materializes a selection as the environment's manifest
type ManifestWriter interface {
	// Write persists the manifest and returns its digest
	Write(ctx context.Context, env Environment, selection entities.DependencySelection) (string, error)

	// Path is the manifest path relative to the workspace
	Path() string
}
