package gateways

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

// LocalEnvironment runs step commands directly on the host inside a
// dedicated workspace directory with a minimal environment
type LocalEnvironment struct {
	workspace
	env map[string]string
}

// BootLocalEnvironment prepares the workspace and returns a ready environment
func BootLocalEnvironment(ctx context.Context, cfg entities.SandboxConfig) (*LocalEnvironment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := newWorkspace(cfg.Root)
	if err != nil {
		return nil, err
	}

	return &LocalEnvironment{workspace: ws, env: cfg.Env}, nil
}

// Command resolves name on PATH and prepares it to run in the workspace
func (e *LocalEnvironment) Command(ctx context.Context, name string, args []string) (*exec.Cmd, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("command %s not available: %w", name, err)
	}

	//nolint:gosec // G204: step commands come from configuration
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = e.root
	cmd.Env = e.environ()
	configureProcessGroup(cmd)
	return cmd, nil
}

// environ builds the child environment. The host environment is not
// inherited; only PATH and the configured variables are passed.
func (e *LocalEnvironment) environ() []string {
	vars := map[string]string{
		"PATH": os.Getenv("PATH"),
		"HOME": filepath.Join(e.root, CacheDir),
	}
	for key, value := range e.env {
		vars[key] = value
	}

	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+vars[key])
	}
	return env
}
