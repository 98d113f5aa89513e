package gateways

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// CacheDir is the workspace entry that survives Reset. It holds HOME and
// with it the package manager cache.
const CacheDir = ".home"

// workspace is the host directory shared by every environment backend
type workspace struct {
	id   string
	root string
}

func newWorkspace(root string) (workspace, error) {
	if root == "" {
		return workspace{}, fmt.Errorf("workspace root is empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return workspace{}, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	//nolint:gosec // G301: workspace must be traversable by sandboxed tools
	if err := os.MkdirAll(filepath.Join(abs, CacheDir), 0o755); err != nil {
		return workspace{}, fmt.Errorf("failed to create workspace: %w", err)
	}

	return workspace{id: uuid.NewString(), root: abs}, nil
}

// ID identifies the environment instance
func (w workspace) ID() string {
	return w.id
}

// Root is the host path of the workspace
func (w workspace) Root() string {
	return w.root
}

// WriteFile replaces a workspace file through a temporary file and rename
func (w workspace) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !filepath.IsLocal(name) {
		return fmt.Errorf("path %q escapes the workspace", name)
	}

	target := filepath.Join(w.root, name)
	dir := filepath.Dir(target)
	//nolint:gosec // G301: see newWorkspace
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".pkgaudit-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	//nolint:gosec // G302: manifests are read by the package manager
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// Reset removes every workspace entry except the cache directory
func (w workspace) Reset(ctx context.Context) error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("failed to list workspace: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Name() == CacheDir {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.root, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}
