//go:build linux

package gateways

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

// sandboxWorkspace is where the host workspace is mounted inside bwrap
const sandboxWorkspace = "/workspace"

const sandboxPath = "/usr/local/bin:/usr/bin:/bin"

// BwrapEnvironment runs step commands inside bubblewrap namespaces with a
// read-only view of the system and a writable workspace
type BwrapEnvironment struct {
	workspace
	bwrap        string
	roBinds      []string
	shareNetwork bool
	env          map[string]string
}

// BootBwrapEnvironment locates bwrap, prepares the workspace and checks
// that a sandbox can actually be created on this host
func BootBwrapEnvironment(ctx context.Context, cfg entities.SandboxConfig) (*BwrapEnvironment, error) {
	bwrap, err := BwrapPath()
	if err != nil {
		return nil, err
	}

	ws, err := newWorkspace(cfg.Root)
	if err != nil {
		return nil, err
	}

	var binds []string
	for _, bind := range cfg.ROBinds {
		if _, err := os.Stat(bind); err == nil {
			binds = append(binds, filepath.Clean(bind))
		}
	}

	e := &BwrapEnvironment{
		workspace:    ws,
		bwrap:        bwrap,
		roBinds:      binds,
		shareNetwork: cfg.ShareNetwork,
		env:          cfg.Env,
	}

	probe, err := e.Command(ctx, "true", nil)
	if err != nil {
		return nil, fmt.Errorf("sandbox probe: %w", err)
	}
	if out, err := probe.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("sandbox probe failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return e, nil
}

// Command resolves name against the read-only binds and wraps it in bwrap
func (e *BwrapEnvironment) Command(ctx context.Context, name string, args []string) (*exec.Cmd, error) {
	resolved, err := e.resolve(name)
	if err != nil {
		return nil, err
	}

	argv := append(e.buildArgs(), resolved)
	argv = append(argv, args...)

	//nolint:gosec // G204: step commands come from configuration
	cmd := exec.CommandContext(ctx, e.bwrap, argv...)

	// bwrap itself only needs PATH; everything else goes through --setenv
	cmd.Env = []string{"PATH=" + sandboxPath}
	configureProcessGroup(cmd)
	return cmd, nil
}

// buildArgs returns the bwrap arguments up to and including "--"
func (e *BwrapEnvironment) buildArgs() []string {
	args := []string{
		"--unshare-user",
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--unshare-cgroup-try",
	}
	if !e.shareNetwork {
		args = append(args, "--unshare-net")
	}
	args = append(args, "--die-with-parent", "--new-session")
	args = append(args, "--proc", "/proc", "--dev", "/dev", "--tmpfs", "/tmp")

	for _, bind := range e.roBinds {
		args = append(args, "--ro-bind", bind, bind)
	}
	args = append(args, "--bind", e.root, sandboxWorkspace, "--chdir", sandboxWorkspace)

	args = append(args, "--clearenv")
	env := map[string]string{
		"PATH": sandboxPath,
		"HOME": path.Join(sandboxWorkspace, CacheDir),
	}
	for key, value := range e.env {
		env[key] = value
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--setenv", key, env[key])
	}

	return append(args, "--")
}

// resolve finds name in a sandbox PATH directory visible through a bind.
// Binds map host paths to the same sandbox paths, so host lookups apply.
func (e *BwrapEnvironment) resolve(name string) (string, error) {
	if strings.Contains(name, "/") {
		if e.visible(name) && isExecutable(name) {
			return name, nil
		}
		return "", fmt.Errorf("command %s not available in sandbox", name)
	}

	for _, dir := range filepath.SplitList(e.pathEnv()) {
		candidate := filepath.Join(dir, name)
		if e.visible(candidate) && isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("command %s not available in sandbox", name)
}

func (e *BwrapEnvironment) pathEnv() string {
	if p, ok := e.env["PATH"]; ok {
		return p
	}
	return sandboxPath
}

func (e *BwrapEnvironment) visible(p string) bool {
	for _, bind := range e.roBinds {
		if p == bind || strings.HasPrefix(p, bind+"/") {
			return true
		}
	}
	return false
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

// BwrapPath returns the path to the bwrap executable
func BwrapPath() (string, error) {
	paths := []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("bwrap not found in standard locations")
}
