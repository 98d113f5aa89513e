package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/gateways"
)

const (
	chunkSize       = 32 << 10
	chunkBufferSize = 64
	stderrTailSize  = 4 << 10
)

// ProcessRunner spawns step commands inside an environment and streams
// their stdout
type ProcessRunner struct {
	logger interfaces.Logger
}

// NewProcessRunner creates a new process runner
func NewProcessRunner(logger interfaces.Logger) *ProcessRunner {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &ProcessRunner{logger: logger}
}

// Spawn starts the command. An error means nothing was started.
func (r *ProcessRunner) Spawn(ctx context.Context, env gateways.Environment, command string, args []string) (gateways.ProcessHandle, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is not ready")
	}

	cmd, err := env.Command(ctx, command, args)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	r.logger.Debug("process started",
		interfaces.F("command", command),
		interfaces.F("args", strings.Join(args, " ")),
		interfaces.F("pid", cmd.Process.Pid))

	h := &processHandle{
		ctx:    ctx,
		cmd:    cmd,
		output: make(chan []byte, chunkBufferSize),
		stderr: &tailBuffer{limit: stderrTailSize},
		done:   make(chan struct{}),
	}

	var g errgroup.Group
	g.Go(func() error {
		defer close(h.output)
		return pump(stdout, h.output)
	})
	g.Go(func() error {
		_, err := io.Copy(h.stderr, stderr)
		return err
	})

	go func() {
		defer close(h.done)
		// Pipes must be drained before Wait closes them.
		pumpErr := g.Wait()
		h.exitCode, h.err = h.result(cmd.Wait())
		if h.err == nil && pumpErr != nil && !errors.Is(pumpErr, io.EOF) {
			r.logger.Warn("output stream ended early",
				interfaces.F("command", command),
				interfaces.F("error", pumpErr))
		}
		r.logger.Debug("process exited",
			interfaces.F("command", command),
			interfaces.F("exit_code", h.exitCode))
	}()

	return h, nil
}

// pump forwards reads as independent chunks in arrival order
func pump(r io.Reader, out chan<- []byte) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

type processHandle struct {
	ctx    context.Context
	cmd    *exec.Cmd
	output chan []byte
	stderr *tailBuffer
	done   chan struct{}

	exitCode int
	err      error
}

func (h *processHandle) Output() <-chan []byte {
	return h.output
}

func (h *processHandle) Wait() (int, error) {
	<-h.done
	return h.exitCode, h.err
}

func (h *processHandle) Stderr() string {
	return h.stderr.String()
}

// result maps the Wait error to an exit code. Only an interrupted or
// unwaitable process yields an error.
func (h *processHandle) result(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if ctxErr := h.ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
