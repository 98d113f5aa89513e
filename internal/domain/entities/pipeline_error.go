package entities

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind discriminates pipeline failures
type ErrorKind string

// Pipeline failure kinds
const (
	KindEnvironmentBootFailed ErrorKind = "environment-boot-failed"
	KindManifestWriteFailed   ErrorKind = "manifest-write-failed"
	KindProcessSpawnFailed    ErrorKind = "process-spawn-failed"
	KindProcessExitedNonZero  ErrorKind = "process-exited-non-zero"
	KindStepInterrupted       ErrorKind = "step-interrupted"
	KindOutputParseFailed     ErrorKind = "output-parse-failed"
)

// PipelineError is a failure of one pipeline run. Values are built by the
// New* constructors only.
type PipelineError struct {
	Kind      ErrorKind
	Command   string   // Step name for process failures
	Argv      []string // Full command line for process failures
	Path      string   // Manifest path for write failures
	ExitCode  int      // Exit code for KindProcessExitedNonZero
	Stderr    string   // Tail of stderr for KindProcessExitedNonZero
	RawOutput []byte   // Unmodified output for KindOutputParseFailed
	Err       error
}

// NewEnvironmentBootFailed reports that the environment could not start
func NewEnvironmentBootFailed(err error) *PipelineError {
	return &PipelineError{Kind: KindEnvironmentBootFailed, Err: err}
}

// NewManifestWriteFailed reports that the manifest could not be written
func NewManifestWriteFailed(path string, err error) *PipelineError {
	return &PipelineError{Kind: KindManifestWriteFailed, Path: path, Err: err}
}

// NewProcessSpawnFailed reports that a step command could not be launched
func NewProcessSpawnFailed(command string, argv []string, err error) *PipelineError {
	return &PipelineError{Kind: KindProcessSpawnFailed, Command: command, Argv: argv, Err: err}
}

// NewProcessExitedNonZero reports a required step that exited unsuccessfully
func NewProcessExitedNonZero(command string, argv []string, exitCode int, stderr string) *PipelineError {
	return &PipelineError{
		Kind:     KindProcessExitedNonZero,
		Command:  command,
		Argv:     argv,
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      fmt.Errorf("exit status %d", exitCode),
	}
}

// NewStepInterrupted reports a step whose context ended before it completed
func NewStepInterrupted(command string, argv []string, err error) *PipelineError {
	return &PipelineError{Kind: KindStepInterrupted, Command: command, Argv: argv, Err: err}
}

// NewOutputParseFailed reports audit output that does not match the report schema
func NewOutputParseFailed(raw []byte, err error) *PipelineError {
	return &PipelineError{Kind: KindOutputParseFailed, RawOutput: raw, Err: err}
}

func (e *PipelineError) Error() string {
	switch e.Kind {
	case KindEnvironmentBootFailed:
		return fmt.Sprintf("environment boot failed: %v", e.Err)
	case KindManifestWriteFailed:
		return fmt.Sprintf("failed to write manifest %s: %v", e.Path, e.Err)
	case KindProcessSpawnFailed:
		return fmt.Sprintf("%s: failed to spawn %q: %v", e.Command, strings.Join(e.Argv, " "), e.Err)
	case KindProcessExitedNonZero:
		return fmt.Sprintf("%s: %q exited with code %d", e.Command, strings.Join(e.Argv, " "), e.ExitCode)
	case KindStepInterrupted:
		return fmt.Sprintf("%s: interrupted: %v", e.Command, e.Err)
	case KindOutputParseFailed:
		return fmt.Sprintf("failed to parse audit output (%d bytes): %v", len(e.RawOutput), e.Err)
	default:
		return fmt.Sprintf("pipeline error: %v", e.Err)
	}
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// AsPipelineError extracts a PipelineError from an error chain
func AsPipelineError(err error) (*PipelineError, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr, true
	}
	return nil, false
}

// IsKind reports whether err is a PipelineError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	pipelineErr, ok := AsPipelineError(err)
	return ok && pipelineErr.Kind == kind
}
