//go:build !linux

package gateways

import (
	"context"
	"errors"
	"os/exec"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

var errBwrapUnsupported = errors.New("bwrap sandbox is only available on linux")

// BwrapEnvironment is unavailable on this platform
type BwrapEnvironment struct {
	workspace
}

// BootBwrapEnvironment always fails on this platform
func BootBwrapEnvironment(_ context.Context, _ entities.SandboxConfig) (*BwrapEnvironment, error) {
	return nil, errBwrapUnsupported
}

// Command always fails on this platform
func (e *BwrapEnvironment) Command(_ context.Context, _ string, _ []string) (*exec.Cmd, error) {
	return nil, errBwrapUnsupported
}

// BwrapPath always fails on this platform
func BwrapPath() (string, error) {
	return "", errBwrapUnsupported
}
