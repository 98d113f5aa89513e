// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"
	"errors"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

// ErrRunNotFound is returned when no stored run has the requested ID
var ErrRunNotFound = errors.New("run not found")

// RunRepository keeps the runs of the current session
type RunRepository interface {
	// Save stores a finished run together with its raw audit output
	Save(ctx context.Context, run *entities.RunRecord, rawOutput []byte) error

	// Get retrieves a run by ID
	Get(ctx context.Context, id string) (*entities.RunRecord, error)

	// RawOutput returns the raw audit output captured for a run
	RawOutput(ctx context.Context, id string) ([]byte, error)

	// List returns the stored runs, newest first
	List(ctx context.Context) ([]*entities.RunRecord, error)
}
