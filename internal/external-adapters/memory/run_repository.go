// Package memory provides the in-memory session store of pipeline runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/repositories"
	"github.com/ochairo/pkgaudit/internal/external-adapters/archive"
	"github.com/ochairo/pkgaudit/internal/external-adapters/codec"
)

// DefaultMaxRuns is used when the configured history size is not positive
const DefaultMaxRuns = 32

type storedRun struct {
	record entities.RunRecord // Report is always nil here
	report []byte             // CBOR snapshot, nil when the run has no report
	raw    archive.Blob
}

// RunRepository keeps the most recent runs of the session
type RunRepository struct {
	mu          sync.RWMutex
	maxRuns     int
	compression archive.Compression
	order       []string // Oldest first
	runs        map[string]*storedRun
}

// NewRunRepository creates a session store keeping at most maxRuns runs
// and archiving raw output with the named compression codec
func NewRunRepository(maxRuns int, compression string) (*RunRepository, error) {
	c, err := archive.ParseCompression(compression)
	if err != nil {
		return nil, err
	}
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &RunRepository{
		maxRuns:     maxRuns,
		compression: c,
		runs:        make(map[string]*storedRun),
	}, nil
}

// Save stores a finished run, evicting the oldest run when full
func (r *RunRepository) Save(ctx context.Context, run *entities.RunRecord, rawOutput []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run == nil || run.ID == "" {
		return fmt.Errorf("run record must have an ID")
	}

	entry := &storedRun{record: *run}
	entry.record.Report = nil
	entry.record.Selection = append(entities.DependencySelection(nil), run.Selection...)
	entry.record.Transitions = append([]entities.StateChange(nil), run.Transitions...)

	if run.Report != nil {
		snapshot, err := codec.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("snapshot report of run %s: %w", run.ID, err)
		}
		entry.report = snapshot
	}

	blob, err := archive.Compress(rawOutput, r.compression)
	if err != nil {
		return fmt.Errorf("archive output of run %s: %w", run.ID, err)
	}
	entry.raw = blob

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; !exists {
		r.order = append(r.order, run.ID)
	}
	r.runs[run.ID] = entry

	for len(r.order) > r.maxRuns {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
	return nil
}

// Get returns a copy of the stored run
func (r *RunRepository) Get(ctx context.Context, id string) (*entities.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	entry, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrRunNotFound, id)
	}
	return entry.restore()
}

// RawOutput returns the decompressed audit output of a run
func (r *RunRepository) RawOutput(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	entry, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrRunNotFound, id)
	}

	raw, err := archive.Decompress(entry.raw)
	if err != nil {
		return nil, fmt.Errorf("restore output of run %s: %w", id, err)
	}
	return raw, nil
}

// List returns the stored runs, newest first
func (r *RunRepository) List(ctx context.Context) ([]*entities.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	entries := make([]*storedRun, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		entries = append(entries, r.runs[r.order[i]])
	}
	r.mu.RUnlock()

	records := make([]*entities.RunRecord, 0, len(entries))
	for _, entry := range entries {
		record, err := entry.restore()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Len returns the number of stored runs
func (r *RunRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (s *storedRun) restore() (*entities.RunRecord, error) {
	record := s.record
	record.Selection = append(entities.DependencySelection(nil), s.record.Selection...)
	record.Transitions = append([]entities.StateChange(nil), s.record.Transitions...)

	if s.report != nil {
		var report entities.AuditReport
		if err := codec.Unmarshal(s.report, &report); err != nil {
			return nil, fmt.Errorf("restore report of run %s: %w", record.ID, err)
		}
		record.Report = &report
	}
	return &record, nil
}
