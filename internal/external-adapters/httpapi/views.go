package httpapi

import (
	"encoding/json"
	"time"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

type runSummaryView struct {
	ID              string                 `json:"id"`
	State           entities.PipelineState `json:"state"`
	Packages        []string               `json:"packages,omitempty"`
	Summary         string                 `json:"summary,omitempty"`
	Score           *float64               `json:"score,omitempty"`
	Vulnerabilities int                    `json:"vulnerabilities,omitempty"`
	ErrorKind       entities.ErrorKind     `json:"errorKind,omitempty"`
	ManifestDigest  string                 `json:"manifestDigest,omitempty"`
	StartedAt       *time.Time             `json:"startedAt,omitempty"`
	DurationMs      int64                  `json:"durationMs,omitempty"`
}

type runView struct {
	runSummaryView
	Selection     []dependencyBody `json:"selection"`
	Transitions   []changeView     `json:"transitions"`
	AuditExitCode int              `json:"auditExitCode"`
	OutputBytes   int              `json:"outputBytes"`
	Truncated     bool             `json:"truncated,omitempty"`
	Error         *errorView       `json:"error,omitempty"`
	Report        json.RawMessage  `json:"report,omitempty"`
}

type changeView struct {
	RunID string                 `json:"runId"`
	From  entities.PipelineState `json:"from"`
	To    entities.PipelineState `json:"to"`
	At    time.Time              `json:"at"`
	Error *errorView             `json:"error,omitempty"`
}

type errorView struct {
	Kind     entities.ErrorKind `json:"kind"`
	Message  string             `json:"message"`
	Step     string             `json:"step,omitempty"`
	Argv     []string           `json:"argv,omitempty"`
	Path     string             `json:"path,omitempty"`
	ExitCode int                `json:"exitCode,omitempty"`
	Stderr   string             `json:"stderr,omitempty"`
}

func newErrorView(err *entities.PipelineError) *errorView {
	if err == nil {
		return nil
	}
	return &errorView{
		Kind:     err.Kind,
		Message:  err.Error(),
		Step:     err.Command,
		Argv:     err.Argv,
		Path:     err.Path,
		ExitCode: err.ExitCode,
		Stderr:   err.Stderr,
	}
}

func newChangeView(change entities.StateChange) changeView {
	return changeView{
		RunID: change.RunID,
		From:  change.From,
		To:    change.To,
		At:    change.At,
		Error: newErrorView(change.Err),
	}
}

func (s *Server) summaryView(record *entities.RunRecord) runSummaryView {
	started := record.StartedAt
	view := runSummaryView{
		ID:             record.ID,
		State:          record.State,
		Packages:       record.Selection.Names(),
		ManifestDigest: record.ManifestDigest,
		StartedAt:      &started,
		DurationMs:     record.Duration().Milliseconds(),
	}
	if record.Error != nil {
		view.ErrorKind = record.Error.Kind
	}
	if record.Report != nil {
		score := s.reports.Score(record.Report)
		view.Score = &score
		view.Summary = s.reports.Summary(record.Report)
		view.Vulnerabilities = record.Report.Metadata.Vulnerabilities.Total
	}
	return view
}

func (s *Server) recordView(record *entities.RunRecord) (*runView, error) {
	view := &runView{
		runSummaryView: s.summaryView(record),
		Selection:      make([]dependencyBody, 0, len(record.Selection)),
		Transitions:    make([]changeView, 0, len(record.Transitions)),
		AuditExitCode:  record.AuditExitCode,
		OutputBytes:    record.OutputBytes,
		Truncated:      record.Truncated,
		Error:          newErrorView(record.Error),
	}
	for _, dep := range record.Selection {
		view.Selection = append(view.Selection, dependencyBody{Name: dep.Name, Constraint: dep.Constraint})
	}
	for _, change := range record.Transitions {
		view.Transitions = append(view.Transitions, newChangeView(change))
	}

	if record.Report != nil {
		wire, err := s.codec.Encode(record.Report)
		if err != nil {
			return nil, err
		}
		view.Report = wire
	}
	return view, nil
}
