package entities

import "time"

// RunRecord is the session history entry of one pipeline run
type RunRecord struct {
	ID             string
	Selection      DependencySelection
	ManifestDigest string
	State          PipelineState
	Transitions    []StateChange
	Report         *AuditReport
	AuditExitCode  int
	OutputBytes    int
	Truncated      bool
	Error          *PipelineError
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration returns how long the run took
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
