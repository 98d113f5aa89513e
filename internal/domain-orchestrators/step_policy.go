package orchestrators

import "github.com/ochairo/pkgaudit/internal/domain/entities"

// StepPolicy decides how the pipeline treats a step's outcome.
// A spawn failure is fatal for every step.
type StepPolicy struct {
	// FatalOnNonZero fails the run when the step exits non-zero
	FatalOnNonZero bool

	// CaptureOutput keeps stdout for parsing after the step completes
	CaptureOutput bool
}

// DefaultStepPolicies is the policy table of the audit pipeline
var DefaultStepPolicies = map[entities.Step]StepPolicy{
	// The install must succeed for the dependency graph to exist
	entities.StepInstall: {FatalOnNonZero: true},
	// Registry configuration is best effort
	entities.StepConfigure: {},
	// npm audit exits non-zero when it finds vulnerabilities
	entities.StepAudit: {CaptureOutput: true},
}
