package entities

import "time"

// PipelineState is a state of the audit pipeline state machine
type PipelineState string

// Pipeline states
const (
	StateIdle                PipelineState = "idle"
	StateBooting             PipelineState = "booting"
	StateInstalling          PipelineState = "installing"
	StateConfiguringRegistry PipelineState = "configuring-registry"
	StateAuditing            PipelineState = "auditing"
	StateSucceeded           PipelineState = "succeeded"
	StateFailed              PipelineState = "failed"
)

// IsTerminal reports whether a run has finished in this state
func (s PipelineState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IsActive reports whether a run is in flight in this state
func (s PipelineState) IsActive() bool {
	return s != StateIdle && !s.IsTerminal()
}

// Step names a process step of the pipeline
type Step string

// Pipeline steps in execution order
const (
	StepInstall   Step = "install"
	StepConfigure Step = "configure"
	StepAudit     Step = "audit"
)

// Steps lists the process steps in execution order
var Steps = []Step{StepInstall, StepConfigure, StepAudit}

// State returns the pipeline state while the step runs
func (s Step) State() PipelineState {
	switch s {
	case StepInstall:
		return StateInstalling
	case StepConfigure:
		return StateConfiguringRegistry
	case StepAudit:
		return StateAuditing
	default:
		return StateIdle
	}
}

// StateChange is a single pipeline transition
type StateChange struct {
	RunID string
	From  PipelineState
	To    PipelineState
	At    time.Time
	Err   *PipelineError // Set when To is StateFailed
}

// EnvironmentState is the readiness of the isolated environment
type EnvironmentState string

// Environment states
const (
	EnvironmentNotBooted  EnvironmentState = "not-booted"
	EnvironmentBooting    EnvironmentState = "booting"
	EnvironmentReady      EnvironmentState = "ready"
	EnvironmentBootFailed EnvironmentState = "boot-failed"
)
