// Package orchestrators coordinates complex workflows across multiple domain services.
package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/gateways"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/repositories"
)

// Precondition errors. They are returned before a run starts and never
// change the pipeline state.
var (
	ErrEmptySelection   = errors.New("dependency selection is empty")
	ErrRunInProgress    = errors.New("an audit run is already in progress")
	ErrInvalidSelection = errors.New("invalid dependency selection")
)

// Observer receives pipeline notifications from the run goroutine.
// Implementations must not block.
type Observer interface {
	OnStateChange(change entities.StateChange)
	OnOutput(runID string, step entities.Step, chunk []byte)
}

// AuditOrchestratorConfig holds configuration for the orchestrator
type AuditOrchestratorConfig struct {
	Steps          map[entities.Step]entities.StepCommand
	Policies       map[entities.Step]StepPolicy // Defaults to DefaultStepPolicies
	MaxOutputBytes int                          // Zero means unbounded
}

// AuditOrchestrator runs the audit pipeline against the shared environment.
// At most one run is in flight.
type AuditOrchestrator struct {
	provisioner gateways.Provisioner
	writer      gateways.ManifestWriter
	runner      gateways.ProcessRunner
	codec       gateways.ReportCodec
	runs        repositories.RunRepository
	logger      interfaces.Logger

	steps     map[entities.Step]entities.StepCommand
	policies  map[entities.Step]StepPolicy
	maxOutput int
	now       func() time.Time
	newID     func() string

	mu        sync.Mutex
	state     entities.PipelineState
	runID     string
	observers map[int]Observer
	nextObs   int
	inflight  sync.WaitGroup
}

// NewAuditOrchestrator creates a new audit orchestrator. runs may be nil.
func NewAuditOrchestrator(
	provisioner gateways.Provisioner,
	writer gateways.ManifestWriter,
	runner gateways.ProcessRunner,
	codec gateways.ReportCodec,
	runs repositories.RunRepository,
	logger interfaces.Logger,
	config AuditOrchestratorConfig,
) *AuditOrchestrator {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	policies := config.Policies
	if policies == nil {
		policies = DefaultStepPolicies
	}
	steps := config.Steps
	if steps == nil {
		steps = entities.DefaultAuditConfig().Steps
	}

	return &AuditOrchestrator{
		provisioner: provisioner,
		writer:      writer,
		runner:      runner,
		codec:       codec,
		runs:        runs,
		logger:      logger,
		steps:       steps,
		policies:    policies,
		maxOutput:   config.MaxOutputBytes,
		now:         time.Now,
		newID:       uuid.NewString,
		state:       entities.StateIdle,
		observers:   make(map[int]Observer),
	}
}

// AuditResult contains the result of a pipeline run
type AuditResult struct {
	RunID          string
	Selection      entities.DependencySelection
	Report         *entities.AuditReport
	RawOutput      []byte
	Truncated      bool
	AuditExitCode  int
	ManifestDigest string
	Transitions    []entities.StateChange
	StepDurations  map[entities.Step]time.Duration
	StartedAt      time.Time
	TotalDuration  time.Duration
	Success        bool
	Error          *entities.PipelineError
}

// State returns the pipeline state and the ID of the current or last run
func (o *AuditOrchestrator) State() (entities.PipelineState, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.runID
}

// EnvironmentState returns the readiness of the shared environment
func (o *AuditOrchestrator) EnvironmentState() entities.EnvironmentState {
	return o.provisioner.State()
}

// Subscribe registers an observer and returns a function removing it
func (o *AuditOrchestrator) Subscribe(observer Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextObs
	o.nextObs++
	o.observers[id] = observer

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}

// RunAudit executes the pipeline for selection and waits for it to finish.
// Precondition failures return a nil result. A failed run returns its
// result together with the *entities.PipelineError.
func (o *AuditOrchestrator) RunAudit(ctx context.Context, selection entities.DependencySelection) (*AuditResult, error) {
	run, err := o.claim(selection)
	if err != nil {
		return nil, err
	}
	defer o.inflight.Done()

	result := o.execute(ctx, run)
	if result.Error != nil {
		return result, result.Error
	}
	return result, nil
}

// Submit starts the pipeline in the background and returns the run ID.
// ctx governs the run, so callers pass a context that outlives the call.
func (o *AuditOrchestrator) Submit(ctx context.Context, selection entities.DependencySelection) (string, error) {
	run, err := o.claim(selection)
	if err != nil {
		return "", err
	}

	go func() {
		defer o.inflight.Done()
		o.execute(ctx, run)
	}()
	return run.result.RunID, nil
}

// Wait blocks until no run is in flight
func (o *AuditOrchestrator) Wait() {
	o.inflight.Wait()
}

// pipelineRun is the state owned by one run goroutine
type pipelineRun struct {
	result *AuditResult
}

// claim takes the single-flight slot and moves the pipeline to Booting
func (o *AuditOrchestrator) claim(selection entities.DependencySelection) (*pipelineRun, error) {
	if selection.IsEmpty() {
		return nil, ErrEmptySelection
	}
	if err := selection.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}

	o.mu.Lock()
	if o.state.IsActive() {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	runID := o.newID()
	change := entities.StateChange{
		RunID: runID,
		From:  o.state,
		To:    entities.StateBooting,
		At:    o.now(),
	}
	o.state = entities.StateBooting
	o.runID = runID
	o.inflight.Add(1)
	observers := o.observerList()
	o.mu.Unlock()

	run := &pipelineRun{result: &AuditResult{
		RunID:         runID,
		Selection:     append(entities.DependencySelection(nil), selection...),
		Transitions:   []entities.StateChange{change},
		StepDurations: make(map[entities.Step]time.Duration),
		StartedAt:     change.At,
	}}
	o.notify(change, observers)
	return run, nil
}

func (o *AuditOrchestrator) execute(ctx context.Context, run *pipelineRun) *AuditResult {
	result := run.result

	env, err := o.provisioner.Acquire(ctx)
	if err != nil {
		pipelineErr, ok := entities.AsPipelineError(err)
		if !ok {
			pipelineErr = entities.NewEnvironmentBootFailed(err)
		}
		return o.fail(ctx, run, pipelineErr)
	}

	o.transition(run, entities.StateInstalling, nil)

	if err := env.Reset(ctx); err != nil {
		return o.fail(ctx, run, entities.NewManifestWriteFailed(o.writer.Path(), fmt.Errorf("failed to reset workspace: %w", err)))
	}
	digest, err := o.writer.Write(ctx, env, result.Selection)
	if err != nil {
		return o.fail(ctx, run, entities.NewManifestWriteFailed(o.writer.Path(), err))
	}
	result.ManifestDigest = digest

	for _, step := range entities.Steps {
		if step != entities.StepInstall {
			o.transition(run, step.State(), nil)
		}

		outcome, pipelineErr := o.runStep(ctx, run, env, step)
		if pipelineErr != nil {
			return o.fail(ctx, run, pipelineErr)
		}
		if step == entities.StepAudit {
			result.RawOutput = outcome.output
			result.Truncated = outcome.truncated
			result.AuditExitCode = outcome.exitCode
		}
	}

	if result.Truncated {
		return o.fail(ctx, run, entities.NewOutputParseFailed(result.RawOutput,
			fmt.Errorf("audit output exceeded %d bytes", o.maxOutput)))
	}

	report, err := o.codec.Parse(result.RawOutput)
	if err != nil {
		pipelineErr, ok := entities.AsPipelineError(err)
		if !ok {
			pipelineErr = entities.NewOutputParseFailed(result.RawOutput, err)
		}
		return o.fail(ctx, run, pipelineErr)
	}

	result.Report = report
	result.Success = true
	o.terminate(ctx, run, entities.StateSucceeded, nil)
	return result
}

type stepOutcome struct {
	exitCode  int
	output    []byte
	truncated bool
}

func (o *AuditOrchestrator) runStep(ctx context.Context, run *pipelineRun, env gateways.Environment, step entities.Step) (*stepOutcome, *entities.PipelineError) {
	started := o.now()
	defer func() {
		run.result.StepDurations[step] = o.now().Sub(started)
	}()

	command, ok := o.steps[step]
	if !ok || command.Command == "" {
		return nil, entities.NewProcessSpawnFailed(string(step), nil, fmt.Errorf("no command configured"))
	}
	policy := o.policies[step]
	argv := command.Argv()

	stepCtx := ctx
	if command.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	handle, err := o.runner.Spawn(stepCtx, env, command.Command, command.Args)
	if err != nil {
		return nil, entities.NewProcessSpawnFailed(string(step), argv, err)
	}

	outcome := &stepOutcome{}
	for chunk := range handle.Output() {
		o.logger.Debug("step output",
			interfaces.F("run_id", run.result.RunID),
			interfaces.F("step", string(step)),
			interfaces.F("bytes", len(chunk)))
		o.notifyOutput(run.result.RunID, step, chunk)

		if !policy.CaptureOutput {
			continue
		}
		if o.maxOutput > 0 && len(outcome.output)+len(chunk) > o.maxOutput {
			outcome.output = append(outcome.output, chunk[:o.maxOutput-len(outcome.output)]...)
			outcome.truncated = true
			continue
		}
		outcome.output = append(outcome.output, chunk...)
	}

	exitCode, err := handle.Wait()
	if err != nil {
		return nil, entities.NewStepInterrupted(string(step), argv, err)
	}
	outcome.exitCode = exitCode

	if exitCode != 0 {
		if policy.FatalOnNonZero {
			return nil, entities.NewProcessExitedNonZero(string(step), argv, exitCode, handle.Stderr())
		}
		o.logger.Warn("step exited non-zero",
			interfaces.F("run_id", run.result.RunID),
			interfaces.F("step", string(step)),
			interfaces.F("exit_code", exitCode))
	}
	return outcome, nil
}

func (o *AuditOrchestrator) fail(ctx context.Context, run *pipelineRun, pipelineErr *entities.PipelineError) *AuditResult {
	run.result.Error = pipelineErr
	o.logger.Error("audit run failed",
		interfaces.F("run_id", run.result.RunID),
		interfaces.F("kind", string(pipelineErr.Kind)),
		interfaces.F("error", pipelineErr.Error()))
	o.terminate(ctx, run, entities.StateFailed, pipelineErr)
	return run.result
}

// terminate stores the finished run before publishing the terminal state
func (o *AuditOrchestrator) terminate(ctx context.Context, run *pipelineRun, to entities.PipelineState, pipelineErr *entities.PipelineError) {
	result := run.result

	o.mu.Lock()
	from := o.state
	o.mu.Unlock()

	change := entities.StateChange{
		RunID: result.RunID,
		From:  from,
		To:    to,
		At:    o.now(),
		Err:   pipelineErr,
	}
	result.Transitions = append(result.Transitions, change)
	result.TotalDuration = change.At.Sub(result.StartedAt)
	o.save(ctx, result)

	o.mu.Lock()
	o.state = to
	observers := o.observerList()
	o.mu.Unlock()

	o.notify(change, observers)
}

func (o *AuditOrchestrator) save(ctx context.Context, result *AuditResult) {
	if o.runs == nil {
		return
	}

	last := result.Transitions[len(result.Transitions)-1]
	record := &entities.RunRecord{
		ID:             result.RunID,
		Selection:      result.Selection,
		ManifestDigest: result.ManifestDigest,
		State:          last.To,
		Transitions:    result.Transitions,
		Report:         result.Report,
		AuditExitCode:  result.AuditExitCode,
		OutputBytes:    len(result.RawOutput),
		Truncated:      result.Truncated,
		Error:          result.Error,
		StartedAt:      result.StartedAt,
		FinishedAt:     last.At,
	}
	if err := o.runs.Save(context.WithoutCancel(ctx), record, result.RawOutput); err != nil {
		o.logger.Warn("failed to store run",
			interfaces.F("run_id", result.RunID),
			interfaces.F("error", err))
	}
}

func (o *AuditOrchestrator) transition(run *pipelineRun, to entities.PipelineState, pipelineErr *entities.PipelineError) {
	o.mu.Lock()
	change := entities.StateChange{
		RunID: run.result.RunID,
		From:  o.state,
		To:    to,
		At:    o.now(),
		Err:   pipelineErr,
	}
	o.state = to
	observers := o.observerList()
	o.mu.Unlock()

	run.result.Transitions = append(run.result.Transitions, change)
	o.notify(change, observers)
}

// observerList snapshots the observers. Callers hold o.mu.
func (o *AuditOrchestrator) observerList() []Observer {
	list := make([]Observer, 0, len(o.observers))
	for _, observer := range o.observers {
		list = append(list, observer)
	}
	return list
}

func (o *AuditOrchestrator) notify(change entities.StateChange, observers []Observer) {
	o.logger.Info("pipeline state changed",
		interfaces.F("run_id", change.RunID),
		interfaces.F("from", string(change.From)),
		interfaces.F("to", string(change.To)))
	for _, observer := range observers {
		observer.OnStateChange(change)
	}
}

func (o *AuditOrchestrator) notifyOutput(runID string, step entities.Step, chunk []byte) {
	o.mu.Lock()
	observers := o.observerList()
	o.mu.Unlock()

	for _, observer := range observers {
		observer.OnOutput(runID, step, chunk)
	}
}
