package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/gateways"
)

// Mock implementations for testing
type mockEnvironment struct {
	resets int
	err    error
}

func (m *mockEnvironment) ID() string   { return "mock-env" }
func (m *mockEnvironment) Root() string { return "/mock" }

func (m *mockEnvironment) WriteFile(_ context.Context, _ string, _ []byte) error { return nil }

func (m *mockEnvironment) Reset(_ context.Context) error {
	m.resets++
	return m.err
}

func (m *mockEnvironment) Command(_ context.Context, _ string, _ []string) (*exec.Cmd, error) {
	return nil, errors.New("not implemented")
}

type mockProvisioner struct {
	env      *mockEnvironment
	failures int // Number of leading Acquire calls that fail
	calls    int
}

func (m *mockProvisioner) Acquire(_ context.Context) (gateways.Environment, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, entities.NewEnvironmentBootFailed(errors.New("vm image missing"))
	}
	return m.env, nil
}

func (m *mockProvisioner) State() entities.EnvironmentState {
	if m.calls > m.failures {
		return entities.EnvironmentReady
	}
	return entities.EnvironmentNotBooted
}

type mockManifestWriter struct {
	written []entities.DependencySelection
	err     error
}

func (m *mockManifestWriter) Write(_ context.Context, _ gateways.Environment, selection entities.DependencySelection) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.written = append(m.written, selection)
	return "digest", nil
}

func (m *mockManifestWriter) Path() string { return "package.json" }

// script describes what a fake process does
type script struct {
	chunks   []string
	exitCode int
	spawnErr error
	block    chan struct{} // When set, output stays open until closed or ctx ends
}

type mockHandle struct {
	output   chan []byte
	done     chan struct{}
	exitCode int
	err      error
}

func (h *mockHandle) Output() <-chan []byte { return h.output }
func (h *mockHandle) Stderr() string        { return "mock stderr" }

func (h *mockHandle) Wait() (int, error) {
	<-h.done
	return h.exitCode, h.err
}

type mockRunner struct {
	mu      sync.Mutex
	scripts map[string]script
	spawned []string
}

func (m *mockRunner) Spawn(ctx context.Context, _ gateways.Environment, command string, _ []string) (gateways.ProcessHandle, error) {
	m.mu.Lock()
	m.spawned = append(m.spawned, command)
	s, ok := m.scripts[command]
	m.mu.Unlock()

	if !ok {
		return nil, errors.New("executable file not found")
	}
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}

	h := &mockHandle{output: make(chan []byte), done: make(chan struct{}), exitCode: s.exitCode}
	go func() {
		defer close(h.done)
		defer close(h.output)
		for _, c := range s.chunks {
			h.output <- []byte(c)
		}
		if s.block != nil {
			select {
			case <-s.block:
			case <-ctx.Done():
				h.exitCode, h.err = -1, ctx.Err()
			}
		}
	}()
	return h, nil
}

func (m *mockRunner) spawnedCommands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spawned...)
}

// jsonCodec decodes reports encoded with encoding/json field names
type jsonCodec struct{}

func (jsonCodec) Parse(data []byte) (*entities.AuditReport, error) {
	var report entities.AuditReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, entities.NewOutputParseFailed(data, err)
	}
	return &report, nil
}

func (jsonCodec) Encode(report *entities.AuditReport) ([]byte, error) {
	return json.Marshal(report)
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []entities.StateChange
	output  map[entities.Step][]byte
}

func (r *recordingObserver) OnStateChange(change entities.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingObserver) OnOutput(_ string, step entities.Step, chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.output == nil {
		r.output = make(map[entities.Step][]byte)
	}
	r.output[step] = append(r.output[step], chunk...)
}

func (r *recordingObserver) states() []entities.PipelineState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]entities.PipelineState, 0, len(r.changes))
	for _, c := range r.changes {
		states = append(states, c.To)
	}
	return states
}

type memoryRuns struct {
	mu      sync.Mutex
	records map[string]*entities.RunRecord
	raw     map[string][]byte
}

func (m *memoryRuns) Save(_ context.Context, run *entities.RunRecord, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]*entities.RunRecord)
		m.raw = make(map[string][]byte)
	}
	m.records[run.ID] = run
	m.raw[run.ID] = raw
	return nil
}

func (m *memoryRuns) Get(_ context.Context, id string) (*entities.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func (m *memoryRuns) RawOutput(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw[id], nil
}

func (m *memoryRuns) List(_ context.Context) ([]*entities.RunRecord, error) {
	return nil, nil
}

var testSteps = map[entities.Step]entities.StepCommand{
	entities.StepInstall:   {Command: "fake-install"},
	entities.StepConfigure: {Command: "fake-configure"},
	entities.StepAudit:     {Command: "fake-audit", Args: []string{"--json"}},
}

func encodeReport(t *testing.T, counts entities.SeverityCounts, vulns map[string]entities.Vulnerability) string {
	t.Helper()
	data, err := json.Marshal(&entities.AuditReport{
		AuditReportVersion: 2,
		Vulnerabilities:    vulns,
		Metadata:           entities.ReportMetadata{Vulnerabilities: counts},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

type fixture struct {
	provisioner *mockProvisioner
	writer      *mockManifestWriter
	runner      *mockRunner
	runs        *memoryRuns
	observer    *recordingObserver
	orch        *AuditOrchestrator
}

func newFixture(t *testing.T, scripts map[string]script, config AuditOrchestratorConfig) *fixture {
	t.Helper()
	if config.Steps == nil {
		config.Steps = testSteps
	}

	f := &fixture{
		provisioner: &mockProvisioner{env: &mockEnvironment{}},
		writer:      &mockManifestWriter{},
		runner:      &mockRunner{scripts: scripts},
		runs:        &memoryRuns{},
		observer:    &recordingObserver{},
	}
	f.orch = NewAuditOrchestrator(f.provisioner, f.writer, f.runner, jsonCodec{}, f.runs, nil, config)
	f.orch.Subscribe(f.observer)
	return f
}

func assertStates(t *testing.T, got []entities.PipelineState, want ...entities.PipelineState) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestRunAudit_ZeroVulnerabilities(t *testing.T) {
	report := encodeReport(t, entities.SeverityCounts{}, map[string]entities.Vulnerability{})
	f := newFixture(t, map[string]script{
		"fake-install":   {chunks: []string{"added 1 package\n"}},
		"fake-configure": {},
		"fake-audit":     {chunks: []string{report}},
	}, AuditOrchestratorConfig{})

	selection := entities.DependencySelection{{Name: "left-pad", Constraint: "1.3.0"}}
	result, err := f.orch.RunAudit(context.Background(), selection)
	if err != nil {
		t.Fatalf("RunAudit() error = %v", err)
	}

	if !result.Success || result.Report.Metadata.Vulnerabilities.Total != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	assertStates(t, f.observer.states(),
		entities.StateBooting,
		entities.StateInstalling,
		entities.StateConfiguringRegistry,
		entities.StateAuditing,
		entities.StateSucceeded,
	)
	if len(result.Transitions) != 5 {
		t.Errorf("result has %d transitions, want 5", len(result.Transitions))
	}

	if len(f.writer.written) != 1 || f.writer.written[0][0].Name != "left-pad" {
		t.Errorf("manifest writes = %v", f.writer.written)
	}
	if f.provisioner.env.resets != 1 {
		t.Errorf("environment resets = %d, want 1", f.provisioner.env.resets)
	}

	state, runID := f.orch.State()
	if state != entities.StateSucceeded || runID != result.RunID {
		t.Errorf("State() = %s, %s", state, runID)
	}

	record, err := f.runs.Get(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if record.State != entities.StateSucceeded || record.ManifestDigest != "digest" {
		t.Errorf("stored record = %+v", record)
	}
}

func TestRunAudit_InstallFails(t *testing.T) {
	f := newFixture(t, map[string]script{
		"fake-install":   {exitCode: 1},
		"fake-configure": {},
		"fake-audit":     {chunks: []string{"{}"}},
	}, AuditOrchestratorConfig{})

	result, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("no-such-package-xyz"))

	if !entities.IsKind(err, entities.KindProcessExitedNonZero) {
		t.Fatalf("RunAudit() error = %v, want non-zero exit", err)
	}
	pipelineErr, _ := entities.AsPipelineError(err)
	if pipelineErr.Command != "install" || pipelineErr.ExitCode != 1 {
		t.Errorf("error = %+v", pipelineErr)
	}
	if pipelineErr.Stderr != "mock stderr" {
		t.Errorf("stderr tail = %q", pipelineErr.Stderr)
	}

	for _, cmd := range f.runner.spawnedCommands() {
		if cmd == "fake-audit" || cmd == "fake-configure" {
			t.Errorf("%s must not be spawned after a failed install", cmd)
		}
	}

	assertStates(t, f.observer.states(), entities.StateBooting, entities.StateInstalling, entities.StateFailed)
	if result == nil || result.Success || result.Error != pipelineErr {
		t.Errorf("result = %+v", result)
	}
	last := f.observer.changes[len(f.observer.changes)-1]
	if last.Err != pipelineErr {
		t.Error("failed transition must carry the pipeline error")
	}
}

func TestRunAudit_AuditNonZeroWithFindings(t *testing.T) {
	report := encodeReport(t,
		entities.SeverityCounts{High: 2, Critical: 1, Total: 3},
		map[string]entities.Vulnerability{
			"a": {Name: "a", Severity: entities.SeverityHigh},
			"b": {Name: "b", Severity: entities.SeverityHigh},
			"c": {Name: "c", Severity: entities.SeverityCritical},
		})
	f := newFixture(t, map[string]script{
		"fake-install":   {},
		"fake-configure": {},
		"fake-audit":     {chunks: []string{report[:10], report[10:]}, exitCode: 1},
	}, AuditOrchestratorConfig{})

	result, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash"))
	if err != nil {
		t.Fatalf("RunAudit() error = %v", err)
	}

	counts := result.Report.Metadata.Vulnerabilities
	if counts.Total != 3 || counts.High != 2 || counts.Critical != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if result.AuditExitCode != 1 {
		t.Errorf("AuditExitCode = %d, want 1", result.AuditExitCode)
	}
	if string(result.RawOutput) != report {
		t.Error("audit chunks were not concatenated in order")
	}
	if string(f.observer.output[entities.StepAudit]) != report {
		t.Error("observer did not receive every audit chunk")
	}
}

func TestRunAudit_TruncatedOutput(t *testing.T) {
	report := encodeReport(t, entities.SeverityCounts{}, map[string]entities.Vulnerability{})
	truncated := report[:len(report)/2]
	f := newFixture(t, map[string]script{
		"fake-install":   {},
		"fake-configure": {},
		"fake-audit":     {chunks: []string{truncated}},
	}, AuditOrchestratorConfig{})

	_, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash"))

	pipelineErr, ok := entities.AsPipelineError(err)
	if !ok || pipelineErr.Kind != entities.KindOutputParseFailed {
		t.Fatalf("RunAudit() error = %v, want parse failure", err)
	}
	if string(pipelineErr.RawOutput) != truncated {
		t.Errorf("RawOutput = %q, want the truncated bytes", pipelineErr.RawOutput)
	}

	state, _ := f.orch.State()
	if state != entities.StateFailed {
		t.Errorf("state = %s, want failed", state)
	}
}

func TestRunAudit_OutputLimit(t *testing.T) {
	report := encodeReport(t, entities.SeverityCounts{}, map[string]entities.Vulnerability{})
	f := newFixture(t, map[string]script{
		"fake-install":   {},
		"fake-configure": {},
		"fake-audit":     {chunks: []string{report, report}},
	}, AuditOrchestratorConfig{MaxOutputBytes: len(report) + 5})

	result, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash"))
	if !entities.IsKind(err, entities.KindOutputParseFailed) {
		t.Fatalf("RunAudit() error = %v, want parse failure", err)
	}
	if !result.Truncated || len(result.RawOutput) != len(report)+5 {
		t.Errorf("Truncated = %v, %d bytes kept", result.Truncated, len(result.RawOutput))
	}
}

func TestRunAudit_EmptySelection(t *testing.T) {
	f := newFixture(t, map[string]script{}, AuditOrchestratorConfig{})

	result, err := f.orch.RunAudit(context.Background(), nil)
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("RunAudit() error = %v, want ErrEmptySelection", err)
	}
	if result != nil {
		t.Error("expected no result")
	}
	if len(f.observer.states()) != 0 {
		t.Errorf("empty selection produced transitions %v", f.observer.states())
	}
	if state, _ := f.orch.State(); state != entities.StateIdle {
		t.Errorf("state = %s, want idle", state)
	}
	if f.provisioner.calls != 0 {
		t.Error("environment must not be acquired")
	}
}

func TestRunAudit_InvalidSelection(t *testing.T) {
	f := newFixture(t, map[string]script{}, AuditOrchestratorConfig{})

	_, err := f.orch.RunAudit(context.Background(), entities.DependencySelection{
		{Name: "lodash", Constraint: "1"},
		{Name: "lodash", Constraint: "2"},
	})
	if !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("RunAudit() error = %v, want ErrInvalidSelection", err)
	}
	if len(f.observer.states()) != 0 {
		t.Error("invalid selection produced transitions")
	}
}

func TestRunAudit_RejectsOverlappingRun(t *testing.T) {
	report := encodeReport(t, entities.SeverityCounts{}, map[string]entities.Vulnerability{})
	release := make(chan struct{})
	f := newFixture(t, map[string]script{
		"fake-install":   {block: release},
		"fake-configure": {},
		"fake-audit":     {chunks: []string{report}},
	}, AuditOrchestratorConfig{})

	runID, err := f.orch.Submit(context.Background(), entities.SinglePackage("lodash"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if state, _ := f.orch.State(); state == entities.StateInstalling {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never reached installing")
		}
		time.Sleep(time.Millisecond)
	}

	before := len(f.observer.states())
	_, err = f.orch.RunAudit(context.Background(), entities.SinglePackage("express"))
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("RunAudit() error = %v, want ErrRunInProgress", err)
	}
	if _, err := f.orch.Submit(context.Background(), entities.SinglePackage("express")); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Submit() error = %v, want ErrRunInProgress", err)
	}
	state, current := f.orch.State()
	if state != entities.StateInstalling || current != runID {
		t.Errorf("rejected run mutated state: %s %s", state, current)
	}
	if len(f.observer.states()) != before {
		t.Error("rejected run produced transitions")
	}

	close(release)
	f.orch.Wait()

	if state, _ := f.orch.State(); state != entities.StateSucceeded {
		t.Errorf("state = %s, want succeeded", state)
	}
	if len(f.writer.written) != 1 {
		t.Errorf("manifest written %d times, want 1", len(f.writer.written))
	}
}

func TestRunAudit_BootFailureThenRetry(t *testing.T) {
	report := encodeReport(t, entities.SeverityCounts{}, map[string]entities.Vulnerability{})
	f := newFixture(t, map[string]script{
		"fake-install":   {},
		"fake-configure": {},
		"fake-audit":     {chunks: []string{report}},
	}, AuditOrchestratorConfig{})
	f.provisioner.failures = 1

	_, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash"))
	if !entities.IsKind(err, entities.KindEnvironmentBootFailed) {
		t.Fatalf("RunAudit() error = %v, want boot failure", err)
	}
	assertStates(t, f.observer.states(), entities.StateBooting, entities.StateFailed)
	if len(f.runner.spawnedCommands()) != 0 {
		t.Error("no process may be spawned without an environment")
	}

	if _, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash")); err != nil {
		t.Fatalf("second RunAudit() error = %v", err)
	}
	if f.provisioner.calls != 2 {
		t.Errorf("Acquire calls = %d, want 2", f.provisioner.calls)
	}
	changes := f.observer.changes
	if changes[2].From != entities.StateFailed || changes[2].To != entities.StateBooting {
		t.Errorf("retry started with %s -> %s", changes[2].From, changes[2].To)
	}
}

func TestRunAudit_ConfigureExitIgnored(t *testing.T) {
	report := encodeReport(t, entities.SeverityCounts{}, map[string]entities.Vulnerability{})
	f := newFixture(t, map[string]script{
		"fake-install":   {},
		"fake-configure": {exitCode: 127},
		"fake-audit":     {chunks: []string{report}},
	}, AuditOrchestratorConfig{})

	if _, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash")); err != nil {
		t.Fatalf("RunAudit() error = %v", err)
	}
}

func TestRunAudit_SpawnFailure(t *testing.T) {
	tests := []struct {
		name    string
		missing string
		command string
	}{
		{name: "install", missing: "fake-install", command: "install"},
		{name: "configure", missing: "fake-configure", command: "configure"},
		{name: "audit", missing: "fake-audit", command: "audit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scripts := map[string]script{
				"fake-install":   {},
				"fake-configure": {},
				"fake-audit":     {chunks: []string{"{}"}},
			}
			delete(scripts, tt.missing)
			f := newFixture(t, scripts, AuditOrchestratorConfig{})

			_, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash"))
			pipelineErr, ok := entities.AsPipelineError(err)
			if !ok || pipelineErr.Kind != entities.KindProcessSpawnFailed {
				t.Fatalf("RunAudit() error = %v, want spawn failure", err)
			}
			if pipelineErr.Command != tt.command {
				t.Errorf("Command = %s, want %s", pipelineErr.Command, tt.command)
			}
		})
	}
}

func TestRunAudit_StepTimeout(t *testing.T) {
	steps := map[entities.Step]entities.StepCommand{
		entities.StepInstall:   {Command: "fake-install", Timeout: 20 * time.Millisecond},
		entities.StepConfigure: {Command: "fake-configure"},
		entities.StepAudit:     {Command: "fake-audit"},
	}
	f := newFixture(t, map[string]script{
		"fake-install":   {block: make(chan struct{})},
		"fake-configure": {},
		"fake-audit":     {},
	}, AuditOrchestratorConfig{Steps: steps})

	_, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash"))
	if !entities.IsKind(err, entities.KindStepInterrupted) {
		t.Fatalf("RunAudit() error = %v, want interruption", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline as cause, got %v", err)
	}
}

func TestRunAudit_ManifestWriteFailure(t *testing.T) {
	f := newFixture(t, map[string]script{}, AuditOrchestratorConfig{})
	f.writer.err = errors.New("read-only file system")

	_, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash"))
	pipelineErr, ok := entities.AsPipelineError(err)
	if !ok || pipelineErr.Kind != entities.KindManifestWriteFailed {
		t.Fatalf("RunAudit() error = %v, want manifest write failure", err)
	}
	if pipelineErr.Path != "package.json" {
		t.Errorf("Path = %s", pipelineErr.Path)
	}
	assertStates(t, f.observer.states(), entities.StateBooting, entities.StateInstalling, entities.StateFailed)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	report := encodeReport(t, entities.SeverityCounts{}, map[string]entities.Vulnerability{})
	f := newFixture(t, map[string]script{
		"fake-install":   {},
		"fake-configure": {},
		"fake-audit":     {chunks: []string{report}},
	}, AuditOrchestratorConfig{})

	extra := &recordingObserver{}
	unsubscribe := f.orch.Subscribe(extra)
	unsubscribe()

	if _, err := f.orch.RunAudit(context.Background(), entities.SinglePackage("lodash")); err != nil {
		t.Fatal(err)
	}
	if len(extra.states()) != 0 {
		t.Error("unsubscribed observer was notified")
	}
	if len(f.observer.states()) != 5 {
		t.Errorf("observer saw %d transitions, want 5", len(f.observer.states()))
	}
}
