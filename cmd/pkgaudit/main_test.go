package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/services"
	"github.com/ochairo/pkgaudit/internal/external-adapters/npmaudit"
	"github.com/ochairo/pkgaudit/internal/external-adapters/yaml"
)

func fixturePath(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "..", "internal", "external-adapters", "npmaudit", "testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return path
}

// writeTestConfig writes a configuration whose audit step prints fixture
// instead of running npm
func writeTestConfig(t *testing.T, fixture string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`sandbox:
  backend: local
  root: %q
steps:
  install:
    command: sh
    args: ["-c", "test -f package.json"]
  audit:
    command: sh
    args: ["-c", "cat \"$1\"; exit 1", "sh", %q]
output:
  archive_compression: lz4
logging:
  level: error
  format: json
`, filepath.Join(dir, "sandbox"), fixture)

	path := filepath.Join(dir, "pkgaudit.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Dispatch(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{name: "no args", args: nil, wantCode: exitFailure, wantErr: "Usage:"},
		{name: "help", args: []string{"help"}, wantCode: exitOK, wantOut: "Commands:"},
		{name: "version", args: []string{"version"}, wantCode: exitOK, wantOut: "pkgaudit dev"},
		{name: "unknown", args: []string{"explode"}, wantCode: exitFailure, wantErr: "Unknown command: explode"},
		{name: "audit help", args: []string{"audit", "--help"}, wantCode: exitOK, wantErr: "Exit codes:"},
		{name: "audit no selection", args: []string{"audit"}, wantCode: exitFailure, wantErr: "exactly one of --package or --manifest"},
		{name: "audit both selections", args: []string{"audit", "-p", "a", "-m", "package.json"}, wantCode: exitFailure, wantErr: "exactly one"},
		{name: "audit bad flag", args: []string{"audit", "--frobnicate"}, wantCode: exitFailure, wantErr: "unknown flag"},
		{name: "audit malformed flag value", args: []string{"audit", "-p", "a", "--quiet=maybe"}, wantCode: exitFailure, wantErr: "invalid argument"},
		{name: "serve bad flag", args: []string{"serve", "--frobnicate"}, wantCode: exitFailure, wantErr: "Usage: pkgaudit serve"},
		{name: "verify bad flag", args: []string{"verify", "--frobnicate"}, wantCode: exitFailure, wantErr: "unknown flag"},
		{name: "config bad flag", args: []string{"config", "--frobnicate"}, wantCode: exitFailure, wantErr: "unknown flag"},
		{name: "verify missing flags", args: []string{"verify"}, wantCode: exitFailure, wantErr: "--key and --report are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, tt.args...)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, tt.wantCode, stderr)
			}
			if tt.wantOut != "" && !strings.Contains(stdout, tt.wantOut) {
				t.Errorf("stdout = %q, want containing %q", stdout, tt.wantOut)
			}
			if tt.wantErr != "" && !strings.Contains(stderr, tt.wantErr) {
				t.Errorf("stderr = %q, want containing %q", stderr, tt.wantErr)
			}
		})
	}
}

func TestAudit_JSONOutput(t *testing.T) {
	config := writeTestConfig(t, fixturePath(t, "findings.json"))

	code, stdout, stderr := runCLI(t, "audit", "--config", config, "--package", "lodash@4.17.20", "--json")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}

	report, err := npmaudit.NewCodec().Parse([]byte(stdout))
	if err != nil {
		t.Fatalf("stdout is not an audit report: %v\n%s", err, stdout)
	}
	if report.Metadata.Vulnerabilities.Total != 3 {
		t.Errorf("total = %d, want 3", report.Metadata.Vulnerabilities.Total)
	}
	for _, state := range []string{"booting", "installing", "configuring-registry", "auditing", "succeeded"} {
		if !strings.Contains(stderr, state) {
			t.Errorf("progress missing %s:\n%s", state, stderr)
		}
	}
}

func TestAudit_FailOn(t *testing.T) {
	config := writeTestConfig(t, fixturePath(t, "findings.json"))

	tests := []struct {
		failOn   string
		wantCode int
	}{
		{"critical", exitFindings},
		{"high", exitFindings},
		{"", exitOK},
	}

	for _, tt := range tests {
		t.Run("fail-on="+tt.failOn, func(t *testing.T) {
			args := []string{"audit", "-c", config, "-p", "minimist", "--quiet"}
			if tt.failOn != "" {
				args = append(args, "--fail-on", tt.failOn)
			}
			code, stdout, stderr := runCLI(t, args...)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, tt.wantCode, stderr)
			}
			if !strings.Contains(stdout, "PACKAGE") || !strings.Contains(stdout, "minimist") {
				t.Errorf("table output missing:\n%s", stdout)
			}
		})
	}

	code, _, stderr := runCLI(t, "audit", "-c", config, "-p", "minimist", "--fail-on", "severe")
	if code != exitFailure || !strings.Contains(stderr, "report.fail_on") {
		t.Errorf("invalid --fail-on: code %d, stderr %s", code, stderr)
	}
}

func TestAudit_PipelineFailure(t *testing.T) {
	config := writeTestConfig(t, fixturePath(t, "npm_error.json"))

	code, _, stderr := runCLI(t, "audit", "-c", config, "-p", "lodash", "-q")
	if code != exitFailure {
		t.Fatalf("exit code = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr, string(entities.KindOutputParseFailed)) {
		t.Errorf("stderr missing error kind:\n%s", stderr)
	}
	if !strings.Contains(stderr, "ENOLOCK") {
		t.Errorf("stderr missing npm error code:\n%s", stderr)
	}
}

func TestAudit_Manifest(t *testing.T) {
	config := writeTestConfig(t, fixturePath(t, "no_vulnerabilities.json"))
	manifest := filepath.Join(t.TempDir(), "package.json")
	if err := os.WriteFile(manifest, []byte(`{"dependencies": {"express": "^4.18.0"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "audit", "-c", config, "-m", manifest, "-q")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "found 0 vulnerabilities") {
		t.Errorf("stdout = %s", stdout)
	}

	empty := filepath.Join(t.TempDir(), "package.json")
	if err := os.WriteFile(empty, []byte(`{"name": "app", "scripts": {}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	code, stdout, stderr = runCLI(t, "audit", "-c", config, "-m", empty)
	if code != exitOK || stdout != "" || !strings.Contains(stderr, "Nothing to audit") {
		t.Errorf("empty manifest: code %d, stdout %q, stderr %s", code, stdout, stderr)
	}
	if strings.Contains(stderr, "Error:") {
		t.Errorf("empty manifest reported as an error: %s", stderr)
	}

	code, _, stderr = runCLI(t, "audit", "-c", config, "-m", filepath.Join(t.TempDir(), "missing.json"))
	if code != exitFailure || !strings.Contains(stderr, "failed to open manifest") {
		t.Errorf("missing manifest: code %d, stderr %s", code, stderr)
	}
}

func writeKeyPair(t *testing.T) (privPath, pubPath string) {
	t.Helper()

	entity, err := openpgp.NewEntity("pkgaudit", "", "audit@example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	write := func(name, blockType string, serialize func(w *bytes.Buffer) error) string {
		var raw, out bytes.Buffer
		if err := serialize(&raw); err != nil {
			t.Fatal(err)
		}
		w, err := armor.Encode(&out, blockType, nil)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write(raw.Bytes())
		_ = w.Close()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, out.Bytes(), 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	privPath = write("private.asc", openpgp.PrivateKeyType, func(w *bytes.Buffer) error {
		return entity.SerializePrivate(w, nil)
	})
	pubPath = write("public.asc", openpgp.PublicKeyType, func(w *bytes.Buffer) error {
		return entity.Serialize(w)
	})
	return privPath, pubPath
}

func TestAudit_SignAndVerify(t *testing.T) {
	config := writeTestConfig(t, fixturePath(t, "findings.json"))
	privPath, pubPath := writeKeyPair(t)
	reportPath := filepath.Join(t.TempDir(), "report.json")

	code, _, stderr := runCLI(t, "audit", "-c", config, "-p", "lodash", "-q",
		"--report-out", reportPath, "--sign-key", privPath)
	if code != exitOK {
		t.Fatalf("audit exit code = %d, stderr: %s", code, stderr)
	}
	if _, err := os.Stat(reportPath + ".asc"); err != nil {
		t.Fatalf("signature not written: %v", err)
	}

	code, stdout, _ := runCLI(t, "verify", "--key", pubPath, "--report", reportPath)
	if code != exitOK || !strings.Contains(stdout, "Signature verified") {
		t.Errorf("verify = %d, %s", code, stdout)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(data, []byte(`"critical"`), []byte(`"low"`), 1)
	if err := os.WriteFile(reportPath, tampered, 0o600); err != nil {
		t.Fatal(err)
	}
	code, stdout, _ = runCLI(t, "verify", "--key", pubPath, "--report", reportPath)
	if code != exitFailure || !strings.Contains(stdout, "FAILED") {
		t.Errorf("tampered verify = %d, %s", code, stdout)
	}
}

func TestAudit_SignWithoutDestination(t *testing.T) {
	config := writeTestConfig(t, fixturePath(t, "findings.json"))
	privPath, _ := writeKeyPair(t)

	code, _, stderr := runCLI(t, "audit", "-c", config, "-p", "lodash", "-q", "--sign-key", privPath)
	if code != exitFailure || !strings.Contains(stderr, "--report-out") {
		t.Errorf("code = %d, stderr = %s", code, stderr)
	}
}

func TestConfigCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(yaml.ConfigEnv, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	code, stdout, stderr := runCLI(t, "config")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "# source: built-in defaults\n") {
		t.Errorf("stdout = %s", stdout)
	}

	cfg, err := yaml.NewConfigParser().Parse([]byte(stdout))
	if err != nil {
		t.Fatalf("config output does not parse: %v", err)
	}
	if got := cfg.Steps[entities.StepAudit].Argv(); strings.Join(got, " ") != "npm audit --json" {
		t.Errorf("audit argv = %v", got)
	}

	config := writeTestConfig(t, "/dev/null")
	code, stdout, _ = runCLI(t, "config", "--config", config)
	if code != exitOK || !strings.Contains(stdout, "# source: "+config) || !strings.Contains(stdout, "archive_compression: lz4") {
		t.Errorf("config --config = %d:\n%s", code, stdout)
	}
}

func TestRenderReport(t *testing.T) {
	data, err := os.ReadFile(fixturePath(t, "findings.json"))
	if err != nil {
		t.Fatal(err)
	}
	report, err := npmaudit.NewCodec().Parse(data)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	renderReport(&out, report, services.NewReportService())
	text := out.String()

	for _, want := range []string{"found 3 vulnerabilities", "Security score", "minimist", "critical", "mkdirp@0.5.6", "Fix plan"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "minimist") > strings.Index(text, "lodash") {
		t.Error("critical findings should be listed before high ones")
	}
}

func TestDescribeFix(t *testing.T) {
	tests := []struct {
		fix  entities.FixAvailability
		want string
	}{
		{entities.FixAvailability{}, "no"},
		{entities.FixAvailability{Available: true}, "yes"},
		{entities.FixAvailability{Available: true, Fix: &entities.FixTarget{Name: "a", Version: "2.0.0", IsSemVerMajor: true}}, "a@2.0.0 (major)"},
		{entities.FixAvailability{Available: true, Fix: &entities.FixTarget{Name: "a", Version: "1.2.3"}}, "a@1.2.3"},
	}

	for _, tt := range tests {
		if got := describeFix(tt.fix); got != tt.want {
			t.Errorf("describeFix(%+v) = %q, want %q", tt.fix, got, tt.want)
		}
	}
}

func TestSanitizeTerminal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a\tb\nc", "a\tb\nc"},
		{"hi\x1b[31mred", `hi\x1b[31mred`},
		{"nul:\x00", `nul:\x00`},
		{"bad:\xff", `bad:\xff`},
		{"ünïcode", "ünïcode"},
	}

	for _, tt := range tests {
		if got := sanitizeTerminal(tt.in); got != tt.want {
			t.Errorf("sanitizeTerminal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate() = %q", got)
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &progressPrinter{w: &buf}
	p.OnStateChange(entities.StateChange{To: entities.StateInstalling})
	p.OnStateChange(entities.StateChange{To: entities.StateFailed})
	p.OnOutput("r", entities.StepAudit, []byte("ignored"))

	if got := buf.String(); got != "➜ installing\n❌ failed\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPrintPipelineError(t *testing.T) {
	var buf bytes.Buffer
	printPipelineError(&buf, entities.NewProcessExitedNonZero("install", []string{"npm", "install"}, 1, "npm ERR! \x1b[31m404\n"))

	out := buf.String()
	if !strings.Contains(out, "process-exited-non-zero") || !strings.Contains(out, `\x1b[31m404`) {
		t.Errorf("output = %q", out)
	}

	var raw bytes.Buffer
	printPipelineError(&raw, entities.NewOutputParseFailed([]byte("not json"), json.Unmarshal([]byte("x"), new(any))))
	if !strings.Contains(raw.String(), "not json") {
		t.Errorf("raw output missing: %q", raw.String())
	}
}
