package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	adapters "github.com/ochairo/pkgaudit/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/pkgaudit/internal/domain-orchestrators"
	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
	"github.com/ochairo/pkgaudit/internal/domain/services"
	"github.com/ochairo/pkgaudit/internal/external-adapters/packagejson"
)

type auditOptions struct {
	pkg          string
	manifest     string
	configPath   string
	overrides    configOverrides
	jsonOutput   bool
	reportOut    string
	signKey      string
	signatureOut string
	quiet        bool
}

func runAudit(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts auditOptions
	fs := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.pkg, "package", "p", "", "Package to audit, as name or name@constraint")
	fs.StringVarP(&opts.manifest, "manifest", "m", "", "package.json whose dependencies are audited")
	fs.StringVarP(&opts.configPath, "config", "c", "", "Configuration file")
	fs.StringVar(&opts.overrides.backend, "backend", "", "Sandbox backend (local or bwrap)")
	fs.StringVar(&opts.overrides.root, "root", "", "Host directory holding the sandbox workspace")
	fs.StringVar(&opts.overrides.failOn, "fail-on", "", "Exit with code 2 when findings reach this severity")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Print the report in npm audit JSON format")
	fs.StringVar(&opts.reportOut, "report-out", "", "Also write the npm audit JSON report to this file")
	fs.StringVar(&opts.signKey, "sign-key", "", "OpenPGP private key used to sign the JSON report")
	fs.StringVar(&opts.signatureOut, "signature-out", "", "Detached signature path (default <report-out>.asc)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print pipeline progress")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: pkgaudit audit (--package <spec> | --manifest <path>) [options]

Write a manifest for the selected dependencies into an isolated
environment, install them, and audit the resolved dependency graph.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(stderr, `
Exit codes:
  0  audit completed
  1  usage error or pipeline failure
  2  findings at or above --fail-on

Examples:
  pkgaudit audit --package lodash@4.17.20
  pkgaudit audit --manifest ./package.json --fail-on high
  pkgaudit audit -p minimist --json --report-out report.json --sign-key key.asc
`)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		fs.Usage()
		return exitFailure
	}

	if (opts.pkg == "") == (opts.manifest == "") {
		fmt.Fprintf(stderr, "Error: exactly one of --package or --manifest is required\n\n")
		fs.Usage()
		return exitFailure
	}

	code, err := executeAudit(ctx, opts, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", sanitizeTerminal(err.Error()))
	}
	return code
}

func executeAudit(ctx context.Context, opts auditOptions, stdout, stderr io.Writer) (int, error) {
	cfg, _, err := loadConfig(opts.configPath, opts.overrides)
	if err != nil {
		return exitFailure, err
	}

	selection, err := readSelection(opts)
	if err != nil {
		return exitFailure, err
	}

	p, err := buildPipeline(cfg, stderr)
	if err != nil {
		return exitFailure, err
	}

	if !opts.quiet {
		unsubscribe := p.orchestrator.Subscribe(&progressPrinter{w: stderr})
		defer unsubscribe()
	}

	result, err := p.orchestrator.RunAudit(ctx, selection)
	if errors.Is(err, orchestrators.ErrEmptySelection) {
		fmt.Fprintln(stderr, "Nothing to audit: the selection declares no dependencies")
		return exitOK, nil
	}
	if result == nil {
		return exitFailure, err
	}
	if !result.Success {
		printPipelineError(stderr, result.Error)
		return exitFailure, nil
	}

	reports := services.NewReportService()
	if err := reports.CheckConsistency(result.Report); err != nil {
		p.logger.Warn("report counts are inconsistent", interfaces.F("error", err))
	}

	wire, err := p.codec.Encode(result.Report)
	if err != nil {
		return exitFailure, err
	}

	if opts.jsonOutput {
		if _, err := stdout.Write(wire); err != nil {
			return exitFailure, err
		}
	} else {
		renderReport(stdout, result.Report, reports)
	}

	if err := writeReportArtifacts(opts, cfg, wire, stderr); err != nil {
		return exitFailure, err
	}

	if reports.ExceedsThreshold(result.Report, cfg.Report.FailOn) {
		fmt.Fprintf(stderr, "Findings at or above %s severity\n", cfg.Report.FailOn)
		return exitFindings, nil
	}
	return exitOK, nil
}

func readSelection(opts auditOptions) (entities.DependencySelection, error) {
	if opts.pkg != "" {
		dep, err := entities.ParsePackageSpec(opts.pkg)
		if err != nil {
			return nil, err
		}
		return entities.DependencySelection{dep}, nil
	}

	//nolint:gosec // G304: manifest path is provided by the user
	f, err := os.Open(opts.manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	selection, err := packagejson.NewReader().ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.manifest, err)
	}
	return selection, nil
}

// writeReportArtifacts saves the JSON report and its detached signature
func writeReportArtifacts(opts auditOptions, cfg *entities.AuditConfig, wire []byte, stderr io.Writer) error {
	if opts.reportOut != "" {
		if err := os.WriteFile(opts.reportOut, wire, 0o644); err != nil { //nolint:gosec // G306: reports are meant to be shared
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	keyPath := opts.signKey
	if keyPath == "" {
		keyPath = cfg.Report.SignKey
	}
	if keyPath == "" {
		return nil
	}

	sigPath := opts.signatureOut
	if sigPath == "" {
		if opts.reportOut == "" {
			return fmt.Errorf("signing needs --report-out or --signature-out")
		}
		sigPath = opts.reportOut + ".asc"
	}

	signer, err := adapters.NewReportSigner(keyPath, cfg.Report.SignPassphraseEnv)
	if err != nil {
		return err
	}
	signature, err := signer.Sign(wire)
	if err != nil {
		return err
	}
	if err := os.WriteFile(sigPath, signature, 0o644); err != nil { //nolint:gosec // G306: signatures are public
		return fmt.Errorf("failed to write signature: %w", err)
	}
	fmt.Fprintf(stderr, "🔏 Signed report: %s\n", sigPath)
	return nil
}
