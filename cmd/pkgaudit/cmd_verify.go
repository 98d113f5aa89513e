package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	adapters "github.com/ochairo/pkgaudit/internal/domain-adapters/gateways"
)

func runVerify(args []string, stdout, stderr io.Writer) int {
	var keyPath, reportPath, signaturePath string
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&keyPath, "key", "", "OpenPGP public key of the signer")
	fs.StringVar(&reportPath, "report", "", "JSON report written by audit --report-out")
	fs.StringVar(&signaturePath, "signature", "", "Detached signature (default <report>.asc)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: pkgaudit verify --key <public key> --report <report.json> [--signature <file>]

Verify the detached OpenPGP signature of an audit report.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		fs.Usage()
		return exitFailure
	}

	if keyPath == "" || reportPath == "" {
		fmt.Fprintf(stderr, "Error: --key and --report are required\n\n")
		fs.Usage()
		return exitFailure
	}
	if signaturePath == "" {
		signaturePath = reportPath + ".asc"
	}

	if err := executeVerify(keyPath, reportPath, signaturePath); err != nil {
		fmt.Fprintf(stdout, "❌ Signature verification FAILED: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "✅ Signature verified: %s\n", reportPath)
	return exitOK
}

func executeVerify(keyPath, reportPath, signaturePath string) error {
	//nolint:gosec // G304: report path is provided by the user
	report, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}
	//nolint:gosec // G304: signature path is provided by the user
	signature, err := os.ReadFile(signaturePath)
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}

	verifier, err := adapters.NewReportVerifier(keyPath)
	if err != nil {
		return err
	}
	return verifier.Verify(report, signature)
}
