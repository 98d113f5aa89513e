package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Exit codes
const (
	exitOK       = 0
	exitFailure  = 1 // Usage errors and failed pipeline runs
	exitFindings = 2 // Findings at or above --fail-on
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitFailure
	}

	command := args[0]

	// Dispatch to subcommand
	switch command {
	case "audit":
		return runAudit(ctx, args[1:], stdout, stderr)
	case "serve":
		return runServe(ctx, args[1:], stderr)
	case "verify":
		return runVerify(args[1:], stdout, stderr)
	case "config":
		return runConfig(args[1:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "pkgaudit %s\n", version)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return exitFailure
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `pkgaudit - Sandboxed npm dependency auditor

Usage:
  pkgaudit <command> [options]

Commands:
  audit      Install dependencies in a sandbox and audit them
  serve      Run the HTTP API
  verify     Verify a signed audit report
  config     Print the effective configuration
  version    Print the version

Use "pkgaudit <command> --help" for more information about a command.`)
}
