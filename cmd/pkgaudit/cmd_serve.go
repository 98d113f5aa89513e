package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
	"github.com/ochairo/pkgaudit/internal/domain/services"
	"github.com/ochairo/pkgaudit/internal/external-adapters/httpapi"
)

func runServe(ctx context.Context, args []string, stderr io.Writer) int {
	var (
		configPath string
		addr       string
		overrides  configOverrides
	)
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&configPath, "config", "c", "", "Configuration file")
	fs.StringVar(&addr, "addr", "", "Listen address (default from configuration)")
	fs.StringVar(&overrides.backend, "backend", "", "Sandbox backend (local or bwrap)")
	fs.StringVar(&overrides.root, "root", "", "Host directory holding the sandbox workspace")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: pkgaudit serve [options]

Serve the audit API. One audit runs at a time; submissions while a run
is in flight are rejected with 429.

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

	if err := executeServe(ctx, configPath, addr, overrides, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func executeServe(ctx context.Context, configPath, addr string, overrides configOverrides, stderr io.Writer) error {
	cfg, source, err := loadConfig(configPath, overrides)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	p, err := buildPipeline(cfg, stderr)
	if err != nil {
		return err
	}
	if source != "" {
		p.logger.Info("loaded configuration", interfaces.F("path", source))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := httpapi.NewServer(ctx, p.orchestrator, p.runs, p.codec, services.NewReportService(), p.logger)
	err = server.ListenAndServe(ctx, addr)

	// A run in flight sees the canceled context and is interrupted
	p.orchestrator.Wait()
	return err
}
