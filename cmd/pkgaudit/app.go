package main

import (
	"fmt"
	"io"

	adapters "github.com/ochairo/pkgaudit/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/pkgaudit/internal/domain-orchestrators"
	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/external-adapters/logging"
	"github.com/ochairo/pkgaudit/internal/external-adapters/memory"
	"github.com/ochairo/pkgaudit/internal/external-adapters/npmaudit"
	"github.com/ochairo/pkgaudit/internal/external-adapters/yaml"
)

// configOverrides are flag values that take precedence over the file
type configOverrides struct {
	backend string
	root    string
	failOn  string
}

// loadConfig resolves the configuration file and applies flag overrides
func loadConfig(path string, overrides configOverrides) (*entities.AuditConfig, string, error) {
	cfg, source, err := yaml.NewConfigLoader().Load(path)
	if err != nil {
		return nil, "", err
	}

	if overrides.backend != "" {
		cfg.Sandbox.Backend = overrides.backend
	}
	if overrides.root != "" {
		cfg.Sandbox.Root = overrides.root
	}
	if overrides.failOn != "" {
		cfg.Report.FailOn = entities.Severity(overrides.failOn)
	}

	if err := yaml.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, source, nil
}

// pipeline bundles everything a command needs to run audits
type pipeline struct {
	orchestrator *orchestrators.AuditOrchestrator
	runs         *memory.RunRepository
	codec        *npmaudit.Codec
	logger       *logging.SlogLogger
}

// buildPipeline wires the adapters for cfg, logging to logOut
func buildPipeline(cfg *entities.AuditConfig, logOut io.Writer) (*pipeline, error) {
	logger, err := logging.New(logOut, cfg.Logging)
	if err != nil {
		return nil, err
	}

	boot, err := adapters.NewBootFunc(cfg.Sandbox)
	if err != nil {
		return nil, err
	}

	runs, err := memory.NewRunRepository(cfg.Session.MaxRuns, cfg.Output.ArchiveCompression)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	codec := npmaudit.NewCodec()
	orchestrator := orchestrators.NewAuditOrchestrator(
		adapters.NewEnvironmentProvisioner(boot, logger),
		adapters.NewManifestWriter(cfg.Manifest),
		adapters.NewProcessRunner(logger),
		codec,
		runs,
		logger,
		orchestrators.AuditOrchestratorConfig{
			Steps:          cfg.Steps,
			MaxOutputBytes: cfg.Output.MaxBytes,
		},
	)

	return &pipeline{
		orchestrator: orchestrator,
		runs:         runs,
		codec:        codec,
		logger:       logger,
	}, nil
}
