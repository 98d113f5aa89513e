package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/ochairo/pkgaudit/internal/external-adapters/yaml"
)

func runConfig(args []string, stdout, stderr io.Writer) int {
	var configPath string
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&configPath, "config", "c", "", "Configuration file")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: pkgaudit config [--config <file>]

Print the effective configuration as YAML. Without --config the file is
looked up in $PKGAUDIT_CONFIG, ./pkgaudit.yml and
$XDG_CONFIG_HOME/pkgaudit/config.yml.

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

	cfg, source, err := loadConfig(configPath, configOverrides{})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	data, err := yaml.NewConfigParser().Marshal(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(stdout, "# source: %s\n", source)
	_, _ = stdout.Write(data)
	return exitOK
}
