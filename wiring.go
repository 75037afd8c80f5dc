package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/drewfead/abi/internal/buildstep"
	"github.com/drewfead/abi/internal/compiler"
	"github.com/drewfead/abi/internal/config"
	"github.com/drewfead/abi/internal/format"
	"github.com/urfave/cli/v3"
)

// protocGenGoCommand stands in for the in-process go plugin when buf drives generation.
var protocGenGoCommand = []string{"go", "run", "google.golang.org/protobuf/cmd/protoc-gen-go"}

// loadConfig layers defaults, the config file and flags/env vars, in that order.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()

	path := cmd.String("config")
	if path == "" {
		found, err := config.FindConfigFile(config.SearchPaths())
		if err != nil {
			return nil, err
		}
		path = found
	}
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if cmd.IsSet("out") {
		cfg.OutDir = cmd.String("out")
	}
	if cmd.IsSet("proto") {
		cfg.Protos = cmd.StringSlice("proto")
	}
	if cmd.IsSet("include") {
		cfg.IncludePaths = cmd.StringSlice("include")
	}
	if cmd.IsSet("backend") {
		cfg.Backend = cmd.String("backend")
	}
	if cmd.IsSet("go-package") {
		cfg.GoPackage = cmd.String("go-package")
	}
	if cmd.IsSet("formatter") {
		cfg.Formatters = cmd.StringSlice("formatter")
	}
	if cmd.IsSet("strict-format") {
		cfg.StrictFormat = cmd.Bool("strict-format")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration (config file %q): %w", path, err)
	}
	return cfg, nil
}

func newCompiler(cfg *config.Config) compiler.Compiler {
	if cfg.Backend == config.BackendBuf {
		b := &compiler.Buf{Command: cfg.BufCommand, GoPackage: cfg.GoPackage}
		for _, p := range cfg.Plugins {
			local := p.Command
			if len(local) == 0 {
				local = protocGenGoCommand
			}
			b.Plugins = append(b.Plugins, compiler.BufPlugin{Name: p.Name, Local: local, Opt: p.Opt})
		}
		return b
	}

	var plugins []compiler.PluginConfig
	for _, p := range cfg.Plugins {
		var plugin compiler.Plugin = compiler.GoPlugin{}
		if len(p.Command) > 0 {
			plugin = compiler.ExecPlugin{Label: p.Name, Command: p.Command}
		}
		plugins = append(plugins, compiler.PluginConfig{Plugin: plugin, Parameter: p.Opt})
	}
	return compiler.NewBuiltin(cfg.GoPackage, plugins...)
}

// newStep builds the build step described by cfg. Rebuild triggers go to trigger.
func newStep(cfg *config.Config, trigger io.Writer) (*buildstep.Step, error) {
	formatter, err := format.New(cfg.Formatters, cfg.LangVersion, cfg.ModulePath)
	if err != nil {
		return nil, err
	}

	return buildstep.New(newCompiler(cfg),
		buildstep.WithDefinitions(cfg.Protos...),
		buildstep.WithIncludePaths(cfg.IncludePaths...),
		buildstep.WithOutDir(cfg.OutDir),
		buildstep.WithPreserve(cfg.Preserve...),
		buildstep.WithFormatter(formatter),
		buildstep.WithStrictFormat(cfg.StrictFormat),
		buildstep.WithTrigger(trigger),
		buildstep.WithLogger(slog.Default()),
	), nil
}
