package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/drewfead/abi/internal/buildstep"
	"github.com/drewfead/abi/internal/config"
	"github.com/drewfead/abi/internal/logging"
	"github.com/urfave/cli/v3"
)

const envPrefix = "ABIGEN_"

var errStale = errors.New("generated bindings are stale")

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + name)
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "abigen",
		Usage: "generate Go bindings for the reservation interface definitions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "chdir", Aliases: []string{"C"}, Usage: "change to `dir` before doing anything"},
			&cli.StringFlag{Name: "config", Usage: "YAML config `file` (default: ./abigen.yaml or ~/.config/abigen/abigen.yaml)", Sources: env("CONFIG")},
			&cli.StringFlag{Name: "out", Usage: "output `dir` for generated bindings", Sources: env("OUT_DIR")},
			&cli.StringSliceFlag{Name: "proto", Usage: "definition `file` to compile (repeatable)", Sources: env("PROTOS")},
			&cli.StringSliceFlag{Name: "include", Aliases: []string{"I"}, Usage: "import search `dir` (repeatable)", Sources: env("INCLUDE_PATHS")},
			&cli.StringFlag{Name: "backend", Usage: "schema compiler: builtin or buf", Sources: env("BACKEND")},
			&cli.StringFlag{Name: "go-package", Usage: "Go import `path` for definitions without option go_package", Sources: env("GO_PACKAGE")},
			&cli.StringSliceFlag{Name: "formatter", Usage: "formatter to run: gofumpt, golangci or none (repeatable)", Sources: env("FORMATTERS")},
			&cli.BoolFlag{Name: "strict-format", Usage: "fail when the formatter fails", Sources: env("STRICT_FORMAT")},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Sources: env("LOG_LEVEL")},
			&cli.StringFlag{Name: "log-format", Usage: "text or json", Sources: env("LOG_FORMAT")},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if dir := cmd.String("chdir"); dir != "" {
				if err := os.Chdir(dir); err != nil {
					return ctx, fmt.Errorf("failed to change directory: %w", err)
				}
			}
			return ctx, nil
		},
		Action: generate,
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "compile, format and publish the bindings",
				Action: generate,
			},
			{
				Name:   "check",
				Usage:  "exit non-zero when the bindings are stale",
				Action: check,
			},
			{
				Name:   "clean",
				Usage:  "remove the generated bindings",
				Action: clean,
			},
		},
	}
}

// setup loads the configuration and installs the logger.
func setup(cmd *cli.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}

func generate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	step, err := newStep(cfg, cmd.Root().Writer)
	if err != nil {
		return err
	}

	res, err := step.Run(ctx)
	if err != nil {
		return describe(err)
	}
	if res.FormatErr != nil {
		slog.Warn("bindings were published without formatting", "error", res.FormatErr)
	}
	return nil
}

func check(_ context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	step, err := newStep(cfg, cmd.Root().Writer)
	if err != nil {
		return err
	}

	st, err := step.Check()
	if err != nil {
		return err
	}
	if st.Stale {
		return fmt.Errorf("%w: %s", errStale, st.Reason)
	}
	slog.Info("generated bindings are up to date", "dir", cfg.OutDir)
	return nil
}

func clean(_ context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	step, err := newStep(cfg, cmd.Root().Writer)
	if err != nil {
		return err
	}

	removed, err := step.Clean()
	if err != nil {
		return err
	}
	slog.Info("removed generated bindings", "dir", cfg.OutDir, "files", len(removed))
	return nil
}

// describe adds a hint to errors the developer has to fix by hand.
func describe(err error) error {
	var (
		schemaErr *buildstep.SchemaError
		toolErr   *buildstep.ToolError
		ioErr     *buildstep.IOError
	)
	switch {
	case errors.As(err, &schemaErr):
		return fmt.Errorf("interface definition rejected: %w", err)
	case errors.As(err, &toolErr):
		return fmt.Errorf("external tool failed (run `go mod download` to fetch pinned tools): %w", err)
	case errors.As(err, &ioErr):
		return fmt.Errorf("filesystem error: %w", err)
	}
	return err
}

func main() {
	ctx := context.Background()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		slog.Error("abigen failed", "error", err)
		os.Exit(1)
	}
}
