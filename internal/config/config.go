// Package config holds the settings of the abigen build step.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendBuiltin = "builtin"
	BackendBuf     = "buf"
)

// Plugin configures one code generator plugin. An empty Command selects the
// in-process protoc-gen-go, which is only available for the "go" plugin.
type Plugin struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command,omitempty"`
	Opt     string   `yaml:"opt,omitempty"`
}

// Config is the complete configuration of one run.
type Config struct {
	Protos       []string `yaml:"protos"`
	IncludePaths []string `yaml:"include_paths"`
	OutDir       string   `yaml:"out_dir"`
	GoPackage    string   `yaml:"go_package"`

	// Preserve lists hand-written files in OutDir kept across regeneration.
	Preserve []string `yaml:"preserve"`

	Backend    string   `yaml:"backend"`
	BufCommand []string `yaml:"buf_command,omitempty"`
	Plugins    []Plugin `yaml:"plugins"`

	Formatters   []string `yaml:"formatters"`
	StrictFormat bool     `yaml:"strict_format"`
	LangVersion  string   `yaml:"lang_version"`
	ModulePath   string   `yaml:"module_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration for the reservation bindings.
func Default() *Config {
	return &Config{
		Protos:       []string{"protos/reservation.proto"},
		IncludePaths: []string{"protos"},
		OutDir:       "pb",
		GoPackage:    "github.com/drewfead/abi/pb",
		Preserve:     []string{"doc.go"},
		Backend:      BackendBuiltin,
		Plugins: []Plugin{
			{Name: "go", Opt: "paths=source_relative"},
			{
				Name:    "go-grpc",
				Command: []string{"go", "run", "google.golang.org/grpc/cmd/protoc-gen-go-grpc"},
				Opt:     "paths=source_relative",
			},
		},
		Formatters:  []string{"gofumpt"},
		LangVersion: "go1.25",
		ModulePath:  "github.com/drewfead/abi",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Protos) == 0 {
		errs = append(errs, errors.New("at least one proto file is required"))
	}
	if c.OutDir == "" {
		errs = append(errs, errors.New("out_dir is required"))
	}
	if !slices.Contains([]string{BackendBuiltin, BackendBuf}, c.Backend) {
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendBuiltin, BackendBuf))
	}
	if len(c.Plugins) == 0 {
		errs = append(errs, errors.New("at least one plugin is required"))
	}
	for i, p := range c.Plugins {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("plugins[%d]: name is required", i))
		}
		if len(p.Command) == 0 && p.Name != "go" {
			errs = append(errs, fmt.Errorf("plugins[%d]: %s needs a command", i, p.Name))
		}
	}
	if c.Backend == BackendBuf && len(c.IncludePaths) > 1 {
		errs = append(errs, errors.New("the buf backend supports a single include path"))
	}
	return errors.Join(errs...)
}
