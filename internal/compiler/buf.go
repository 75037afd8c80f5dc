package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drewfead/abi/internal/execpipe"
	"gopkg.in/yaml.v3"
)

// bufFileAnnotationExitCode is what buf exits with when it rejects the
// input files themselves.
const bufFileAnnotationExitCode = 100

// DefaultBufCommand runs the buf version pinned in go.mod.
var DefaultBufCommand = []string{"go", "run", "github.com/bufbuild/buf/cmd/buf"}

// BufPlugin is one entry of the generated buf.gen.yaml.
type BufPlugin struct {
	// Name identifies the plugin in Buf.Name. The command line is used when empty.
	Name string
	// Local is the plugin command, e.g. ["protoc-gen-go"].
	Local []string
	Opt   string
}

// Buf runs `buf generate` with a template built from its plugin list.
type Buf struct {
	Command   []string
	Plugins   []BufPlugin
	GoPackage string
	Dir       string
}

func (b *Buf) Name() string {
	names := make([]string, len(b.Plugins))
	for i, p := range b.Plugins {
		names[i] = p.Name
		if names[i] == "" {
			names[i] = strings.Join(p.Local, " ")
		}
	}
	return "buf[" + strings.Join(names, ",") + "]"
}

type bufTemplate struct {
	Version string              `yaml:"version"`
	Plugins []bufTemplatePlugin `yaml:"plugins"`
}

type bufTemplatePlugin struct {
	Local []string `yaml:"local"`
	Out   string   `yaml:"out"`
	Opt   []string `yaml:"opt,omitempty"`
}

func (b *Buf) template(names []string) (string, error) {
	tmpl := bufTemplate{Version: "v2"}
	for _, p := range b.Plugins {
		tp := bufTemplatePlugin{Local: p.Local, Out: "."}
		if param := parameter(p.Opt, names, b.GoPackage); param != "" {
			tp.Opt = strings.Split(param, ",")
		}
		tmpl.Plugins = append(tmpl.Plugins, tp)
	}

	data, err := yaml.Marshal(tmpl)
	if err != nil {
		return "", fmt.Errorf("unable to encode buf template: %w", err)
	}
	return string(data), nil
}

func (b *Buf) Compile(ctx context.Context, req Request) (*Output, error) {
	if len(b.Plugins) == 0 {
		return nil, errors.New("no plugins configured")
	}
	if err := checkDefinitions(req.Definitions); err != nil {
		return nil, err
	}

	includes := includePaths(req.IncludePaths)
	if len(includes) > 1 {
		return nil, fmt.Errorf("buf backend supports a single include path, got %d", len(includes))
	}
	names, err := importNames(req.Definitions, includes)
	if err != nil {
		return nil, err
	}

	// buf only generates the paths it is given, so the local imports are
	// found up front and passed along with the definitions.
	files, err := parse(ctx, names, includes)
	if err != nil {
		return nil, err
	}
	base, sources := codeGeneratorRequest(files, includes)

	tmpl, err := b.template(withoutGoPackage(base))
	if err != nil {
		return nil, err
	}

	command := b.Command
	if len(command) == 0 {
		command = DefaultBufCommand
	}
	name, args, err := execpipe.Split(command)
	if err != nil {
		return nil, err
	}
	args = append(args, "generate", includes[0], "--template", tmpl, "--output", req.OutDir)
	for _, src := range sources {
		args = append(args, "--path", src)
	}

	err = execpipe.Run(ctx, execpipe.Cmd{Name: name, Args: args, Dir: b.Dir})
	if err != nil {
		var exitErr *execpipe.ExitError
		if errors.As(err, &exitErr) && exitErr.Code == bufFileAnnotationExitCode {
			return nil, schemaError(errors.New(strings.TrimSpace(exitErr.Stderr)))
		}
		return nil, err
	}

	generated, err := listFiles(req.OutDir)
	if err != nil {
		return nil, err
	}
	return &Output{Files: generated, Inputs: sources}, nil
}
