package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/linker"
	"github.com/bufbuild/protocompile/reporter"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/pluginpb"
)

const generatedFilePermMode = 0o644

// Builtin compiles definitions with protocompile and runs the configured
// plugins in order.
type Builtin struct {
	Plugins []PluginConfig
	// GoPackage, when set, is passed to every plugin as the Go import path
	// of each file that does not declare option go_package.
	GoPackage string
}

// NewBuiltin returns a Builtin backend with the given plugins.
func NewBuiltin(goPackage string, plugins ...PluginConfig) *Builtin {
	return &Builtin{Plugins: plugins, GoPackage: goPackage}
}

func (b *Builtin) Name() string {
	names := make([]string, len(b.Plugins))
	for i, p := range b.Plugins {
		names[i] = p.Plugin.Name()
	}
	return "builtin[" + strings.Join(names, ",") + "]"
}

func (b *Builtin) Compile(ctx context.Context, req Request) (*Output, error) {
	if len(b.Plugins) == 0 {
		return nil, errors.New("no plugins configured")
	}
	if err := checkDefinitions(req.Definitions); err != nil {
		return nil, err
	}

	includes := includePaths(req.IncludePaths)
	names, err := importNames(req.Definitions, includes)
	if err != nil {
		return nil, err
	}

	files, err := parse(ctx, names, includes)
	if err != nil {
		return nil, err
	}
	base, sources := codeGeneratorRequest(files, includes)
	unmapped := withoutGoPackage(base)

	generated := map[string]string{}
	for _, pc := range b.Plugins {
		pluginReq := proto.Clone(base).(*pluginpb.CodeGeneratorRequest)
		pluginReq.Parameter = proto.String(parameter(pc.Parameter, unmapped, b.GoPackage))

		slog.Debug("running plugin", "plugin", pc.Plugin.Name(), "parameter", pluginReq.GetParameter())
		resp, err := pc.Plugin.Generate(ctx, pluginReq)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, schemaError(fmt.Errorf("plugin %s: %s", pc.Plugin.Name(), resp.GetError()))
		}
		if err := collect(generated, pc.Plugin.Name(), resp); err != nil {
			return nil, err
		}
	}

	out, err := write(req.OutDir, generated)
	if err != nil {
		return nil, err
	}
	out.Inputs = sources
	return out, nil
}

func parse(ctx context.Context, names, includes []string) (linker.Files, error) {
	var diagnostics []error
	rep := reporter.NewReporter(
		func(err reporter.ErrorWithPos) error {
			diagnostics = append(diagnostics, err)
			return nil
		},
		func(err reporter.ErrorWithPos) {
			slog.Warn("schema warning", "warning", err.Error())
		},
	)

	c := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			ImportPaths: includes,
		}),
		Reporter:       rep,
		SourceInfoMode: protocompile.SourceInfoStandard,
		MaxParallelism: 1,
	}

	files, err := c.Compile(ctx, names...)
	if err != nil {
		if len(diagnostics) > 0 {
			return nil, schemaError(errors.Join(diagnostics...))
		}
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, schemaError(err)
	}
	return files, nil
}

// codeGeneratorRequest lists every file the definitions depend on before
// the file itself, as the plugin protocol requires. Every file found under
// the include paths is generated, so peers sharing a package with a
// definition end up in the same output; standard imports are not. The
// paths of the generated files on disk are returned alongside.
func codeGeneratorRequest(files linker.Files, includes []string) (*pluginpb.CodeGeneratorRequest, []string) {
	seen := map[string]bool{}
	req := &pluginpb.CodeGeneratorRequest{}
	var sources []string

	var visit func(fd protoreflect.FileDescriptor)
	visit = func(fd protoreflect.FileDescriptor) {
		if seen[fd.Path()] {
			return
		}
		seen[fd.Path()] = true

		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			visit(imports.Get(i).FileDescriptor)
		}
		req.ProtoFile = append(req.ProtoFile, protodesc.ToFileDescriptorProto(fd))
		if p, ok := resolve(fd.Path(), includes); ok {
			req.FileToGenerate = append(req.FileToGenerate, fd.Path())
			sources = append(sources, p)
		}
	}
	for _, f := range files {
		visit(f)
	}
	return req, sources
}

// withoutGoPackage lists the files that do not declare option go_package.
// Those are mapped onto the configured GoPackage.
func withoutGoPackage(req *pluginpb.CodeGeneratorRequest) []string {
	var names []string
	for _, f := range req.ProtoFile {
		if f.GetOptions().GetGoPackage() == "" {
			names = append(names, f.GetName())
		}
	}
	return names
}

func collect(generated map[string]string, plugin string, resp *pluginpb.CodeGeneratorResponse) error {
	for _, f := range resp.File {
		if f.GetInsertionPoint() != "" {
			return schemaError(fmt.Errorf("plugin %s: insertion points are not supported (%s)", plugin, f.GetName()))
		}
		name, err := cleanName(f.GetName())
		if err != nil {
			return schemaError(fmt.Errorf("plugin %s: %w", plugin, err))
		}
		if _, dup := generated[name]; dup {
			return schemaError(fmt.Errorf("plugin %s: %s was already generated", plugin, name))
		}
		generated[name] = f.GetContent()
	}
	return nil
}

func cleanName(name string) (string, error) {
	cleaned := path.Clean(name)
	if name == "" || path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("generated file name %q escapes the output directory", name)
	}
	return cleaned, nil
}

func write(outDir string, generated map[string]string) (*Output, error) {
	names := make([]string, 0, len(generated))
	for name := range generated {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		dst := filepath.Join(outDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("unable to create output directory: %w", err)
		}
		if err := os.WriteFile(dst, []byte(generated[name]), generatedFilePermMode); err != nil {
			return nil, fmt.Errorf("unable to write generated file: %w", err)
		}
	}
	return &Output{Files: names}, nil
}
