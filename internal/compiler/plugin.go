package compiler

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/drewfead/abi/internal/execpipe"
	gengo "google.golang.org/protobuf/cmd/protoc-gen-go/internal_gengo"
	"google.golang.org/protobuf/compiler/protogen"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/pluginpb"
)

// Plugin is a code generator speaking the protoc plugin protocol.
type Plugin interface {
	Name() string
	Generate(ctx context.Context, req *pluginpb.CodeGeneratorRequest) (*pluginpb.CodeGeneratorResponse, error)
}

// GoPlugin runs protoc-gen-go in-process.
type GoPlugin struct{}

func (GoPlugin) Name() string { return "go" }

func (GoPlugin) Generate(_ context.Context, req *pluginpb.CodeGeneratorRequest) (*pluginpb.CodeGeneratorResponse, error) {
	gen, err := protogen.Options{}.New(req)
	if err != nil {
		// protoc-gen-go reports request problems (missing go_package and the
		// like) through the response, so do the same.
		return &pluginpb.CodeGeneratorResponse{Error: proto.String(err.Error())}, nil
	}

	for _, f := range gen.Files {
		if f.Generate {
			gengo.GenerateFile(gen, f)
		}
	}
	gen.SupportedFeatures = gengo.SupportedFeatures
	gen.SupportedEditionsMinimum = gengo.SupportedEditionsMinimum
	gen.SupportedEditionsMaximum = gengo.SupportedEditionsMaximum

	return gen.Response(), nil
}

// ExecPlugin runs an external plugin binary, writing the request to its
// stdin and reading the response from its stdout.
type ExecPlugin struct {
	Label   string
	Command []string
	Dir     string
}

func (p ExecPlugin) Name() string { return p.Label }

func (p ExecPlugin) Generate(ctx context.Context, req *pluginpb.CodeGeneratorRequest) (*pluginpb.CodeGeneratorResponse, error) {
	name, args, err := execpipe.Split(p.Command)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.Label, err)
	}

	in, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: unable to encode request: %w", p.Label, err)
	}

	out, err := execpipe.Output(ctx, execpipe.Cmd{
		Name:  name,
		Args:  args,
		Dir:   p.Dir,
		Stdin: bytes.NewReader(in),
	})
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.Label, err)
	}

	resp := &pluginpb.CodeGeneratorResponse{}
	if err := proto.Unmarshal(out, resp); err != nil {
		return nil, fmt.Errorf("plugin %s: unable to decode response: %w", p.Label, err)
	}
	return resp, nil
}

// PluginConfig pairs a plugin with its parameter string.
type PluginConfig struct {
	Plugin    Plugin
	Parameter string
}

// parameter joins the configured parameter with M<file>=<package> mappings
// for the files being generated.
func parameter(base string, files []string, goPackage string) string {
	var parts []string
	if base != "" {
		parts = append(parts, base)
	}
	if goPackage != "" {
		for _, f := range files {
			parts = append(parts, "M"+f+"="+goPackage)
		}
	}
	return strings.Join(parts, ",")
}
