// Package compiler turns interface definition files into Go bindings.
//
// Two backends are provided: Builtin compiles the definitions in-process with
// protocompile and drives code generator plugins over the standard plugin
// protocol, and Buf shells out to `buf generate`.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrInvalidSchema marks errors caused by the definitions themselves, as
// opposed to the environment or the tools.
var ErrInvalidSchema = errors.New("invalid schema")

// Request is one compilation.
type Request struct {
	// Definitions are the definition files to generate bindings for.
	Definitions []string
	// IncludePaths resolve imports. Every definition must reside under one of them.
	IncludePaths []string
	// OutDir receives the generated files. It must already exist.
	OutDir string
}

// Output lists the generated files, relative to the request's OutDir, sorted.
type Output struct {
	Files []string
	// Inputs are the files under the include paths that were compiled: the
	// definitions and every local file they import, in dependency order.
	Inputs []string
}

// Compiler is the schema compiler.
type Compiler interface {
	// Name identifies the backend and its plugin set. It is recorded in the
	// stamp manifest, so changing it invalidates previous output.
	Name() string
	Compile(ctx context.Context, req Request) (*Output, error)
}

func schemaError(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
}

// checkDefinitions fails with the underlying fs error when a definition is
// missing or unreadable.
func checkDefinitions(defs []string) error {
	if len(defs) == 0 {
		return errors.New("no definition files given")
	}
	for _, def := range defs {
		info, err := os.Stat(def)
		if err != nil {
			return fmt.Errorf("definition file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("definition file %s is a directory", def)
		}
	}
	return nil
}

func includePaths(paths []string) []string {
	if len(paths) == 0 {
		return []string{"."}
	}
	return paths
}

// importNames maps each definition onto its name relative to the first
// include path that contains it, the same way protoc resolves -I.
func importNames(defs, includes []string) ([]string, error) {
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		name, err := importName(def, includes)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func importName(def string, includes []string) (string, error) {
	absDef, err := filepath.Abs(def)
	if err != nil {
		return "", err
	}
	for _, inc := range includes {
		absInc, err := filepath.Abs(inc)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(absInc, absDef)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.ToSlash(rel), nil
	}
	return "", schemaError(fmt.Errorf("%s: file does not reside within any include path (%s)", def, strings.Join(includes, ", ")))
}

// resolve finds name under the include paths the way the source resolver
// does, returning its path on disk.
func resolve(name string, includes []string) (string, bool) {
	for _, inc := range includes {
		p := filepath.Join(inc, filepath.FromSlash(name))
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// listFiles returns every regular file under dir, relative and slash separated.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list generated files: %w", err)
	}
	slices.Sort(files)
	return files, nil
}
