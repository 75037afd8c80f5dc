// Package format normalizes the style of generated Go source.
package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/drewfead/abi/internal/execpipe"
	gofumpt "mvdan.cc/gofumpt/format"
)

// Formatter rewrites the files under a directory in place.
type Formatter interface {
	Name() string
	Format(ctx context.Context, dir string) error
}

// Gofumpt formats every .go file in-process with gofumpt.
type Gofumpt struct {
	// LangVersion is the go directive of the enclosing module, e.g. "go1.25".
	LangVersion string
	ModulePath  string
}

func (Gofumpt) Name() string { return "gofumpt" }

func (g Gofumpt) Format(ctx context.Context, dir string) error {
	opts := gofumpt.Options{LangVersion: g.LangVersion, ModulePath: g.ModulePath}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}

		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("unable to read %s: %w", path, err)
		}
		formatted, err := gofumpt.Source(src, opts)
		if err != nil {
			return fmt.Errorf("gofumpt %s: %w", path, err)
		}
		if bytes.Equal(src, formatted) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, formatted, info.Mode().Perm()); err != nil {
			return fmt.Errorf("unable to write %s: %w", path, err)
		}
		return nil
	})
}

// DefaultGolangciCommand runs the golangci-lint version pinned in go.mod.
var DefaultGolangciCommand = []string{"go", "run", "github.com/golangci/golangci-lint/v2/cmd/golangci-lint", "fmt", "."}

// Command runs an external formatter with the tree as its working directory.
type Command struct {
	Label string
	Args  []string
}

func (c Command) Name() string { return c.Label }

func (c Command) Format(ctx context.Context, dir string) error {
	name, args, err := execpipe.Split(c.Args)
	if err != nil {
		return fmt.Errorf("formatter %s: %w", c.Label, err)
	}
	return execpipe.Run(ctx, execpipe.Cmd{Name: name, Args: args, Dir: dir})
}

// Chain applies formatters in order, stopping at the first failure.
type Chain []Formatter

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, f := range c {
		names[i] = f.Name()
	}
	return strings.Join(names, "+")
}

func (c Chain) Format(ctx context.Context, dir string) error {
	for _, f := range c {
		if err := f.Format(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}

// None leaves the tree untouched.
type None struct{}

func (None) Name() string { return "none" }

func (None) Format(context.Context, string) error { return nil }

// ErrUnknown is returned by New for an unrecognised formatter name.
var ErrUnknown = errors.New("unknown formatter")

// New builds the formatter chain for the given names: "gofumpt",
// "golangci" or "none".
func New(names []string, langVersion, modulePath string) (Formatter, error) {
	var chain Chain
	for _, name := range names {
		switch name {
		case "gofumpt":
			chain = append(chain, Gofumpt{LangVersion: langVersion, ModulePath: modulePath})
		case "golangci":
			chain = append(chain, Command{Label: "golangci-lint", Args: DefaultGolangciCommand})
		case "none", "":
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
		}
	}
	switch len(chain) {
	case 0:
		return None{}, nil
	case 1:
		return chain[0], nil
	}
	return chain, nil
}
