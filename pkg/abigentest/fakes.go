package abigentest

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/drewfead/abi/internal/compiler"
)

// Compiler is a fake schema compiler that writes a fixed set of files.
type Compiler struct {
	mu       sync.RWMutex
	name     string
	files    map[string]string
	inputs   []string
	err      error
	partial  []string
	requests []compiler.Request
}

var _ compiler.Compiler = (*Compiler)(nil)

// NewCompiler creates a fake compiler that generates nothing until SetFiles is called.
func NewCompiler() *Compiler {
	return &Compiler{
		name:  "fake",
		files: map[string]string{},
	}
}

// SetName changes the name reported to the stamp manifest.
func (c *Compiler) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// SetFiles replaces the files written on each Compile call.
func (c *Compiler) SetFiles(files map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = maps.Clone(files)
}

// SetInputs sets the imported files reported alongside the definitions.
func (c *Compiler) SetInputs(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = slices.Clone(paths)
}

// FailWith makes Compile write the named partial files and then return err.
func (c *Compiler) FailWith(err error, partial ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.partial = partial
}

// Requests returns every request received so far.
func (c *Compiler) Requests() []compiler.Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.requests)
}

func (c *Compiler) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Compiler) Compile(_ context.Context, req compiler.Request) (*compiler.Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	if c.err != nil {
		for _, name := range c.partial {
			if err := writeOut(req.OutDir, name, "// partial\n"); err != nil {
				return nil, err
			}
		}
		return nil, c.err
	}

	names := slices.Sorted(maps.Keys(c.files))
	for _, name := range names {
		if err := writeOut(req.OutDir, name, c.files[name]); err != nil {
			return nil, err
		}
	}
	inputs := append(slices.Clone(c.inputs), req.Definitions...)
	return &compiler.Output{Files: names, Inputs: inputs}, nil
}

func writeOut(dir, name, content string) error {
	dst := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("fake compiler: %w", err)
	}
	if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
		return fmt.Errorf("fake compiler: %w", err)
	}
	return nil
}

// Formatter is a fake source formatter.
type Formatter struct {
	mu    sync.RWMutex
	err   error
	calls []string
}

// NewFormatter creates a fake formatter that succeeds without touching files.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FailWith makes every Format call return err.
func (f *Formatter) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the directories Format was called with.
func (f *Formatter) Calls() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.calls)
}

func (f *Formatter) Name() string { return "fake" }

func (f *Formatter) Format(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dir)
	return f.err
}
