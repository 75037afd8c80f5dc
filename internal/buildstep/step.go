// Package buildstep runs the interface compiler invocation: compile the
// definitions into a fresh tree, format it, publish it in place of the
// output directory and declare the definitions and their local imports as
// rebuild triggers.
package buildstep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/drewfead/abi/internal/compiler"
	"github.com/drewfead/abi/internal/format"
	"github.com/drewfead/abi/internal/stamp"
)

// State is how far a run got.
type State int

const (
	StateConfigured State = iota
	StateCompiled
	StateFormatted
	StateDependencyDeclared
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateCompiled:
		return "compiled"
	case StateFormatted:
		return "formatted"
	case StateDependencyDeclared:
		return "dependency-declared"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result describes a finished run.
type Result struct {
	State State
	// Files are the generated files, relative to the output directory.
	Files []string
	// FormatErr is set when formatting failed but the run continued.
	FormatErr error
}

// Step is one configured build step.
type Step struct {
	compiler     compiler.Compiler
	formatter    format.Formatter
	definitions  []string
	includePaths []string
	outDir       string
	preserve     []string
	strictFormat bool
	trigger      io.Writer
	logger       *slog.Logger
}

// Option configures a Step.
type Option func(*Step)

// WithOutDir sets the directory generated bindings are written to.
func WithOutDir(dir string) Option {
	return func(s *Step) { s.outDir = dir }
}

// WithDefinitions sets the definition files to compile.
func WithDefinitions(paths ...string) Option {
	return func(s *Step) { s.definitions = paths }
}

// WithIncludePaths sets the directories imports are resolved against.
func WithIncludePaths(paths ...string) Option {
	return func(s *Step) { s.includePaths = paths }
}

// WithFormatter sets the formatter run over the generated tree.
func WithFormatter(f format.Formatter) Option {
	return func(s *Step) { s.formatter = f }
}

// WithStrictFormat makes formatter failures abort the run.
func WithStrictFormat(strict bool) Option {
	return func(s *Step) { s.strictFormat = strict }
}

// WithPreserve names hand-written files in the output directory (such as a
// doc.go carrying the go:generate directive) that survive regeneration.
func WithPreserve(names ...string) Option {
	return func(s *Step) { s.preserve = names }
}

// WithTrigger sets where rerun-if-changed directives are written.
func WithTrigger(w io.Writer) Option {
	return func(s *Step) { s.trigger = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Step) { s.logger = l }
}

// New creates a step using c as the schema compiler.
func New(c compiler.Compiler, opts ...Option) *Step {
	s := &Step{
		compiler:  c,
		formatter: format.None{},
		trigger:   io.Discard,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generator identifies everything besides the definitions that shapes the
// output. It is recorded in the stamp manifest.
func (s *Step) Generator() string {
	return s.compiler.Name() + ";" + s.formatter.Name()
}

func (s *Step) validate() error {
	var errs []error
	if s.compiler == nil {
		errs = append(errs, errors.New("no schema compiler configured"))
	}
	if s.formatter == nil {
		errs = append(errs, errors.New("no formatter configured"))
	}
	if s.outDir == "" {
		errs = append(errs, errors.New("no output directory configured"))
	}
	if len(s.definitions) == 0 {
		errs = append(errs, errors.New("no definition files configured"))
	}
	return errors.Join(errs...)
}

// Run executes the step. Any error leaves the output directory as it was,
// minus its stamp manifest, so the next check reports it stale.
func (s *Step) Run(ctx context.Context) (*Result, error) {
	res := &Result{State: StateConfigured}
	if err := s.validate(); err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("invalid build step: %w", err)
	}

	outDir, err := filepath.Abs(s.outDir)
	if err != nil {
		res.State = StateFailed
		return res, &IOError{Op: "resolve output directory", Err: err}
	}

	fail := func(err error) (*Result, error) {
		res.State = StateFailed
		if rmErr := stamp.Remove(outDir); rmErr != nil {
			s.logger.Warn("failed to invalidate previous output", "dir", outDir, "error", rmErr)
		}
		return res, err
	}

	s.sweep(outDir)
	staging, err := newStaging(outDir)
	if err != nil {
		return fail(err)
	}
	published := false
	defer func() {
		if !published {
			if err := os.RemoveAll(staging); err != nil {
				s.logger.Warn("failed to remove staging directory", "dir", staging, "error", err)
			}
		}
	}()

	if err := checkWritable(outDir); err != nil {
		return fail(err)
	}

	s.logger.Info("compiling definitions",
		"compiler", s.compiler.Name(),
		"definitions", s.definitions,
		"include_paths", s.includePaths,
	)
	out, err := s.compiler.Compile(ctx, compiler.Request{
		Definitions:  s.definitions,
		IncludePaths: s.includePaths,
		OutDir:       staging,
	})
	if err != nil {
		return fail(classify("compile", s.compiler.Name(), err))
	}
	res.State = StateCompiled
	res.Files = out.Files

	if err := s.formatter.Format(ctx, staging); err != nil {
		if s.strictFormat {
			return fail(formatError(s.formatter.Name(), err))
		}
		s.logger.Warn("formatter failed, publishing unformatted bindings",
			"formatter", s.formatter.Name(),
			"error", err,
		)
		res.FormatErr = err
	}
	res.State = StateFormatted

	manifest, err := stamp.Build(s.Generator(), s.definitions, out.Inputs, out.Files)
	if err != nil {
		return fail(classify("hash definitions", "", err))
	}
	if err := stamp.Save(staging, manifest); err != nil {
		return fail(&IOError{Op: "write manifest", Err: err})
	}
	if err := s.carryOver(outDir, staging); err != nil {
		return fail(err)
	}
	if err := s.publish(staging, outDir); err != nil {
		return fail(err)
	}
	published = true

	if err := stamp.Declare(s.trigger, stamp.Watched(s.definitions, out.Inputs)); err != nil {
		return fail(&IOError{Op: "declare rebuild trigger", Err: err})
	}
	res.State = StateDependencyDeclared

	s.logger.Info("generated bindings", "dir", s.outDir, "files", len(out.Files))
	res.State = StateDone
	return res, nil
}

func formatError(name string, err error) error {
	classified := classify("format", name, err)
	var (
		ioErr   *IOError
		toolErr *ToolError
	)
	if errors.As(classified, &ioErr) || errors.As(classified, &toolErr) {
		return classified
	}
	return &ToolError{Tool: name, Err: err}
}

// Check reports whether the output directory is stale.
func (s *Step) Check() (stamp.Staleness, error) {
	if err := s.validate(); err != nil {
		return stamp.Staleness{}, fmt.Errorf("invalid build step: %w", err)
	}
	st, err := stamp.Check(s.outDir, s.Generator(), s.definitions)
	if err != nil {
		return stamp.Staleness{}, classify("check", "", err)
	}
	return st, nil
}

// Clean removes the files recorded by the last successful run and the manifest.
func (s *Step) Clean() ([]string, error) {
	m, err := stamp.Load(s.outDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("clean", "", err)
	}

	var removed []string
	for _, f := range m.Outputs {
		path := filepath.Join(s.outDir, filepath.FromSlash(f))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, &IOError{Op: "clean", Err: err}
		}
		removed = append(removed, f)
	}
	if err := stamp.Remove(s.outDir); err != nil {
		return removed, &IOError{Op: "clean", Err: err}
	}
	return removed, nil
}
