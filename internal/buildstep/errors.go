package buildstep

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/drewfead/abi/internal/compiler"
	"github.com/drewfead/abi/internal/execpipe"
)

// SchemaError means the definitions were rejected. The message is the
// compiler's diagnostic, unchanged.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return e.Err.Error() }
func (e *SchemaError) Unwrap() error { return e.Err }

// IOError means an input could not be read or the output could not be written.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// ToolError means an external tool was missing or failed.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return e.Tool + ": " + e.Err.Error() }
func (e *ToolError) Unwrap() error { return e.Err }

// classify wraps err in the matching taxonomy type. Schema errors are checked
// first because an unresolved import also wraps fs.ErrNotExist.
func classify(op, tool string, err error) error {
	var (
		exitErr *execpipe.ExitError
		pathErr *fs.PathError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, compiler.ErrInvalidSchema):
		return &SchemaError{Err: err}
	case errors.Is(err, execpipe.ErrNotFound), errors.As(err, &exitErr):
		return &ToolError{Tool: tool, Err: err}
	case errors.As(err, &pathErr), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return &IOError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
