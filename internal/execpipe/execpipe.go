// Package execpipe runs external tools as blocking child processes.
package execpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"slices"
	"strings"

	"github.com/goaux/stacktrace/v2"
)

// ErrNotFound is returned (wrapped) when the executable cannot be located.
var ErrNotFound = errors.New("executable not found")

// ExitError describes a tool that ran but exited unsuccessfully.
type ExitError struct {
	Name   string
	Args   []string
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Cmd describes one invocation.
type Cmd struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string // appended to the parent environment
	Stdin io.Reader
	// Stdout receives the tool's standard output. Discarded when nil.
	Stdout io.Writer
}

// Run executes c and waits for it to finish. Stderr is captured and
// reported through *ExitError when the tool fails. A relative Name is
// resolved against Dir.
func Run(ctx context.Context, c Cmd) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr

	if err := stacktrace.Trace(cmd.Run()); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{
				Name:   c.Name,
				Args:   c.Args,
				Code:   exitErr.ExitCode(),
				Stderr: stderr.String(),
				Err:    err,
			}
		}
		if notFound(err) {
			return fmt.Errorf("%s: %w: %w", c.Name, ErrNotFound, err)
		}
		return fmt.Errorf("%s: %w, stderr=%q", c.Name, err, stderr.String())
	}
	return nil
}

// notFound reports whether err means the executable itself is missing, as
// opposed to its working directory.
func notFound(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) && pathErr.Op == "fork/exec" && errors.Is(pathErr.Err, fs.ErrNotExist)
}

// Output runs c and returns its standard output.
func Output(ctx context.Context, c Cmd) ([]byte, error) {
	out := new(bytes.Buffer)
	c.Stdout = out
	if err := Run(ctx, c); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Split turns a command line such as "go run example.com/tool" into name
// and arguments. Quoting is not supported.
func Split(command []string) (name string, args []string, err error) {
	if len(command) == 0 || command[0] == "" {
		return "", nil, errors.New("empty command")
	}
	return command[0], slices.Clone(command[1:]), nil
}
