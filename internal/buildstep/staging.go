package buildstep

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// rename is swapped out by tests to make the output swap fail.
var rename = os.Rename

func stagingPrefix(outDir string) string {
	return "." + filepath.Base(outDir) + ".staging-"
}

// newStaging creates an empty directory next to outDir. Creating it there
// keeps the final rename on one filesystem, and doubles as the writability
// check for the output location's parent.
func newStaging(outDir string) (string, error) {
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", &IOError{Op: "create output parent", Err: err}
	}
	staging, err := os.MkdirTemp(parent, stagingPrefix(outDir)+"*")
	if err != nil {
		return "", &IOError{Op: "create staging directory", Err: err}
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return "", &IOError{Op: "create staging directory", Err: err}
	}
	return staging, nil
}

// checkWritable fails when outDir exists but cannot be replaced: it is not a
// directory, or files cannot be created and removed inside it.
func checkWritable(outDir string) error {
	info, err := os.Stat(outDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &IOError{Op: "check output directory", Err: err}
	}
	if !info.IsDir() {
		return &IOError{Op: "check output directory", Err: fmt.Errorf("%s is not a directory", outDir)}
	}

	f, err := os.CreateTemp(outDir, ".abigen-write-*")
	if err != nil {
		return &IOError{Op: "check output directory", Err: err}
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return &IOError{Op: "check output directory", Err: err}
	}
	if err := os.Remove(name); err != nil {
		return &IOError{Op: "check output directory", Err: err}
	}
	return nil
}

// sweep removes staging and backup directories left next to outDir by
// earlier runs that were killed or could not clean up.
func (s *Step) sweep(outDir string) {
	entries, err := os.ReadDir(filepath.Dir(outDir))
	if err != nil {
		return
	}
	prefix := stagingPrefix(outDir)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		path := filepath.Join(filepath.Dir(outDir), e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove leftover staging directory", "dir", path, "error", err)
		}
	}
}

// carryOver copies preserved hand-written files from the current output
// directory into staging.
func (s *Step) carryOver(outDir, staging string) error {
	for _, name := range s.preserve {
		src := filepath.Join(outDir, name)
		data, err := os.ReadFile(src)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return &IOError{Op: "preserve " + name, Err: err}
		}

		dst := filepath.Join(staging, name)
		if _, err := os.Stat(dst); err == nil {
			return &IOError{Op: "preserve " + name, Err: fmt.Errorf("%s is also generated", name)}
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return &IOError{Op: "preserve " + name, Err: err}
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return &IOError{Op: "preserve " + name, Err: err}
		}
	}
	return nil
}

// publish replaces outDir with staging. The previous tree is moved aside
// first and restored if the swap fails. Once the new tree is in place,
// failing to delete the previous one only warrants a warning.
func (s *Step) publish(staging, outDir string) error {
	backup := ""
	if _, err := os.Stat(outDir); err == nil {
		backup = staging + ".old"
		if err := rename(outDir, backup); err != nil {
			return &IOError{Op: "replace output directory", Err: err}
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "replace output directory", Err: err}
	}

	if err := rename(staging, outDir); err != nil {
		if backup != "" {
			if restoreErr := rename(backup, outDir); restoreErr != nil {
				s.logger.Error("failed to restore previous output", "dir", outDir, "backup", backup, "error", restoreErr)
				err = errors.Join(err, fmt.Errorf("restore previous output from %s: %w", backup, restoreErr))
			}
		}
		return &IOError{Op: "replace output directory", Err: err}
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			s.logger.Warn("failed to remove previous output", "dir", backup, "error", err)
		}
	}
	return nil
}
