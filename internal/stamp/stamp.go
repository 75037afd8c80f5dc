// Package stamp records what a generated tree was built from, so the
// enclosing build can tell when the tree needs to be regenerated.
package stamp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FileName is the manifest's name inside the output directory.
const FileName = ".abigen.json"

const (
	manifestVersion  = 2
	manifestPermMode = 0o644
)

// Input is one watched file and the hash of its content.
type Input struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest describes one successful generation. Inputs cover the
// definitions and every local file they import.
type Manifest struct {
	Version     int      `json:"version"`
	Generator   string   `json:"generator"`
	Definitions []string `json:"definitions"`
	Inputs      []Input  `json:"inputs"`
	Outputs     []string `json:"outputs"`
}

// Declare writes one rerun-if-changed directive per path.
func Declare(w io.Writer, paths []string) error {
	for _, p := range paths {
		if _, err := fmt.Fprintf(w, "rerun-if-changed=%s\n", p); err != nil {
			return fmt.Errorf("failed to declare rebuild trigger for %s: %w", p, err)
		}
	}
	return nil
}

// Build hashes the definitions and the other watched inputs, and records
// the outputs. Every list is sorted so that equal builds produce equal
// manifests.
func Build(generator string, definitions, inputs, outputs []string) (*Manifest, error) {
	m := &Manifest{
		Version:     manifestVersion,
		Generator:   generator,
		Definitions: normalize(definitions),
		Outputs:     slices.Clone(outputs),
	}
	slices.Sort(m.Outputs)

	hashed, err := hashAll(Watched(definitions, inputs))
	if err != nil {
		return nil, err
	}
	m.Inputs = hashed
	return m, nil
}

// Watched merges the definitions with the other inputs into one sorted,
// duplicate-free list of slash-separated paths.
func Watched(definitions, inputs []string) []string {
	return normalize(append(slices.Clone(definitions), inputs...))
}

func normalize(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.ToSlash(filepath.Clean(p))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func hashAll(paths []string) ([]Input, error) {
	inputs := make([]Input, 0, len(paths))
	for _, p := range normalize(paths) {
		sum, err := HashFile(filepath.FromSlash(p))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, Input{Path: p, SHA256: sum})
	}
	return inputs, nil
}

// HashFile returns the hex sha256 of the file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("unable to open watched file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("unable to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Save writes the manifest into dir.
func Save(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode manifest: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(filepath.Join(dir, FileName), data, manifestPermMode); err != nil {
		return fmt.Errorf("unable to write manifest: %w", err)
	}
	return nil
}

// Load reads the manifest from dir. A missing manifest yields an error
// matching fs.ErrNotExist.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("unable to read manifest: %w", err)
	}

	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unable to decode manifest: %w", err)
	}
	return m, nil
}

// Remove invalidates the tree in dir. Removing a missing manifest is not an error.
func Remove(dir string) error {
	err := os.Remove(filepath.Join(dir, FileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to remove manifest: %w", err)
	}
	return nil
}

// Staleness is the outcome of Check.
type Staleness struct {
	Stale  bool
	Reason string
}

func fresh() Staleness { return Staleness{} }

func stale(format string, args ...any) Staleness {
	return Staleness{Stale: true, Reason: fmt.Sprintf(format, args...)}
}

// Check compares the manifest in dir against the current definitions and
// the inputs recorded for them.
func Check(dir, generator string, definitions []string) (Staleness, error) {
	m, err := Load(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stale("no manifest in %s", dir), nil
		}
		return Staleness{}, err
	}

	if m.Version != manifestVersion {
		return stale("manifest version %d, want %d", m.Version, manifestVersion), nil
	}
	if m.Generator != generator {
		return stale("generator changed from %q to %q", m.Generator, generator), nil
	}

	// Definitions must exist; recorded imports may have been removed.
	if _, err := hashAll(definitions); err != nil {
		return Staleness{}, err
	}
	if defs := normalize(definitions); !slices.Equal(defs, m.Definitions) {
		return stale("definitions changed: %s", strings.Join(defs, ", ")), nil
	}

	for _, in := range m.Inputs {
		sum, err := HashFile(filepath.FromSlash(in.Path))
		if errors.Is(err, fs.ErrNotExist) {
			return stale("%s was removed", in.Path), nil
		}
		if err != nil {
			return Staleness{}, err
		}
		if sum != in.SHA256 {
			return stale("%s changed", in.Path), nil
		}
	}

	for _, out := range m.Outputs {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(out))); err != nil {
			return stale("output %s is missing", out), nil
		}
	}
	return fresh(), nil
}
