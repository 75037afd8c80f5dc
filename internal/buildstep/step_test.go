package buildstep_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drewfead/abi/internal/buildstep"
	"github.com/drewfead/abi/internal/compiler"
	"github.com/drewfead/abi/internal/execpipe"
	"github.com/drewfead/abi/internal/format"
	"github.com/drewfead/abi/internal/stamp"
	"github.com/drewfead/abi/pkg/abigentest"
	"github.com/google/go-cmp/cmp"
)

type fixture struct {
	root   string
	def    string
	outDir string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	return fixture{
		root:   root,
		def:    abigentest.WriteFile(t, root, "protos/reservation.proto", abigentest.ReservationProto),
		outDir: filepath.Join(root, "pb"),
	}
}

func (f fixture) step(c compiler.Compiler, opts ...buildstep.Option) *buildstep.Step {
	base := []buildstep.Option{
		buildstep.WithDefinitions(f.def),
		buildstep.WithIncludePaths(filepath.Join(f.root, "protos")),
		buildstep.WithOutDir(f.outDir),
	}
	return buildstep.New(c, append(base, opts...)...)
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	fc := abigentest.NewCompiler()
	fc.SetFiles(map[string]string{
		"reservation.pb.go":      "package pb\n",
		"reservation_grpc.pb.go": "package pb\n",
	})
	ff := abigentest.NewFormatter()
	var trigger bytes.Buffer

	res, err := f.step(fc, buildstep.WithFormatter(ff), buildstep.WithTrigger(&trigger)).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.State != buildstep.StateDone {
		t.Errorf("expected state done, got %s", res.State)
	}
	if diff := cmp.Diff([]string{"reservation.pb.go", "reservation_grpc.pb.go"}, res.Files); diff != "" {
		t.Errorf("unexpected files (-want +got):\n%s", diff)
	}

	want := []string{stamp.FileName, "reservation.pb.go", "reservation_grpc.pb.go"}
	if diff := cmp.Diff(want, abigentest.ReadDir(t, f.outDir)); diff != "" {
		t.Errorf("unexpected output tree (-want +got):\n%s", diff)
	}

	if got, want := trigger.String(), "rerun-if-changed="+f.def+"\n"; got != want {
		t.Errorf("expected trigger %q, got %q", want, got)
	}

	reqs := fc.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one compile, got %d", len(reqs))
	}
	if reqs[0].OutDir == f.outDir {
		t.Error("compiler must write into a staging directory, not the live output")
	}
	if calls := ff.Calls(); len(calls) != 1 || calls[0] != reqs[0].OutDir {
		t.Errorf("expected formatter to run on the staged tree, got %v", calls)
	}

	st, err := f.step(fc, buildstep.WithFormatter(ff)).Check()
	if err != nil {
		t.Fatal(err)
	}
	if st.Stale {
		t.Errorf("expected fresh output after run, got %q", st.Reason)
	}
}

func TestRun_ReplacesPreviousTree(t *testing.T) {
	f := newFixture(t)
	abigentest.WriteFile(t, f.outDir, "stale_removed.pb.go", "package pb\n")
	abigentest.WriteFile(t, f.outDir, "doc.go", "// Package pb\npackage pb\n")

	fc := abigentest.NewCompiler()
	fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n"})

	if _, err := f.step(fc, buildstep.WithPreserve("doc.go")).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{stamp.FileName, "doc.go", "reservation.pb.go"}
	if diff := cmp.Diff(want, abigentest.ReadDir(t, f.outDir)); diff != "" {
		t.Errorf("unexpected output tree (-want +got):\n%s", diff)
	}

	leftovers, err := filepath.Glob(filepath.Join(f.root, ".pb.staging-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("expected staging directories cleaned up, got %v", leftovers)
	}
}

func TestRun_SchemaErrorLeavesNoOutput(t *testing.T) {
	f := newFixture(t)
	fc := abigentest.NewCompiler()
	fc.FailWith(fmt.Errorf("%w: reservation.proto:5:8: could not resolve path", compiler.ErrInvalidSchema), "half.pb.go")
	ff := abigentest.NewFormatter()
	var trigger bytes.Buffer

	res, err := f.step(fc, buildstep.WithFormatter(ff), buildstep.WithTrigger(&trigger)).Run(context.Background())

	var schemaErr *buildstep.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected *SchemaError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "reservation.proto:5:8") {
		t.Errorf("expected diagnostic surfaced verbatim, got %q", err.Error())
	}
	if res.State != buildstep.StateFailed {
		t.Errorf("expected failed state, got %s", res.State)
	}
	if names := abigentest.ReadDir(t, f.outDir); names != nil {
		t.Errorf("expected no output directory, got %v", names)
	}
	if len(ff.Calls()) != 0 {
		t.Error("formatter must not run after a failed compile")
	}
	if trigger.Len() != 0 {
		t.Errorf("no trigger expected after failure, got %q", trigger.String())
	}
	if entries := abigentest.ReadDir(t, f.root); len(entries) != 1 || entries[0] != "protos" {
		t.Errorf("expected partial staging tree removed, got %v", entries)
	}
}

func TestRun_FailureInvalidatesPreviousOutput(t *testing.T) {
	f := newFixture(t)
	fc := abigentest.NewCompiler()
	fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n"})

	if _, err := f.step(fc).Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	fc.FailWith(fmt.Errorf("%w: bad", compiler.ErrInvalidSchema))
	if _, err := f.step(fc).Run(context.Background()); err == nil {
		t.Fatal("expected second run to fail")
	}

	st, err := f.step(fc).Check()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Stale {
		t.Error("a failed run must leave the previous output marked stale")
	}
}

func TestRun_ToolErrors(t *testing.T) {
	f := newFixture(t)
	fc := abigentest.NewCompiler()
	fc.FailWith(fmt.Errorf("plugin go-grpc: %w", &execpipe.ExitError{Name: "protoc-gen-go-grpc", Code: 1}))

	_, err := f.step(fc).Run(context.Background())
	var toolErr *buildstep.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %T: %v", err, err)
	}
	if toolErr.Tool != "fake" {
		t.Errorf("expected tool name from compiler, got %q", toolErr.Tool)
	}
}

func TestRun_MissingDefinitionIsIOError(t *testing.T) {
	f := newFixture(t)
	step := buildstep.New(compiler.NewBuiltin("github.com/drewfead/abi/pb", compiler.PluginConfig{Plugin: compiler.GoPlugin{}}),
		buildstep.WithDefinitions(filepath.Join(f.root, "protos", "missing.proto")),
		buildstep.WithIncludePaths(filepath.Join(f.root, "protos")),
		buildstep.WithOutDir(f.outDir),
	)

	_, err := step.Run(context.Background())
	var ioErr *buildstep.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %T: %v", err, err)
	}
}

func TestRun_UnwritableOutput(t *testing.T) {
	tests := []struct {
		name     string
		needPerm bool
		setup    func(t *testing.T, f fixture) string
		// kept lists what must still be at the output path afterwards.
		kept []string
	}{
		{
			name:     "parent not writable",
			needPerm: true,
			setup: func(t *testing.T, f fixture) string {
				locked := filepath.Join(f.root, "locked")
				if err := os.Mkdir(locked, 0o555); err != nil {
					t.Fatal(err)
				}
				t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
				return filepath.Join(locked, "pb")
			},
		},
		{
			name:     "output directory not writable",
			needPerm: true,
			setup: func(t *testing.T, f fixture) string {
				abigentest.WriteFile(t, f.outDir, "old.pb.go", "package pb\n")
				if err := os.Chmod(f.outDir, 0o555); err != nil {
					t.Fatal(err)
				}
				t.Cleanup(func() { _ = os.Chmod(f.outDir, 0o755) })
				return f.outDir
			},
			kept: []string{"old.pb.go"},
		},
		{
			name:     "empty output directory not writable",
			needPerm: true,
			setup: func(t *testing.T, f fixture) string {
				if err := os.Mkdir(f.outDir, 0o555); err != nil {
					t.Fatal(err)
				}
				t.Cleanup(func() { _ = os.Chmod(f.outDir, 0o755) })
				return f.outDir
			},
			kept: []string{},
		},
		{
			name: "output path is a file",
			setup: func(t *testing.T, f fixture) string {
				abigentest.WriteFile(t, f.root, "pb", "not a directory\n")
				return f.outDir
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.needPerm && os.Geteuid() == 0 {
				t.Skip("permission checks do not apply to root")
			}

			f := newFixture(t)
			outDir := tt.setup(t, f)
			fc := abigentest.NewCompiler()
			fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n"})
			ff := abigentest.NewFormatter()

			res, err := f.step(fc, buildstep.WithOutDir(outDir), buildstep.WithFormatter(ff)).Run(context.Background())
			var ioErr *buildstep.IOError
			if !errors.As(err, &ioErr) {
				t.Fatalf("expected *IOError, got %T: %v", err, err)
			}
			if res.State != buildstep.StateFailed {
				t.Errorf("expected failed state, got %s", res.State)
			}
			if len(fc.Requests()) != 0 || len(ff.Calls()) != 0 {
				t.Error("nothing should run when the output location is not writable")
			}
			if tt.kept != nil {
				if diff := cmp.Diff(tt.kept, abigentest.ReadDir(t, outDir)); diff != "" {
					t.Errorf("output directory changed (-want +got):\n%s", diff)
				}
			}
			leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(outDir), ".pb.staging-*"))
			if err != nil {
				t.Fatal(err)
			}
			if len(leftovers) != 0 {
				t.Errorf("expected no staging leftovers, got %v", leftovers)
			}
		})
	}
}

func TestRun_SweepsLeftoverStaging(t *testing.T) {
	f := newFixture(t)
	abigentest.WriteFile(t, f.root, ".pb.staging-123.old/old.pb.go", "package pb\n")
	abigentest.WriteFile(t, f.root, ".pb.staging-456/half.pb.go", "package pb\n")
	fc := abigentest.NewCompiler()
	fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n"})

	if _, err := f.step(fc).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if diff := cmp.Diff([]string{"pb", "protos"}, abigentest.ReadDir(t, f.root)); diff != "" {
		t.Errorf("expected leftovers removed (-want +got):\n%s", diff)
	}
}

func TestRun_FormatterFailure(t *testing.T) {
	tests := []struct {
		name      string
		strict    bool
		wantErr   bool
		wantState buildstep.State
	}{
		{name: "lenient publishes unformatted bindings", strict: false, wantState: buildstep.StateDone},
		{name: "strict aborts", strict: true, wantErr: true, wantState: buildstep.StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			fc := abigentest.NewCompiler()
			fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n"})
			ff := abigentest.NewFormatter()
			ff.FailWith(errors.New("formatter crashed"))

			res, err := f.step(fc, buildstep.WithFormatter(ff), buildstep.WithStrictFormat(tt.strict)).Run(context.Background())
			if res.State != tt.wantState {
				t.Errorf("expected state %s, got %s", tt.wantState, res.State)
			}

			if tt.wantErr {
				var toolErr *buildstep.ToolError
				if !errors.As(err, &toolErr) {
					t.Fatalf("expected *ToolError, got %T: %v", err, err)
				}
				if names := abigentest.ReadDir(t, f.outDir); names != nil {
					t.Errorf("expected nothing published, got %v", names)
				}
				return
			}

			if err != nil {
				t.Fatalf("expected lenient run to succeed, got %v", err)
			}
			if res.FormatErr == nil {
				t.Error("expected FormatErr to be reported")
			}
			if _, err := os.Stat(filepath.Join(f.outDir, "reservation.pb.go")); err != nil {
				t.Errorf("expected bindings published: %v", err)
			}
		})
	}
}

func TestCheck_DefinitionChanged(t *testing.T) {
	f := newFixture(t)
	fc := abigentest.NewCompiler()
	fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n"})

	if _, err := f.step(fc).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	abigentest.WriteFile(t, f.root, "protos/reservation.proto", abigentest.ReservationProto+"\nmessage Extra {}\n")

	st, err := f.step(fc).Check()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Stale {
		t.Error("expected changed definition to mark output stale")
	}
}

func TestCheck_ImportedFileChanged(t *testing.T) {
	f := newFixture(t)
	peer := abigentest.WriteFile(t, f.root, "protos/status.proto", abigentest.StatusProto)
	fc := abigentest.NewCompiler()
	fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n", "status.pb.go": "package pb\n"})
	fc.SetInputs(peer)
	var trigger bytes.Buffer

	if _, err := f.step(fc, buildstep.WithTrigger(&trigger)).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := "rerun-if-changed=" + f.def + "\nrerun-if-changed=" + peer + "\n"
	if got := trigger.String(); got != want {
		t.Errorf("expected imported file declared as a trigger\nwant %q\ngot  %q", want, got)
	}

	abigentest.WriteFile(t, f.root, "protos/status.proto", abigentest.StatusProto+"// tweak\n")

	st, err := f.step(fc).Check()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Stale || !strings.Contains(st.Reason, "status.proto") {
		t.Errorf("expected stale output naming status.proto, got %+v", st)
	}
}

func TestCheck_GeneratorChanged(t *testing.T) {
	f := newFixture(t)
	fc := abigentest.NewCompiler()
	fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n"})

	if _, err := f.step(fc).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	fc.SetName("fake-v2")
	st, err := f.step(fc).Check()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Stale || !strings.Contains(st.Reason, "generator changed") {
		t.Errorf("expected a generator change to mark output stale, got %+v", st)
	}
}

func TestClean(t *testing.T) {
	f := newFixture(t)
	abigentest.WriteFile(t, f.outDir, "doc.go", "package pb\n")
	fc := abigentest.NewCompiler()
	fc.SetFiles(map[string]string{"reservation.pb.go": "package pb\n"})

	if _, err := f.step(fc, buildstep.WithPreserve("doc.go")).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	removed, err := f.step(fc).Clean()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"reservation.pb.go"}, removed); diff != "" {
		t.Errorf("unexpected removed files (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"doc.go"}, abigentest.ReadDir(t, f.outDir)); diff != "" {
		t.Errorf("unexpected remaining files (-want +got):\n%s", diff)
	}

	removed, err = f.step(fc).Clean()
	if err != nil || removed != nil {
		t.Errorf("cleaning twice should be a no-op, got %v, %v", removed, err)
	}
}

// TestRun_EndToEnd compiles a single-service definition with the in-process
// protoc-gen-go and gofumpt.
func TestRun_EndToEnd(t *testing.T) {
	root := t.TempDir()
	def := abigentest.WriteFile(t, root, "protos/echo.proto", abigentest.EchoProto)
	outDir := filepath.Join(root, "pb")

	newStep := func() *buildstep.Step {
		return buildstep.New(
			compiler.NewBuiltin("", compiler.PluginConfig{Plugin: compiler.GoPlugin{}, Parameter: "paths=source_relative"}),
			buildstep.WithDefinitions(def),
			buildstep.WithIncludePaths(filepath.Join(root, "protos")),
			buildstep.WithOutDir(outDir),
			buildstep.WithFormatter(format.Gofumpt{LangVersion: "go1.25"}),
			buildstep.WithStrictFormat(true),
		)
	}

	res, err := newStep().Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.FormatErr != nil {
		t.Errorf("unexpected format error: %v", res.FormatErr)
	}
	first, err := os.ReadFile(filepath.Join(outDir, "echo.pb.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(first, []byte("type EchoRequest struct")) {
		t.Error("expected bindings for EchoRequest")
	}

	if _, err := newStep().Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(outDir, "echo.pb.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("expected byte-identical output across runs")
	}
}
