// Package abigentest provides fakes and fixtures for testing the abigen build step.
//
// The fakes stand in for the two external collaborators of the step, the
// schema compiler and the source formatter, so tests can run without protoc
// plugins, buf or golangci-lint on PATH.
//
// # Fake Compiler
//
//	fc := abigentest.NewCompiler()
//	fc.SetFiles(map[string]string{
//	    "reservation.pb.go": "package pb\n",
//	})
//
//	// Fail after writing a partial tree
//	fc.FailWith(errors.New("boom"), "half.pb.go")
//
//	// Assertions
//	reqs := fc.Requests()
//
// # Fake Formatter
//
//	ff := abigentest.NewFormatter()
//	ff.FailWith(errors.New("formatter crashed"))
//	dirs := ff.Calls()
//
// # Fixtures
//
// WriteFile and the proto constants lay out definition files in a temp
// directory:
//
//	root := t.TempDir()
//	def := abigentest.WriteFile(t, root, "protos/reservation.proto", abigentest.ReservationProto)
//
// # Features
//
//   - Thread-safe: Uses mutex for concurrent access
//   - Records every call for assertions
//   - Partial writes: simulates a compiler that dies halfway through
package abigentest
