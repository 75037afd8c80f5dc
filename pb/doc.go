// Package pb contains generated protobuf code for the reservation service.
//
// The protobuf definitions are in ../protos and are compiled to Go code by
// abigen, the build step at the module root. To regenerate the code, run:
//
//	go generate ./...
//
// This will create:
//   - reservation.pb.go: Protocol buffer message definitions
//   - reservation_grpc.pb.go: gRPC service stubs
//
// Generated files are formatted with gofumpt. abigen records the inputs in
// .abigen.json; `go run .. check` fails when the bindings are stale.
// This file is preserved across regeneration.
package pb

//go:generate go run .. -C .. generate
