package abigentest

import (
	"os"
	"path/filepath"
	"testing"
)

// EchoProto declares one service with one request/response pair and no imports.
const EchoProto = `syntax = "proto3";

package echo.v1;

option go_package = "example.com/echo/pb;pb";

message EchoRequest {
  string message = 1;
}

message EchoResponse {
  string message = 1;
}

service EchoService {
  rpc Echo(EchoRequest) returns (EchoResponse);
}
`

// ReservationProto imports a well-known type and a peer file.
const ReservationProto = `syntax = "proto3";

package reservation;

import "google/protobuf/timestamp.proto";
import "status.proto";

message Reservation {
  string id = 1;
  string user_id = 2;
  string resource_id = 3;
  google.protobuf.Timestamp start = 4;
  google.protobuf.Timestamp end = 5;
  ReservationStatus status = 6;
  string note = 7;
}

message ReserveRequest {
  Reservation reservation = 1;
}

message ReserveResponse {
  Reservation reservation = 1;
}

service ReservationService {
  rpc Reserve(ReserveRequest) returns (ReserveResponse);
}
`

// StatusProto is the peer file imported by ReservationProto.
const StatusProto = `syntax = "proto3";

package reservation;

enum ReservationStatus {
  RESERVATION_STATUS_UNKNOWN = 0;
  RESERVATION_STATUS_PENDING = 1;
  RESERVATION_STATUS_CONFIRMED = 2;
  RESERVATION_STATUS_BLOCKED = 3;
}
`

// UnresolvedImportProto imports a file that does not exist.
const UnresolvedImportProto = `syntax = "proto3";

package broken;

import "does/not/exist.proto";

message Broken {
  Missing missing = 1;
}
`

// MalformedProto does not parse.
const MalformedProto = `syntax = "proto3";

message Broken {
  string name = ;
}
`

// WriteFile writes content to root/rel, creating parent directories, and
// returns the full path.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create fixture directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

// ReadDir returns the names of the entries in dir, or nil when it does not exist.
func ReadDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read %s: %v", dir, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}
