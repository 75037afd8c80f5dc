package compiler

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestImportName(t *testing.T) {
	tests := []struct {
		name     string
		def      string
		includes []string
		want     string
		wantErr  bool
	}{
		{
			name:     "under first include",
			def:      "protos/reservation.proto",
			includes: []string{"protos"},
			want:     "reservation.proto",
		},
		{
			name:     "nested package directory",
			def:      "protos/reservation/v1/reservation.proto",
			includes: []string{"vendor", "protos"},
			want:     "reservation/v1/reservation.proto",
		},
		{
			name:     "current directory",
			def:      "reservation.proto",
			includes: []string{"."},
			want:     "reservation.proto",
		},
		{
			name:     "outside every include",
			def:      "other/reservation.proto",
			includes: []string{"protos"},
			wantErr:  true,
		},
		{
			name:     "sibling with common prefix",
			def:      "protos-old/reservation.proto",
			includes: []string{"protos"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := importName(filepath.FromSlash(tt.def), tt.includes)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSchema) {
					t.Fatalf("expected ErrInvalidSchema, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParameter(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		files     []string
		goPackage string
		want      string
	}{
		{name: "base only", base: "paths=source_relative", want: "paths=source_relative"},
		{
			name:      "mappings",
			base:      "paths=source_relative",
			files:     []string{"reservation.proto", "status.proto"},
			goPackage: "github.com/drewfead/abi/pb",
			want:      "paths=source_relative,Mreservation.proto=github.com/drewfead/abi/pb,Mstatus.proto=github.com/drewfead/abi/pb",
		},
		{name: "files without package", files: []string{"reservation.proto"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parameter(tt.base, tt.files, tt.goPackage); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	for _, name := range []string{"reservation.pb.go", "reservation/v1/reservation.pb.go", "./a.pb.go"} {
		if _, err := cleanName(name); err != nil {
			t.Errorf("%q: unexpected error: %v", name, err)
		}
	}
	for _, name := range []string{"", "../escape.go", "/etc/passwd", "a/../../escape.go"} {
		if _, err := cleanName(name); err == nil {
			t.Errorf("%q: expected error", name)
		}
	}
}
