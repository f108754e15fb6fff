package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	dir := t.TempDir()
	present := writeStub(t, dir, "present", 0o755)
	reqs := []Requirement{
		{Name: "Draft", Command: present},
		{Name: "Review", Command: "clearly-not-present-binary"},
		{Name: "Publishing", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("expected stub to resolve, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" || results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("expected missing binary to be reported, got %#v", results[1])
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("expected unset command to be reported, got %#v", results[2])
	}
}

func TestCheckBinaryResolvesFromPath(t *testing.T) {
	dir := t.TempDir()
	stub := writeStub(t, dir, "title-writer", 0o755)
	t.Setenv("PATH", dir)

	status := CheckBinary(Requirement{Name: "Draft.Title", Command: "title-writer"})
	if !status.Available {
		t.Fatalf("expected binary on PATH to be available, got detail %q", status.Detail)
	}
	if status.Path != stub || status.Command != "title-writer" {
		t.Fatalf("unexpected resolution %#v", status)
	}
}

func TestCheckBinaryRejectsNonExecutable(t *testing.T) {
	stub := writeStub(t, t.TempDir(), "plain", 0o644)

	status := CheckBinary(Requirement{Name: "Draft", Command: stub})
	if status.Available || status.Detail == "" {
		t.Fatalf("expected non-executable file to be unavailable, got %#v", status)
	}
}
