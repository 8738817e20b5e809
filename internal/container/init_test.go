package container

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLookupEntryAbsolute(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "prog")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := lookupEntry(bin, nil)
	if err != nil {
		t.Fatalf("lookupEntry: %v", err)
	}
	if got != bin {
		t.Fatalf("lookupEntry = %q, want %q", got, bin)
	}
}

func TestLookupEntrySearchesPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "prog")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := lookupEntry("prog", []string{"TERM=xterm", "PATH=/nonexistent:" + dir})
	if err != nil {
		t.Fatalf("lookupEntry: %v", err)
	}
	if got != bin {
		t.Fatalf("lookupEntry = %q, want %q", got, bin)
	}
}

func TestLookupEntryNotExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "prog")
	if err := os.WriteFile(bin, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := lookupEntry(bin, nil)
	if !errors.Is(err, ErrExecFailed) {
		t.Fatalf("lookupEntry = %v, want ErrExecFailed", err)
	}
}

func TestLookupEntryMissing(t *testing.T) {
	_, err := lookupEntry("no-such-program", []string{"PATH=" + t.TempDir()})
	if !errors.Is(err, ErrExecFailed) {
		t.Fatalf("lookupEntry = %v, want ErrExecFailed", err)
	}
}

func TestLookupEntryDirectory(t *testing.T) {
	_, err := lookupEntry(t.TempDir(), nil)
	if !errors.Is(err, ErrExecFailed) {
		t.Fatalf("lookupEntry on a directory = %v, want ErrExecFailed", err)
	}
}

func TestRlimitNamesCoverCommonLimits(t *testing.T) {
	for _, name := range []string{"RLIMIT_NOFILE", "RLIMIT_NPROC", "RLIMIT_CORE", "RLIMIT_STACK"} {
		if _, ok := rlimitNames[name]; !ok {
			t.Errorf("rlimit %s not recognized", name)
		}
	}
	if _, ok := rlimitNames["RLIMIT_BOGUS"]; ok {
		t.Error("unknown rlimit name accepted")
	}
}
