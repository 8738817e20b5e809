package mounts

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestParseOptionsFlags(t *testing.T) {
	flags, propagation, data := parseOptions([]string{"nosuid", "noexec", "nodev", "ro"})

	want := uintptr(unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV | unix.MS_RDONLY)
	if flags != want {
		t.Fatalf("flags = %#x, want %#x", flags, want)
	}
	if len(propagation) != 0 {
		t.Fatalf("propagation = %v, want none", propagation)
	}
	if data != "" {
		t.Fatalf("data = %q, want empty", data)
	}
}

func TestParseOptionsClear(t *testing.T) {
	// A later option clears a flag set by an earlier one.
	flags, _, _ := parseOptions([]string{"ro", "rw"})
	if flags&unix.MS_RDONLY != 0 {
		t.Fatal("rw did not clear MS_RDONLY")
	}
}

func TestParseOptionsData(t *testing.T) {
	flags, _, data := parseOptions([]string{"nosuid", "mode=755", "size=65536k"})
	if flags != unix.MS_NOSUID {
		t.Fatalf("flags = %#x, want MS_NOSUID", flags)
	}
	if data != "mode=755,size=65536k" {
		t.Fatalf("data = %q", data)
	}
}

func TestParseOptionsPropagation(t *testing.T) {
	flags, propagation, _ := parseOptions([]string{"rbind", "rslave"})
	if flags != uintptr(unix.MS_BIND|unix.MS_REC) {
		t.Fatalf("flags = %#x, want MS_BIND|MS_REC", flags)
	}
	if len(propagation) != 1 || propagation[0] != uintptr(unix.MS_SLAVE|unix.MS_REC) {
		t.Fatalf("propagation = %v", propagation)
	}
}

func TestParseOptionsEmpty(t *testing.T) {
	flags, propagation, data := parseOptions(nil)
	if flags != 0 || propagation != nil || data != "" {
		t.Fatalf("parseOptions(nil) = %#x, %v, %q", flags, propagation, data)
	}
}
