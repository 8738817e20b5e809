package container

import (
	"errors"
	"fmt"
	"os"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/virt-do/kaps/internal/mounts"
	"github.com/virt-do/kaps/internal/namespaces"
	"github.com/virt-do/kaps/internal/spec"
)

func TestValidateID(t *testing.T) {
	valid := []string{"web", "web-1", "a.b_c", "UPPER", "0123"}
	for _, id := range valid {
		if err := validateID(id); err != nil {
			t.Errorf("validateID(%q) = %v", id, err)
		}
	}

	invalid := []string{"", ".", "..", "a/b", "a b", "a\tb", "../escape", "a:b"}
	for _, id := range invalid {
		if err := validateID(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("validateID(%q) = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestBuildPayload(t *testing.T) {
	b := &spec.Bundle{
		Path: "/tmp/bundle",
		Spec: &specs.Spec{
			Hostname: "box",
			Process:  &specs.Process{Args: []string{"sh"}},
			Root:     &specs.Root{Path: "rootfs", Readonly: true},
			Mounts:   []specs.Mount{{Destination: "/proc", Type: "proc", Source: "proc"}},
			Linux: &specs.Linux{
				Seccomp: &specs.LinuxSeccomp{DefaultAction: specs.ActAllow},
			},
		},
	}
	set, err := namespaces.Build([]specs.LinuxNamespace{
		{Type: specs.PIDNamespace},
		{Type: specs.UTSNamespace},
		{Type: specs.NetworkNamespace, Path: "/proc/1/ns/net"},
	})
	if err != nil {
		t.Fatal(err)
	}

	p := buildPayload(b, set)

	if p.Rootfs != "/tmp/bundle/rootfs" {
		t.Fatalf("rootfs = %q", p.Rootfs)
	}
	if !p.ReadonlyRootfs {
		t.Fatal("readonly rootfs not carried over")
	}
	if p.Hostname != "box" {
		t.Fatalf("hostname = %q", p.Hostname)
	}
	if !p.NewPIDNamespace || !p.NewUTSNamespace {
		t.Fatal("created namespace kinds not flagged")
	}
	if len(p.Joins) != 1 || p.Joins[0].Type != specs.NetworkNamespace {
		t.Fatalf("joins = %v", p.Joins)
	}
	if p.Seccomp == nil {
		t.Fatal("seccomp profile not carried over")
	}
	if len(p.Mounts) != 1 {
		t.Fatalf("mounts = %v", p.Mounts)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	cases := []error{
		namespaces.ErrPermissionDenied,
		namespaces.ErrCreationFailed,
		mounts.ErrPathEscape,
		mounts.ErrPivotFailed,
		mounts.ErrMountFailed,
		ErrExecFailed,
		ErrSetup,
	}
	for _, sentinel := range cases {
		in := fmt.Errorf("%w: something went wrong", sentinel)
		out := encodeInitError(in).decode()
		if !errors.Is(out, sentinel) {
			t.Errorf("round trip of %v lost the sentinel: got %v", sentinel, out)
		}
	}

	// A bare sentinel survives without accumulating message noise.
	out := encodeInitError(ErrExecFailed).decode()
	if !errors.Is(out, ErrExecFailed) {
		t.Fatalf("bare sentinel round trip = %v", out)
	}
	if out.Error() != ErrExecFailed.Error() {
		t.Fatalf("bare sentinel grew a message: %q", out.Error())
	}
}

func TestReplySuccess(t *testing.T) {
	if err := (initReply{}).decode(); err != nil {
		t.Fatalf("zero reply decoded to %v", err)
	}
}

func TestReplyUnknownCode(t *testing.T) {
	err := (initReply{Code: "from-the-future", Message: "boom"}).decode()
	if !errors.Is(err, ErrSetup) {
		t.Fatalf("unknown code decoded to %v, want ErrSetup", err)
	}
}

func TestEncodeUnmatchedError(t *testing.T) {
	r := encodeInitError(errors.New("unclassified"))
	if r.Code != "setup-failed" {
		t.Fatalf("code = %q, want setup-failed", r.Code)
	}
}

func TestExitCodeWithoutState(t *testing.T) {
	if got := exitCode(nil, nil); got != 0 {
		t.Fatalf("exitCode(nil, nil) = %d, want 0", got)
	}
	if got := exitCode(nil, errors.New("wait failed")); got != 1 {
		t.Fatalf("exitCode(nil, err) = %d, want 1", got)
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Fatal("processAlive reported the running process dead")
	}
	if processAlive(0) || processAlive(-1) {
		t.Fatal("processAlive accepted an invalid pid")
	}
}
