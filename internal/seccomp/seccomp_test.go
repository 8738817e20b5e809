package seccomp

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	seccomp "github.com/seccomp/libseccomp-golang"
)

func TestActionMapping(t *testing.T) {
	known := []specs.LinuxSeccompAction{
		specs.ActAllow, specs.ActErrno, specs.ActKill, specs.ActKillProcess,
		specs.ActKillThread, specs.ActLog, specs.ActTrap, specs.ActTrace,
	}
	for _, a := range known {
		if _, err := action(a); err != nil {
			t.Errorf("action(%q) = %v", a, err)
		}
	}

	if _, err := action("SCMP_ACT_NOTIFY_BOGUS"); err == nil {
		t.Error("unknown action accepted")
	}
}

func TestActAllowMapsDirectly(t *testing.T) {
	got, err := action(specs.ActAllow)
	if err != nil {
		t.Fatal(err)
	}
	if got != seccomp.ActAllow {
		t.Fatalf("action(allow) = %v", got)
	}
}

func TestApplyNilInstallsNothing(t *testing.T) {
	if err := Apply(nil); err != nil {
		t.Fatalf("Apply(nil) = %v", err)
	}
}
