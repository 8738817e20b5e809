package namespaces

import (
	"errors"
	"os"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

func TestBuildPartition(t *testing.T) {
	set, err := Build([]specs.LinuxNamespace{
		{Type: specs.PIDNamespace},
		{Type: specs.NetworkNamespace, Path: "/proc/1/ns/net"},
		{Type: specs.MountNamespace},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if set.CloneFlags&unix.CLONE_NEWPID == 0 {
		t.Fatal("pid namespace missing from clone flags")
	}
	if set.CloneFlags&unix.CLONE_NEWNS == 0 {
		t.Fatal("mount namespace missing from clone flags")
	}
	if set.CloneFlags&unix.CLONE_NEWNET != 0 {
		t.Fatal("joined network namespace leaked into clone flags")
	}
	if len(set.Joins) != 1 || set.Joins[0].Path != "/proc/1/ns/net" {
		t.Fatalf("joins = %v", set.Joins)
	}
}

func TestBuildRejectsUnsupported(t *testing.T) {
	_, err := Build([]specs.LinuxNamespace{{Type: "time"}})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Build = %v, want ErrUnsupported", err)
	}
}

func TestBuildRejectsDuplicates(t *testing.T) {
	_, err := Build([]specs.LinuxNamespace{
		{Type: specs.PIDNamespace},
		{Type: specs.PIDNamespace, Path: "/proc/1/ns/pid"},
	})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Build = %v, want ErrUnsupported", err)
	}
}

func TestBuildOrdersJoins(t *testing.T) {
	set, err := Build([]specs.LinuxNamespace{
		{Type: specs.MountNamespace, Path: "/proc/1/ns/mnt"},
		{Type: specs.NetworkNamespace, Path: "/proc/1/ns/net"},
		{Type: specs.UserNamespace, Path: "/proc/1/ns/user"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if set.Joins[0].Type != specs.UserNamespace {
		t.Fatalf("first join = %q, want user", set.Joins[0].Type)
	}
	if set.Joins[len(set.Joins)-1].Type != specs.MountNamespace {
		t.Fatalf("last join = %q, want mnt", set.Joins[len(set.Joins)-1].Type)
	}
}

func TestSupported(t *testing.T) {
	for _, typ := range []specs.LinuxNamespaceType{
		specs.PIDNamespace, specs.NetworkNamespace, specs.MountNamespace,
		specs.IPCNamespace, specs.UTSNamespace, specs.UserNamespace,
		specs.CgroupNamespace,
	} {
		if !Supported(typ) {
			t.Errorf("Supported(%q) = false", typ)
		}
	}
	if Supported("time") {
		t.Error("Supported(time) = true")
	}
}

func TestCreatesAndHas(t *testing.T) {
	set, err := Build([]specs.LinuxNamespace{
		{Type: specs.PIDNamespace},
		{Type: specs.NetworkNamespace, Path: "/proc/1/ns/net"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !set.Creates(specs.PIDNamespace) {
		t.Fatal("Creates(pid) = false")
	}
	if set.Creates(specs.NetworkNamespace) {
		t.Fatal("Creates(net) = true for a joined namespace")
	}
	if !set.Has(specs.NetworkNamespace) {
		t.Fatal("Has(net) = false")
	}
	if set.Has(specs.UTSNamespace) {
		t.Fatal("Has(uts) = true")
	}
}

func TestRequireAddsMissingKind(t *testing.T) {
	set, err := Build([]specs.LinuxNamespace{{Type: specs.PIDNamespace}})
	if err != nil {
		t.Fatal(err)
	}

	set.Require(specs.MountNamespace)
	if !set.Creates(specs.MountNamespace) {
		t.Fatal("Require did not add the mount namespace")
	}
}

func TestRequireKeepsExisting(t *testing.T) {
	set, err := Build([]specs.LinuxNamespace{
		{Type: specs.MountNamespace, Path: "/proc/1/ns/mnt"},
	})
	if err != nil {
		t.Fatal(err)
	}

	set.Require(specs.MountNamespace)
	if set.Creates(specs.MountNamespace) {
		t.Fatal("Require replaced a joined namespace with a fresh one")
	}
	if len(set.Joins) != 1 {
		t.Fatalf("joins = %v", set.Joins)
	}

	before := set.CloneFlags
	set.Require(specs.PIDNamespace)
	set.Require(specs.PIDNamespace)
	if set.CloneFlags != before|unix.CLONE_NEWPID {
		t.Fatalf("clone flags = %#x", set.CloneFlags)
	}
}

func TestEnterIdempotent(t *testing.T) {
	// Joining the namespaces this process already resides in must succeed
	// without any setns call.
	set := &Set{Joins: []Join{
		{Type: specs.NetworkNamespace, Path: "/proc/self/ns/net"},
		{Type: specs.UTSNamespace, Path: "/proc/self/ns/uts"},
	}}
	if err := set.Enter(); err != nil {
		t.Fatalf("Enter into own namespaces: %v", err)
	}
}

func TestEnterMissingPath(t *testing.T) {
	set := &Set{Joins: []Join{
		{Type: specs.NetworkNamespace, Path: "/proc/self/ns/does-not-exist"},
	}}
	err := set.Enter()
	if !errors.Is(err, ErrCreationFailed) {
		t.Fatalf("Enter = %v, want ErrCreationFailed", err)
	}
}

func TestMappingsDefault(t *testing.T) {
	uid, gid := Mappings(nil)
	if len(uid) != 1 || uid[0].ContainerID != 0 || uid[0].HostID != os.Getuid() || uid[0].Size != 1 {
		t.Fatalf("uid mappings = %+v", uid)
	}
	if len(gid) != 1 || gid[0].HostID != os.Getgid() {
		t.Fatalf("gid mappings = %+v", gid)
	}
}

func TestMappingsFromSpec(t *testing.T) {
	linux := &specs.Linux{
		UIDMappings: []specs.LinuxIDMapping{{ContainerID: 0, HostID: 100000, Size: 65536}},
		GIDMappings: []specs.LinuxIDMapping{{ContainerID: 0, HostID: 100000, Size: 65536}},
	}
	uid, gid := Mappings(linux)
	if len(uid) != 1 || uid[0].HostID != 100000 || uid[0].Size != 65536 {
		t.Fatalf("uid mappings = %+v", uid)
	}
	if len(gid) != 1 || gid[0].HostID != 100000 {
		t.Fatalf("gid mappings = %+v", gid)
	}
}
