package namespaces

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// Kernel-level description of one supported namespace kind.
type kind struct {
	cloneFlag uintptr // CLONE_NEW* flag used when creating.
	procFile  string  // Entry under /proc/<pid>/ns/ used when joining.
	joinOrder int     // Position in the join sequence (lower joins first).
}

// The closed set of supported namespace kinds.
//
// The user namespace joins first because it fixes the uid/gid mapping that
// permission checks in every later setns depend on; the mount namespace
// joins last because entering it changes the filesystem view used to open
// the remaining namespace paths.
var kinds = map[specs.LinuxNamespaceType]kind{
	specs.UserNamespace:    {unix.CLONE_NEWUSER, "user", 0},
	specs.PIDNamespace:     {unix.CLONE_NEWPID, "pid", 1},
	specs.UTSNamespace:     {unix.CLONE_NEWUTS, "uts", 2},
	specs.IPCNamespace:     {unix.CLONE_NEWIPC, "ipc", 3},
	specs.NetworkNamespace: {unix.CLONE_NEWNET, "net", 4},
	specs.CgroupNamespace:  {unix.CLONE_NEWCGROUP, "cgroup", 5},
	specs.MountNamespace:   {unix.CLONE_NEWNS, "mnt", 6},
}

// Whether the given namespace kind is supported by this runtime.
func Supported(t specs.LinuxNamespaceType) bool {
	_, ok := kinds[t]
	return ok
}

// An existing namespace to join, identified by a filesystem path
// (typically /proc/<pid>/ns/<kind>).
type Join struct {
	Type specs.LinuxNamespaceType `json:"type"`
	Path string                   `json:"path"`
}

// The namespaces requested for one container, split by acquisition
// mechanism. Exactly one Set exists per container; once the init process
// has been spawned and has joined its namespaces, ownership transfers to
// that process and the Set is no longer consulted.
type Set struct {
	CloneFlags uintptr `json:"-"`     // Flags for namespaces created with the init process.
	Joins      []Join  `json:"joins"` // Existing namespaces joined inside the init process.
}

// Builds a namespace set from the spec's requested namespaces.
//
// Namespaces carrying a path are joined; the rest are created. Requesting
// the same kind twice is rejected, since a process holds exactly one
// namespace of each kind.
func Build(list []specs.LinuxNamespace) (*Set, error) {
	set := &Set{}
	seen := make(map[specs.LinuxNamespaceType]bool, len(list))

	for _, ns := range list {
		k, ok := kinds[ns.Type]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupported, ns.Type)
		}
		if seen[ns.Type] {
			return nil, fmt.Errorf("%w: duplicate %q", ErrUnsupported, ns.Type)
		}
		seen[ns.Type] = true

		if ns.Path == "" {
			set.CloneFlags |= k.cloneFlag
			continue
		}
		set.Joins = append(set.Joins, Join{Type: ns.Type, Path: ns.Path})
	}

	sortJoins(set.Joins)
	return set, nil
}

// Whether the set creates a fresh namespace of the given kind.
func (s *Set) Creates(t specs.LinuxNamespaceType) bool {
	k, ok := kinds[t]
	return ok && s.CloneFlags&k.cloneFlag != 0
}

// Whether the set provides a namespace of the given kind at all, either by
// creating one or by joining an existing one.
func (s *Set) Has(t specs.LinuxNamespaceType) bool {
	if s.Creates(t) {
		return true
	}
	for _, j := range s.Joins {
		if j.Type == t {
			return true
		}
	}
	return false
}

// Ensures the set provides a namespace of the given kind, adding a fresh
// one when the spec requested none. Unknown kinds are ignored.
func (s *Set) Require(t specs.LinuxNamespaceType) {
	if k, ok := kinds[t]; ok && !s.Has(t) {
		s.CloneFlags |= k.cloneFlag
	}
}

// Joins every namespace in the set that refers to an existing path.
//
// Must run on a locked OS thread of the init process before any other
// setup. Joining a namespace the process already resides in is a no-op, so
// Enter is idempotent. On failure, namespace handles already opened by this
// call are released in reverse order before the error is returned; the
// namespaces themselves are discarded when the init process exits, so the
// caller never observes a half-isolated process surviving the error.
func (s *Set) Enter() error {
	var opened []int

	unwind := func() {
		for i := len(opened) - 1; i >= 0; i-- {
			_ = unix.Close(opened[i])
		}
	}

	for _, j := range s.Joins {
		k := kinds[j.Type]

		already, err := sameNamespace(k.procFile, j.Path)
		if err != nil {
			unwind()
			return classify(j.Type, err)
		}
		if already {
			continue
		}

		fd, err := unix.Open(j.Path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			unwind()
			return classify(j.Type, err)
		}
		opened = append(opened, fd)

		if err := unix.Setns(fd, int(k.cloneFlag)); err != nil {
			unwind()
			return classify(j.Type, err)
		}
	}

	unwind()
	return nil
}

// Whether /proc/self/ns/<procFile> already refers to the namespace at path.
func sameNamespace(procFile, path string) (bool, error) {
	current, err := os.Stat("/proc/self/ns/" + procFile)
	if err != nil {
		return false, err
	}
	target, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return os.SameFile(current, target), nil
}

// Maps a namespace syscall failure onto the package error kinds, tagging it
// with the failing kind so operators can tell which namespace was at fault.
func classify(t specs.LinuxNamespaceType, err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%w: %q: %w", ErrPermissionDenied, t, err)
	}
	return fmt.Errorf("%w: %q: %w", ErrCreationFailed, t, err)
}

// Orders joins by the fixed dependency sequence: user first, mount last.
func sortJoins(joins []Join) {
	for i := 1; i < len(joins); i++ {
		for j := i; j > 0 && kinds[joins[j].Type].joinOrder < kinds[joins[j-1].Type].joinOrder; j-- {
			joins[j], joins[j-1] = joins[j-1], joins[j]
		}
	}
}

// Returns the uid and gid mappings to install when a fresh user namespace
// is created. Mappings declared in the spec are used verbatim; without
// them, the container's root maps to the invoking user, the conventional
// rootless default.
func Mappings(linux *specs.Linux) (uid, gid []syscall.SysProcIDMap) {
	if linux != nil && len(linux.UIDMappings) > 0 {
		return convertMappings(linux.UIDMappings), convertMappings(linux.GIDMappings)
	}

	uid = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
	gid = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	return uid, gid
}

func convertMappings(mappings []specs.LinuxIDMapping) []syscall.SysProcIDMap {
	out := make([]syscall.SysProcIDMap, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, syscall.SysProcIDMap{
			ContainerID: int(m.ContainerID),
			HostID:      int(m.HostID),
			Size:        int(m.Size),
		})
	}
	return out
}
