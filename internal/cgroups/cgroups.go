package cgroups

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/containerd/cgroups/v3"
	"github.com/containerd/cgroups/v3/cgroup2"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/virt-do/kaps/internal"
)

// Mount point of the unified hierarchy.
const mountpoint = "/sys/fs/cgroup"

// Handle to the control group owned by one container.
type Manager struct {
	id    string
	group string
	mgr   *cgroup2.Manager
}

// Returns the hierarchy-relative group name for a container id.
//
// Groups sit directly under the hierarchy root, where the standard
// controllers are enabled, rather than nested below an intermediate node
// that would need its own subtree configuration.
func groupPath(id string) string {
	return "/" + internal.Name + "-" + id
}

// Creates the container's control group and applies its resource limits.
//
// CPU shares and quota, the memory limit, and the pids limit are written
// when present in the spec; everything else inherits. Returns
// [ErrUnavailable] when the host does not expose the unified hierarchy or
// the group cannot be created, which aborts the run before the entry
// process is spawned.
func New(id string, res *specs.LinuxResources) (*Manager, error) {
	if cgroups.Mode() != cgroups.Unified {
		return nil, fmt.Errorf("%w: unified hierarchy not mounted at %s", ErrUnavailable, mountpoint)
	}

	resources := &cgroup2.Resources{}
	if res != nil {
		resources = cgroup2.ToResources(res)
	}

	group := groupPath(id)
	mgr, err := cgroup2.NewManager(mountpoint, group, resources)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, group, err)
	}

	return &Manager{id: id, group: group, mgr: mgr}, nil
}

// Reattaches to the control group of an existing container.
//
// Used by invocations other than the creating one (kill, delete), which
// hold only the container id.
func Load(id string) (*Manager, error) {
	group := groupPath(id)
	if _, err := os.Stat(filepath.Join(mountpoint, group)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, group, err)
	}

	mgr, err := cgroup2.Load(group)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, group, err)
	}

	return &Manager{id: id, group: group, mgr: mgr}, nil
}

// Absolute filesystem path of the group, recorded in the container's state
// so later invocations and operators can find it.
func (m *Manager) Path() string {
	return filepath.Join(mountpoint, m.group)
}

// Moves a process into the group. Called between spawning the init process
// and releasing its setup payload, so the container's processes are
// limited before any of them executes container-controlled code.
func (m *Manager) AddProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: invalid pid %d", ErrUnavailable, pid)
	}
	if err := m.mgr.AddProc(uint64(pid)); err != nil {
		return fmt.Errorf("%w: add pid %d to %s: %w", ErrUnavailable, pid, m.group, err)
	}
	return nil
}

// Kills every process in the group via cgroup.kill. Used by forced delete,
// where signalling the tracked pid alone could miss forked descendants.
func (m *Manager) Kill() error {
	if err := m.mgr.Kill(); err != nil {
		return fmt.Errorf("%w: kill %s: %w", ErrUnavailable, m.group, err)
	}
	return nil
}

// Removes the group. The group must be empty; callers kill or wait out its
// processes first.
func (m *Manager) Delete() error {
	if err := m.mgr.Delete(); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrUnavailable, m.group, err)
	}
	return nil
}

// Whether the kernel's memory controller killed a process in this group.
//
// Read from memory.events so that a run terminated by the memory limit can
// be reported as such rather than as an ordinary signal death.
func (m *Manager) OOMKilled() bool {
	f, err := os.Open(filepath.Join(m.Path(), "memory.events"))
	if err != nil {
		return false
	}
	defer f.Close()
	return oomKillCount(f) > 0
}

// Parses the oom_kill counter out of a memory.events stream.
func oomKillCount(r io.Reader) int64 {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || fields[0] != "oom_kill" {
			continue
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
