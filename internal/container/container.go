package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"github.com/virt-do/kaps/internal/cgroups"
	"github.com/virt-do/kaps/internal/namespaces"
	"github.com/virt-do/kaps/internal/spec"
	"github.com/virt-do/kaps/internal/state"
)

// A container known to this invocation: its persisted record plus, for the
// creating invocation only, the live handle to its init process.
type Container struct {
	id    string
	store *state.Store
	st    *state.State
	cg    *cgroups.Manager

	// Set only in the invocation that spawned init; nil after Load.
	initCmd *exec.Cmd
}

// Returns the container id.
func (c *Container) ID() string { return c.id }

// Returns a copy of the current state record.
func (c *Container) State() state.State { return *c.st }

// Rejects ids that would break the state directory layout or the cgroup
// naming. The id becomes both a directory name and a cgroup component, so
// it must be a single plain path element.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidID, id, r)
		}
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Creates a container from a bundle: spawns its init process inside fresh
// namespaces, places it in its control group, and drives setup to the
// point where the entry program is resolved and waiting to be started.
//
// On success the container is in the created state with init blocked on
// the exec FIFO. Any failure after the state record is claimed rolls back
// the record, the control group, and the init process; the id is reusable
// immediately after the error returns.
func Create(store *state.Store, id string, b *spec.Bundle) (*Container, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	var nsList []specs.LinuxNamespace
	var res *specs.LinuxResources
	if b.Spec.Linux != nil {
		nsList = b.Spec.Linux.Namespaces
		res = b.Spec.Linux.Resources
	}
	set, err := namespaces.Build(nsList)
	if err != nil {
		return nil, err
	}
	// The filesystem is always assembled in a private mount namespace;
	// init pivots unconditionally, and pivoting in the host's would detach
	// the host root.
	set.Require(specs.MountNamespace)

	st := &state.State{
		Version:     specs.Version,
		ID:          id,
		Status:      state.Creating,
		Bundle:      b.Path,
		Created:     time.Now().UTC(),
		Annotations: b.Spec.Annotations,
	}
	if err := store.Create(st); err != nil {
		return nil, err
	}

	c := &Container{id: id, store: store, st: st}
	if err := c.setUp(b, set, res); err != nil {
		c.rollback()
		return nil, err
	}
	return c, nil
}

// Runs the fallible part of create, after the state record is claimed.
func (c *Container) setUp(b *spec.Bundle, set *namespaces.Set, res *specs.LinuxResources) error {
	cg, err := cgroups.New(c.id, res)
	if err != nil {
		return err
	}
	c.cg = cg
	c.st.CgroupPath = cg.Path()

	fifoPath := filepath.Join(c.store.Dir(c.id), execFifo)
	if err := unix.Mkfifo(fifoPath, 0o600); err != nil {
		return fmt.Errorf("%w: create exec fifo: %w", ErrSetup, err)
	}
	fifoFile, err := os.OpenFile(fifoPath, os.O_RDONLY|unix.O_PATH, 0)
	if err != nil {
		return fmt.Errorf("%w: open exec fifo: %w", ErrSetup, err)
	}
	defer fifoFile.Close()

	payloadR, payloadW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: create payload pipe: %w", ErrSetup, err)
	}
	defer payloadR.Close()
	defer payloadW.Close()

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: create reply pipe: %w", ErrSetup, err)
	}
	defer readyR.Close()
	defer readyW.Close()

	cmd := exec.Command("/proc/self/exe", "init")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{payloadR, readyW, fifoFile}
	cmd.SysProcAttr = sysProcAttr(set, b.Spec.Linux)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
			return fmt.Errorf("%w: spawn init: %w", namespaces.ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: spawn init: %w", namespaces.ErrCreationFailed, err)
	}
	c.initCmd = cmd

	// Init is blocked reading its payload, so nothing container-controlled
	// runs before the process sits in its control group.
	if err := c.cg.AddProcess(cmd.Process.Pid); err != nil {
		c.reapInit()
		return err
	}

	// Close our copies of the child's ends so EOF propagates correctly.
	_ = payloadR.Close()
	_ = readyW.Close()

	payload := buildPayload(b, set)
	if err := json.NewEncoder(payloadW).Encode(payload); err != nil {
		c.reapInit()
		return fmt.Errorf("%w: send payload: %w", ErrSetup, err)
	}
	_ = payloadW.Close()

	var reply initReply
	if err := json.NewDecoder(readyR).Decode(&reply); err != nil {
		c.reapInit()
		return fmt.Errorf("%w: init exited before reporting: %w", ErrSetup, err)
	}
	if err := reply.decode(); err != nil {
		c.reapInit()
		return err
	}

	unlock, err := c.store.Lock(c.id)
	if err != nil {
		c.reapInit()
		return err
	}
	defer unlock()

	c.st.Status = state.Created
	c.st.PID = cmd.Process.Pid
	if err := c.store.Put(c.st); err != nil {
		c.reapInit()
		return err
	}

	slog.Debug("container created", "id", c.id, "pid", c.st.PID, "cgroup", c.st.CgroupPath)
	return nil
}

// Builds the attributes for the init process: its own process group, the
// clone flags for fresh namespaces, and the id mappings when a new user
// namespace is among them.
func sysProcAttr(set *namespaces.Set, linux *specs.Linux) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:    true,
		Cloneflags: set.CloneFlags,
	}
	if set.Creates(specs.UserNamespace) {
		attr.UidMappings, attr.GidMappings = namespaces.Mappings(linux)
		// Writing gid_map from outside requires setgroups to be denied
		// first when the writer is unprivileged.
		if os.Geteuid() != 0 {
			attr.GidMappingsEnableSetgroups = false
		}
	}
	return attr
}

// Kills the init process and reaps it. Used on the failure paths of
// create, where init may be blocked on a pipe or the exec FIFO.
func (c *Container) reapInit() {
	if c.initCmd == nil || c.initCmd.Process == nil {
		return
	}
	_ = c.initCmd.Process.Kill()
	_ = c.initCmd.Wait()
}

// Undoes a failed create: the init process, the control group, and the
// state record, in that order.
func (c *Container) rollback() {
	c.reapInit()
	if c.cg != nil {
		if err := c.cg.Delete(); err != nil {
			slog.Debug("rollback: remove cgroup", "id", c.id, "error", err)
		}
	}
	if err := c.store.Remove(c.id); err != nil {
		slog.Debug("rollback: remove state", "id", c.id, "error", err)
	}
}

// Attaches to an existing container by id.
//
// The returned container can be started, signalled, inspected, and
// deleted, but not waited on: only the creating invocation is the parent
// of the init process. A stale record whose process has died is corrected
// to stopped before it is returned.
func Load(store *state.Store, id string) (*Container, error) {
	st, err := store.Get(id)
	if err != nil {
		return nil, err
	}

	c := &Container{id: id, store: store, st: st}
	if cg, err := cgroups.Load(id); err == nil {
		c.cg = cg
	}

	if err := c.refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Corrects the record when the tracked process has died underneath it.
// A container in created or running whose pid is gone is stopped in fact;
// persist that so every later decision sees the truth.
func (c *Container) refresh() error {
	if c.st.Status != state.Created && c.st.Status != state.Running {
		return nil
	}
	if processAlive(c.st.PID) {
		return nil
	}

	unlock, err := c.store.Lock(c.id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return err
	}
	defer unlock()

	// Re-read under the lock; another invocation may have updated it.
	st, err := c.store.Get(c.id)
	if err != nil {
		return err
	}
	c.st = st
	if c.st.Status != state.Created && c.st.Status != state.Running {
		return nil
	}
	if processAlive(c.st.PID) {
		return nil
	}

	c.st.Status = state.Stopped
	return c.store.Put(c.st)
}

// Whether a process with the given pid exists. A permission error on the
// probe signal still proves existence.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
