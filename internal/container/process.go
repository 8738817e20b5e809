package container

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"

	"github.com/virt-do/kaps/internal/spec"
	"github.com/virt-do/kaps/internal/state"
)

// How often start and delete re-check a process they are waiting on.
const pollInterval = 10 * time.Millisecond

// Releases the entry program of a created container.
//
// Opening the exec FIFO's read side unblocks init, which execs exactly
// once; the transition to running is recorded before this returns. If init
// died between create and start, the container is marked stopped and the
// death is reported instead.
func (c *Container) Start() error {
	unlock, err := c.store.Lock(c.id)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := c.store.Get(c.id)
	if err != nil {
		return err
	}
	c.st = st

	switch c.st.Status {
	case state.Created:
	case state.Stopped:
		return fmt.Errorf("%w: %q", ErrAlreadyStopped, c.id)
	default:
		return fmt.Errorf("%w: container %q is %s, not created", errdefs.ErrConflict, c.id, c.st.Status)
	}

	if err := c.releaseInit(); err != nil {
		// Only a dead init justifies recording Stopped; a failure to reach
		// the FIFO leaves it alive and still startable.
		if !processAlive(c.st.PID) {
			c.st.Status = state.Stopped
			_ = c.store.Put(c.st)
		}
		return err
	}

	c.st.Status = state.Running
	if err := c.store.Put(c.st); err != nil {
		return err
	}

	slog.Debug("container started", "id", c.id, "pid", c.st.PID)
	return nil
}

// Drains the exec FIFO, unblocking init's pending exec.
//
// The read side opens non-blocking so a dead init cannot wedge this
// invocation; the loop then waits for init's byte, checking between polls
// that the process is still there to send it.
func (c *Container) releaseInit() error {
	fifoPath := filepath.Join(c.store.Dir(c.id), execFifo)
	f, err := os.OpenFile(fifoPath, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("%w: open exec fifo: %w", ErrSetup, err)
	}
	defer f.Close()

	buf := make([]byte, 1)
	for {
		if n, _ := f.Read(buf); n > 0 {
			return nil
		}
		if !processAlive(c.st.PID) {
			return fmt.Errorf("%w: init exited before start", ErrSetup)
		}
		time.Sleep(pollInterval)
	}
}

// Delivers a signal to the container's entry process.
//
// Valid for created and running containers. Discovering that the process
// is already gone records the stopped status and reports
// [ErrAlreadyStopped] instead of delivering anything.
func (c *Container) Kill(sig syscall.Signal) error {
	unlock, err := c.store.Lock(c.id)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := c.store.Get(c.id)
	if err != nil {
		return err
	}
	c.st = st

	switch c.st.Status {
	case state.Created, state.Running:
	case state.Stopped:
		return fmt.Errorf("%w: %q", ErrAlreadyStopped, c.id)
	default:
		return fmt.Errorf("%w: container %q is %s", errdefs.ErrConflict, c.id, c.st.Status)
	}

	if err := unix.Kill(c.st.PID, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			c.st.Status = state.Stopped
			_ = c.store.Put(c.st)
			return fmt.Errorf("%w: %q", ErrAlreadyStopped, c.id)
		}
		return fmt.Errorf("signal %s to %q: %w", unix.SignalName(sig), c.id, err)
	}

	slog.Debug("signal delivered", "id", c.id, "signal", unix.SignalName(sig), "pid", c.st.PID)
	return nil
}

// Removes the container: its control group, its state directory, and (with
// force) its processes.
//
// Without force, a container whose process is still alive is refused with
// [ErrStillRunning]. With force, every process in the control group is
// killed first and the delete proceeds once they are gone.
func (c *Container) Delete(force bool) error {
	unlock, err := c.store.Lock(c.id)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := c.store.Get(c.id)
	if err != nil {
		return err
	}
	c.st = st

	if c.st.Status == state.Creating {
		return fmt.Errorf("%w: container %q is still being created", errdefs.ErrConflict, c.id)
	}

	if processAlive(c.st.PID) && c.st.Status != state.Stopped {
		if !force {
			return fmt.Errorf("%w: %q", ErrStillRunning, c.id)
		}
		if err := c.killAll(); err != nil {
			return err
		}
	}

	if c.cg != nil {
		if err := c.cg.Delete(); err != nil {
			slog.Debug("remove cgroup", "id", c.id, "error", err)
		}
	}
	if err := c.store.Remove(c.id); err != nil {
		return err
	}

	slog.Debug("container deleted", "id", c.id)
	return nil
}

// Kills every process of the container and waits for the tracked pid to
// disappear. Prefers cgroup.kill, which reaches forked descendants that
// signalling the tracked pid alone would miss.
func (c *Container) killAll() error {
	if c.cg != nil {
		if err := c.cg.Kill(); err != nil {
			slog.Debug("cgroup kill", "id", c.id, "error", err)
			if err := unix.Kill(c.st.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				return fmt.Errorf("kill %q: %w", c.id, err)
			}
		}
	} else {
		if err := unix.Kill(c.st.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("kill %q: %w", c.id, err)
		}
	}

	for processAlive(c.st.PID) {
		time.Sleep(pollInterval)
	}
	return nil
}

// Waits for the entry process to exit and records the outcome.
//
// Only the creating invocation can wait; it is the parent of init. The
// recorded exit code follows shell convention: the program's own code when
// it exited, 128 plus the signal number when a signal killed it.
func (c *Container) Wait() (int, error) {
	if c.initCmd == nil {
		return 0, fmt.Errorf("%w: container %q was created by another invocation", errdefs.ErrConflict, c.id)
	}

	waitErr := c.initCmd.Wait()
	code := exitCode(c.initCmd.ProcessState, waitErr)

	if c.cg != nil && c.cg.OOMKilled() {
		slog.Warn("container killed by memory limit", "id", c.id)
	}

	unlock, err := c.store.Lock(c.id)
	if err != nil {
		return code, err
	}
	defer unlock()

	st, err := c.store.Get(c.id)
	if err != nil {
		return code, err
	}
	c.st = st
	c.st.Status = state.Stopped
	c.st.ExitCode = &code
	if err := c.store.Put(c.st); err != nil {
		return code, err
	}

	slog.Debug("container stopped", "id", c.id, "exitCode", code)
	return code, nil
}

// Derives the shell-convention exit code from a reaped process.
func exitCode(ps *os.ProcessState, waitErr error) int {
	if ps == nil {
		if waitErr != nil {
			return 1
		}
		return 0
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok {
		return ps.ExitCode()
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}

// Forwards termination-style signals received by this invocation to the
// container's entry process, so an interactive run behaves like running
// the program directly. The returned function stops forwarding.
func (c *Container) ForwardSignals() func() {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch,
		unix.SIGTERM, unix.SIGINT, unix.SIGQUIT, unix.SIGHUP,
		unix.SIGUSR1, unix.SIGUSR2,
	)

	go func() {
		for sig := range ch {
			s, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			if err := unix.Kill(c.st.PID, s); err != nil && !errors.Is(err, unix.ESRCH) {
				slog.Debug("forward signal", "id", c.id, "signal", sig, "error", err)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

// Creates, starts, and waits out a container, then removes it.
//
// This is the one-shot path: the container exists only for the duration of
// its entry process, and its record is cleaned up on the way out whether
// the program succeeded or not. Returns the entry process's exit code.
func Run(store *state.Store, id string, b *spec.Bundle) (int, error) {
	c, err := Create(store, id, b)
	if err != nil {
		return 0, err
	}

	stop := c.ForwardSignals()
	defer stop()

	if err := c.Start(); err != nil {
		c.reapInit()
		_ = c.Delete(true)
		return 0, err
	}

	code, waitErr := c.Wait()
	if err := c.Delete(false); err != nil {
		slog.Warn("cleanup after run", "id", c.id, "error", err)
	}
	return code, waitErr
}
