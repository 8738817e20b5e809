package container

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/virt-do/kaps/internal/state"
)

// Builds a container around a stored record, the way a non-creating
// invocation sees it.
func storedContainer(t *testing.T, pid int) *Container {
	t.Helper()

	store, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	st := &state.State{
		Version: "1.0.2",
		ID:      "web",
		Status:  state.Created,
		PID:     pid,
		Bundle:  "/tmp/bundle",
		Created: time.Now().UTC(),
	}
	if err := store.Create(st); err != nil {
		t.Fatal(err)
	}
	return &Container{id: "web", store: store, st: st}
}

// Returns the pid of a process that has already exited and been reaped.
func deadPid(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}
	return cmd.Process.Pid
}

func TestStartFifoFailureKeepsCreated(t *testing.T) {
	// The state directory holds no exec FIFO, so releasing init fails, but
	// init (stood in for by this process) is still alive: the record must
	// not be marked stopped.
	c := storedContainer(t, os.Getpid())

	if err := c.Start(); err == nil {
		t.Fatal("Start succeeded without an exec fifo")
	}

	got, err := c.store.Get("web")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != state.Created {
		t.Fatalf("status = %q, want created", got.Status)
	}
}

func TestStartDeadInitRecordsStopped(t *testing.T) {
	c := storedContainer(t, deadPid(t))

	if err := c.Start(); err == nil {
		t.Fatal("Start succeeded with a dead init")
	}

	got, err := c.store.Get("web")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != state.Stopped {
		t.Fatalf("status = %q, want stopped", got.Status)
	}
}
