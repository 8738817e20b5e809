package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "containers"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testState(id string) *State {
	return &State{
		Version: "1.0.2",
		ID:      id,
		Status:  Creating,
		Bundle:  "/tmp/bundle",
		Created: time.Now().UTC(),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(testState("web")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get("web")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "web" || got.Status != Creating {
		t.Fatalf("Get = %+v", got)
	}
}

func TestCreateConflict(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(testState("web")); err != nil {
		t.Fatal(err)
	}
	err := s.Create(testState("web"))
	if !errdefs.IsConflict(err) {
		t.Fatalf("second Create = %v, want conflict", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("Get = %v, want not found", err)
	}
}

func TestPutUpdates(t *testing.T) {
	s := newTestStore(t)
	st := testState("web")
	if err := s.Create(st); err != nil {
		t.Fatal(err)
	}

	st.Status = Running
	st.PID = 4242
	if err := s.Put(st); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("web")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != Running || got.PID != 4242 {
		t.Fatalf("Get after Put = %+v", got)
	}
}

func TestPutNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(testState("missing"))
	if !errdefs.IsNotFound(err) {
		t.Fatalf("Put = %v, want not found", err)
	}
}

func TestListSorted(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := s.Create(testState(id)); err != nil {
			t.Fatal(err)
		}
	}

	states, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(states))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if states[i].ID != want {
			t.Fatalf("List[%d] = %q, want %q", i, states[i].ID, want)
		}
	}
}

func TestListSkipsBrokenEntries(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(testState("good")); err != nil {
		t.Fatal(err)
	}
	// A directory without a record, as left by a crashed create.
	if err := os.Mkdir(filepath.Join(s.root, "broken"), 0o700); err != nil {
		t.Fatal(err)
	}

	states, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != 1 || states[0].ID != "good" {
		t.Fatalf("List = %+v, want only the intact entry", states)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(testState("web")); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove("web"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get("web"); !errdefs.IsNotFound(err) {
		t.Fatalf("Get after Remove = %v, want not found", err)
	}
	if err := s.Remove("web"); !errdefs.IsNotFound(err) {
		t.Fatalf("second Remove = %v, want not found", err)
	}
}

func TestLockSerializes(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(testState("web")); err != nil {
		t.Fatal(err)
	}

	unlock, err := s.Lock("web")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		unlock2, err := s.Lock("web")
		if err != nil {
			t.Errorf("second Lock: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		unlock2()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock succeeded while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after unlock")
	}
}

func TestLockNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Lock("missing")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("Lock = %v, want not found", err)
	}
}

func TestDirIsUnderRoot(t *testing.T) {
	s := newTestStore(t)
	dir := s.Dir("web")
	if filepath.Dir(dir) != s.root {
		t.Fatalf("Dir = %q, not directly under %q", dir, s.root)
	}
}
