package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"

	"github.com/virt-do/kaps/internal/paths"
)

const (
	stateFile = "state.json"
	lockFile  = "lock"
)

// File-backed store of container records, rooted at a directory that
// outlives any single invocation.
type Store struct {
	root string
}

// Opens (creating if needed) a store rooted at the given directory.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("create state root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Directory owned by the given container id. Auxiliary per-container files
// (the exec FIFO) live here alongside the record itself.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, id)
}

// Inserts a new record, failing if the id already exists.
//
// Directory creation is atomic in the kernel, so of two concurrent creates
// for the same id exactly one wins; the loser observes ErrConflict and has
// mutated nothing.
func (s *Store) Create(st *State) error {
	dir := s.Dir(st.ID)
	if err := os.Mkdir(dir, paths.StateDirMode); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: container %q already exists", errdefs.ErrConflict, st.ID)
		}
		return fmt.Errorf("create state directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_CREATE|os.O_RDONLY, paths.DefaultFileMode)
	if err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("create lock file: %w", err)
	}
	_ = f.Close()

	if err := s.Put(st); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	return nil
}

// Reads the record for an id.
func (s *Store) Get(id string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(id), stateFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("read state of %q: %w", id, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state of %q: %w", id, err)
	}
	return &st, nil
}

// Rewrites the record for an existing container.
//
// The write goes through a temporary file and a rename, so a reader never
// observes a torn record even if the writer dies mid-update.
func (s *Store) Put(st *State) error {
	dir := s.Dir(st.ID)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: container %q", errdefs.ErrNotFound, st.ID)
	}

	data, err := json.MarshalIndent(st, "", "\t")
	if err != nil {
		return fmt.Errorf("encode state of %q: %w", st.ID, err)
	}

	tmp, err := os.CreateTemp(dir, stateFile+".*")
	if err != nil {
		return fmt.Errorf("write state of %q: %w", st.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write state of %q: %w", st.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write state of %q: %w", st.ID, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, stateFile)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write state of %q: %w", st.ID, err)
	}
	return nil
}

// Returns every container record, sorted by id.
//
// Entries whose record is missing or unreadable (e.g. a concurrent delete)
// are skipped rather than failing the whole listing.
func (s *Store) List() ([]*State, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list state root: %w", err)
	}

	var states []*State
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := s.Get(e.Name())
		if err != nil {
			continue
		}
		states = append(states, st)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states, nil
}

// Removes a container's record and everything else in its directory.
func (s *Store) Remove(id string) error {
	dir := s.Dir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: container %q", errdefs.ErrNotFound, id)
		}
		return fmt.Errorf("remove state of %q: %w", id, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove state of %q: %w", id, err)
	}
	return nil
}

// Acquires the exclusive per-id lock, blocking until it is available.
//
// Every state transition for an id happens under this lock, so concurrent
// invocations targeting the same container observe consistent records. The
// returned function releases the lock; it is safe to call after the
// container's directory has been removed, since the open descriptor keeps
// the lock file alive.
func (s *Store) Lock(id string) (func(), error) {
	f, err := os.OpenFile(filepath.Join(s.Dir(id), lockFile), os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("open lock of %q: %w", id, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %q: %w", id, err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
