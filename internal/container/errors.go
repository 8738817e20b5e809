package container

import "errors"

var (
	// The container id contains characters that would break the state
	// directory layout or the cgroup naming.
	ErrInvalidID = errors.New("invalid container id")

	// Setup of the container's first process failed before the entry
	// program was reached.
	ErrSetup = errors.New("container setup failed")

	// The entry program cannot be executed: missing, not executable, or
	// the exec itself was refused. Never retried.
	ErrExecFailed = errors.New("entry program cannot be executed")

	// Signal delivery or similar targeted an already-stopped container.
	// Recoverable by the caller; the state record is left untouched.
	ErrAlreadyStopped = errors.New("container is already stopped")

	// Delete targeted a container whose process is still alive and no
	// force flag was given.
	ErrStillRunning = errors.New("container is still running")
)
