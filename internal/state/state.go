package state

import (
	"time"
)

// Lifecycle status of a container. Transitions are one-directional:
// Creating → Created → Running → Stopped, ending with the record's removal
// on delete.
type Status string

const (
	// Setup in progress: namespaces, mounts, and control group are being
	// established. Transient; never observed across a successful command.
	Creating Status = "creating"

	// Setup complete, entry program not yet started.
	Created Status = "created"

	// Entry program executing.
	Running Status = "running"

	// Entry program exited or was terminated. Terminal.
	Stopped Status = "stopped"
)

// Persisted record of one container. The shape mirrors the OCI state
// document so that "kaps state" output is consumable by standard tooling.
type State struct {
	Version     string            `json:"ociVersion"`
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	PID         int               `json:"pid,omitempty"`
	Bundle      string            `json:"bundle"`
	Created     time.Time         `json:"created"`
	CgroupPath  string            `json:"cgroupPath,omitempty"`
	ExitCode    *int              `json:"exitCode,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}
