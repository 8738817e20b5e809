package container

import (
	"errors"
	"fmt"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/virt-do/kaps/internal/mounts"
	"github.com/virt-do/kaps/internal/namespaces"
	"github.com/virt-do/kaps/internal/spec"
)

// Setup instructions handed from the creating invocation to the init
// process. Everything init needs must be in here: after the pipe is
// drained, init has no other channel back to the bundle or the spec.
type initPayload struct {
	Rootfs          string              `json:"rootfs"`
	ReadonlyRootfs  bool                `json:"readonlyRootfs,omitempty"`
	Hostname        string              `json:"hostname,omitempty"`
	Mounts          []specs.Mount       `json:"mounts,omitempty"`
	Joins           []namespaces.Join   `json:"joins,omitempty"`
	NewPIDNamespace bool                `json:"newPidNamespace,omitempty"`
	NewUTSNamespace bool                `json:"newUtsNamespace,omitempty"`
	Process         *specs.Process      `json:"process"`
	Seccomp         *specs.LinuxSeccomp `json:"seccomp,omitempty"`
}

// Builds the init payload for a bundle and its namespace set.
func buildPayload(b *spec.Bundle, set *namespaces.Set) initPayload {
	p := initPayload{
		Rootfs:          b.Rootfs(),
		ReadonlyRootfs:  b.ReadonlyRootfs(),
		Hostname:        b.Spec.Hostname,
		Mounts:          b.Spec.Mounts,
		Joins:           set.Joins,
		NewPIDNamespace: set.Creates(specs.PIDNamespace),
		NewUTSNamespace: set.Creates(specs.UTSNamespace),
		Process:         b.Spec.Process,
	}
	if b.Spec.Linux != nil {
		p.Seccomp = b.Spec.Linux.Seccomp
	}
	return p
}

// Outcome of init's setup phase, reported over the reply pipe. A zero
// reply means setup succeeded and init is blocked awaiting start.
type initReply struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error kinds that survive the trip through the reply pipe. The code
// string is the wire form; the sentinel is what callers match on with
// errors.Is after decoding.
var replyCodes = []struct {
	code     string
	sentinel error
}{
	{"namespace-permission", namespaces.ErrPermissionDenied},
	{"namespace-failed", namespaces.ErrCreationFailed},
	{"mount-escape", mounts.ErrPathEscape},
	{"mount-pivot", mounts.ErrPivotFailed},
	{"mount-failed", mounts.ErrMountFailed},
	{"exec-failed", ErrExecFailed},
	{"setup-failed", ErrSetup},
}

// Encodes a setup error into its wire form.
func encodeInitError(err error) initReply {
	for _, rc := range replyCodes {
		if errors.Is(err, rc.sentinel) {
			return initReply{Code: rc.code, Message: err.Error()}
		}
	}
	return initReply{Code: "setup-failed", Message: err.Error()}
}

// Reconstructs the error carried by a reply, or nil for a success reply.
func (r initReply) decode() error {
	if r.Code == "" && r.Message == "" {
		return nil
	}
	for _, rc := range replyCodes {
		if r.Code != rc.code {
			continue
		}
		// The message already starts with the sentinel's own text; avoid
		// stuttering it when rewrapping.
		msg := strings.TrimPrefix(r.Message, rc.sentinel.Error())
		msg = strings.TrimPrefix(msg, ": ")
		if msg == "" {
			return rc.sentinel
		}
		return fmt.Errorf("%w: %s", rc.sentinel, msg)
	}
	return fmt.Errorf("%w: %s", ErrSetup, r.Message)
}
