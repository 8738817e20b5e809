package container

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"github.com/virt-do/kaps/internal/capabilities"
	"github.com/virt-do/kaps/internal/mounts"
	"github.com/virt-do/kaps/internal/namespaces"
	"github.com/virt-do/kaps/internal/seccomp"
)

// Name of the exec FIFO inside a container's state directory.
const execFifo = "exec.fifo"

// File descriptor layout inherited by the init process. Descriptors 0-2
// remain the container's stdio; the runtime's plumbing starts at 3.
const (
	payloadFD = 3 // Read side of the setup payload pipe.
	readyFD   = 4 // Write side of the setup reply pipe.
	fifoFD    = 5 // O_PATH handle to the exec FIFO.
)

// PATH given to the entry process when the spec provides no environment.
const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// RunInit is the body of the hidden "init" command: the container's first
// process, already inside its freshly created namespaces.
//
// It performs the remaining setup described by the payload on descriptor 3,
// reports the outcome on descriptor 4, blocks on the exec FIFO until a
// start invocation opens it, and replaces itself with the entry program.
// On setup failure it reports and exits; the namespaces and the private
// mount tree die with it.
func RunInit() error {
	// Namespace joins and credential changes are per-thread operations;
	// everything must happen on the thread that will exec.
	runtime.LockOSThread()

	payloadFile := os.NewFile(payloadFD, "payload")
	readyFile := os.NewFile(readyFD, "ready")

	var p initPayload
	decodeErr := json.NewDecoder(payloadFile).Decode(&p)
	_ = payloadFile.Close()

	var entry string
	err := decodeErr
	if err == nil {
		entry, err = setup(&p)
	} else {
		err = fmt.Errorf("%w: decode payload: %w", ErrSetup, err)
	}

	reply := initReply{}
	if err != nil {
		reply = encodeInitError(err)
	}
	if encErr := json.NewEncoder(readyFile).Encode(reply); encErr != nil && err == nil {
		err = fmt.Errorf("%w: report readiness: %w", ErrSetup, encErr)
	}
	_ = readyFile.Close()
	if err != nil {
		return err
	}

	if err := awaitStart(); err != nil {
		return err
	}

	env := p.Process.Env
	if len(env) == 0 {
		env = []string{defaultPath}
	}
	if err := unix.Exec(entry, p.Process.Args, env); err != nil {
		return fmt.Errorf("%w: exec %s: %w", ErrExecFailed, entry, err)
	}
	return nil
}

// Blocks until a start invocation opens the exec FIFO, then consumes the
// FIFO descriptor so nothing leaks into the entry program.
//
// The FIFO was handed over as an O_PATH descriptor and is reopened through
// /proc, because the state directory itself is unreachable after the pivot.
func awaitStart() error {
	f, err := os.OpenFile(fmt.Sprintf("/proc/self/fd/%d", fifoFD), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: open exec fifo: %w", ErrSetup, err)
	}
	if _, err := f.Write([]byte{0}); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: signal exec fifo: %w", ErrSetup, err)
	}
	_ = f.Close()
	_ = unix.Close(fifoFD)
	return nil
}

// Runs the ordered setup sequence and resolves the entry program.
//
// Order matters throughout: existing namespaces are joined before anything
// observes the filesystem or hostname, the mount tree is built before
// credentials drop (mounting needs privilege), and the seccomp filter is
// installed last so the setup code itself is not subject to it.
func setup(p *initPayload) (string, error) {
	set := &namespaces.Set{Joins: p.Joins}
	if err := set.Enter(); err != nil {
		return "", err
	}

	if p.Hostname != "" && p.NewUTSNamespace {
		if err := unix.Sethostname([]byte(p.Hostname)); err != nil {
			return "", fmt.Errorf("%w: %q: set hostname: %w", namespaces.ErrCreationFailed, specs.UTSNamespace, err)
		}
	}

	if err := mounts.PrepareRoot(p.Rootfs, p.ReadonlyRootfs, p.Mounts, p.NewPIDNamespace); err != nil {
		return "", err
	}

	if err := applyRlimits(p.Process.Rlimits); err != nil {
		return "", err
	}

	// Keep permitted capabilities across the uid switch so the declared
	// sets can still be installed afterwards.
	hasCaps := p.Process.Capabilities != nil
	if hasCaps {
		if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 1, 0, 0, 0); err != nil {
			return "", fmt.Errorf("%w: keep capabilities: %w", ErrSetup, err)
		}
	}
	if err := switchUser(p.Process.User); err != nil {
		return "", err
	}
	if hasCaps {
		if err := capabilities.Apply(p.Process.Capabilities); err != nil {
			return "", fmt.Errorf("%w: %w", ErrSetup, err)
		}
		if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 0, 0, 0, 0); err != nil {
			return "", fmt.Errorf("%w: clear keep-capabilities: %w", ErrSetup, err)
		}
	}

	cwd := p.Process.Cwd
	if cwd == "" {
		cwd = "/"
	}
	if err := os.Chdir(cwd); err != nil {
		return "", fmt.Errorf("%w: chdir %s: %w", ErrSetup, cwd, err)
	}

	if p.Process.NoNewPrivileges {
		if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
			return "", fmt.Errorf("%w: set no-new-privs: %w", ErrSetup, err)
		}
	}

	if err := seccomp.Apply(p.Seccomp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSetup, err)
	}

	entry, err := lookupEntry(p.Process.Args[0], p.Process.Env)
	if err != nil {
		return "", err
	}
	return entry, nil
}

// Switches to the credentials declared for the entry process.
func switchUser(u specs.User) error {
	if u.Umask != nil {
		unix.Umask(int(*u.Umask))
	}

	if len(u.AdditionalGids) > 0 {
		gids := make([]int, 0, len(u.AdditionalGids))
		for _, g := range u.AdditionalGids {
			gids = append(gids, int(g))
		}
		if err := unix.Setgroups(gids); err != nil {
			return fmt.Errorf("%w: set supplementary groups: %w", ErrSetup, err)
		}
	}

	if err := unix.Setgid(int(u.GID)); err != nil {
		return fmt.Errorf("%w: setgid %d: %w", ErrSetup, u.GID, err)
	}
	if err := unix.Setuid(int(u.UID)); err != nil {
		return fmt.Errorf("%w: setuid %d: %w", ErrSetup, u.UID, err)
	}
	return nil
}

// Resource limit names accepted in a spec, mapped to their kernel numbers.
var rlimitNames = map[string]int{
	"RLIMIT_AS":         unix.RLIMIT_AS,
	"RLIMIT_CORE":       unix.RLIMIT_CORE,
	"RLIMIT_CPU":        unix.RLIMIT_CPU,
	"RLIMIT_DATA":       unix.RLIMIT_DATA,
	"RLIMIT_FSIZE":      unix.RLIMIT_FSIZE,
	"RLIMIT_LOCKS":      unix.RLIMIT_LOCKS,
	"RLIMIT_MEMLOCK":    unix.RLIMIT_MEMLOCK,
	"RLIMIT_MSGQUEUE":   unix.RLIMIT_MSGQUEUE,
	"RLIMIT_NICE":       unix.RLIMIT_NICE,
	"RLIMIT_NOFILE":     unix.RLIMIT_NOFILE,
	"RLIMIT_NPROC":      unix.RLIMIT_NPROC,
	"RLIMIT_RSS":        unix.RLIMIT_RSS,
	"RLIMIT_RTPRIO":     unix.RLIMIT_RTPRIO,
	"RLIMIT_RTTIME":     unix.RLIMIT_RTTIME,
	"RLIMIT_SIGPENDING": unix.RLIMIT_SIGPENDING,
	"RLIMIT_STACK":      unix.RLIMIT_STACK,
}

// Applies the spec's POSIX resource limits to the current process.
func applyRlimits(rlimits []specs.POSIXRlimit) error {
	for _, r := range rlimits {
		res, ok := rlimitNames[r.Type]
		if !ok {
			return fmt.Errorf("%w: unknown rlimit %q", ErrSetup, r.Type)
		}
		limit := unix.Rlimit{Cur: r.Soft, Max: r.Hard}
		if err := unix.Setrlimit(res, &limit); err != nil {
			return fmt.Errorf("%w: set %s: %w", ErrSetup, r.Type, err)
		}
	}
	return nil
}

// Resolves the entry program to an executable path inside the container's
// (already pivoted) root filesystem.
//
// Resolution happens before readiness is reported, so a bundle with a
// missing or non-executable entry point fails the create, not the start.
func lookupEntry(arg0 string, env []string) (string, error) {
	if strings.Contains(arg0, "/") {
		if err := checkExecutable(arg0); err != nil {
			return "", err
		}
		return arg0, nil
	}

	path := strings.TrimPrefix(defaultPath, "PATH=")
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, arg0)
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %q not found in PATH", ErrExecFailed, arg0)
}

// Whether the path names an executable regular file.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExecFailed, path, err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrExecFailed, path)
	}
	return nil
}
