// Package seccomp installs the syscall filter a spec declares for the
// entry process. The filter is loaded inside the init process as the last
// step before exec, after no-new-privs has been set.
package seccomp

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// Builds and loads the filter described by the spec.
//
// Syscall names unknown to the running kernel are skipped rather than
// rejected, matching how generated profiles list syscalls newer than the
// host. Argument-level conditions are not evaluated; a rule applies to the
// syscall as a whole. A nil declaration installs nothing.
func Apply(sc *specs.LinuxSeccomp) error {
	if sc == nil {
		return nil
	}

	def, err := action(sc.DefaultAction)
	if err != nil {
		return err
	}

	filter, err := seccomp.NewFilter(def)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}

	for _, rule := range sc.Syscalls {
		act, err := action(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				continue
			}
			if err := filter.AddRule(call, act); err != nil {
				return fmt.Errorf("add seccomp rule for %s: %w", name, err)
			}
		}
	}

	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

// Maps a spec action onto the library's action constants.
func action(a specs.LinuxSeccompAction) (seccomp.ScmpAction, error) {
	switch a {
	case specs.ActAllow:
		return seccomp.ActAllow, nil
	case specs.ActErrno:
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	case specs.ActKill:
		return seccomp.ActKillThread, nil
	case specs.ActKillProcess:
		return seccomp.ActKillProcess, nil
	case specs.ActKillThread:
		return seccomp.ActKillThread, nil
	case specs.ActLog:
		return seccomp.ActLog, nil
	case specs.ActTrap:
		return seccomp.ActTrap, nil
	case specs.ActTrace:
		return seccomp.ActTrace.SetReturnCode(int16(unix.EPERM)), nil
	default:
		return seccomp.ActKillThread, fmt.Errorf("unsupported seccomp action %q", a)
	}
}
