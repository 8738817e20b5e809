package mounts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/moby/sys/mountinfo"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"github.com/virt-do/kaps/internal/paths"
)

// Builds the container's filesystem inside the current mount namespace.
//
// Steps are strictly ordered: root propagation is cut off first, the bundle
// rootfs is bound as the new root, the spec mounts are applied in sequence,
// the process pivots into the new root, and finally /proc is provided when
// a fresh pid namespace was requested and the root is remounted read-only
// when the spec demands it. Must be called inside a private, per-container
// mount namespace; the caller exiting on error is the rollback.
func PrepareRoot(rootfs string, readonly bool, mountSpecs []specs.Mount, newPIDNamespace bool) error {
	// Cut propagation to the host before anything is mounted.
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("%w: make / private: %w", ErrMountFailed, err)
	}

	// pivot_root requires the new root to be a mount point.
	if err := unix.Mount(rootfs, rootfs, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("%w: bind rootfs %s: %w", ErrMountFailed, rootfs, err)
	}
	if mounted, err := mountinfo.Mounted(rootfs); err != nil || !mounted {
		return fmt.Errorf("%w: rootfs %s is not a mount point after self-bind", ErrMountFailed, rootfs)
	}

	for _, m := range mountSpecs {
		if err := apply(rootfs, m); err != nil {
			return err
		}
	}

	if err := pivot(rootfs); err != nil {
		return err
	}

	if newPIDNamespace {
		if err := ensureProc(); err != nil {
			return err
		}
	}

	if readonly {
		if err := unix.Mount("", "/", "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY, ""); err != nil {
			return fmt.Errorf("%w: remount / read-only: %w", ErrMountFailed, err)
		}
	}

	return nil
}

// Applies a single spec mount under the (not yet pivoted) root filesystem.
func apply(rootfs string, m specs.Mount) error {
	dest, err := securejoin.SecureJoin(rootfs, m.Destination)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPathEscape, m.Destination, err)
	}
	if dest != rootfs && !strings.HasPrefix(dest, rootfs+string(os.PathSeparator)) {
		return fmt.Errorf("%w: %s resolves outside %s", ErrPathEscape, m.Destination, rootfs)
	}

	flags, propagation, data := parseOptions(m.Options)

	if err := ensureTarget(m.Source, dest, flags); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMountFailed, m.Destination, err)
	}

	if err := unix.Mount(m.Source, dest, m.Type, flags, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMountFailed, m.Destination, err)
	}

	// A bind mount ignores flags like MS_RDONLY on the initial call; they
	// only take effect on a remount of the bound destination.
	if flags&unix.MS_BIND != 0 && flags&^(unix.MS_BIND|unix.MS_REC) != 0 {
		remountFlags := unix.MS_REMOUNT | flags
		if err := unix.Mount("", dest, "", remountFlags, ""); err != nil {
			return fmt.Errorf("%w: %s: remount with options: %w", ErrMountFailed, m.Destination, err)
		}
	}

	for _, p := range propagation {
		if err := unix.Mount("", dest, "", p, ""); err != nil {
			return fmt.Errorf("%w: %s: set propagation: %w", ErrMountFailed, m.Destination, err)
		}
	}

	return nil
}

// Creates the mount target. Bind mounts of regular files need a file
// target; everything else needs a directory.
func ensureTarget(source, dest string, flags uintptr) error {
	if flags&unix.MS_BIND != 0 {
		info, err := os.Stat(source)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
				return err
			}
			f, err := os.OpenFile(dest, os.O_CREATE, paths.DefaultFileMode)
			if err != nil && !errors.Is(err, os.ErrExist) {
				return err
			}
			if f != nil {
				return f.Close()
			}
			return nil
		}
	}
	return os.MkdirAll(dest, paths.DefaultDirMode)
}

// Pivots into the new root and detaches the old one.
//
// Uses the stacked form of pivot_root (new root and put-old are the same
// directory), which avoids needing a scratch directory inside the rootfs:
// the old root ends up mounted on top of the new one and is unmounted
// lazily, leaving it unreachable from the container.
func pivot(rootfs string) error {
	oldroot, err := unix.Open("/", unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: open old root: %w", ErrPivotFailed, err)
	}
	defer unix.Close(oldroot)

	newroot, err := unix.Open(rootfs, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: open new root: %w", ErrPivotFailed, err)
	}
	defer unix.Close(newroot)

	if err := unix.Fchdir(newroot); err != nil {
		return fmt.Errorf("%w: enter new root: %w", ErrPivotFailed, err)
	}
	if err := unix.PivotRoot(".", "."); err != nil {
		return fmt.Errorf("%w: pivot_root: %w", ErrPivotFailed, err)
	}

	// The old root is still stacked under the current directory. Switch to
	// it, stop any propagation of the detach, and drop it.
	if err := unix.Fchdir(oldroot); err != nil {
		return fmt.Errorf("%w: reenter old root: %w", ErrPivotFailed, err)
	}
	if err := unix.Mount("", ".", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("%w: isolate old root: %w", ErrPivotFailed, err)
	}
	if err := unix.Unmount(".", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("%w: detach old root: %w", ErrPivotFailed, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("%w: chdir to new root: %w", ErrPivotFailed, err)
	}

	return nil
}

// Guarantees a /proc backed by the current pid namespace.
//
// A spec normally mounts proc itself; this only covers specs that request a
// pid namespace without mounting proc, where tools inside the container
// would otherwise observe the host's process table or nothing at all.
func ensureProc() error {
	mounted, err := mountinfo.Mounted("/proc")
	if err == nil && mounted {
		return nil
	}
	if err := os.MkdirAll("/proc", paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: /proc: %w", ErrMountFailed, err)
	}
	if err := unix.Mount("proc", "/proc", "proc", 0, ""); err != nil && !errors.Is(err, unix.EBUSY) {
		return fmt.Errorf("%w: /proc: %w", ErrMountFailed, err)
	}
	return nil
}
