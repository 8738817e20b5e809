// Package capabilities applies the capability sets a spec declares for the
// entry process. Runs inside the init process after credentials have been
// switched and immediately before exec.
package capabilities

import (
	"fmt"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// Applies the declared capability sets to the current process.
//
// Capabilities outside the declared bounding set are dropped from the
// process's bounding set first (while the privilege to do so still exists),
// then the effective, permitted, and inheritable sets are installed, and
// finally the ambient set is raised. A nil declaration leaves the process's
// capabilities untouched.
func Apply(c *specs.LinuxCapabilities) error {
	if c == nil {
		return nil
	}

	bounding, err := values(c.Bounding)
	if err != nil {
		return err
	}
	keep := make(map[cap.Value]bool, len(bounding))
	for _, v := range bounding {
		keep[v] = true
	}
	for v := cap.Value(0); v < cap.MaxBits(); v++ {
		if keep[v] {
			continue
		}
		if err := cap.DropBound(v); err != nil {
			return fmt.Errorf("drop bounding capability %v: %w", v, err)
		}
	}

	set := cap.NewSet()
	for _, s := range []struct {
		flag  cap.Flag
		names []string
	}{
		{cap.Effective, c.Effective},
		{cap.Permitted, c.Permitted},
		{cap.Inheritable, c.Inheritable},
	} {
		vals, err := values(s.names)
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			continue
		}
		if err := set.SetFlag(s.flag, true, vals...); err != nil {
			return fmt.Errorf("assemble capability set: %w", err)
		}
	}
	if err := set.SetProc(); err != nil {
		return fmt.Errorf("apply capability sets: %w", err)
	}

	ambient, err := values(c.Ambient)
	if err != nil {
		return err
	}
	if err := cap.ResetAmbient(); err != nil {
		return fmt.Errorf("reset ambient capabilities: %w", err)
	}
	if len(ambient) > 0 {
		if err := cap.SetAmbient(true, ambient...); err != nil {
			return fmt.Errorf("raise ambient capabilities: %w", err)
		}
	}

	return nil
}

// Resolves spec capability names ("CAP_NET_BIND_SERVICE") to values.
func values(names []string) ([]cap.Value, error) {
	vals := make([]cap.Value, 0, len(names))
	for _, name := range names {
		v, err := cap.FromName(strings.ToLower(name))
		if err != nil {
			return nil, fmt.Errorf("unknown capability %q: %w", name, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}
