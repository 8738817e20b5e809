package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/virt-do/kaps/internal/namespaces"
	"github.com/virt-do/kaps/internal/paths"
)

const (

	// Name of the runtime configuration document inside a bundle.
	ConfigFile = "config.json"

	// Root filesystem subdirectory assumed when the spec omits root.path.
	defaultRootfs = "rootfs"
)

// A bundle directory together with its loaded runtime configuration.
//
// Read-only after [Load] returns; every later phase of container setup
// consumes it without mutating it.
type Bundle struct {
	Path string      // Absolute path to the bundle directory.
	Spec *specs.Spec // Validated runtime configuration.
}

// Loads and validates the runtime configuration of a bundle.
//
// The configuration is accepted exactly as produced by standard bundle
// tooling; unknown fields are preserved by the upstream spec types. Returns
// [ErrMalformed] for unreadable or unparseable documents and the more
// specific validation errors for documents that parse but cannot be run.
func Load(bundlePath string) (*Bundle, error) {
	abs, err := filepath.Abs(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve bundle path: %w", ErrMalformed, err)
	}

	data, err := os.ReadFile(filepath.Join(abs, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrMalformed, ConfigFile, err)
	}

	var s specs.Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrMalformed, ConfigFile, err)
	}

	if err := Validate(&s); err != nil {
		return nil, err
	}

	return &Bundle{Path: abs, Spec: &s}, nil
}

// Returns the absolute path to the bundle's root filesystem.
//
// Relative root paths are resolved against the bundle directory; a missing
// root block falls back to the conventional "rootfs" subdirectory.
func (b *Bundle) Rootfs() string {
	root := defaultRootfs
	if b.Spec.Root != nil && b.Spec.Root.Path != "" {
		root = b.Spec.Root.Path
	}
	if filepath.IsAbs(root) {
		return root
	}
	return filepath.Join(b.Path, root)
}

// Whether the root filesystem must be remounted read-only after setup.
func (b *Bundle) ReadonlyRootfs() bool {
	return b.Spec.Root != nil && b.Spec.Root.Readonly
}

// Validates a parsed runtime configuration.
//
// Checks only what later phases depend on: a runnable process, contained
// mount destinations, recognized namespace kinds, and sane resource values.
// Validation performs no OS mutation of any kind.
func Validate(s *specs.Spec) error {
	if s.Process == nil || len(s.Process.Args) == 0 {
		return fmt.Errorf("%w: process.args", ErrMissingField)
	}
	if s.Process.Cwd != "" && !filepath.IsAbs(s.Process.Cwd) {
		return fmt.Errorf("%w: process.cwd %q is not absolute", ErrMalformed, s.Process.Cwd)
	}

	for _, m := range s.Mounts {
		if err := validateMountDestination(m.Destination); err != nil {
			return err
		}
	}

	if s.Linux != nil {
		seen := make(map[specs.LinuxNamespaceType]bool, len(s.Linux.Namespaces))
		utsCreated := false
		for _, ns := range s.Linux.Namespaces {
			if !namespaces.Supported(ns.Type) {
				return fmt.Errorf("%w: %q", ErrUnsupportedNamespace, ns.Type)
			}
			if seen[ns.Type] {
				return fmt.Errorf("%w: duplicate %q", ErrUnsupportedNamespace, ns.Type)
			}
			seen[ns.Type] = true
			if ns.Type == specs.UTSNamespace && ns.Path == "" {
				utsCreated = true
			}
		}

		// A hostname in a joined UTS namespace would rename whatever else
		// shares that namespace; only a fresh one may carry it.
		if s.Hostname != "" && !utsCreated {
			return fmt.Errorf("%w: hostname requires a new UTS namespace", ErrMalformed)
		}

		if err := validateResources(s.Linux.Resources); err != nil {
			return err
		}
	} else if s.Hostname != "" {
		return fmt.Errorf("%w: hostname requires a new UTS namespace", ErrMalformed)
	}

	return nil
}

// Rejects mount destinations that are relative or attempt to climb out of
// the root filesystem with ".." components. Symlink-based escapes are
// handled separately at apply time, where the real filesystem is visible.
func validateMountDestination(dest string) error {
	if dest == "" {
		return fmt.Errorf("%w: empty destination", ErrInvalidMount)
	}
	if !filepath.IsAbs(dest) {
		return fmt.Errorf("%w: destination %q is not absolute", ErrInvalidMount, dest)
	}
	for _, part := range strings.Split(dest, "/") {
		if part == ".." {
			return fmt.Errorf("%w: destination %q escapes the root filesystem", ErrInvalidMount, dest)
		}
	}
	return nil
}

// Rejects negative resource limits. Absent limits are not an error; they
// inherit from the parent control group.
func validateResources(res *specs.LinuxResources) error {
	if res == nil {
		return nil
	}
	if mem := res.Memory; mem != nil && mem.Limit != nil && *mem.Limit < 0 {
		return fmt.Errorf("%w: memory limit %d", ErrInvalidResource, *mem.Limit)
	}
	if cpu := res.CPU; cpu != nil {
		if cpu.Quota != nil && *cpu.Quota < 0 {
			return fmt.Errorf("%w: cpu quota %d", ErrInvalidResource, *cpu.Quota)
		}
	}
	if pids := res.Pids; pids != nil && pids.Limit != nil && *pids.Limit < 0 {
		return fmt.Errorf("%w: pids limit %d", ErrInvalidResource, *pids.Limit)
	}
	return nil
}

// Writes a runtime configuration document to the given path.
//
// The output is indented so that the generated config.json remains pleasant
// to hand-edit, the common workflow after "kaps spec".
func Save(s *specs.Spec, path string) error {
	data, err := json.MarshalIndent(s, "", "\t")
	if err != nil {
		return fmt.Errorf("%w: encode spec: %w", ErrMalformed, err)
	}
	return os.WriteFile(path, append(data, '\n'), paths.DefaultFileMode)
}
