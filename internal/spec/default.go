package spec

import (
	imagespec "github.com/opencontainers/image-spec/specs-go/v1"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Environment given to the entry process when neither the spec nor an image
// configuration provides one.
var defaultEnv = []string{
	"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	"TERM=xterm",
}

// Capabilities granted to the entry process of a generated spec. Matches
// the minimal set conventional for unprivileged container workloads.
var defaultCapabilities = []string{
	"CAP_AUDIT_WRITE",
	"CAP_KILL",
	"CAP_NET_BIND_SERVICE",
}

// Returns a runnable runtime configuration skeleton.
//
// The generated spec launches a shell in a read-only root filesystem with
// private pid, ipc, uts, mount, and network namespaces and the kernel
// filesystems a shell expects. It is the document written by "kaps spec"
// and the baseline that [FromImageConfig] builds on.
func Default() *specs.Spec {
	return &specs.Spec{
		Version: specs.Version,
		Process: &specs.Process{
			Terminal: true,
			User:     specs.User{UID: 0, GID: 0},
			Args:     []string{"sh"},
			Env:      append([]string(nil), defaultEnv...),
			Cwd:      "/",
			Capabilities: &specs.LinuxCapabilities{
				Bounding:  append([]string(nil), defaultCapabilities...),
				Effective: append([]string(nil), defaultCapabilities...),
				Permitted: append([]string(nil), defaultCapabilities...),
			},
			NoNewPrivileges: true,
		},
		Root: &specs.Root{
			Path:     defaultRootfs,
			Readonly: true,
		},
		Hostname: "kaps",
		Mounts: []specs.Mount{
			{
				Destination: "/proc",
				Type:        "proc",
				Source:      "proc",
			},
			{
				Destination: "/dev",
				Type:        "tmpfs",
				Source:      "tmpfs",
				Options:     []string{"nosuid", "strictatime", "mode=755", "size=65536k"},
			},
			{
				Destination: "/dev/pts",
				Type:        "devpts",
				Source:      "devpts",
				Options:     []string{"nosuid", "noexec", "newinstance", "ptmxmode=0666", "mode=0620"},
			},
			{
				Destination: "/dev/shm",
				Type:        "tmpfs",
				Source:      "shm",
				Options:     []string{"nosuid", "noexec", "nodev", "mode=1777", "size=65536k"},
			},
			{
				Destination: "/sys",
				Type:        "sysfs",
				Source:      "sysfs",
				Options:     []string{"nosuid", "noexec", "nodev", "ro"},
			},
		},
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.PIDNamespace},
				{Type: specs.IPCNamespace},
				{Type: specs.UTSNamespace},
				{Type: specs.MountNamespace},
				{Type: specs.NetworkNamespace},
			},
		},
	}
}

// Returns a runtime configuration seeded from an OCI image configuration.
//
// The image's entrypoint and command become the process arguments, and the
// image's environment and working directory override the defaults. Fields
// the image leaves empty keep the [Default] values, so the result is always
// runnable.
func FromImageConfig(cfg imagespec.ImageConfig) *specs.Spec {
	s := Default()

	if args := append(append([]string(nil), cfg.Entrypoint...), cfg.Cmd...); len(args) > 0 {
		s.Process.Args = args
	}
	if len(cfg.Env) > 0 {
		s.Process.Env = append([]string(nil), cfg.Env...)
	}
	if cfg.WorkingDir != "" {
		s.Process.Cwd = cfg.WorkingDir
	}

	return s
}
