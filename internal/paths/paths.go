package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/virt-do/kaps/internal"
)

const (

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0o755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0o644

	// Permission mode for per-container state directories. State records
	// carry host pids and bundle paths, so they are not world-readable.
	StateDirMode os.FileMode = 0o700
)

// Path to the directory holding container state records.
//
//	root:     /run/kaps
//	rootless: $XDG_RUNTIME_DIR/kaps, falling back to the XDG cache home
//
// Records must survive the invoking process, so the directory lives outside
// any bundle and is shared by all invocations of the same user.
func StateRoot() string {
	if os.Geteuid() == 0 {
		return filepath.Join("/run", internal.Name)
	}
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, internal.Name)
	}
	return filepath.Join(xdg.CacheHome, internal.Name, "run")
}
