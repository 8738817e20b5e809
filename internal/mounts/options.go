package mounts

import (
	"strings"

	"golang.org/x/sys/unix"
)

// One recognized mount option. Options either set or clear a mount flag;
// anything unrecognized is filesystem-specific data passed to the kernel
// verbatim (e.g. "mode=755" for tmpfs).
type option struct {
	clear bool
	flag  uintptr
}

var knownOptions = map[string]option{
	"async":         {true, unix.MS_SYNCHRONOUS},
	"atime":         {true, unix.MS_NOATIME},
	"bind":          {false, unix.MS_BIND},
	"dev":           {true, unix.MS_NODEV},
	"diratime":      {true, unix.MS_NODIRATIME},
	"dirsync":       {false, unix.MS_DIRSYNC},
	"exec":          {true, unix.MS_NOEXEC},
	"lazytime":      {false, unix.MS_LAZYTIME},
	"noatime":       {false, unix.MS_NOATIME},
	"nodev":         {false, unix.MS_NODEV},
	"nodiratime":    {false, unix.MS_NODIRATIME},
	"noexec":        {false, unix.MS_NOEXEC},
	"norelatime":    {true, unix.MS_RELATIME},
	"nostrictatime": {true, unix.MS_STRICTATIME},
	"nosuid":        {false, unix.MS_NOSUID},
	"rbind":         {false, unix.MS_BIND | unix.MS_REC},
	"relatime":      {false, unix.MS_RELATIME},
	"remount":       {false, unix.MS_REMOUNT},
	"ro":            {false, unix.MS_RDONLY},
	"rw":            {true, unix.MS_RDONLY},
	"strictatime":   {false, unix.MS_STRICTATIME},
	"suid":          {true, unix.MS_NOSUID},
	"sync":          {false, unix.MS_SYNCHRONOUS},
}

// Mount propagation options. Propagation cannot be combined with other
// flags in a single mount call, so these are applied as a follow-up
// operation on the mounted destination.
var propagationOptions = map[string]uintptr{
	"private":     unix.MS_PRIVATE,
	"rprivate":    unix.MS_PRIVATE | unix.MS_REC,
	"shared":      unix.MS_SHARED,
	"rshared":     unix.MS_SHARED | unix.MS_REC,
	"slave":       unix.MS_SLAVE,
	"rslave":      unix.MS_SLAVE | unix.MS_REC,
	"unbindable":  unix.MS_UNBINDABLE,
	"runbindable": unix.MS_UNBINDABLE | unix.MS_REC,
}

// Translates the option list of a spec mount into mount flags, propagation
// flags, and the filesystem-specific data string.
func parseOptions(options []string) (flags uintptr, propagation []uintptr, data string) {
	var dataParts []string

	for _, opt := range options {
		if o, ok := knownOptions[opt]; ok {
			if o.clear {
				flags &^= o.flag
			} else {
				flags |= o.flag
			}
			continue
		}
		if p, ok := propagationOptions[opt]; ok {
			propagation = append(propagation, p)
			continue
		}
		dataParts = append(dataParts, opt)
	}

	return flags, propagation, strings.Join(dataParts, ",")
}
