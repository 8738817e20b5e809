package cgroups

import "errors"

// Returned when the unified cgroup hierarchy is absent or a group cannot be
// created or configured. Fatal for the invocation: resource limits are
// never silently skipped.
var ErrUnavailable = errors.New("control group unavailable")
