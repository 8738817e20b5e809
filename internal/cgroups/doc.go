// Package cgroups places containers into dedicated control groups and
// applies the resource limits declared in their specs.
//
// Only the unified (v2) hierarchy is supported. Each container owns one
// group directly under the hierarchy root, created before its init process
// is allowed to proceed and removed on delete, so the entry process never
// runs a single instruction outside its limits. Limits the spec leaves
// unset inherit from the parent group; their absence is not an error.
package cgroups
