// Package mounts assembles the container's view of the filesystem.
//
// [PrepareRoot] runs inside the init process after the mount namespace has
// been entered. It makes the namespace's root private so nothing propagates
// to the host, binds the bundle's root filesystem as the new root, applies
// the spec's mounts in their declared order, pivots into the new root, and
// detaches the old one. Every mount therefore happens inside the private
// per-container namespace: if any step fails the init process exits and
// the kernel discards the whole mount tree with it, leaving the host mount
// table untouched.
package mounts
