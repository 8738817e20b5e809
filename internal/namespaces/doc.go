// Package namespaces maps requested isolation namespaces onto the two
// mechanisms the kernel offers for acquiring them.
//
// Namespaces without a path are created fresh: their clone flags are summed
// into the attributes of the init process, so creation is atomic with the
// spawn itself and a failed spawn leaves nothing behind. Namespaces with a
// path refer to existing namespaces and are joined by the init process via
// setns before any other setup, ordered so that the user namespace (which
// fixes the identifier mapping every later step depends on) comes first and
// the mount namespace comes last.
//
// The set of supported kinds is closed and enumerated at compile time.
package namespaces
