// Provides well-known paths for the runtime's persisted state.
//
// State lives under /run when the runtime is invoked as root and under the
// XDG runtime directory otherwise, so that rootless invocations never
// require write access to system directories. The runtime name "kaps" is
// used as the subdirectory under each base path.
package paths
