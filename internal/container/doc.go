// Package container drives the lifecycle of a single container: spawning
// its first process inside the requested namespaces, assembling its
// filesystem and control group, starting, signalling, and deleting it.
//
// The runtime re-executes itself as the container's first process (the
// hidden "init" command). The creating invocation spawns /proc/self/exe
// with the namespace clone flags set, feeds it a JSON payload describing
// the remaining setup over a pipe, and waits for a reply on a second pipe.
// Init joins any existing namespaces, builds the mount tree, applies
// process attributes, and then blocks on a FIFO in the container's state
// directory; "start" opens the FIFO's read side, which releases exactly one
// exec of the entry program. Setup failures are reported back over the
// reply pipe before init exits, and the creating invocation rolls back the
// control group and state record synchronously.
package container
