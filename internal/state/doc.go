// Package state persists container lifecycle records across invocations.
//
// Every command invocation is a separate process, so the store is the
// single source of truth for which containers exist and what state they are
// in. Each container owns one directory under the state root, holding its
// JSON record and a lock file; the directory's creation is the atomic
// existence gate (two concurrent creates of the same id yield exactly one
// winner and one conflict), and an exclusive flock on the lock file
// serializes state transitions issued by concurrent invocations.
package state
