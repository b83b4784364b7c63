// Package replay checks that a recorded oplog can be replayed without
// duplicating or losing side effects.
//
// The Verifier walks entries in index order and tracks what a replaying
// executor would: the persistence level, the component revision, open
// atomic regions, remote writes and remote transactions, and the pending
// invocation. Entries that would be illegal at their position are collected
// as violations instead of stopping the walk.
package replay
