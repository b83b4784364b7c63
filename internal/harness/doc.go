// Package harness runs scripted oplog scenarios.
//
// A scenario is a YAML file naming a service mode (primary, multilayer or
// ephemeral) and a list of steps. Each step adds one entry, commits, drops
// a prefix, archives one layer down or checks the length or current index
// of the live oplog. After the last step the oplog is closed, read back
// through the service and replayed with the verifier from package replay.
//
// Every run uses fresh in-memory storage and a deterministic clock, so the
// trace of a scenario is stable and can be compared against a golden file:
//
//	go test ./internal/harness -update
//
// regenerates testdata/golden.
package harness
