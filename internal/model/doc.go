// Package model defines the durable vocabulary of a worker oplog.
//
// An oplog is the per-worker, append-only record of every externally
// observable effect a worker performs. Replaying the oplog against the same
// component revision must reconstruct an identical observable state, so the
// entries stored here are the single source of truth for recovery.
//
// # Identity
//
//   - ComponentID and WorkerID identify a worker; OwnedWorkerID scopes it to
//     an environment.
//   - WorkerID.Key() is the storage key of the worker's oplog. Names are NFC
//     normalized so that visually identical names map to one log.
//
// # Positions
//
// OplogIndex is a 1-based sequence number. Index 0 (NoneIndex) means "no
// entry" and doubles as the absent value in optional index fields, so an
// OplogIndex field never needs a pointer.
//
// # Entries
//
// Entry is a closed sum type. Each variant is a pointer to a struct in
// entry.go; exhaustive handling is a type switch. Shape differences between
// variants are intentional: the invariant predicates in invariants.go depend
// on which variants carry a BeginIndex.
//
// # Encoding
//
// Entries are persisted through EncodeEntry/DecodeEntry, a versioned JSON
// envelope carrying the variant kind. Storage backends only ever see the
// encoded bytes.
package model
