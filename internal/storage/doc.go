// Package storage defines IndexedStorage, the ordered stream store under
// every oplog layer.
//
// A stream is addressed by (Namespace, key) and holds (id, value) pairs in
// ascending id order. Ids are assigned by the caller and may skip, but an
// append can never overwrite or go backwards.
//
// # Backends
//
//   - memory: process-local maps, for tests and ephemeral deployments
//   - sqlite: a single table keyed by (namespace, key, id)
//   - pebble: an ordered LSM keyspace with big-endian ids
//
// # Scanning
//
// Scan enumerates the keys of a namespace matching a pattern. The only
// wildcard is a trailing '*'; any other pattern matches one key exactly.
// Cursors are opaque; a returned cursor of 0 means the scan is complete.
//
// The storagetest package holds a conformance suite every backend runs.
package storage
