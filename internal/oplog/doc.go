// Package oplog implements per-worker operation logs.
//
// An Oplog is the live handle a worker appends to while it runs. Entries are
// buffered in memory and committed to durable storage either explicitly or
// when the buffer reaches its threshold. A Service creates and opens oplogs
// and answers historical queries without a live handle.
//
// LAYERS:
//
// PrimaryService keeps uncompressed entries in an IndexedStorage stream.
// MultiLayerService puts a list of archive layers below it. Every layer
// except the last is wrapped with a counter; once enough entries arrive, a
// background goroutine moves the oldest entries one layer down. Ephemeral
// workers skip the primary for entries and write straight to the last
// archive layer, keeping only their payloads in the primary.
//
//	primary (oplog stream)
//	   | transfer at entry_count_limit
//	   v
//	archive 0 (compressed-oplog:0)
//	   | transfer at entry_count_limit
//	   v
//	archive N (compressed-oplog:N, or blob chunks)
//
// FATAL CONDITIONS:
//
// Creating an oplog for a worker that already has one, and reading a
// committed index that is missing, panic with *Error. Both mean the caller or
// the storage is corrupt, and a partially recovered worker is worse than a
// failed activation. Storage errors are returned and never retried here.
//
// At most one live oplog exists per worker: concurrent Open calls for the
// same worker share one underlying instance through OpenOplogs.
package oplog
