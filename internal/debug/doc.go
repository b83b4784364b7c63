// Package debug provides time-travel inspection of worker oplogs.
//
// A debug session pins a worker's replay to a chosen historical index
// without touching the live log. The pieces are layered:
//
//	Server (JSON-RPC over WebSocket)
//	  -> Debugger (connect, playback, rewind, fork)
//	       -> OplogService (session-aware overlay)
//	            -> oplog.Service (live)
//
// Sessions are keyed by worker id and guarded by their own lock, so cursor
// updates never wait on live commits.
package debug
