package debug

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
	"github.com/roach88/oplog/internal/replay"
)

// forkPageSize is the read page size used when copying an oplog.
const forkPageSize = 256

// PlaybackOverride replaces the entry at Index during playback.
type PlaybackOverride struct {
	Index model.OplogIndex
	Entry model.Entry
}

type ConnectResult struct {
	WorkerID string `json:"worker_id"`
	Message  string `json:"message"`
}

type PlaybackResult struct {
	WorkerID            string           `json:"worker_id"`
	CurrentIndex        model.OplogIndex `json:"current_index"`
	IncrementalPlayback bool             `json:"incremental_playback"`
	Message             string           `json:"message"`
}

type RewindResult struct {
	WorkerID     string           `json:"worker_id"`
	CurrentIndex model.OplogIndex `json:"current_index"`
	Message      string           `json:"message"`
}

type ForkResult struct {
	SourceWorkerID string `json:"source_worker_id"`
	TargetWorkerID string `json:"target_worker_id"`
	Message        string `json:"message"`
}

// Debugger drives replays of live oplogs through debug sessions. Each
// session replays entry by entry through the overlay service, so the
// session cursor always names the last entry the replay observed.
type Debugger struct {
	inner    oplog.Service
	overlay  *OplogService
	sessions *Sessions

	mu        sync.Mutex
	verifiers map[SessionID]*replay.Verifier
}

// NewDebugger creates a debugger over the live service inner.
func NewDebugger(inner oplog.Service, sessions *Sessions) *Debugger {
	return &Debugger{
		inner:     inner,
		overlay:   NewOplogService(inner, sessions),
		sessions:  sessions,
		verifiers: make(map[SessionID]*replay.Verifier),
	}
}

// Service returns the session-aware overlay.
func (d *Debugger) Service() *OplogService {
	return d.overlay
}

// Connect opens a debug session for an existing worker.
func (d *Debugger) Connect(ctx context.Context, owned model.OwnedWorkerID) (ConnectResult, error) {
	worker := owned.WorkerID.String()
	id := NewSessionID(owned)
	if _, ok := d.sessions.Get(id); ok {
		return ConnectResult{}, conflictError(worker, "worker is already being debugged")
	}

	exists, err := d.inner.Exists(ctx, owned)
	if err != nil {
		return ConnectResult{}, internalError(worker, "check worker: %v", err)
	}
	if !exists {
		return ConnectResult{}, internalError(worker, "worker does not exist")
	}

	metadata, err := d.metadata(ctx, owned)
	if err != nil {
		return ConnectResult{}, internalError(worker, "read worker metadata: %v", err)
	}

	d.sessions.Insert(id, SessionData{Metadata: metadata})
	d.resetVerifier(id, worker)

	slog.Info("debug session connected", "worker", worker)
	return ConnectResult{
		WorkerID: worker,
		Message:  fmt.Sprintf("worker %s connected to environment %s", worker, owned.EnvironmentID),
	}, nil
}

// metadata reconstructs worker metadata from the Create entry. A compacted
// oplog yields metadata without creation details.
func (d *Debugger) metadata(ctx context.Context, owned model.OwnedWorkerID) (model.WorkerMetadata, error) {
	last, err := d.inner.GetLastIndex(ctx, owned)
	if err != nil {
		return model.WorkerMetadata{}, err
	}
	metadata := model.WorkerMetadata{
		WorkerID:        owned.WorkerID,
		EnvironmentID:   owned.EnvironmentID,
		LastKnownStatus: model.WorkerStatusRecord{Status: model.StatusIdle, OplogIndex: last},
	}

	records, err := d.inner.Read(ctx, owned, model.InitialIndex, 1)
	if err != nil {
		return model.WorkerMetadata{}, err
	}
	if len(records) == 1 {
		if create, ok := records[0].Entry.(*model.Create); ok {
			metadata.Args = create.Args
			metadata.Env = create.Env
			metadata.ComponentRevision = create.ComponentRevision
			metadata.CreatedAt = create.At()
			metadata.Parent = create.Parent
			metadata.LastKnownStatus.ComponentRevision = create.ComponentRevision
		}
	}
	return metadata, nil
}

// Playback replays forward to target. With ensureBoundary the target moves
// forward to the next completed invocation. Overrides must name indices after
// the current one.
func (d *Debugger) Playback(ctx context.Context, owned model.OwnedWorkerID, target model.OplogIndex, overrides []PlaybackOverride, ensureBoundary bool) (PlaybackResult, error) {
	worker := owned.WorkerID.String()
	if target.IsNone() {
		return PlaybackResult{}, validationError(worker, fmt.Sprintf("invalid playback target %d", target))
	}
	id := NewSessionID(owned)
	session, ok := d.sessions.Get(id)
	if !ok {
		return PlaybackResult{}, internalError(worker, "no debug session found")
	}
	current := session.CurrentOplogIndex
	slog.Debug("playback", "worker", worker, "from", current, "target", target)

	newTarget := target
	if ensureBoundary {
		last, err := d.inner.GetLastIndex(ctx, owned)
		if err != nil {
			return PlaybackResult{}, internalError(worker, "get last index: %v", err)
		}
		newTarget, err = InvocationBoundary(ctx, d.inner, owned, target, last)
		if err != nil {
			return PlaybackResult{}, internalError(worker, "%v", err)
		}
	}
	if newTarget < current {
		return PlaybackResult{}, internalError(worker,
			"playback target %d is before the current index %d, use rewind instead", newTarget, current)
	}

	var validated Overrides
	if overrides != nil {
		var err error
		validated, err = validateOverrides(worker, current, overrides)
		if err != nil {
			return PlaybackResult{}, err
		}
	}
	d.sessions.Update(id, newTarget, validated)

	incremental := !current.IsNone()
	if err := d.replay(ctx, owned, current.Next()); err != nil {
		return PlaybackResult{}, err
	}

	stopped := d.currentIndex(id)
	return PlaybackResult{
		WorkerID:            worker,
		CurrentIndex:        stopped,
		IncrementalPlayback: incremental,
		Message:             fmt.Sprintf("playback of worker %s stopped at index %d", worker, stopped),
	}, nil
}

func validateOverrides(worker string, current model.OplogIndex, overrides []PlaybackOverride) (Overrides, error) {
	validated := make(Overrides, len(overrides))
	for _, o := range overrides {
		if o.Index <= current {
			return nil, validationError(worker, fmt.Sprintf("cannot override index %d at or before the current index %d", o.Index, current))
		}
		if o.Entry == nil {
			return nil, validationError(worker, fmt.Sprintf("override for index %d has no entry", o.Index))
		}
		validated[o.Index] = o.Entry
	}
	return validated, nil
}

// Rewind restarts the replay from the beginning and stops at target, which
// must be before the current index.
func (d *Debugger) Rewind(ctx context.Context, owned model.OwnedWorkerID, target model.OplogIndex, ensureBoundary bool) (RewindResult, error) {
	worker := owned.WorkerID.String()
	if target.IsNone() {
		return RewindResult{}, validationError(worker, fmt.Sprintf("invalid rewind target %d", target))
	}
	slog.Info("rewinding worker", "worker", worker, "target", target)

	id := NewSessionID(owned)
	session, ok := d.sessions.Get(id)
	if !ok {
		return RewindResult{}, internalError(worker, "no debug session found")
	}
	current := session.CurrentOplogIndex

	newTarget := target
	if ensureBoundary {
		var err error
		newTarget, err = InvocationBoundary(ctx, d.inner, owned, target, current)
		if err != nil {
			return RewindResult{}, internalError(worker, "%v", err)
		}
	}
	if newTarget >= current {
		return RewindResult{}, validationError(worker,
			fmt.Sprintf("rewind target %d is not before the current index %d", newTarget, current))
	}

	d.sessions.Update(id, newTarget, nil)
	d.sessions.UpdateOplogIndex(id, model.NoneIndex)
	d.resetVerifier(id, worker)

	if err := d.replay(ctx, owned, model.InitialIndex); err != nil {
		return RewindResult{}, err
	}
	stopped := d.currentIndex(id)
	return RewindResult{
		WorkerID:     worker,
		CurrentIndex: stopped,
		Message:      fmt.Sprintf("rewound worker %s to index %d", worker, stopped),
	}, nil
}

// Fork copies the oplog of source up to and including upTo into a new
// worker of the same environment.
func (d *Debugger) Fork(ctx context.Context, source model.OwnedWorkerID, target model.WorkerID, upTo model.OplogIndex) (ForkResult, error) {
	worker := source.WorkerID.String()
	targetOwned := model.NewOwnedWorkerID(source.EnvironmentID, target)
	slog.Info("forking worker", "source", worker, "target", target.String(), "up_to", upTo)

	exists, err := d.inner.Exists(ctx, targetOwned)
	if err != nil {
		return ForkResult{}, internalError(worker, "check target worker: %v", err)
	}
	if exists {
		return ForkResult{}, conflictError(worker, fmt.Sprintf("target worker %s already exists", target))
	}
	last, err := d.inner.GetLastIndex(ctx, source)
	if err != nil {
		return ForkResult{}, internalError(worker, "get last index: %v", err)
	}
	if upTo.IsNone() || upTo > last {
		return ForkResult{}, validationError(worker, fmt.Sprintf("fork cut-off %d is outside 1..%d", upTo, last))
	}

	var records []oplog.Record
	for idx := model.InitialIndex; idx <= upTo; {
		n := min(uint64(upTo-idx)+1, forkPageSize)
		page, err := d.inner.Read(ctx, source, idx, n)
		if err != nil {
			return ForkResult{}, internalError(worker, "read source oplog: %v", err)
		}
		if len(page) == 0 || page[0].Index != idx {
			return ForkResult{}, internalError(worker, "source oplog has no entry at %d", idx)
		}
		records = append(records, page...)
		idx = page[len(page)-1].Index.Next()
	}

	create, ok := records[0].Entry.(*model.Create)
	if !ok {
		return ForkResult{}, internalError(worker, "source oplog does not start with create")
	}
	forked := *create
	forked.WorkerID = target

	o, err := d.inner.Create(ctx, targetOwned, &forked, oplog.WorkerState{})
	if err != nil {
		return ForkResult{}, internalError(worker, "create target oplog: %v", err)
	}
	defer o.Close()

	for _, r := range records[1:] {
		idx, err := o.Add(ctx, r.Entry)
		if err != nil {
			return ForkResult{}, internalError(worker, "copy entry %d: %v", r.Index, err)
		}
		if idx != r.Index {
			return ForkResult{}, internalError(worker, "copied entry %d landed at %d", r.Index, idx)
		}
	}
	if _, err := o.Commit(ctx, oplog.CommitAlways); err != nil {
		return ForkResult{}, internalError(worker, "commit target oplog: %v", err)
	}

	return ForkResult{
		SourceWorkerID: worker,
		TargetWorkerID: target.String(),
		Message:        fmt.Sprintf("forked worker %s to new worker %s", worker, target),
	}, nil
}

// CurrentOplogIndex returns the session cursor.
func (d *Debugger) CurrentOplogIndex(owned model.OwnedWorkerID) (model.OplogIndex, error) {
	session, ok := d.sessions.Get(NewSessionID(owned))
	if !ok {
		return model.NoneIndex, internalError(owned.WorkerID.String(), "no debug session found")
	}
	return session.CurrentOplogIndex, nil
}

// Terminate ends the debug session of owned.
func (d *Debugger) Terminate(owned model.OwnedWorkerID) error {
	id := NewSessionID(owned)
	if _, ok := d.sessions.Remove(id); !ok {
		return internalError(owned.WorkerID.String(), "no debug session found")
	}
	d.mu.Lock()
	delete(d.verifiers, id)
	d.mu.Unlock()
	slog.Info("debug session terminated", "worker", owned.WorkerID.String())
	return nil
}

// replay reads one entry at a time through the overlay from from up to the
// pinned last index, checking each entry as a replaying executor would.
func (d *Debugger) replay(ctx context.Context, owned model.OwnedWorkerID, from model.OplogIndex) error {
	worker := owned.WorkerID.String()
	last, err := d.overlay.GetLastIndex(ctx, owned)
	if err != nil {
		return internalError(worker, "get last index: %v", err)
	}
	v := d.verifier(NewSessionID(owned), worker)

	for idx := from; idx <= last; {
		if err := ctx.Err(); err != nil {
			return internalError(worker, "replay interrupted: %v", err)
		}
		records, err := d.overlay.Read(ctx, owned, idx, 1)
		if err != nil {
			return internalError(worker, "read entry %d: %v", idx, err)
		}
		if len(records) == 0 {
			next, err := d.nextStored(ctx, owned, idx, last)
			if err != nil {
				return internalError(worker, "read entry %d: %v", idx, err)
			}
			if next.IsNone() {
				// Past the live end.
				break
			}
			idx = next
			continue
		}
		v.Observe(records[0].Index, records[0].Entry)
		if err := v.Err(); err != nil {
			return internalError(worker, "replay failed: %v", err)
		}
		idx = idx.Next()
	}
	return nil
}

// nextStored returns the first stored index in idx..last, skipping a dropped
// prefix, or NoneIndex when nothing is stored there. It reads the live
// service so the session cursor stays put.
func (d *Debugger) nextStored(ctx context.Context, owned model.OwnedWorkerID, idx, last model.OplogIndex) (model.OplogIndex, error) {
	for idx <= last {
		n := min(uint64(last-idx)+1, forkPageSize)
		page, err := d.inner.Read(ctx, owned, idx, n)
		if err != nil {
			return model.NoneIndex, err
		}
		if len(page) > 0 {
			return page[0].Index, nil
		}
		idx = idx.RangeEnd(n).Next()
	}
	return model.NoneIndex, nil
}

func (d *Debugger) verifier(id SessionID, worker string) *replay.Verifier {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.verifiers[id]
	if !ok {
		v = replay.NewVerifier(worker)
		d.verifiers[id] = v
	}
	return v
}

func (d *Debugger) resetVerifier(id SessionID, worker string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verifiers[id] = replay.NewVerifier(worker)
}

func (d *Debugger) currentIndex(id SessionID) model.OplogIndex {
	if session, ok := d.sessions.Get(id); ok {
		return session.CurrentOplogIndex
	}
	return model.NoneIndex
}

// InvocationBoundary returns the first index at or after target holding an
// ExportedFunctionCompleted, searching no further than last.
func InvocationBoundary(ctx context.Context, svc oplog.Service, owned model.OwnedWorkerID, target, last model.OplogIndex) (model.OplogIndex, error) {
	for idx := target; ; idx = idx.Next() {
		records, err := svc.Read(ctx, owned, idx, 1)
		if err != nil {
			return model.NoneIndex, fmt.Errorf("read entry %d: %w", idx, err)
		}
		if len(records) == 1 && records[0].Index == idx {
			if _, ok := records[0].Entry.(*model.ExportedFunctionCompleted); ok {
				return idx, nil
			}
		}
		if idx >= last {
			return model.NoneIndex, fmt.Errorf(
				"invocation boundary not found: choose an index that is not inside an incomplete invocation (last oplog index %d)", last)
		}
	}
}
