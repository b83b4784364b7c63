package oplog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/oplog/internal/model"
)

// MultiLayerConfig tunes a multilayer service.
type MultiLayerConfig struct {
	// EntryCountLimit is the number of entries a layer accumulates before
	// its oldest entries move down one layer.
	EntryCountLimit uint64

	// MaxOperationsBeforeCommitEphemeral is the buffer threshold of
	// ephemeral oplogs.
	MaxOperationsBeforeCommitEphemeral uint64
}

// DefaultMultiLayerConfig returns the defaults used when nothing is
// configured.
func DefaultMultiLayerConfig() MultiLayerConfig {
	return MultiLayerConfig{
		EntryCountLimit:                    1024,
		MaxOperationsBeforeCommitEphemeral: 512,
	}
}

// MultiLayerService is a primary service with archive layers below it.
type MultiLayerService struct {
	primary *PrimaryService
	lower   []ArchiveService
	config  MultiLayerConfig
	open    *OpenOplogs
	tracer  trace.Tracer
}

// NewMultiLayerService creates a multilayer service. lower is ordered from
// the layer directly below the primary to the deepest one.
func NewMultiLayerService(primary *PrimaryService, lower []ArchiveService, config MultiLayerConfig, opts ...Option) *MultiLayerService {
	o := buildOptions(opts)
	return &MultiLayerService{
		primary: primary,
		lower:   lower,
		config:  config,
		open:    NewOpenOplogs(),
		tracer:  o.tracer,
	}
}

// Primary returns the primary layer.
func (s *MultiLayerService) Primary() *PrimaryService {
	return s.primary
}

// Layers returns the archive layers, top to bottom.
func (s *MultiLayerService) Layers() []ArchiveService {
	return s.lower
}

// Create writes the Create entry to the primary, or to the deepest layer for
// ephemeral workers, and opens the oplog.
func (s *MultiLayerService) Create(ctx context.Context, owned model.OwnedWorkerID, initial *model.Create, state WorkerState) (Oplog, error) {
	ctx, span := startSpan(ctx, s.tracer, "oplog.create", owned, attribute.Bool("oplog.ephemeral", state.Ephemeral))
	var err error
	defer func() { endSpan(span, err) }()

	exists, err := s.Exists(ctx, owned)
	if err != nil {
		return nil, err
	}
	if exists {
		panic(NewAlreadyExistsError(owned))
	}

	if state.Ephemeral {
		o, oerr := s.open.GetOrOpen(ctx, owned, func(ctx context.Context, onClose func()) (Oplog, error) {
			return s.openEphemeral(ctx, owned, model.InitialIndex, initial, state, onClose)
		})
		err = oerr
		return o, err
	}

	if err = s.primary.createInitial(ctx, owned, initial); err != nil {
		return nil, err
	}
	o, err := s.open.GetOrOpen(ctx, owned, func(ctx context.Context, onClose func()) (Oplog, error) {
		return s.openDurable(ctx, owned, model.InitialIndex, state, onClose)
	})
	return o, err
}

// Open opens a durable oplog, or an ephemeral one when state says so.
func (s *MultiLayerService) Open(ctx context.Context, owned model.OwnedWorkerID, lastIndex model.OplogIndex, state WorkerState) (Oplog, error) {
	ctx, span := startSpan(ctx, s.tracer, "oplog.open", owned, spanAttrIndex(lastIndex), attribute.Bool("oplog.ephemeral", state.Ephemeral))
	o, err := s.open.GetOrOpen(ctx, owned, func(ctx context.Context, onClose func()) (Oplog, error) {
		if state.Ephemeral {
			return s.openEphemeral(ctx, owned, lastIndex, nil, state, onClose)
		}
		return s.openDurable(ctx, owned, lastIndex, state, onClose)
	})
	endSpan(span, err)
	return o, err
}

// openEphemeral builds an EphemeralOplog writing to the deepest layer. A
// non-nil initial entry is stored at InitialIndex first.
func (s *MultiLayerService) openEphemeral(ctx context.Context, owned model.OwnedWorkerID, lastIndex model.OplogIndex, initial *model.Create, state WorkerState, onClose func()) (Oplog, error) {
	if len(s.lower) == 0 {
		return nil, fmt.Errorf("open ephemeral oplog %s: no archive layer configured", owned)
	}
	primary, err := s.primary.Open(ctx, owned, lastIndex, state)
	if err != nil {
		return nil, err
	}
	target, err := s.lower[len(s.lower)-1].Open(ctx, owned)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	if initial != nil {
		if err := target.Append(ctx, []Record{{Index: model.InitialIndex, Entry: initial}}); err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("create ephemeral oplog %s: %w", owned, err)
		}
	}
	return NewEphemeralOplog(owned, lastIndex, s.config.MaxOperationsBeforeCommitEphemeral, primary, target, onClose), nil
}

func (s *MultiLayerService) openDurable(ctx context.Context, owned model.OwnedWorkerID, lastIndex model.OplogIndex, state WorkerState, onClose func()) (Oplog, error) {
	primary, err := s.primary.Open(ctx, owned, lastIndex, state)
	if err != nil {
		return nil, err
	}
	o, err := newMultiLayerOplog(ctx, s, owned, primary, onClose)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	return o, nil
}

// GetLastIndex returns the last index of the primary layer, or of the first
// archive layer that has one.
func (s *MultiLayerService) GetLastIndex(ctx context.Context, owned model.OwnedWorkerID) (model.OplogIndex, error) {
	idx, err := s.primary.GetLastIndex(ctx, owned)
	if err != nil || !idx.IsNone() {
		return idx, err
	}
	for _, layer := range s.lower {
		idx, err := layer.GetLastIndex(ctx, owned)
		if err != nil || !idx.IsNone() {
			return idx, err
		}
	}
	return model.NoneIndex, nil
}

// Delete removes owned from every layer.
func (s *MultiLayerService) Delete(ctx context.Context, owned model.OwnedWorkerID) error {
	if err := s.primary.Delete(ctx, owned); err != nil {
		return err
	}
	for _, layer := range s.lower {
		if err := layer.Delete(ctx, owned); err != nil {
			return err
		}
	}
	return nil
}

// Read merges the layers: the primary holds the newest entries, so lower
// layers are only consulted for the prefix it does not have.
func (s *MultiLayerService) Read(ctx context.Context, owned model.OwnedWorkerID, idx model.OplogIndex, n uint64) ([]Record, error) {
	ctx, span := startSpan(ctx, s.tracer, "oplog.read", owned, spanAttrIndex(idx))
	records, err := s.read(ctx, owned, idx, n)
	endSpan(span, err)
	return records, err
}

func (s *MultiLayerService) read(ctx context.Context, owned model.OwnedWorkerID, idx model.OplogIndex, n uint64) ([]Record, error) {
	last, err := s.GetLastIndex(ctx, owned)
	if err != nil {
		return nil, err
	}
	if last < idx || n == 0 {
		return nil, nil
	}
	remaining := min(uint64(last-idx)+1, n)

	records, err := s.primary.Read(ctx, owned, idx, remaining)
	if err != nil {
		return nil, err
	}
	fullMatch := len(records) > 0 && records[0].Index == idx
	remaining -= min(remaining, uint64(len(records)))

	for _, layer := range s.lower {
		if fullMatch || remaining == 0 {
			break
		}
		partial, err := layer.Read(ctx, owned, idx, remaining)
		if err != nil {
			return nil, err
		}
		remaining -= min(remaining, uint64(len(partial)))
		records = append(records, partial...)
		fullMatch = len(partial) > 0 && partial[0].Index == idx
	}
	return sortRecords(records), nil
}

// Exists reports whether any layer stores owned.
func (s *MultiLayerService) Exists(ctx context.Context, owned model.OwnedWorkerID) (bool, error) {
	ok, err := s.primary.Exists(ctx, owned)
	if err != nil || ok {
		return ok, err
	}
	for _, layer := range s.lower {
		ok, err := layer.Exists(ctx, owned)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// ScanForComponent walks the layers in turn. A worker stored in more than
// one layer is reported by the deepest of them.
func (s *MultiLayerService) ScanForComponent(ctx context.Context, env model.EnvironmentID, component model.ComponentID, cursor ScanCursor, count uint64) (ScanCursor, []model.OwnedWorkerID, error) {
	if cursor.Layer < 0 || cursor.Layer > len(s.lower) {
		return ScanCursor{}, nil, fmt.Errorf("scan oplogs of %s: invalid layer %d", component, cursor.Layer)
	}

	var (
		next uint64
		ids  []model.OwnedWorkerID
		err  error
	)
	if cursor.Layer == 0 {
		next, ids, err = s.primary.scan(ctx, env, component, cursor.Cursor, count)
	} else {
		next, ids, err = s.lower[cursor.Layer-1].ScanForComponent(ctx, env, component, cursor.Cursor, count)
	}
	if err != nil {
		return ScanCursor{}, nil, err
	}

	filtered := ids[:0]
	for _, id := range ids {
		deeper, err := s.existsBelow(ctx, id, cursor.Layer)
		if err != nil {
			return ScanCursor{}, nil, err
		}
		if !deeper {
			filtered = append(filtered, id)
		}
	}

	switch {
	case next != 0:
		return ScanCursor{Cursor: next, Layer: cursor.Layer}, filtered, nil
	case cursor.Layer < len(s.lower):
		return ScanCursor{Cursor: 0, Layer: cursor.Layer + 1}, filtered, nil
	default:
		return ScanCursor{}, filtered, nil
	}
}

// existsBelow reports whether owned is stored in any layer deeper than
// layer.
func (s *MultiLayerService) existsBelow(ctx context.Context, owned model.OwnedWorkerID, layer int) (bool, error) {
	for _, l := range s.lower[layer:] {
		ok, err := l.Exists(ctx, owned)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// UploadPayload always goes through the primary service.
func (s *MultiLayerService) UploadPayload(ctx context.Context, owned model.OwnedWorkerID, data []byte) (model.OplogPayload, error) {
	return s.primary.UploadPayload(ctx, owned, data)
}

func (s *MultiLayerService) DownloadPayload(ctx context.Context, owned model.OwnedWorkerID, payload model.OplogPayload) ([]byte, error) {
	return s.primary.DownloadPayload(ctx, owned, payload)
}

// MultiLayerOplog is the durable oplog of a multilayer service. Entries are
// added and committed through the primary; a background goroutine moves
// committed entries down the archive layers.
type MultiLayerOplog struct {
	svc     *MultiLayerService
	owned   model.OwnedWorkerID
	primary Oplog
	lower   []Archive

	queue    *transferQueue
	finished chan struct{}

	mu                sync.Mutex
	lastOplogIdx      model.OplogIndex
	lastTransferPoint model.OplogIndex

	onClose func()
	once    sync.Once
}

func newMultiLayerOplog(ctx context.Context, svc *MultiLayerService, owned model.OwnedWorkerID, primary Oplog, onClose func()) (*MultiLayerOplog, error) {
	o := &MultiLayerOplog{
		svc:      svc,
		owned:    owned,
		primary:  primary,
		queue:    newTransferQueue(),
		finished: make(chan struct{}),
		onClose:  onClose,
	}

	for i, layerSvc := range svc.lower {
		archive, err := layerSvc.Open(ctx, owned)
		if err != nil {
			o.closeLower()
			return nil, fmt.Errorf("open archive layer %d of %s: %w", i, owned, err)
		}
		if i < len(svc.lower)-1 {
			archive, err = newCountingArchive(ctx, archive, i, svc.config.EntryCountLimit, o.queue)
			if err != nil {
				o.closeLower()
				return nil, fmt.Errorf("open archive layer %d of %s: %w", i, owned, err)
			}
		}
		o.lower = append(o.lower, archive)
	}

	primaryLen, err := primary.Length(ctx)
	if err != nil {
		o.closeLower()
		return nil, err
	}
	o.lastOplogIdx = primary.CurrentOplogIndex(ctx)
	o.lastTransferPoint = o.lastOplogIdx.Subtract(primaryLen)

	go o.run()
	return o, nil
}

// Add buffers entry in the primary.
func (o *MultiLayerOplog) Add(ctx context.Context, entry model.Entry) (model.OplogIndex, error) {
	idx, err := o.primary.Add(ctx, entry)
	o.mu.Lock()
	o.lastOplogIdx = idx
	o.mu.Unlock()
	return idx, err
}

// Commit commits the primary and schedules a transfer to the first archive
// layer once EntryCountLimit entries accumulated since the last one.
func (o *MultiLayerOplog) Commit(ctx context.Context, level CommitLevel) ([]Record, error) {
	committed, err := o.primary.Commit(ctx, level)
	if err != nil || len(o.lower) == 0 {
		return committed, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(committed) > 0 {
		o.lastOplogIdx = max(o.lastOplogIdx, committed[len(committed)-1].Index)
	}
	count := uint64(o.lastOplogIdx.Subtract(uint64(o.lastTransferPoint)))
	if count >= o.svc.config.EntryCountLimit {
		o.queue.Enqueue(transfer{source: fromPrimary, last: o.lastOplogIdx})
		o.lastTransferPoint = o.lastOplogIdx
	}
	return committed, nil
}

func (o *MultiLayerOplog) CurrentOplogIndex(ctx context.Context) model.OplogIndex {
	return o.primary.CurrentOplogIndex(ctx)
}

func (o *MultiLayerOplog) LastAddedNonHintEntry(ctx context.Context) (model.OplogIndex, bool) {
	return o.primary.LastAddedNonHintEntry(ctx)
}

// WaitForReplicas waits on the primary only.
func (o *MultiLayerOplog) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) bool {
	return o.primary.WaitForReplicas(ctx, replicas, timeout)
}

// Read reads idx from whichever layer holds it.
func (o *MultiLayerOplog) Read(ctx context.Context, idx model.OplogIndex) (model.Entry, error) {
	records, err := o.svc.read(ctx, o.owned, idx, 1)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Index == idx {
			return r.Entry, nil
		}
	}
	panic(NewEntryMissingError(o.owned, idx))
}

// Length sums the entries of every layer.
func (o *MultiLayerOplog) Length(ctx context.Context) (uint64, error) {
	total, err := o.primary.Length(ctx)
	if err != nil {
		return 0, err
	}
	for _, layer := range o.lower {
		n, err := layer.Length(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// DropPrefix drops from every layer. Archive layers drop whole chunks, so
// entries sharing a chunk with an index after last survive.
func (o *MultiLayerOplog) DropPrefix(ctx context.Context, last model.OplogIndex) (uint64, error) {
	dropped, err := o.primary.DropPrefix(ctx, last)
	if err != nil {
		return 0, err
	}
	for _, layer := range o.lower {
		n, err := layer.DropPrefix(ctx, last)
		if err != nil {
			return dropped, err
		}
		dropped += n
	}
	return dropped, nil
}

func (o *MultiLayerOplog) UploadPayload(ctx context.Context, data []byte) (model.OplogPayload, error) {
	return o.primary.UploadPayload(ctx, data)
}

func (o *MultiLayerOplog) DownloadPayload(ctx context.Context, payload model.OplogPayload) ([]byte, error) {
	return o.primary.DownloadPayload(ctx, payload)
}

// Archive moves one layer down on demand: the whole primary if it has
// entries, otherwise the first non-empty archive layer above the deepest.
// It reports whether a further call could move more. With blocking set it
// waits for the transfer to finish.
func (o *MultiLayerOplog) Archive(ctx context.Context, blocking bool) (bool, error) {
	if len(o.lower) == 0 {
		return false, nil
	}
	if _, err := o.Commit(ctx, CommitAlways); err != nil {
		return false, err
	}

	primaryLen, err := o.primary.Length(ctx)
	if err != nil {
		return false, err
	}

	var (
		t    transfer
		more bool
	)
	switch {
	case primaryLen > 0:
		o.mu.Lock()
		t = transfer{source: fromPrimary, last: o.lastOplogIdx}
		o.lastTransferPoint = o.lastOplogIdx
		o.mu.Unlock()
		more = len(o.lower) > 1
	default:
		found := false
		for i := 0; i < len(o.lower)-1; i++ {
			n, err := o.lower[i].Length(ctx)
			if err != nil {
				return false, err
			}
			if n == 0 {
				continue
			}
			last, err := o.lower[i].CurrentOplogIndex(ctx)
			if err != nil {
				return false, err
			}
			t = transfer{source: i, last: last}
			more = i < len(o.lower)-2
			found = true
			break
		}
		if !found {
			return false, nil
		}
	}

	if blocking {
		t.done = make(chan struct{})
	}
	o.queue.Enqueue(t)
	if blocking {
		select {
		case <-t.done:
		case <-ctx.Done():
			return more, ctx.Err()
		}
	}
	return more, nil
}

// Close waits for queued transfers, then releases the layers.
func (o *MultiLayerOplog) Close() error {
	var err error
	o.once.Do(func() {
		defer func() {
			if o.onClose != nil {
				o.onClose()
			}
		}()
		o.queue.Enqueue(transfer{stop: true})
		<-o.finished
		o.closeLower()
		err = o.primary.Close()
	})
	return err
}

func (o *MultiLayerOplog) closeLower() {
	for _, layer := range o.lower {
		if err := layer.Close(); err != nil {
			slog.Warn("closing archive layer failed", "worker", o.owned.String(), "error", err)
		}
	}
}

// run processes transfers until a stop request arrives and the queue is
// drained. Transfers run detached from any caller context.
func (o *MultiLayerOplog) run() {
	defer close(o.finished)

	ctx := context.Background()
	stopping := false
	for {
		t := o.queue.Dequeue()
		if t.stop {
			stopping = true
		} else {
			o.transfer(ctx, t)
		}
		if t.done != nil {
			close(t.done)
		}
		if stopping && o.queue.Len() == 0 {
			return
		}
	}
}

// transfer copies the prefix of the source layer into the next layer and
// then drops it from the source. Storage failures here leave the layers
// inconsistent, so they panic.
func (o *MultiLayerOplog) transfer(ctx context.Context, t transfer) {
	var (
		records []Record
		err     error
		target  Archive
	)
	if t.source == fromPrimary {
		records, err = o.svc.primary.ReadPrefix(ctx, o.owned, t.last)
		target = o.lower[0]
	} else {
		records, err = o.lower[t.source].ReadPrefix(ctx, t.last)
		target = o.lower[t.source+1]
	}
	if err != nil {
		panic(fmt.Errorf("oplog transfer from layer %d of %s: %w", t.source, o.owned, err))
	}
	if len(records) == 0 {
		slog.Warn("no entries to transfer", "worker", o.owned.String(), "source", t.source, "through", uint64(t.last))
		return
	}

	if err := target.Append(ctx, records); err != nil {
		panic(fmt.Errorf("oplog transfer from layer %d of %s: %w", t.source, o.owned, err))
	}
	if t.source == fromPrimary {
		_, err = o.primary.DropPrefix(ctx, t.last)
	} else {
		_, err = o.lower[t.source].DropPrefix(ctx, t.last)
	}
	if err != nil {
		panic(fmt.Errorf("oplog transfer from layer %d of %s: %w", t.source, o.owned, err))
	}
	slog.Debug("oplog entries transferred", "worker", o.owned.String(), "source", t.source, "entries", len(records), "through", uint64(t.last))
}

// countingArchive counts entries appended to an archive layer and schedules
// a transfer to the next layer once the count reaches limit.
type countingArchive struct {
	Archive
	layer int
	limit uint64
	queue *transferQueue

	mu    sync.Mutex
	count uint64
}

func newCountingArchive(ctx context.Context, archive Archive, layer int, limit uint64, queue *transferQueue) (*countingArchive, error) {
	n, err := archive.Length(ctx)
	if err != nil {
		return nil, err
	}
	return &countingArchive{Archive: archive, layer: layer, limit: limit, queue: queue, count: n}, nil
}

func (a *countingArchive) Append(ctx context.Context, records []Record) error {
	if err := a.Archive.Append(ctx, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.count += uint64(len(records))
	if a.count >= a.limit {
		a.queue.Enqueue(transfer{source: a.layer, last: records[len(records)-1].Index})
		a.count = 0
	}
	return nil
}

func (a *countingArchive) DropPrefix(ctx context.Context, last model.OplogIndex) (uint64, error) {
	dropped, err := a.Archive.DropPrefix(ctx, last)
	if err != nil {
		return 0, err
	}
	n, err := a.Archive.Length(ctx)
	if err != nil {
		return dropped, err
	}
	a.mu.Lock()
	a.count = min(a.count, n)
	a.mu.Unlock()
	return dropped, nil
}

var _ Service = (*MultiLayerService)(nil)
var _ Oplog = (*MultiLayerOplog)(nil)
