package oplog

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/oplog/internal/blob"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/storage"
)

// PrimaryConfig tunes the primary layer.
type PrimaryConfig struct {
	// MaxOperationsBeforeCommit is the buffer size that triggers a commit
	// from Add.
	MaxOperationsBeforeCommit uint64

	// MaxPayloadSize is the largest payload stored inline. Larger payloads
	// go to the blob store.
	MaxPayloadSize int
}

// DefaultPrimaryConfig returns the defaults used when nothing is
// configured.
func DefaultPrimaryConfig() PrimaryConfig {
	return PrimaryConfig{
		MaxOperationsBeforeCommit: 128,
		MaxPayloadSize:            64 * 1024,
	}
}

// PrimaryService stores uncompressed entries in the oplog namespace of an
// IndexedStorage, one stream per worker keyed "component:name".
type PrimaryService struct {
	storage storage.IndexedStorage
	blobs   blob.Store
	config  PrimaryConfig
	open    *OpenOplogs
	tracer  trace.Tracer
}

// NewPrimaryService creates a primary service over st and blobs.
func NewPrimaryService(st storage.IndexedStorage, blobs blob.Store, config PrimaryConfig, opts ...Option) *PrimaryService {
	o := buildOptions(opts)
	return &PrimaryService{
		storage: st,
		blobs:   blobs,
		config:  config,
		open:    NewOpenOplogs(),
		tracer:  o.tracer,
	}
}

func oplogKey(owned model.OwnedWorkerID) string {
	return owned.WorkerID.Key()
}

// Create writes the Create entry at InitialIndex and opens the oplog. It
// panics when the worker already has an oplog.
func (s *PrimaryService) Create(ctx context.Context, owned model.OwnedWorkerID, initial *model.Create, state WorkerState) (Oplog, error) {
	ctx, span := startSpan(ctx, s.tracer, "oplog.primary.create", owned)
	var err error
	defer func() { endSpan(span, err) }()

	if err = s.createInitial(ctx, owned, initial); err != nil {
		return nil, err
	}
	o, err := s.Open(ctx, owned, model.InitialIndex, state)
	return o, err
}

// createInitial writes the Create entry of a new oplog.
func (s *PrimaryService) createInitial(ctx context.Context, owned model.OwnedWorkerID, initial *model.Create) error {
	exists, err := s.storage.Exists(ctx, storage.OplogNamespace(), oplogKey(owned))
	if err != nil {
		return fmt.Errorf("create oplog: %w", err)
	}
	if exists {
		panic(NewAlreadyExistsError(owned))
	}
	data, err := model.EncodeEntry(initial)
	if err != nil {
		return fmt.Errorf("create oplog: %w", err)
	}
	if err := s.storage.Append(ctx, storage.OplogNamespace(), oplogKey(owned), uint64(model.InitialIndex), data); err != nil {
		return fmt.Errorf("create oplog: %w", err)
	}
	slog.Debug("oplog created", "worker", owned.String())
	return nil
}

// Open returns a handle onto the live oplog of owned, sharing it with every
// other caller that has it open.
func (s *PrimaryService) Open(ctx context.Context, owned model.OwnedWorkerID, lastIndex model.OplogIndex, state WorkerState) (Oplog, error) {
	return s.open.GetOrOpen(ctx, owned, func(ctx context.Context, onClose func()) (Oplog, error) {
		return newPrimaryOplog(ctx, s, owned, lastIndex, onClose)
	})
}

// GetLastIndex returns the last committed index, or NoneIndex when owned has
// no oplog.
func (s *PrimaryService) GetLastIndex(ctx context.Context, owned model.OwnedWorkerID) (model.OplogIndex, error) {
	last, ok, err := s.storage.Last(ctx, storage.OplogNamespace(), oplogKey(owned))
	if err != nil {
		return model.NoneIndex, fmt.Errorf("get last oplog index: %w", err)
	}
	if !ok {
		return model.NoneIndex, nil
	}
	return model.OplogIndex(last.ID), nil
}

func (s *PrimaryService) Delete(ctx context.Context, owned model.OwnedWorkerID) error {
	ctx, span := startSpan(ctx, s.tracer, "oplog.primary.delete", owned)
	err := s.storage.Delete(ctx, storage.OplogNamespace(), oplogKey(owned))
	if err != nil {
		err = fmt.Errorf("delete oplog: %w", err)
	}
	endSpan(span, err)
	return err
}

// Read returns the stored entries in idx..idx+n-1. Dropped indices are
// skipped, so the result may be shorter than n or empty.
func (s *PrimaryService) Read(ctx context.Context, owned model.OwnedWorkerID, idx model.OplogIndex, n uint64) ([]Record, error) {
	if n == 0 {
		return nil, nil
	}
	ctx, span := startSpan(ctx, s.tracer, "oplog.primary.read", owned, spanAttrIndex(idx))
	records, err := s.readRange(ctx, owned, idx, idx.RangeEnd(n))
	endSpan(span, err)
	return records, err
}

// ReadPrefix returns every stored entry up to and including last.
func (s *PrimaryService) ReadPrefix(ctx context.Context, owned model.OwnedWorkerID, last model.OplogIndex) ([]Record, error) {
	return s.readRange(ctx, owned, model.NoneIndex, last)
}

func (s *PrimaryService) readRange(ctx context.Context, owned model.OwnedWorkerID, start, end model.OplogIndex) ([]Record, error) {
	stored, err := s.storage.Read(ctx, storage.OplogNamespace(), oplogKey(owned), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("read oplog: %w", err)
	}
	records := make([]Record, 0, len(stored))
	for _, e := range stored {
		entry, err := model.DecodeEntry(e.Value)
		if err != nil {
			return nil, fmt.Errorf("read oplog entry %d: %w", e.ID, err)
		}
		records = append(records, Record{Index: model.OplogIndex(e.ID), Entry: entry})
	}
	return records, nil
}

func (s *PrimaryService) Exists(ctx context.Context, owned model.OwnedWorkerID) (bool, error) {
	ok, err := s.storage.Exists(ctx, storage.OplogNamespace(), oplogKey(owned))
	if err != nil {
		return false, fmt.Errorf("check oplog exists: %w", err)
	}
	return ok, nil
}

// ScanForComponent pages through the workers of component. The layer of the
// cursor is always 0.
func (s *PrimaryService) ScanForComponent(ctx context.Context, env model.EnvironmentID, component model.ComponentID, cursor ScanCursor, count uint64) (ScanCursor, []model.OwnedWorkerID, error) {
	next, ids, err := s.scan(ctx, env, component, cursor.Cursor, count)
	if err != nil {
		return ScanCursor{}, nil, err
	}
	return ScanCursor{Cursor: next}, ids, nil
}

func (s *PrimaryService) scan(ctx context.Context, env model.EnvironmentID, component model.ComponentID, cursor, count uint64) (uint64, []model.OwnedWorkerID, error) {
	next, keys, err := s.storage.Scan(ctx, storage.OplogNamespace(), model.ComponentKeyPattern(component), cursor, count)
	if err != nil {
		return 0, nil, fmt.Errorf("scan oplogs of %s: %w", component, err)
	}
	ids := make([]model.OwnedWorkerID, 0, len(keys))
	for _, key := range keys {
		worker, err := model.WorkerIDFromKey(component, key)
		if err != nil {
			return 0, nil, fmt.Errorf("scan oplogs of %s: %w", component, err)
		}
		ids = append(ids, model.NewOwnedWorkerID(env, worker))
	}
	return next, ids, nil
}

// UploadPayload keeps payloads up to MaxPayloadSize inline and writes larger
// ones to the blob store under a fresh id.
func (s *PrimaryService) UploadPayload(ctx context.Context, owned model.OwnedWorkerID, data []byte) (model.OplogPayload, error) {
	if len(data) <= s.config.MaxPayloadSize {
		return model.InlinePayload(data), nil
	}
	sum := md5.Sum(data)
	payload := model.ExternalPayload(uuid.New(), sum[:])
	if err := s.blobs.Put(ctx, blob.PayloadNamespace(owned.ComponentID()), payload.BlobPath(), data); err != nil {
		return model.OplogPayload{}, fmt.Errorf("upload payload: %w", err)
	}
	return payload, nil
}

// DownloadPayload resolves a payload reference. A missing blob is reported as
// ErrCodePayloadNotFound.
func (s *PrimaryService) DownloadPayload(ctx context.Context, owned model.OwnedWorkerID, payload model.OplogPayload) ([]byte, error) {
	if payload.IsInline() {
		return payload.Data, nil
	}
	data, ok, err := s.blobs.Get(ctx, blob.PayloadNamespace(owned.ComponentID()), payload.BlobPath())
	if err != nil {
		return nil, fmt.Errorf("download payload: %w", err)
	}
	if !ok {
		return nil, &Error{
			Code:    ErrCodePayloadNotFound,
			Message: fmt.Sprintf("payload %s not found", payload.PayloadID),
			Worker:  owned.String(),
		}
	}
	if sum := md5.Sum(data); !bytes.Equal(sum[:], payload.MD5Hash) {
		return nil, &Error{
			Code:    ErrCodePayloadCorrupt,
			Message: fmt.Sprintf("payload %s does not match its hash", payload.PayloadID),
			Worker:  owned.String(),
		}
	}
	return data, nil
}

// PrimaryOplog buffers entries and appends them to the primary stream.
type PrimaryOplog struct {
	svc     *PrimaryService
	owned   model.OwnedWorkerID
	key     string
	onClose func()
	once    sync.Once

	mu               sync.Mutex
	buffer           []model.Entry
	lastOplogIdx     model.OplogIndex
	lastCommittedIdx model.OplogIndex
	lastNonHint      model.OplogIndex
}

func newPrimaryOplog(ctx context.Context, svc *PrimaryService, owned model.OwnedWorkerID, lastIndex model.OplogIndex, onClose func()) (*PrimaryOplog, error) {
	o := &PrimaryOplog{
		svc:              svc,
		owned:            owned,
		key:              oplogKey(owned),
		onClose:          onClose,
		lastOplogIdx:     lastIndex,
		lastCommittedIdx: lastIndex,
	}
	slog.Debug("oplog opened", "worker", owned.String(), "last_index", uint64(lastIndex))
	return o, nil
}

// Add buffers entry and commits once MaxOperationsBeforeCommit entries are
// buffered.
func (o *PrimaryOplog) Add(ctx context.Context, entry model.Entry) (model.OplogIndex, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.buffer = append(o.buffer, entry)
	o.lastOplogIdx = o.lastOplogIdx.Next()
	idx := o.lastOplogIdx
	if !model.IsHint(entry) {
		o.lastNonHint = idx
	}
	if uint64(len(o.buffer)) >= o.svc.config.MaxOperationsBeforeCommit {
		if _, err := o.commitLocked(ctx); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// Commit writes every buffered entry. The primary layer is durable, so every
// level commits.
func (o *PrimaryOplog) Commit(ctx context.Context, level CommitLevel) ([]Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.commitLocked(ctx)
}

func (o *PrimaryOplog) commitLocked(ctx context.Context) ([]Record, error) {
	if len(o.buffer) == 0 {
		return nil, nil
	}
	committed := make([]Record, 0, len(o.buffer))
	for len(o.buffer) > 0 {
		entry := o.buffer[0]
		idx := o.lastCommittedIdx.Next()
		data, err := model.EncodeEntry(entry)
		if err != nil {
			return committed, fmt.Errorf("commit oplog entry %d: %w", idx, err)
		}
		if err := o.svc.storage.Append(ctx, storage.OplogNamespace(), o.key, uint64(idx), data); err != nil {
			return committed, fmt.Errorf("commit oplog entry %d: %w", idx, err)
		}
		o.buffer[0] = nil
		o.buffer = o.buffer[1:]
		o.lastCommittedIdx = idx
		committed = append(committed, Record{Index: idx, Entry: entry})
	}
	o.buffer = nil
	slog.Debug("oplog committed", "worker", o.owned.String(), "entries", len(committed), "last_index", uint64(o.lastCommittedIdx))
	return committed, nil
}

func (o *PrimaryOplog) CurrentOplogIndex(ctx context.Context) model.OplogIndex {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOplogIdx
}

// LastCommittedIndex is the last index written to storage.
func (o *PrimaryOplog) LastCommittedIndex() model.OplogIndex {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCommittedIdx
}

func (o *PrimaryOplog) LastAddedNonHintEntry(ctx context.Context) (model.OplogIndex, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastNonHint, !o.lastNonHint.IsNone()
}

// WaitForReplicas commits, then waits for at most the number of replicas the
// storage has.
func (o *PrimaryOplog) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) bool {
	if _, err := o.Commit(ctx, CommitAlways); err != nil {
		slog.Warn("commit before waiting for replicas failed", "worker", o.owned.String(), "error", err)
		return false
	}
	replicas = min(replicas, o.svc.storage.NumberOfReplicas())
	got, err := o.svc.storage.WaitForReplicas(ctx, replicas, timeout)
	if err != nil {
		slog.Warn("waiting for replicas failed", "worker", o.owned.String(), "error", err)
		return false
	}
	return got >= replicas
}

// Read returns a committed entry and panics with ErrCodeEntryMissing when idx
// is not stored.
func (o *PrimaryOplog) Read(ctx context.Context, idx model.OplogIndex) (model.Entry, error) {
	records, err := o.svc.readRange(ctx, o.owned, idx, idx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		panic(NewEntryMissingError(o.owned, idx))
	}
	return records[0].Entry, nil
}

// Length counts the stored entries, not the buffered ones.
func (o *PrimaryOplog) Length(ctx context.Context) (uint64, error) {
	n, err := o.svc.storage.Length(ctx, storage.OplogNamespace(), o.key)
	if err != nil {
		return 0, fmt.Errorf("oplog length: %w", err)
	}
	return n, nil
}

// DropPrefix removes stored entries up to and including last and returns how
// many went.
func (o *PrimaryOplog) DropPrefix(ctx context.Context, last model.OplogIndex) (uint64, error) {
	before, err := o.Length(ctx)
	if err != nil {
		return 0, err
	}
	if err := o.svc.storage.DropPrefix(ctx, storage.OplogNamespace(), o.key, uint64(last)); err != nil {
		return 0, fmt.Errorf("drop oplog prefix: %w", err)
	}
	after, err := o.Length(ctx)
	if err != nil {
		return 0, err
	}
	dropped := before - after
	slog.Debug("oplog prefix dropped", "worker", o.owned.String(), "through", uint64(last), "dropped", dropped)
	return dropped, nil
}

func (o *PrimaryOplog) UploadPayload(ctx context.Context, data []byte) (model.OplogPayload, error) {
	return o.svc.UploadPayload(ctx, o.owned, data)
}

func (o *PrimaryOplog) DownloadPayload(ctx context.Context, payload model.OplogPayload) ([]byte, error) {
	return o.svc.DownloadPayload(ctx, o.owned, payload)
}

// Close releases the handle. Buffered entries are not committed.
func (o *PrimaryOplog) Close() error {
	o.once.Do(func() {
		if o.onClose != nil {
			o.onClose()
		}
		slog.Debug("oplog closed", "worker", o.owned.String())
	})
	return nil
}

var _ Service = (*PrimaryService)(nil)
var _ Oplog = (*PrimaryOplog)(nil)

// spanAttrIndex is shared by the service spans that carry an index.
func spanAttrIndex(idx model.OplogIndex) attribute.KeyValue {
	return attribute.Int64("oplog.index", int64(idx))
}
