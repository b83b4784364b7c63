package oplog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/oplog/internal/compress"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/storage"
)

// ArchiveService is one lower layer of a multilayer oplog. It stores
// committed entries in compressed chunks.
type ArchiveService interface {
	Open(ctx context.Context, owned model.OwnedWorkerID) (Archive, error)
	Delete(ctx context.Context, owned model.OwnedWorkerID) error

	// Read returns the stored entries with indices in [idx, idx+n-1].
	Read(ctx context.Context, owned model.OwnedWorkerID, idx model.OplogIndex, n uint64) ([]Record, error)

	Exists(ctx context.Context, owned model.OwnedWorkerID) (bool, error)
	ScanForComponent(ctx context.Context, env model.EnvironmentID, component model.ComponentID, cursor, count uint64) (uint64, []model.OwnedWorkerID, error)
	GetLastIndex(ctx context.Context, owned model.OwnedWorkerID) (model.OplogIndex, error)
}

// Archive is an open archive layer of one worker.
type Archive interface {
	// Append stores records, which must be in index order and follow the
	// current last index.
	Append(ctx context.Context, records []Record) error

	// CurrentOplogIndex is the last stored index, or NoneIndex.
	CurrentOplogIndex(ctx context.Context) (model.OplogIndex, error)

	// DropPrefix removes every chunk whose last index is at most last and
	// returns the number of entries removed.
	DropPrefix(ctx context.Context, last model.OplogIndex) (uint64, error)

	// Length is the number of stored entries.
	Length(ctx context.Context) (uint64, error)

	Read(ctx context.Context, idx model.OplogIndex, n uint64) ([]Record, error)

	// ReadPrefix returns the entries of every chunk whose last index is at
	// most last.
	ReadPrefix(ctx context.Context, last model.OplogIndex) ([]Record, error)

	Close() error
}

// IndexedArchiveService keeps one compressed chunk per IndexedStorage entry
// in the compressed-oplog namespace of its level, keyed by the chunk's last
// index. Closest(idx) therefore finds the chunk holding idx.
type IndexedArchiveService struct {
	storage storage.IndexedStorage
	level   int
	codec   compress.Codec
}

// NewIndexedArchiveService creates the archive layer at level.
func NewIndexedArchiveService(st storage.IndexedStorage, level int, codec compress.Codec) *IndexedArchiveService {
	return &IndexedArchiveService{storage: st, level: level, codec: codec}
}

func (s *IndexedArchiveService) namespace() storage.Namespace {
	return storage.CompressedOplogNamespace(s.level)
}

func (s *IndexedArchiveService) Open(ctx context.Context, owned model.OwnedWorkerID) (Archive, error) {
	return &indexedArchive{svc: s, owned: owned, key: oplogKey(owned)}, nil
}

func (s *IndexedArchiveService) Delete(ctx context.Context, owned model.OwnedWorkerID) error {
	if err := s.storage.Delete(ctx, s.namespace(), oplogKey(owned)); err != nil {
		return fmt.Errorf("delete archived oplog: %w", err)
	}
	return nil
}

func (s *IndexedArchiveService) Read(ctx context.Context, owned model.OwnedWorkerID, idx model.OplogIndex, n uint64) ([]Record, error) {
	if n == 0 {
		return nil, nil
	}
	key := oplogKey(owned)
	end := idx.RangeEnd(n)
	var records []Record
	for cur := idx; cur <= end; {
		stored, ok, err := s.storage.Closest(ctx, s.namespace(), key, uint64(cur))
		if err != nil {
			return nil, fmt.Errorf("read archived oplog: %w", err)
		}
		if !ok {
			break
		}
		chunk, err := DecodeChunk(stored.Value)
		if err != nil {
			return nil, fmt.Errorf("read archived oplog chunk %d: %w", stored.ID, err)
		}
		records = append(records, recordsInRange(chunk.Records(), cur, end)...)
		cur = chunk.Last().Next()
	}
	return records, nil
}

func (s *IndexedArchiveService) Exists(ctx context.Context, owned model.OwnedWorkerID) (bool, error) {
	ok, err := s.storage.Exists(ctx, s.namespace(), oplogKey(owned))
	if err != nil {
		return false, fmt.Errorf("check archived oplog exists: %w", err)
	}
	return ok, nil
}

func (s *IndexedArchiveService) ScanForComponent(ctx context.Context, env model.EnvironmentID, component model.ComponentID, cursor, count uint64) (uint64, []model.OwnedWorkerID, error) {
	next, keys, err := s.storage.Scan(ctx, s.namespace(), model.ComponentKeyPattern(component), cursor, count)
	if err != nil {
		return 0, nil, fmt.Errorf("scan archived oplogs of %s: %w", component, err)
	}
	ids := make([]model.OwnedWorkerID, 0, len(keys))
	for _, key := range keys {
		worker, err := model.WorkerIDFromKey(component, key)
		if err != nil {
			return 0, nil, fmt.Errorf("scan archived oplogs of %s: %w", component, err)
		}
		ids = append(ids, model.NewOwnedWorkerID(env, worker))
	}
	return next, ids, nil
}

func (s *IndexedArchiveService) GetLastIndex(ctx context.Context, owned model.OwnedWorkerID) (model.OplogIndex, error) {
	last, ok, err := s.storage.Last(ctx, s.namespace(), oplogKey(owned))
	if err != nil {
		return model.NoneIndex, fmt.Errorf("get last archived index: %w", err)
	}
	if !ok {
		return model.NoneIndex, nil
	}
	return model.OplogIndex(last.ID), nil
}

type indexedArchive struct {
	svc   *IndexedArchiveService
	owned model.OwnedWorkerID
	key   string
}

func (a *indexedArchive) Append(ctx context.Context, records []Record) error {
	for _, chunk := range splitChunks(records, MaxChunkSize) {
		data, err := EncodeChunk(a.svc.codec, chunk)
		if err != nil {
			return err
		}
		if err := a.svc.storage.Append(ctx, a.svc.namespace(), a.key, uint64(chunk.Last()), data); err != nil {
			return fmt.Errorf("append archived chunk %d-%d: %w", chunk.First, chunk.Last(), err)
		}
	}
	slog.Debug("oplog chunks archived", "worker", a.owned.String(), "level", a.svc.level, "entries", len(records))
	return nil
}

func (a *indexedArchive) CurrentOplogIndex(ctx context.Context) (model.OplogIndex, error) {
	return a.svc.GetLastIndex(ctx, a.owned)
}

func (a *indexedArchive) Length(ctx context.Context) (uint64, error) {
	ns := a.svc.namespace()
	first, ok, err := a.svc.storage.First(ctx, ns, a.key)
	if err != nil {
		return 0, fmt.Errorf("archived oplog length: %w", err)
	}
	if !ok {
		return 0, nil
	}
	last, _, err := a.svc.storage.Last(ctx, ns, a.key)
	if err != nil {
		return 0, fmt.Errorf("archived oplog length: %w", err)
	}
	firstIdx, _, _, err := chunkHeader(first.Value)
	if err != nil {
		return 0, fmt.Errorf("archived oplog length: %w", err)
	}
	return last.ID - firstIdx + 1, nil
}

func (a *indexedArchive) DropPrefix(ctx context.Context, last model.OplogIndex) (uint64, error) {
	before, err := a.Length(ctx)
	if err != nil {
		return 0, err
	}
	if err := a.svc.storage.DropPrefix(ctx, a.svc.namespace(), a.key, uint64(last)); err != nil {
		return 0, fmt.Errorf("drop archived oplog prefix: %w", err)
	}
	after, err := a.Length(ctx)
	if err != nil {
		return 0, err
	}
	return before - after, nil
}

func (a *indexedArchive) Read(ctx context.Context, idx model.OplogIndex, n uint64) ([]Record, error) {
	return a.svc.Read(ctx, a.owned, idx, n)
}

func (a *indexedArchive) ReadPrefix(ctx context.Context, last model.OplogIndex) ([]Record, error) {
	stored, err := a.svc.storage.Read(ctx, a.svc.namespace(), a.key, 0, uint64(last))
	if err != nil {
		return nil, fmt.Errorf("read archived oplog prefix: %w", err)
	}
	var records []Record
	for _, e := range stored {
		chunk, err := DecodeChunk(e.Value)
		if err != nil {
			return nil, fmt.Errorf("read archived oplog chunk %d: %w", e.ID, err)
		}
		records = append(records, chunk.Records()...)
	}
	return records, nil
}

func (a *indexedArchive) Close() error { return nil }

var _ ArchiveService = (*IndexedArchiveService)(nil)
