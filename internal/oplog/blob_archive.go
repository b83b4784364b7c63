package oplog

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/oplog/internal/blob"
	"github.com/roach88/oplog/internal/compress"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/storage"
)

// maxCachedChunks bounds the decoded chunks an open blob archive keeps.
const maxCachedChunks = 8

// BlobArchiveService stores each compressed chunk as one blob under
// "<worker name>/<first>-<last>" in the compressed-oplog namespace of the
// worker's component. Indices in names are zero-padded so a directory
// listing is in index order.
type BlobArchiveService struct {
	blobs blob.Store
	level int
	codec compress.Codec
}

// NewBlobArchiveService creates the blob archive layer at level.
func NewBlobArchiveService(blobs blob.Store, level int, codec compress.Codec) *BlobArchiveService {
	return &BlobArchiveService{blobs: blobs, level: level, codec: codec}
}

type chunkRef struct {
	first, last model.OplogIndex
	name        string
}

func (r chunkRef) size() uint64 {
	return uint64(r.last-r.first) + 1
}

func chunkName(first, last model.OplogIndex) string {
	return fmt.Sprintf("%020d-%020d", uint64(first), uint64(last))
}

func parseChunkName(name string) (chunkRef, bool) {
	a, b, ok := strings.Cut(name, "-")
	if !ok {
		return chunkRef{}, false
	}
	first, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return chunkRef{}, false
	}
	last, err := strconv.ParseUint(b, 10, 64)
	if err != nil || last < first {
		return chunkRef{}, false
	}
	return chunkRef{first: model.OplogIndex(first), last: model.OplogIndex(last), name: name}, true
}

func (s *BlobArchiveService) namespace(component model.ComponentID) blob.Namespace {
	return blob.CompressedOplogNamespace(component, s.level)
}

func workerDir(owned model.OwnedWorkerID) string {
	return owned.WorkerID.Key()[len(owned.ComponentID())+1:]
}

func (s *BlobArchiveService) listChunks(ctx context.Context, owned model.OwnedWorkerID) ([]chunkRef, error) {
	names, err := s.blobs.List(ctx, s.namespace(owned.ComponentID()), workerDir(owned))
	if err != nil {
		return nil, fmt.Errorf("list archived chunks: %w", err)
	}
	refs := make([]chunkRef, 0, len(names))
	for _, name := range names {
		ref, ok := parseChunkName(name)
		if !ok {
			slog.Warn("ignoring unexpected blob in oplog archive", "worker", owned.String(), "name", name)
			continue
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].last < refs[j].last })
	return refs, nil
}

func (s *BlobArchiveService) readChunk(ctx context.Context, owned model.OwnedWorkerID, ref chunkRef) (Chunk, error) {
	data, ok, err := s.blobs.Get(ctx, s.namespace(owned.ComponentID()), path.Join(workerDir(owned), ref.name))
	if err != nil {
		return Chunk{}, fmt.Errorf("read archived chunk %s: %w", ref.name, err)
	}
	if !ok {
		return Chunk{}, fmt.Errorf("read archived chunk %s: %w", ref.name, ErrCorruptChunk)
	}
	chunk, err := DecodeChunk(data)
	if err != nil {
		return Chunk{}, fmt.Errorf("read archived chunk %s: %w", ref.name, err)
	}
	return chunk, nil
}

func (s *BlobArchiveService) Open(ctx context.Context, owned model.OwnedWorkerID) (Archive, error) {
	refs, err := s.listChunks(ctx, owned)
	if err != nil {
		return nil, err
	}
	return &blobArchive{svc: s, owned: owned, refs: refs, cache: make(map[string]Chunk)}, nil
}

func (s *BlobArchiveService) Delete(ctx context.Context, owned model.OwnedWorkerID) error {
	if err := s.blobs.DeleteDir(ctx, s.namespace(owned.ComponentID()), workerDir(owned)); err != nil {
		return fmt.Errorf("delete archived oplog: %w", err)
	}
	return nil
}

func (s *BlobArchiveService) Read(ctx context.Context, owned model.OwnedWorkerID, idx model.OplogIndex, n uint64) ([]Record, error) {
	if n == 0 {
		return nil, nil
	}
	refs, err := s.listChunks(ctx, owned)
	if err != nil {
		return nil, err
	}
	return readRefs(refs, idx, idx.RangeEnd(n), func(ref chunkRef) (Chunk, error) {
		return s.readChunk(ctx, owned, ref)
	})
}

func readRefs(refs []chunkRef, start, end model.OplogIndex, load func(chunkRef) (Chunk, error)) ([]Record, error) {
	var records []Record
	for _, ref := range refs {
		if ref.last < start || ref.first > end {
			continue
		}
		chunk, err := load(ref)
		if err != nil {
			return nil, err
		}
		records = append(records, recordsInRange(chunk.Records(), start, end)...)
	}
	return records, nil
}

func (s *BlobArchiveService) Exists(ctx context.Context, owned model.OwnedWorkerID) (bool, error) {
	refs, err := s.listChunks(ctx, owned)
	if err != nil {
		return false, err
	}
	return len(refs) > 0, nil
}

func (s *BlobArchiveService) ScanForComponent(ctx context.Context, env model.EnvironmentID, component model.ComponentID, cursor, count uint64) (uint64, []model.OwnedWorkerID, error) {
	dirs, err := s.blobs.ListDirs(ctx, s.namespace(component))
	if err != nil {
		return 0, nil, fmt.Errorf("scan archived oplogs of %s: %w", component, err)
	}
	next, page := storage.Page(dirs, cursor, count)
	ids := make([]model.OwnedWorkerID, 0, len(page))
	for _, name := range page {
		ids = append(ids, model.NewOwnedWorkerID(env, model.WorkerID{ComponentID: component, WorkerName: name}))
	}
	return next, ids, nil
}

func (s *BlobArchiveService) GetLastIndex(ctx context.Context, owned model.OwnedWorkerID) (model.OplogIndex, error) {
	refs, err := s.listChunks(ctx, owned)
	if err != nil {
		return model.NoneIndex, err
	}
	if len(refs) == 0 {
		return model.NoneIndex, nil
	}
	return refs[len(refs)-1].last, nil
}

// blobArchive keeps the chunk list of one worker in memory along with a
// small cache of decoded chunks.
type blobArchive struct {
	svc   *BlobArchiveService
	owned model.OwnedWorkerID

	mu    sync.Mutex
	refs  []chunkRef
	cache map[string]Chunk
	order []string
}

func (a *blobArchive) load(ctx context.Context, ref chunkRef) (Chunk, error) {
	if c, ok := a.cache[ref.name]; ok {
		return c, nil
	}
	c, err := a.svc.readChunk(ctx, a.owned, ref)
	if err != nil {
		return Chunk{}, err
	}
	if len(a.order) >= maxCachedChunks {
		delete(a.cache, a.order[0])
		a.order = a.order[1:]
	}
	a.cache[ref.name] = c
	a.order = append(a.order, ref.name)
	return c, nil
}

func (a *blobArchive) Append(ctx context.Context, records []Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ns := a.svc.namespace(a.owned.ComponentID())
	for _, chunk := range splitChunks(records, MaxChunkSize) {
		data, err := EncodeChunk(a.svc.codec, chunk)
		if err != nil {
			return err
		}
		ref := chunkRef{first: chunk.First, last: chunk.Last(), name: chunkName(chunk.First, chunk.Last())}
		if err := a.svc.blobs.Put(ctx, ns, path.Join(workerDir(a.owned), ref.name), data); err != nil {
			return fmt.Errorf("append archived chunk %s: %w", ref.name, err)
		}
		a.refs = append(a.refs, ref)
	}
	return nil
}

func (a *blobArchive) CurrentOplogIndex(ctx context.Context) (model.OplogIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.refs) == 0 {
		return model.NoneIndex, nil
	}
	return a.refs[len(a.refs)-1].last, nil
}

func (a *blobArchive) Length(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n uint64
	for _, ref := range a.refs {
		n += ref.size()
	}
	return n, nil
}

func (a *blobArchive) DropPrefix(ctx context.Context, last model.OplogIndex) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		paths   []string
		dropped uint64
		keep    = a.refs[:0]
	)
	for _, ref := range a.refs {
		if ref.last <= last {
			paths = append(paths, path.Join(workerDir(a.owned), ref.name))
			dropped += ref.size()
			delete(a.cache, ref.name)
			continue
		}
		keep = append(keep, ref)
	}
	a.refs = keep
	if len(paths) == 0 {
		return 0, nil
	}

	ns := a.svc.namespace(a.owned.ComponentID())
	if err := a.svc.blobs.DeleteMany(ctx, ns, paths); err != nil {
		return 0, fmt.Errorf("drop archived oplog prefix: %w", err)
	}
	if len(a.refs) == 0 {
		if err := a.svc.blobs.DeleteDir(ctx, ns, workerDir(a.owned)); err != nil {
			return 0, fmt.Errorf("drop archived oplog prefix: %w", err)
		}
	}
	return dropped, nil
}

func (a *blobArchive) Read(ctx context.Context, idx model.OplogIndex, n uint64) ([]Record, error) {
	if n == 0 {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return readRefs(a.refs, idx, idx.RangeEnd(n), func(ref chunkRef) (Chunk, error) {
		return a.load(ctx, ref)
	})
}

func (a *blobArchive) ReadPrefix(ctx context.Context, last model.OplogIndex) ([]Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var records []Record
	for _, ref := range a.refs {
		if ref.last > last {
			break
		}
		chunk, err := a.load(ctx, ref)
		if err != nil {
			return nil, err
		}
		records = append(records, chunk.Records()...)
	}
	return records, nil
}

func (a *blobArchive) Close() error { return nil }

var _ ArchiveService = (*BlobArchiveService)(nil)
