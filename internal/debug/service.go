package debug

import (
	"context"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
)

// OplogService wraps a live service with debug-session semantics:
// GetLastIndex honors the session pin, Read advances the session cursor and
// applies playback overrides, and nothing is ever created or uploaded.
type OplogService struct {
	inner    oplog.Service
	sessions *Sessions
}

var _ oplog.Service = (*OplogService)(nil)

// NewOplogService decorates inner.
func NewOplogService(inner oplog.Service, sessions *Sessions) *OplogService {
	return &OplogService{inner: inner, sessions: sessions}
}

// Create always panics: a debugging service never originates workers.
func (s *OplogService) Create(ctx context.Context, owned model.OwnedWorkerID, initial *model.Create, state oplog.WorkerState) (oplog.Oplog, error) {
	panic(oplog.NewCreateNotAllowedError(owned, "debugging service cannot create workers"))
}

func (s *OplogService) Open(ctx context.Context, owned model.OwnedWorkerID, lastIndex model.OplogIndex, state oplog.WorkerState) (oplog.Oplog, error) {
	return s.inner.Open(ctx, owned, lastIndex, state)
}

// GetLastIndex returns the session target when one is set.
func (s *OplogService) GetLastIndex(ctx context.Context, owned model.OwnedWorkerID) (model.OplogIndex, error) {
	if data, ok := s.sessions.Get(NewSessionID(owned)); ok && !data.TargetOplogIndex.IsNone() {
		return data.TargetOplogIndex, nil
	}
	return s.inner.GetLastIndex(ctx, owned)
}

func (s *OplogService) Delete(ctx context.Context, owned model.OwnedWorkerID) error {
	return s.inner.Delete(ctx, owned)
}

// Read moves the session cursor to idx, then reads from the live service and
// substitutes overridden entries.
func (s *OplogService) Read(ctx context.Context, owned model.OwnedWorkerID, idx model.OplogIndex, n uint64) ([]oplog.Record, error) {
	data, ok := s.sessions.UpdateOplogIndex(NewSessionID(owned), idx)

	records, err := s.inner.Read(ctx, owned, idx, n)
	if err != nil {
		return nil, err
	}
	if !ok || len(data.PlaybackOverrides) == 0 {
		return records, nil
	}
	out := make([]oplog.Record, len(records))
	for i, r := range records {
		if e, found := data.PlaybackOverrides[r.Index]; found {
			r.Entry = e
		}
		out[i] = r
	}
	return out, nil
}

func (s *OplogService) Exists(ctx context.Context, owned model.OwnedWorkerID) (bool, error) {
	return s.inner.Exists(ctx, owned)
}

func (s *OplogService) ScanForComponent(ctx context.Context, env model.EnvironmentID, component model.ComponentID, cursor oplog.ScanCursor, count uint64) (oplog.ScanCursor, []model.OwnedWorkerID, error) {
	return s.inner.ScanForComponent(ctx, env, component, cursor, count)
}

// UploadPayload never persists; the payload is always inline.
func (s *OplogService) UploadPayload(ctx context.Context, owned model.OwnedWorkerID, data []byte) (model.OplogPayload, error) {
	return model.InlinePayload(append([]byte(nil), data...)), nil
}

func (s *OplogService) DownloadPayload(ctx context.Context, owned model.OwnedWorkerID, payload model.OplogPayload) ([]byte, error) {
	return s.inner.DownloadPayload(ctx, owned, payload)
}
