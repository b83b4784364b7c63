package harness

import (
	"context"
	"fmt"

	"github.com/roach88/oplog/internal/blob"
	"github.com/roach88/oplog/internal/compress"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
	"github.com/roach88/oplog/internal/replay"
	"github.com/roach88/oplog/internal/storage/memory"
	"github.com/roach88/oplog/internal/testutil"
)

// readPageSize is the page size used to read the oplog back.
const readPageSize = 100

// Harness executes the steps of one scenario against one live oplog.
type Harness struct {
	svc     oplog.Service
	owned   model.OwnedWorkerID
	entries *testutil.Entries
	log     oplog.Oplog
	result  *Result
}

// Run executes scenario in a fresh in-memory environment and returns the
// result. Failed expectations and assertions are reported in the result;
// the error is reserved for failures of the run itself.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st := memory.New()
	defer st.Close()
	blobs := blob.NewMemory()

	primaryConfig := oplog.DefaultPrimaryConfig()
	layerConfig := oplog.DefaultMultiLayerConfig()
	if n := scenario.MaxOperationsBeforeCommit; n > 0 {
		primaryConfig.MaxOperationsBeforeCommit = n
		layerConfig.MaxOperationsBeforeCommitEphemeral = n
	}
	if n := scenario.EntryCountLimit; n > 0 {
		layerConfig.EntryCountLimit = n
	}

	primary := oplog.NewPrimaryService(st, blobs, primaryConfig)
	var svc oplog.Service = primary
	if scenario.mode() != ModePrimary {
		svc = oplog.NewMultiLayerService(primary, []oplog.ArchiveService{
			oplog.NewIndexedArchiveService(st, 0, compress.Snappy),
			oplog.NewBlobArchiveService(blobs, 1, compress.Zstd),
		}, layerConfig)
	}

	h := &Harness{
		svc:     svc,
		owned:   testutil.Worker(scenario.worker()),
		entries: testutil.NewEntries(),
		result:  NewResult(),
	}

	if err := h.create(ctx, scenario.mode() == ModeEphemeral); err != nil {
		return nil, err
	}
	for i, step := range scenario.Steps {
		if err := h.step(ctx, i, step); err != nil {
			_ = h.log.Close()
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	if err := h.log.Close(); err != nil {
		return nil, fmt.Errorf("close oplog: %w", err)
	}
	h.result.Tracef("close")

	if err := h.verify(ctx, scenario.expectVerified()); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) create(ctx context.Context, ephemeral bool) error {
	initial := h.entries.Create(h.owned)
	log, err := h.svc.Create(ctx, h.owned, initial, oplog.WorkerState{Ephemeral: ephemeral})
	if err != nil {
		return fmt.Errorf("create oplog: %w", err)
	}
	h.log = log
	h.result.Tracef("create %d %s", uint64(model.InitialIndex), initial.Kind())
	return nil
}

func (h *Harness) step(ctx context.Context, i int, step Step) error {
	r := h.result
	switch {
	case step.Add != "":
		entry, err := h.entry(step)
		if err != nil {
			return err
		}
		idx, err := h.log.Add(ctx, entry)
		if err != nil {
			return err
		}
		r.Tracef("add %d %s", uint64(idx), entry.Kind())

	case step.Commit != "":
		level, err := oplog.ParseCommitLevel(step.Commit)
		if err != nil {
			return err
		}
		committed, err := h.log.Commit(ctx, level)
		if err != nil {
			return err
		}
		r.Tracef("commit %s %v", level, indices(committed))

	case step.DropPrefix != nil:
		dropped, err := h.log.DropPrefix(ctx, model.OplogIndex(*step.DropPrefix))
		if err != nil {
			return err
		}
		r.Tracef("drop_prefix %d dropped=%d", *step.DropPrefix, dropped)

	case step.Archive:
		ml, ok := oplog.Underlying(h.log).(*oplog.MultiLayerOplog)
		if !ok {
			return fmt.Errorf("archive: oplog is %T, not multi-layer", oplog.Underlying(h.log))
		}
		more, err := ml.Archive(ctx, true)
		if err != nil {
			return err
		}
		r.Tracef("archive more=%t", more)

	case step.ExpectLength != nil:
		n, err := h.log.Length(ctx)
		if err != nil {
			return err
		}
		r.Tracef("length %d", n)
		if n != *step.ExpectLength {
			r.AddError(fmt.Sprintf("step %d: expected length %d, got %d", i, *step.ExpectLength, n))
		}

	case step.ExpectIndex != nil:
		idx := uint64(h.log.CurrentOplogIndex(ctx))
		r.Tracef("index %d", idx)
		if idx != *step.ExpectIndex {
			r.AddError(fmt.Sprintf("step %d: expected index %d, got %d", i, *step.ExpectIndex, idx))
		}
	}
	return nil
}

// entry builds the entry a step adds.
func (h *Harness) entry(step Step) (model.Entry, error) {
	b := h.entries
	begin := model.OplogIndex(step.Begin)
	switch step.Add {
	case string(model.KindNoOp):
		return b.NoOp(), nil
	case string(model.KindLog):
		return b.Log(step.Message), nil
	case string(model.KindExportedFunctionInvoked):
		return b.ExportedInvoked("run", fmt.Sprintf("key-%d", b.Clock.Count())), nil
	case string(model.KindExportedFunctionCompleted):
		return b.ExportedCompleted(), nil
	case string(model.KindBeginAtomicRegion):
		return b.BeginAtomicRegion(), nil
	case string(model.KindEndAtomicRegion):
		return b.EndAtomicRegion(begin), nil
	case string(model.KindBeginRemoteWrite):
		return b.BeginRemoteWrite(), nil
	case string(model.KindEndRemoteWrite):
		return b.EndRemoteWrite(begin), nil
	case string(model.KindBeginRemoteTransaction):
		return b.BeginTransaction(fmt.Sprintf("tx-%d", b.Clock.Count())), nil
	case string(model.KindPreCommitRemoteTransaction):
		return b.PreCommit(begin), nil
	case string(model.KindCommittedRemoteTransaction):
		return b.Committed(begin), nil
	case string(model.KindRolledBackRemoteTransaction):
		return b.RolledBack(begin), nil
	case string(model.KindChangePersistenceLevel):
		level, err := model.ParsePersistenceLevel(step.Level)
		if err != nil {
			return nil, err
		}
		return b.PersistenceLevel(level), nil
	case string(model.KindSuccessfulUpdate):
		return b.SuccessfulUpdate(model.ComponentRevision(step.Revision)), nil
	case string(model.ReadLocal):
		return b.ReadLocal("read"), nil
	case string(model.WriteLocal):
		return b.ImportedFunction("write", model.WriteLocalFunction()), nil
	case string(model.ReadRemote):
		return b.ImportedFunction("fetch", model.ReadRemoteFunction()), nil
	case string(model.WriteRemote):
		return b.ImportedFunction("send", model.WriteRemoteFunction()), nil
	case string(model.WriteRemoteBatched):
		return b.ImportedFunction("send", model.WriteRemoteBatchedFunction(begin)), nil
	case string(model.WriteRemoteTransaction):
		return b.ImportedFunction("execute", model.WriteRemoteTransactionFunction(begin)), nil
	}
	return nil, fmt.Errorf("unknown entry kind %q", step.Add)
}

// verify reads the committed oplog back and replays it.
func (h *Harness) verify(ctx context.Context, expectVerified bool) error {
	r := h.result
	records, err := oplog.ReadAll(ctx, h.svc, h.owned, readPageSize)
	if err != nil {
		return fmt.Errorf("read oplog back: %w", err)
	}
	r.Records = records
	for _, rec := range records {
		r.Tracef("entry %d %s", uint64(rec.Index), rec.Entry.Kind())
	}

	state, _ := replay.VerifyRecords(h.owned.String(), records)
	r.State = state
	if state.IsConsistent() {
		r.Tracef("verify ok")
	}
	for _, v := range state.Violations {
		r.Tracef("violation %s at %d: %s", v.Code, uint64(v.Index), v.Message)
	}

	switch {
	case expectVerified && !state.IsConsistent():
		r.AddError(fmt.Sprintf("expected a consistent oplog, found %d violation(s)", len(state.Violations)))
	case !expectVerified && state.IsConsistent():
		r.AddError("expected violations, oplog is consistent")
	}
	return nil
}

func indices(records []oplog.Record) []uint64 {
	out := make([]uint64, len(records))
	for i, r := range records {
		out[i] = uint64(r.Index)
	}
	return out
}
