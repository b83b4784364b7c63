package replay

import (
	"context"
	"fmt"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
)

// RegionKind distinguishes the bracketed regions of an oplog.
type RegionKind string

const (
	RegionAtomic      RegionKind = "atomic"
	RegionRemoteWrite RegionKind = "remote-write"
	RegionTransaction RegionKind = "remote-transaction"
)

// Region is a region that has begun and not yet ended.
type Region struct {
	Kind  RegionKind       `json:"kind"`
	Begin model.OplogIndex `json:"begin"`
}

const (
	// ErrCodeUnmatchedRegionEnd indicates an end or pre-commit marker whose
	// region was never opened.
	ErrCodeUnmatchedRegionEnd oplog.ErrorCode = "UNMATCHED_REGION_END"

	// ErrCodeIndexGap indicates consecutive entries whose indices are not
	// consecutive.
	ErrCodeIndexGap oplog.ErrorCode = "OPLOG_INDEX_GAP"
)

// Violation is one entry that a replay could not honor.
type Violation struct {
	Code    oplog.ErrorCode  `json:"code"`
	Index   model.OplogIndex `json:"index"`
	Kind    model.Kind       `json:"kind"`
	Begin   model.OplogIndex `json:"begin,omitempty"`
	Message string           `json:"message"`
}

// ViolationError reports every violation found in one oplog. Each violation
// unwraps to an *oplog.Error, so oplog.IsConcurrentSideEffect works on it.
type ViolationError struct {
	Worker     string
	Violations []Violation
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("replay %s: no violations", e.Worker)
	}
	first := e.Violations[0]
	return fmt.Sprintf("replay %s: %d violation(s), first at index %d: %s: %s",
		e.Worker, len(e.Violations), first.Index, first.Code, first.Message)
}

// Unwrap exposes each violation as an *oplog.Error.
func (e *ViolationError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = &oplog.Error{Code: v.Code, Message: v.Message, Worker: e.Worker, Index: v.Index}
	}
	return errs
}

// State is the replay view of an oplog after a walk.
type State struct {
	Worker            string                  `json:"worker"`
	FirstIndex        model.OplogIndex        `json:"first_index"`
	LastIndex         model.OplogIndex        `json:"last_index"`
	LastNonHintIndex  model.OplogIndex        `json:"last_non_hint_index"`
	Entries           int                     `json:"entries"`
	PersistenceLevel  model.PersistenceLevel  `json:"persistence_level"`
	ComponentRevision model.ComponentRevision `json:"component_revision"`
	OpenRegions       []Region                `json:"open_regions,omitempty"`
	Invocations       int                     `json:"invocations"`
	Completions       int                     `json:"completions"`
	PendingInvocation model.OplogIndex        `json:"pending_invocation,omitempty"`
	Skipped           []model.OplogRegion     `json:"skipped,omitempty"`
	Violations        []Violation             `json:"violations,omitempty"`
}

// IsConsistent reports whether the walk found no violations.
func (s State) IsConsistent() bool {
	return len(s.Violations) == 0
}

// Verifier accumulates State one entry at a time.
type Verifier struct {
	state   State
	started bool
}

// NewVerifier starts a walk of worker's oplog at the default persistence
// level.
func NewVerifier(worker string) *Verifier {
	return &Verifier{state: State{Worker: worker, PersistenceLevel: model.PersistAll}}
}

// Observe feeds the entry at idx. Entries must be observed in index order.
func (v *Verifier) Observe(idx model.OplogIndex, e model.Entry) {
	s := &v.state
	if v.started && idx != s.LastIndex.Next() {
		v.violate(ErrCodeIndexGap, idx, e, s.LastIndex,
			fmt.Sprintf("expected index %d", s.LastIndex.Next()))
	}
	if !v.started {
		s.FirstIndex = idx
		v.started = true
	}
	s.LastIndex = idx
	s.Entries++
	if !model.IsHint(e) {
		s.LastNonHintIndex = idx
	}

	v.checkOpenWrites(idx, e)

	model.TrackPersistenceLevel(e, &s.PersistenceLevel)
	if rev, ok := model.SpecifiesComponentRevision(e); ok {
		s.ComponentRevision = rev
	}

	switch e := e.(type) {
	case *model.BeginAtomicRegion:
		s.OpenRegions = append(s.OpenRegions, Region{Kind: RegionAtomic, Begin: idx})
	case *model.BeginRemoteWrite:
		s.OpenRegions = append(s.OpenRegions, Region{Kind: RegionRemoteWrite, Begin: idx})
	case *model.BeginRemoteTransaction:
		s.OpenRegions = append(s.OpenRegions, Region{Kind: RegionTransaction, Begin: idx})
	case *model.EndAtomicRegion:
		v.closeRegion(RegionAtomic, e.BeginIndex, idx, e)
	case *model.EndRemoteWrite:
		v.closeRegion(RegionRemoteWrite, e.BeginIndex, idx, e)
	case *model.PreCommitRemoteTransaction:
		v.requireOpen(RegionTransaction, e.BeginIndex, idx, e)
	case *model.PreRollbackRemoteTransaction:
		v.requireOpen(RegionTransaction, e.BeginIndex, idx, e)
	case *model.CommittedRemoteTransaction:
		v.closeRegion(RegionTransaction, e.BeginIndex, idx, e)
	case *model.RolledBackRemoteTransaction:
		v.closeRegion(RegionTransaction, e.BeginIndex, idx, e)
	case *model.ExportedFunctionInvoked:
		s.Invocations++
		s.PendingInvocation = idx
	case *model.ExportedFunctionCompleted:
		s.Completions++
		s.PendingInvocation = model.NoneIndex
	case *model.Jump:
		s.Skipped = append(s.Skipped, e.Jump)
	}
}

// checkOpenWrites reports e if it may not appear inside an open remote write
// or transaction. At most one violation is reported per entry.
func (v *Verifier) checkOpenWrites(idx model.OplogIndex, e model.Entry) {
	for _, r := range v.state.OpenRegions {
		if r.Kind == RegionAtomic || closes(e, r) {
			continue
		}
		if !model.NoConcurrentSideEffect(e, r.Begin, v.state.PersistenceLevel) {
			v.violate(oplog.ErrCodeConcurrentSideEffect, idx, e, r.Begin,
				fmt.Sprintf("%s inside %s begun at %d", e.Kind(), r.Kind, r.Begin))
			return
		}
	}
}

func closes(e model.Entry, r Region) bool {
	switch r.Kind {
	case RegionRemoteWrite:
		return model.IsEndRemoteWrite(e, r.Begin)
	case RegionTransaction:
		return model.IsPreRemoteTransaction(e, r.Begin) || model.IsEndRemoteTransaction(e, r.Begin)
	}
	return false
}

func (v *Verifier) find(kind RegionKind, begin model.OplogIndex) int {
	regions := v.state.OpenRegions
	for i := len(regions) - 1; i >= 0; i-- {
		if regions[i].Kind == kind && regions[i].Begin == begin {
			return i
		}
	}
	return -1
}

func (v *Verifier) closeRegion(kind RegionKind, begin, idx model.OplogIndex, e model.Entry) {
	i := v.find(kind, begin)
	if i < 0 {
		v.unmatched(kind, begin, idx, e)
		return
	}
	v.state.OpenRegions = append(v.state.OpenRegions[:i], v.state.OpenRegions[i+1:]...)
}

func (v *Verifier) requireOpen(kind RegionKind, begin, idx model.OplogIndex, e model.Entry) {
	if v.find(kind, begin) < 0 {
		v.unmatched(kind, begin, idx, e)
	}
}

// unmatched ignores regions that began before the first observed entry; they
// were dropped with the prefix.
func (v *Verifier) unmatched(kind RegionKind, begin, idx model.OplogIndex, e model.Entry) {
	if begin < v.state.FirstIndex {
		return
	}
	v.violate(ErrCodeUnmatchedRegionEnd, idx, e, begin,
		fmt.Sprintf("no open %s begun at %d", kind, begin))
}

func (v *Verifier) violate(code oplog.ErrorCode, idx model.OplogIndex, e model.Entry, begin model.OplogIndex, msg string) {
	v.state.Violations = append(v.state.Violations, Violation{
		Code:    code,
		Index:   idx,
		Kind:    e.Kind(),
		Begin:   begin,
		Message: msg,
	})
}

// State returns a snapshot of the walk so far.
func (v *Verifier) State() State {
	s := v.state
	s.OpenRegions = append([]Region(nil), s.OpenRegions...)
	s.Skipped = append([]model.OplogRegion(nil), s.Skipped...)
	s.Violations = append([]Violation(nil), s.Violations...)
	return s
}

// Err returns a *ViolationError if any violation was observed.
func (v *Verifier) Err() error {
	if len(v.state.Violations) == 0 {
		return nil
	}
	return &ViolationError{
		Worker:     v.state.Worker,
		Violations: append([]Violation(nil), v.state.Violations...),
	}
}

// VerifyRecords walks records, which must be sorted by index.
func VerifyRecords(worker string, records []oplog.Record) (State, error) {
	v := NewVerifier(worker)
	for _, r := range records {
		v.Observe(r.Index, r.Entry)
	}
	return v.State(), v.Err()
}

// Verify reads the whole oplog of owned from svc and walks it. Read failures
// are returned wrapped; violations are returned as *ViolationError together
// with the state.
func Verify(ctx context.Context, svc oplog.Service, owned model.OwnedWorkerID, pageSize uint64) (State, error) {
	records, err := oplog.ReadAll(ctx, svc, owned, pageSize)
	if err != nil {
		return State{Worker: owned.String()}, fmt.Errorf("verify %s: %w", owned, err)
	}
	return VerifyRecords(owned.String(), records)
}

// SafeDropPoint returns the last index that can be dropped without cutting
// an open region or the pending invocation in two. It is NoneIndex when
// nothing can be dropped.
func SafeDropPoint(s State) model.OplogIndex {
	limit := s.LastIndex.Next()
	for _, r := range s.OpenRegions {
		if r.Begin < limit {
			limit = r.Begin
		}
	}
	if !s.PendingInvocation.IsNone() && s.PendingInvocation < limit {
		limit = s.PendingInvocation
	}
	return limit.Previous()
}
