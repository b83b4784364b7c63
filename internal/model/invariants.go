package model

// The predicates in this file are pure functions of a single entry. The
// replay verifier combines them with the position of the entry to detect
// illegal interleavings.

// IsHint reports whether the entry is bookkeeping that replay does not need
// to re-execute.
func IsHint(e Entry) bool {
	switch e.(type) {
	case *Suspend, *Error, *Interrupted, *Exited,
		*PendingWorkerInvocation, *PendingUpdate, *SuccessfulUpdate, *FailedUpdate,
		*GrowMemory, *CreateResource, *DropResource, *Log, *Restart,
		*ActivatePlugin, *DeactivatePlugin:
		return true
	}
	return false
}

// IsEndAtomicRegion reports whether e closes the atomic region begun at idx.
func IsEndAtomicRegion(e Entry, idx OplogIndex) bool {
	end, ok := e.(*EndAtomicRegion)
	return ok && end.BeginIndex == idx
}

// IsEndRemoteWrite reports whether e closes the remote write begun at idx.
func IsEndRemoteWrite(e Entry, idx OplogIndex) bool {
	end, ok := e.(*EndRemoteWrite)
	return ok && end.BeginIndex == idx
}

// IsPreCommitRemoteTransaction reports whether e is the pre-commit marker of
// the transaction begun at idx.
func IsPreCommitRemoteTransaction(e Entry, idx OplogIndex) bool {
	pre, ok := e.(*PreCommitRemoteTransaction)
	return ok && pre.BeginIndex == idx
}

// IsPreRollbackRemoteTransaction reports whether e is the pre-rollback marker
// of the transaction begun at idx.
func IsPreRollbackRemoteTransaction(e Entry, idx OplogIndex) bool {
	pre, ok := e.(*PreRollbackRemoteTransaction)
	return ok && pre.BeginIndex == idx
}

// IsCommittedRemoteTransaction reports whether e marks the transaction begun
// at idx as committed.
func IsCommittedRemoteTransaction(e Entry, idx OplogIndex) bool {
	end, ok := e.(*CommittedRemoteTransaction)
	return ok && end.BeginIndex == idx
}

// IsRolledBackRemoteTransaction reports whether e marks the transaction begun
// at idx as rolled back.
func IsRolledBackRemoteTransaction(e Entry, idx OplogIndex) bool {
	end, ok := e.(*RolledBackRemoteTransaction)
	return ok && end.BeginIndex == idx
}

// IsPreRemoteTransaction is true for either pre-commit or pre-rollback of
// the transaction begun at idx.
func IsPreRemoteTransaction(e Entry, idx OplogIndex) bool {
	return IsPreCommitRemoteTransaction(e, idx) || IsPreRollbackRemoteTransaction(e, idx)
}

// IsEndRemoteTransaction is true only for the terminal committed or rolled
// back markers of the transaction begun at idx.
func IsEndRemoteTransaction(e Entry, idx OplogIndex) bool {
	return IsCommittedRemoteTransaction(e, idx) || IsRolledBackRemoteTransaction(e, idx)
}

// NoConcurrentSideEffect reports whether e may appear inside the remote
// write or transaction begun at idx without duplicating or losing a side
// effect. A false result is a durability violation.
//
// Under PersistNothing nothing is recorded, so every entry passes.
// ExportedFunctionCompleted never passes: an invocation cannot complete while
// a remote write it started is still open.
func NoConcurrentSideEffect(e Entry, idx OplogIndex, level PersistenceLevel) bool {
	if level == PersistNothing {
		return true
	}
	switch e := e.(type) {
	case *ImportedFunctionInvoked:
		switch t := e.DurableFunctionType; t.Kind {
		case WriteRemoteBatched, WriteRemoteTransaction:
			return !t.Begin.IsNone() && t.Begin == idx
		case ReadLocal, WriteLocal, ReadRemote:
			return true
		default:
			return false
		}
	case *ExportedFunctionCompleted:
		return false
	default:
		return true
	}
}

// TrackPersistenceLevel updates level when e changes it and leaves it
// untouched otherwise.
func TrackPersistenceLevel(e Entry, level *PersistenceLevel) {
	if change, ok := e.(*ChangePersistenceLevel); ok {
		*level = change.Level
	}
}

// SpecifiesComponentRevision returns the component revision pinned by e.
func SpecifiesComponentRevision(e Entry) (ComponentRevision, bool) {
	switch e := e.(type) {
	case *Create:
		return e.ComponentRevision, true
	case *SuccessfulUpdate:
		return e.TargetRevision, true
	}
	return 0, false
}

// BeginsRegion reports whether e opens an atomic region, a remote write or a
// remote transaction.
func BeginsRegion(e Entry) bool {
	switch e.(type) {
	case *BeginAtomicRegion, *BeginRemoteWrite, *BeginRemoteTransaction:
		return true
	}
	return false
}
