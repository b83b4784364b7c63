// Package testutil holds fixtures shared by tests: worker ids, entry
// builders and a deterministic clock.
package testutil

import (
	"github.com/roach88/oplog/internal/model"
)

// Component is the component id used by fixtures.
const Component model.ComponentID = "test-component"

// Environment is the environment id used by fixtures.
const Environment model.EnvironmentID = "test-env"

// Worker returns the owned id of a fixture worker.
func Worker(name string) model.OwnedWorkerID {
	return model.NewOwnedWorkerID(Environment, model.NewWorkerID(Component, name))
}

// Entries builds entries stamped by a deterministic clock.
type Entries struct {
	Clock *DeterministicClock
}

// NewEntries creates a builder with a fresh clock.
func NewEntries() *Entries {
	return &Entries{Clock: NewDeterministicClock()}
}

// Create returns the initial entry of worker.
func (b *Entries) Create(worker model.OwnedWorkerID) *model.Create {
	return &model.Create{
		Stamp:             b.Clock.Next(),
		WorkerID:          worker.WorkerID,
		EnvironmentID:     worker.EnvironmentID,
		ComponentRevision: 1,
	}
}

// ImportedFunction returns a host call of the given durability kind.
func (b *Entries) ImportedFunction(name string, kind model.DurableFunctionType) *model.ImportedFunctionInvoked {
	return &model.ImportedFunctionInvoked{
		Stamp:               b.Clock.Next(),
		FunctionName:        name,
		Request:             model.InlinePayload([]byte(`"req"`)),
		Response:            model.InlinePayload([]byte(`"resp"`)),
		DurableFunctionType: kind,
	}
}

// ReadLocal returns a local read host call.
func (b *Entries) ReadLocal(name string) *model.ImportedFunctionInvoked {
	return b.ImportedFunction(name, model.ReadLocalFunction())
}

// ExportedInvoked starts an invocation.
func (b *Entries) ExportedInvoked(name, idempotencyKey string) *model.ExportedFunctionInvoked {
	return &model.ExportedFunctionInvoked{
		Stamp:          b.Clock.Next(),
		FunctionName:   name,
		Request:        model.InlinePayload([]byte(`[]`)),
		IdempotencyKey: idempotencyKey,
	}
}

// ExportedCompleted ends an invocation.
func (b *Entries) ExportedCompleted() *model.ExportedFunctionCompleted {
	return &model.ExportedFunctionCompleted{
		Stamp:    b.Clock.Next(),
		Response: model.InlinePayload([]byte(`null`)),
	}
}

// BeginRemoteWrite opens a remote write.
func (b *Entries) BeginRemoteWrite() *model.BeginRemoteWrite {
	return &model.BeginRemoteWrite{Stamp: b.Clock.Next()}
}

// EndRemoteWrite closes the remote write begun at begin.
func (b *Entries) EndRemoteWrite(begin model.OplogIndex) *model.EndRemoteWrite {
	return &model.EndRemoteWrite{Stamp: b.Clock.Next(), BeginIndex: begin}
}

// BeginAtomicRegion opens an atomic region.
func (b *Entries) BeginAtomicRegion() *model.BeginAtomicRegion {
	return &model.BeginAtomicRegion{Stamp: b.Clock.Next()}
}

// EndAtomicRegion closes the atomic region begun at begin.
func (b *Entries) EndAtomicRegion(begin model.OplogIndex) *model.EndAtomicRegion {
	return &model.EndAtomicRegion{Stamp: b.Clock.Next(), BeginIndex: begin}
}

// Log returns a hint entry.
func (b *Entries) Log(message string) *model.Log {
	return &model.Log{Stamp: b.Clock.Next(), Level: model.LogInfo, Message: message}
}

// NoOp returns a placeholder entry.
func (b *Entries) NoOp() *model.NoOp {
	return &model.NoOp{Stamp: b.Clock.Next()}
}

// PersistenceLevel changes the persistence level.
func (b *Entries) PersistenceLevel(level model.PersistenceLevel) *model.ChangePersistenceLevel {
	return &model.ChangePersistenceLevel{Stamp: b.Clock.Next(), Level: level}
}

// BeginTransaction opens a remote transaction.
func (b *Entries) BeginTransaction(id string) *model.BeginRemoteTransaction {
	return &model.BeginRemoteTransaction{Stamp: b.Clock.Next(), TransactionID: id}
}

// PreCommit marks the transaction begun at begin as about to commit.
func (b *Entries) PreCommit(begin model.OplogIndex) *model.PreCommitRemoteTransaction {
	return &model.PreCommitRemoteTransaction{Stamp: b.Clock.Next(), BeginIndex: begin}
}

// Committed closes the transaction begun at begin.
func (b *Entries) Committed(begin model.OplogIndex) *model.CommittedRemoteTransaction {
	return &model.CommittedRemoteTransaction{Stamp: b.Clock.Next(), BeginIndex: begin}
}

// RolledBack closes the transaction begun at begin without committing.
func (b *Entries) RolledBack(begin model.OplogIndex) *model.RolledBackRemoteTransaction {
	return &model.RolledBackRemoteTransaction{Stamp: b.Clock.Next(), BeginIndex: begin}
}

// Jump skips the inclusive region start..end on replay.
func (b *Entries) Jump(start, end model.OplogIndex) *model.Jump {
	return &model.Jump{Stamp: b.Clock.Next(), Jump: model.OplogRegion{Start: start, End: end}}
}

// SuccessfulUpdate moves the worker to revision.
func (b *Entries) SuccessfulUpdate(revision model.ComponentRevision) *model.SuccessfulUpdate {
	return &model.SuccessfulUpdate{Stamp: b.Clock.Next(), TargetRevision: revision}
}
