package model

import "time"

// Kind names an entry variant. It is the discriminator of the encoded form.
type Kind string

const (
	KindCreate                       Kind = "Create"
	KindImportedFunctionInvoked      Kind = "ImportedFunctionInvoked"
	KindExportedFunctionInvoked      Kind = "ExportedFunctionInvoked"
	KindExportedFunctionCompleted    Kind = "ExportedFunctionCompleted"
	KindSuspend                      Kind = "Suspend"
	KindError                        Kind = "Error"
	KindNoOp                         Kind = "NoOp"
	KindJump                         Kind = "Jump"
	KindInterrupted                  Kind = "Interrupted"
	KindExited                       Kind = "Exited"
	KindChangeRetryPolicy            Kind = "ChangeRetryPolicy"
	KindBeginAtomicRegion            Kind = "BeginAtomicRegion"
	KindEndAtomicRegion              Kind = "EndAtomicRegion"
	KindBeginRemoteWrite             Kind = "BeginRemoteWrite"
	KindEndRemoteWrite               Kind = "EndRemoteWrite"
	KindPendingWorkerInvocation      Kind = "PendingWorkerInvocation"
	KindPendingUpdate                Kind = "PendingUpdate"
	KindSuccessfulUpdate             Kind = "SuccessfulUpdate"
	KindFailedUpdate                 Kind = "FailedUpdate"
	KindGrowMemory                   Kind = "GrowMemory"
	KindCreateResource               Kind = "CreateResource"
	KindDropResource                 Kind = "DropResource"
	KindLog                          Kind = "Log"
	KindRestart                      Kind = "Restart"
	KindActivatePlugin               Kind = "ActivatePlugin"
	KindDeactivatePlugin             Kind = "DeactivatePlugin"
	KindChangePersistenceLevel       Kind = "ChangePersistenceLevel"
	KindBeginRemoteTransaction       Kind = "BeginRemoteTransaction"
	KindPreCommitRemoteTransaction   Kind = "PreCommitRemoteTransaction"
	KindPreRollbackRemoteTransaction Kind = "PreRollbackRemoteTransaction"
	KindCommittedRemoteTransaction   Kind = "CommittedRemoteTransaction"
	KindRolledBackRemoteTransaction  Kind = "RolledBackRemoteTransaction"
)

// Entry is one durable effect recorded in an oplog.
type Entry interface {
	Kind() Kind
	At() time.Time
	sealed()
}

// Stamp carries the wall-clock time an entry was recorded. Every variant
// embeds it.
type Stamp struct {
	Timestamp time.Time `json:"timestamp"`
}

// At returns the recording time.
func (s Stamp) At() time.Time { return s.Timestamp }

func (Stamp) sealed() {}

// Now returns a Stamp for the current time truncated to milliseconds, the
// precision preserved by the encoded form.
func Now() Stamp {
	return Stamp{Timestamp: time.Now().UTC().Truncate(time.Millisecond)}
}

// Create is the first entry of every oplog.
type Create struct {
	Stamp
	WorkerID          WorkerID          `json:"worker_id"`
	ComponentRevision ComponentRevision `json:"component_revision"`
	Args              []string          `json:"args,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
	EnvironmentID     EnvironmentID     `json:"environment_id,omitempty"`
	Parent            *WorkerID         `json:"parent,omitempty"`
	ComponentSize     uint64            `json:"component_size"`
	InitialMemorySize uint64            `json:"initial_memory_size"`
	ActivePlugins     []string          `json:"active_plugins,omitempty"`
}

// ImportedFunctionInvoked records a side-effecting host call and its result.
type ImportedFunctionInvoked struct {
	Stamp
	FunctionName        string              `json:"function_name"`
	Request             OplogPayload        `json:"request"`
	Response            OplogPayload        `json:"response"`
	DurableFunctionType DurableFunctionType `json:"durable_function_type"`
}

// ExportedFunctionInvoked starts a top-level invocation.
type ExportedFunctionInvoked struct {
	Stamp
	FunctionName   string       `json:"function_name"`
	Request        OplogPayload `json:"request"`
	IdempotencyKey string       `json:"idempotency_key"`
}

// ExportedFunctionCompleted ends a top-level invocation.
type ExportedFunctionCompleted struct {
	Stamp
	Response     OplogPayload `json:"response"`
	ConsumedFuel int64        `json:"consumed_fuel"`
}

// Suspend records that the worker was suspended.
type Suspend struct{ Stamp }

// Error records a worker failure.
type Error struct {
	Stamp
	Error string `json:"error"`
}

// NoOp is a placeholder entry, used as a jump target.
type NoOp struct{ Stamp }

// Jump marks a region of the oplog that replay must skip.
type Jump struct {
	Stamp
	Jump OplogRegion `json:"jump"`
}

// Interrupted records an external interruption.
type Interrupted struct{ Stamp }

// Exited records that the worker called exit.
type Exited struct{ Stamp }

// RetryPolicy is the retry configuration attached to ChangeRetryPolicy.
type RetryPolicy struct {
	MaxAttempts uint32        `json:"max_attempts"`
	MinDelay    time.Duration `json:"min_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
}

// ChangeRetryPolicy overrides the worker's retry policy from this point.
type ChangeRetryPolicy struct {
	Stamp
	NewPolicy RetryPolicy `json:"new_policy"`
}

// BeginAtomicRegion opens a region replayed as one unit.
type BeginAtomicRegion struct{ Stamp }

// EndAtomicRegion closes the atomic region opened at BeginIndex.
type EndAtomicRegion struct {
	Stamp
	BeginIndex OplogIndex `json:"begin_index"`
}

// BeginRemoteWrite opens a batched remote write.
type BeginRemoteWrite struct{ Stamp }

// EndRemoteWrite closes the remote write opened at BeginIndex.
type EndRemoteWrite struct {
	Stamp
	BeginIndex OplogIndex `json:"begin_index"`
}

// WorkerInvocation is an invocation queued for a worker.
type WorkerInvocation struct {
	FunctionName   string       `json:"function_name"`
	IdempotencyKey string       `json:"idempotency_key"`
	Input          OplogPayload `json:"input"`
}

// PendingWorkerInvocation records an invocation enqueued while the worker was
// busy.
type PendingWorkerInvocation struct {
	Stamp
	Invocation WorkerInvocation `json:"invocation"`
}

// UpdateDescription describes a requested component update.
type UpdateDescription struct {
	Automatic      bool              `json:"automatic"`
	TargetRevision ComponentRevision `json:"target_revision"`
	SnapshotData   *OplogPayload     `json:"snapshot_data,omitempty"`
}

// PendingUpdate records an enqueued update.
type PendingUpdate struct {
	Stamp
	Description UpdateDescription `json:"description"`
}

// SuccessfulUpdate pins a new component revision from this point on.
type SuccessfulUpdate struct {
	Stamp
	TargetRevision   ComponentRevision `json:"target_revision"`
	NewComponentSize uint64            `json:"new_component_size"`
	ActivePlugins    []string          `json:"active_plugins,omitempty"`
}

// FailedUpdate records an update attempt that did not apply.
type FailedUpdate struct {
	Stamp
	TargetRevision ComponentRevision `json:"target_revision"`
	Details        string            `json:"details,omitempty"`
}

// GrowMemory records a linear memory increase.
type GrowMemory struct {
	Stamp
	Delta uint64 `json:"delta"`
}

// CreateResource records the creation of a host resource.
type CreateResource struct {
	Stamp
	ResourceID uint64 `json:"resource_id"`
}

// DropResource records the release of a host resource.
type DropResource struct {
	Stamp
	ResourceID uint64 `json:"resource_id"`
}

// Log records a message emitted by the worker.
type Log struct {
	Stamp
	Level   LogLevel `json:"level"`
	Context string   `json:"context"`
	Message string   `json:"message"`
}

// Restart marks the point a worker restarted from scratch.
type Restart struct{ Stamp }

// ActivatePlugin records a plugin being enabled for the worker.
type ActivatePlugin struct {
	Stamp
	Plugin string `json:"plugin"`
}

// DeactivatePlugin records a plugin being disabled for the worker.
type DeactivatePlugin struct {
	Stamp
	Plugin string `json:"plugin"`
}

// ChangePersistenceLevel switches the persistence level of later entries.
type ChangePersistenceLevel struct {
	Stamp
	Level PersistenceLevel `json:"level"`
}

// BeginRemoteTransaction opens a remote transaction.
type BeginRemoteTransaction struct {
	Stamp
	TransactionID string `json:"transaction_id"`
}

// PreCommitRemoteTransaction records the intent to commit the transaction
// begun at BeginIndex.
type PreCommitRemoteTransaction struct {
	Stamp
	BeginIndex OplogIndex `json:"begin_index"`
}

// PreRollbackRemoteTransaction records the intent to roll back the
// transaction begun at BeginIndex.
type PreRollbackRemoteTransaction struct {
	Stamp
	BeginIndex OplogIndex `json:"begin_index"`
}

// CommittedRemoteTransaction closes the transaction begun at BeginIndex.
type CommittedRemoteTransaction struct {
	Stamp
	BeginIndex OplogIndex `json:"begin_index"`
}

// RolledBackRemoteTransaction closes the transaction begun at BeginIndex.
type RolledBackRemoteTransaction struct {
	Stamp
	BeginIndex OplogIndex `json:"begin_index"`
}

func (*Create) Kind() Kind                       { return KindCreate }
func (*ImportedFunctionInvoked) Kind() Kind      { return KindImportedFunctionInvoked }
func (*ExportedFunctionInvoked) Kind() Kind      { return KindExportedFunctionInvoked }
func (*ExportedFunctionCompleted) Kind() Kind    { return KindExportedFunctionCompleted }
func (*Suspend) Kind() Kind                      { return KindSuspend }
func (*Error) Kind() Kind                        { return KindError }
func (*NoOp) Kind() Kind                         { return KindNoOp }
func (*Jump) Kind() Kind                         { return KindJump }
func (*Interrupted) Kind() Kind                  { return KindInterrupted }
func (*Exited) Kind() Kind                       { return KindExited }
func (*ChangeRetryPolicy) Kind() Kind            { return KindChangeRetryPolicy }
func (*BeginAtomicRegion) Kind() Kind            { return KindBeginAtomicRegion }
func (*EndAtomicRegion) Kind() Kind              { return KindEndAtomicRegion }
func (*BeginRemoteWrite) Kind() Kind             { return KindBeginRemoteWrite }
func (*EndRemoteWrite) Kind() Kind               { return KindEndRemoteWrite }
func (*PendingWorkerInvocation) Kind() Kind      { return KindPendingWorkerInvocation }
func (*PendingUpdate) Kind() Kind                { return KindPendingUpdate }
func (*SuccessfulUpdate) Kind() Kind             { return KindSuccessfulUpdate }
func (*FailedUpdate) Kind() Kind                 { return KindFailedUpdate }
func (*GrowMemory) Kind() Kind                   { return KindGrowMemory }
func (*CreateResource) Kind() Kind               { return KindCreateResource }
func (*DropResource) Kind() Kind                 { return KindDropResource }
func (*Log) Kind() Kind                          { return KindLog }
func (*Restart) Kind() Kind                      { return KindRestart }
func (*ActivatePlugin) Kind() Kind               { return KindActivatePlugin }
func (*DeactivatePlugin) Kind() Kind             { return KindDeactivatePlugin }
func (*ChangePersistenceLevel) Kind() Kind       { return KindChangePersistenceLevel }
func (*BeginRemoteTransaction) Kind() Kind       { return KindBeginRemoteTransaction }
func (*PreCommitRemoteTransaction) Kind() Kind   { return KindPreCommitRemoteTransaction }
func (*PreRollbackRemoteTransaction) Kind() Kind { return KindPreRollbackRemoteTransaction }
func (*CommittedRemoteTransaction) Kind() Kind   { return KindCommittedRemoteTransaction }
func (*RolledBackRemoteTransaction) Kind() Kind  { return KindRolledBackRemoteTransaction }

// newEntry returns a zero value of the variant named by kind.
func newEntry(kind Kind) (Entry, bool) {
	switch kind {
	case KindCreate:
		return &Create{}, true
	case KindImportedFunctionInvoked:
		return &ImportedFunctionInvoked{}, true
	case KindExportedFunctionInvoked:
		return &ExportedFunctionInvoked{}, true
	case KindExportedFunctionCompleted:
		return &ExportedFunctionCompleted{}, true
	case KindSuspend:
		return &Suspend{}, true
	case KindError:
		return &Error{}, true
	case KindNoOp:
		return &NoOp{}, true
	case KindJump:
		return &Jump{}, true
	case KindInterrupted:
		return &Interrupted{}, true
	case KindExited:
		return &Exited{}, true
	case KindChangeRetryPolicy:
		return &ChangeRetryPolicy{}, true
	case KindBeginAtomicRegion:
		return &BeginAtomicRegion{}, true
	case KindEndAtomicRegion:
		return &EndAtomicRegion{}, true
	case KindBeginRemoteWrite:
		return &BeginRemoteWrite{}, true
	case KindEndRemoteWrite:
		return &EndRemoteWrite{}, true
	case KindPendingWorkerInvocation:
		return &PendingWorkerInvocation{}, true
	case KindPendingUpdate:
		return &PendingUpdate{}, true
	case KindSuccessfulUpdate:
		return &SuccessfulUpdate{}, true
	case KindFailedUpdate:
		return &FailedUpdate{}, true
	case KindGrowMemory:
		return &GrowMemory{}, true
	case KindCreateResource:
		return &CreateResource{}, true
	case KindDropResource:
		return &DropResource{}, true
	case KindLog:
		return &Log{}, true
	case KindRestart:
		return &Restart{}, true
	case KindActivatePlugin:
		return &ActivatePlugin{}, true
	case KindDeactivatePlugin:
		return &DeactivatePlugin{}, true
	case KindChangePersistenceLevel:
		return &ChangePersistenceLevel{}, true
	case KindBeginRemoteTransaction:
		return &BeginRemoteTransaction{}, true
	case KindPreCommitRemoteTransaction:
		return &PreCommitRemoteTransaction{}, true
	case KindPreRollbackRemoteTransaction:
		return &PreRollbackRemoteTransaction{}, true
	case KindCommittedRemoteTransaction:
		return &CommittedRemoteTransaction{}, true
	case KindRolledBackRemoteTransaction:
		return &RolledBackRemoteTransaction{}, true
	}
	return nil, false
}
