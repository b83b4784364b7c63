package model

import "time"

// WorkerStatus is the coarse lifecycle state of a worker.
type WorkerStatus string

const (
	StatusRunning     WorkerStatus = "running"
	StatusIdle        WorkerStatus = "idle"
	StatusSuspended   WorkerStatus = "suspended"
	StatusInterrupted WorkerStatus = "interrupted"
	StatusRetrying    WorkerStatus = "retrying"
	StatusFailed      WorkerStatus = "failed"
	StatusExited      WorkerStatus = "exited"
)

// WorkerStatusRecord is the cached status of a worker as of OplogIndex.
type WorkerStatusRecord struct {
	Status            WorkerStatus      `json:"status"`
	ComponentRevision ComponentRevision `json:"component_revision"`
	OplogIndex        OplogIndex        `json:"oplog_idx"`
}

// ExecutionStatus is the in-memory execution state of an active worker.
type ExecutionStatus string

const (
	ExecutionLoading     ExecutionStatus = "loading"
	ExecutionRunning     ExecutionStatus = "running"
	ExecutionSuspended   ExecutionStatus = "suspended"
	ExecutionInterrupted ExecutionStatus = "interrupting"
)

// WorkerMetadata describes a worker at creation time. Oplog services receive
// it for correlation only and never modify it.
type WorkerMetadata struct {
	WorkerID          WorkerID           `json:"worker_id"`
	EnvironmentID     EnvironmentID      `json:"environment_id"`
	Args              []string           `json:"args,omitempty"`
	Env               map[string]string  `json:"env,omitempty"`
	ComponentRevision ComponentRevision  `json:"component_revision"`
	CreatedAt         time.Time          `json:"created_at"`
	Parent            *WorkerID          `json:"parent,omitempty"`
	LastKnownStatus   WorkerStatusRecord `json:"last_known_status"`
}

// OwnedWorkerID returns the owned id of the described worker.
func (m WorkerMetadata) OwnedWorkerID() OwnedWorkerID {
	return NewOwnedWorkerID(m.EnvironmentID, m.WorkerID)
}

// CreateEntry builds the initial Create entry for the described worker.
func (m WorkerMetadata) CreateEntry(componentSize, initialMemorySize uint64) *Create {
	return &Create{
		Stamp:             Now(),
		WorkerID:          m.WorkerID,
		ComponentRevision: m.ComponentRevision,
		Args:              m.Args,
		Env:               m.Env,
		EnvironmentID:     m.EnvironmentID,
		Parent:            m.Parent,
		ComponentSize:     componentSize,
		InitialMemorySize: initialMemorySize,
	}
}
