package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ComponentID identifies a deployed component.
type ComponentID string

// EnvironmentID identifies the environment (tenant scope) owning a worker.
type EnvironmentID string

// ComponentRevision is the version of a component a worker runs.
type ComponentRevision uint64

// WorkerID identifies a single worker of a component.
type WorkerID struct {
	ComponentID ComponentID `json:"component_id"`
	WorkerName  string      `json:"worker_name"`
}

// NewWorkerID builds a WorkerID with an NFC-normalized name.
func NewWorkerID(component ComponentID, name string) WorkerID {
	return WorkerID{ComponentID: component, WorkerName: norm.NFC.String(name)}
}

// ParseWorkerID parses the "component:name" form produced by String.
func ParseWorkerID(s string) (WorkerID, error) {
	component, name, ok := strings.Cut(s, ":")
	if !ok || component == "" || name == "" {
		return WorkerID{}, fmt.Errorf("invalid worker id %q: expected <component>:<name>", s)
	}
	return NewWorkerID(ComponentID(component), name), nil
}

// String returns "component:name".
func (w WorkerID) String() string {
	return string(w.ComponentID) + ":" + w.WorkerName
}

// Key returns the storage key of this worker's oplog.
func (w WorkerID) Key() string {
	return string(w.ComponentID) + ":" + norm.NFC.String(w.WorkerName)
}

// ComponentKeyPattern returns the scan pattern matching every worker key of a
// component.
func ComponentKeyPattern(component ComponentID) string {
	return string(component) + ":*"
}

// WorkerIDFromKey inverts WorkerID.Key for keys that belong to component.
func WorkerIDFromKey(component ComponentID, key string) (WorkerID, error) {
	name, ok := strings.CutPrefix(key, string(component)+":")
	if !ok {
		return WorkerID{}, fmt.Errorf("key %q does not belong to component %s", key, component)
	}
	return WorkerID{ComponentID: component, WorkerName: name}, nil
}

// OwnedWorkerID is a worker id scoped to its owning environment. It is the
// primary key of every oplog operation.
type OwnedWorkerID struct {
	EnvironmentID EnvironmentID `json:"environment_id"`
	WorkerID      WorkerID      `json:"worker_id"`
}

// NewOwnedWorkerID pairs an environment with a worker.
func NewOwnedWorkerID(env EnvironmentID, worker WorkerID) OwnedWorkerID {
	return OwnedWorkerID{EnvironmentID: env, WorkerID: worker}
}

// ComponentID returns the component of the owned worker.
func (o OwnedWorkerID) ComponentID() ComponentID {
	return o.WorkerID.ComponentID
}

// WorkerName returns the name of the owned worker.
func (o OwnedWorkerID) WorkerName() string {
	return o.WorkerID.WorkerName
}

func (o OwnedWorkerID) String() string {
	if o.EnvironmentID == "" {
		return o.WorkerID.String()
	}
	return string(o.EnvironmentID) + "/" + o.WorkerID.String()
}
