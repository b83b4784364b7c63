package model

import "fmt"

// PersistenceLevel controls whether effects are recorded durably.
type PersistenceLevel string

const (
	// PersistNothing disables recording; replay invariants are not enforced.
	PersistNothing PersistenceLevel = "persist-nothing"

	// PersistRemoteSideEffects records only effects visible outside the worker.
	PersistRemoteSideEffects PersistenceLevel = "persist-remote-side-effects"

	// PersistAll records every effect. This is the default.
	PersistAll PersistenceLevel = "persist-all"
)

// ParsePersistenceLevel parses the string form of a level.
func ParsePersistenceLevel(s string) (PersistenceLevel, error) {
	switch l := PersistenceLevel(s); l {
	case PersistNothing, PersistRemoteSideEffects, PersistAll:
		return l, nil
	}
	return "", fmt.Errorf("unknown persistence level %q", s)
}

// FunctionKind classifies a durable host function.
type FunctionKind string

const (
	ReadLocal              FunctionKind = "read-local"
	WriteLocal             FunctionKind = "write-local"
	ReadRemote             FunctionKind = "read-remote"
	WriteRemote            FunctionKind = "write-remote"
	WriteRemoteBatched     FunctionKind = "write-remote-batched"
	WriteRemoteTransaction FunctionKind = "write-remote-transaction"
)

// DurableFunctionType describes how an imported function call must be
// treated on replay. Begin is the index of the enclosing remote write or
// transaction for the batched and transactional kinds, NoneIndex otherwise.
type DurableFunctionType struct {
	Kind  FunctionKind `json:"kind"`
	Begin OplogIndex   `json:"begin,omitempty"`
}

func ReadLocalFunction() DurableFunctionType   { return DurableFunctionType{Kind: ReadLocal} }
func WriteLocalFunction() DurableFunctionType  { return DurableFunctionType{Kind: WriteLocal} }
func ReadRemoteFunction() DurableFunctionType  { return DurableFunctionType{Kind: ReadRemote} }
func WriteRemoteFunction() DurableFunctionType { return DurableFunctionType{Kind: WriteRemote} }

// WriteRemoteBatchedFunction is a write belonging to the remote write begun
// at begin, or an unbracketed batched write when begin is NoneIndex.
func WriteRemoteBatchedFunction(begin OplogIndex) DurableFunctionType {
	return DurableFunctionType{Kind: WriteRemoteBatched, Begin: begin}
}

// WriteRemoteTransactionFunction is a write belonging to the transaction
// begun at begin.
func WriteRemoteTransactionFunction(begin OplogIndex) DurableFunctionType {
	return DurableFunctionType{Kind: WriteRemoteTransaction, Begin: begin}
}

// LogLevel is the severity of a Log entry.
type LogLevel string

const (
	LogTrace    LogLevel = "trace"
	LogDebug    LogLevel = "debug"
	LogInfo     LogLevel = "info"
	LogWarn     LogLevel = "warn"
	LogError    LogLevel = "error"
	LogCritical LogLevel = "critical"
	LogStdout   LogLevel = "stdout"
	LogStderr   LogLevel = "stderr"
)
