package debug

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/oplog/internal/model"
)

// Request is a JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type connectParams struct {
	WorkerID      string              `json:"worker_id"`
	EnvironmentID model.EnvironmentID `json:"environment_id,omitempty"`
}

type overrideParams struct {
	Index model.OplogIndex `json:"index"`
	Oplog json.RawMessage  `json:"oplog"`
}

type playbackParams struct {
	TargetIndex              model.OplogIndex `json:"target_index"`
	Overrides                []overrideParams `json:"overrides,omitempty"`
	EnsureInvocationBoundary bool             `json:"ensure_invocation_boundary,omitempty"`
}

type rewindParams struct {
	TargetIndex              model.OplogIndex `json:"target_index"`
	EnsureInvocationBoundary bool             `json:"ensure_invocation_boundary,omitempty"`
}

type forkParams struct {
	TargetWorkerID   string           `json:"target_worker_id"`
	OplogIndexCutOff model.OplogIndex `json:"oplog_index_cut_off"`
}

// session is the state of one connection. A connection debugs at most one
// worker.
type session struct {
	debugger *Debugger
	env      model.EnvironmentID
	owned    *model.OwnedWorkerID
}

// handle dispatches one raw message and returns the response to send.
func (s *session) handle(ctx context.Context, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(nil, CodeParseError, fmt.Sprintf("parse request: %v", err))
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}

	result, err := s.call(ctx, req.Method, req.Params)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			return Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
		if derr, ok := err.(*Error); ok {
			return errorResponse(req.ID, derr.RPCCode(), derr.Error())
		}
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func (s *session) call(ctx context.Context, method string, raw json.RawMessage) (any, error) {
	if method == "connect" {
		return s.connect(ctx, raw)
	}
	if s.owned == nil {
		switch method {
		case "playback", "rewind", "fork", "current_oplog_index":
			return nil, internalError("", "not connected to a worker")
		}
	}

	switch method {
	case "playback":
		var p playbackParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		var overrides []PlaybackOverride
		if p.Overrides != nil {
			overrides = make([]PlaybackOverride, 0, len(p.Overrides))
			for _, o := range p.Overrides {
				entry, err := model.DecodeEntry(o.Oplog)
				if err != nil {
					return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("override %d: %v", o.Index, err)}
				}
				overrides = append(overrides, PlaybackOverride{Index: o.Index, Entry: entry})
			}
		}
		return s.debugger.Playback(ctx, *s.owned, p.TargetIndex, overrides, p.EnsureInvocationBoundary)

	case "rewind":
		var p rewindParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.debugger.Rewind(ctx, *s.owned, p.TargetIndex, p.EnsureInvocationBoundary)

	case "fork":
		var p forkParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		target, err := model.ParseWorkerID(p.TargetWorkerID)
		if err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		return s.debugger.Fork(ctx, *s.owned, target, p.OplogIndexCutOff)

	case "current_oplog_index":
		return s.debugger.CurrentOplogIndex(*s.owned)
	}
	return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", method)}
}

func (s *session) connect(ctx context.Context, raw json.RawMessage) (any, error) {
	if s.owned != nil {
		return nil, conflictError(s.owned.WorkerID.String(), "connection is already debugging a worker")
	}
	var p connectParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	worker, err := model.ParseWorkerID(p.WorkerID)
	if err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	env := p.EnvironmentID
	if env == "" {
		env = s.env
	}
	owned := model.NewOwnedWorkerID(env, worker)

	result, err := s.debugger.Connect(ctx, owned)
	if err != nil {
		return nil, err
	}
	s.owned = &owned
	return result, nil
}

// close terminates the session's debug session, if any.
func (s *session) close() {
	if s.owned == nil {
		return
	}
	_ = s.debugger.Terminate(*s.owned)
	s.owned = nil
}
