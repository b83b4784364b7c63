package debug

import (
	"maps"
	"sync"

	"github.com/roach88/oplog/internal/model"
)

// SessionID identifies a debug session. There is at most one per worker.
type SessionID string

// NewSessionID derives the session id of a worker.
func NewSessionID(owned model.OwnedWorkerID) SessionID {
	return SessionID(owned.WorkerID.String())
}

// Overrides replaces entries at future indices during playback.
type Overrides map[model.OplogIndex]model.Entry

// SessionData is the state of one debug session.
type SessionData struct {
	Metadata model.WorkerMetadata

	// TargetOplogIndex pins GetLastIndex. NoneIndex means unpinned.
	TargetOplogIndex model.OplogIndex

	PlaybackOverrides Overrides

	// CurrentOplogIndex is the last index read by the replay under debug.
	CurrentOplogIndex model.OplogIndex
}

// clone copies the override map so callers can't mutate the table.
func (d SessionData) clone() SessionData {
	d.PlaybackOverrides = maps.Clone(d.PlaybackOverrides)
	return d
}

// Sessions is the table of active debug sessions.
type Sessions struct {
	mu       sync.Mutex
	sessions map[SessionID]SessionData
}

// NewSessions creates an empty table.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[SessionID]SessionData)}
}

// Insert adds or replaces a session.
func (s *Sessions) Insert(id SessionID, data SessionData) SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = data.clone()
	return id
}

// Get returns a copy of the session.
func (s *Sessions) Get(id SessionID) (SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[id]
	if !ok {
		return SessionData{}, false
	}
	return data.clone(), true
}

// Remove deletes the session and returns what it held.
func (s *Sessions) Remove(id SessionID) (SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[id]
	delete(s.sessions, id)
	return data, ok
}

// Update pins the session to target. A nil overrides keeps the existing
// ones.
func (s *Sessions) Update(id SessionID, target model.OplogIndex, overrides Overrides) (SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[id]
	if !ok {
		return SessionData{}, false
	}
	data.TargetOplogIndex = target
	if overrides != nil {
		data.PlaybackOverrides = maps.Clone(overrides)
	}
	s.sessions[id] = data
	return data.clone(), true
}

// UpdateOplogIndex moves the session cursor.
func (s *Sessions) UpdateOplogIndex(id SessionID, idx model.OplogIndex) (SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[id]
	if !ok {
		return SessionData{}, false
	}
	data.CurrentOplogIndex = idx
	s.sessions[id] = data
	return data.clone(), true
}

// Len returns the number of active sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
