// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session provides conversation session management.
//
// A session represents a series of turns between a user and an agent. Each
// session carries a provider turn handle (the last response ID, for providers
// with server-side conversation state), a key-value state map, and the event
// history needed to rebuild context for providers without server-side state.
//
// Services hand out snapshots: mutating a returned Session does not change the
// stored one. Changes flow back through AppendEvent and UpdateTurn.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/loom/pkg/model"
)

// ErrSessionNotFound is returned when a session doesn't exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is a single conversation between a user and agents.
type Session struct {
	ID      string `json:"id"`
	AppName string `json:"app_name"`
	UserID  string `json:"user_id"`

	// LastResponseID is the provider turn handle. Providers without
	// server-side conversation state leave it empty.
	LastResponseID string `json:"last_response_id,omitempty"`

	State  map[string]any `json:"state,omitempty"`
	Events []Event        `json:"events,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event records one contribution to a session: the items a user or agent
// produced in a single turn.
type Event struct {
	ID        string       `json:"id"`
	Author    string       `json:"author"`
	Items     []model.Item `json:"items"`
	Timestamp time.Time    `json:"timestamp"`
}

// History flattens the event log into the item sequence a stateless provider
// needs as input.
func (s *Session) History() []model.Item {
	var items []model.Item
	for _, ev := range s.Events {
		items = append(items, ev.Items...)
	}
	return items
}

func (s *Session) clone() *Session {
	out := *s
	if s.State != nil {
		out.State = make(map[string]any, len(s.State))
		for k, v := range s.State {
			out.State[k] = v
		}
	}
	if s.Events != nil {
		out.Events = make([]Event, len(s.Events))
		copy(out.Events, s.Events)
	}
	return &out
}

// Service manages session lifecycle and persistence.
type Service interface {
	// Get retrieves an existing session, or ErrSessionNotFound.
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)

	// Create creates a new session.
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)

	// List returns sessions matching the filter criteria.
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, req *DeleteRequest) error

	// AppendEvent adds an event to the stored history and mirrors it onto
	// the passed session.
	AppendEvent(ctx context.Context, sess *Session, event *Event) error

	// UpdateTurn records the provider turn handle after a completed turn.
	UpdateTurn(ctx context.Context, sess *Session, lastResponseID string) error
}

// GetRequest contains parameters for retrieving a session.
type GetRequest struct {
	AppName   string
	UserID    string
	SessionID string

	// NumRecentEvents limits the history to the N most recent events.
	// Zero means all events.
	NumRecentEvents int
}

// GetResponse contains the retrieved session.
type GetResponse struct {
	Session *Session
}

// CreateRequest contains parameters for creating a session.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string // generated if empty
	State     map[string]any
}

// CreateResponse contains the created session.
type CreateResponse struct {
	Session *Session
}

// ListRequest contains parameters for listing sessions.
type ListRequest struct {
	AppName string
	UserID  string // optional, all users if empty
}

// ListResponse contains the matching sessions, without event history.
type ListResponse struct {
	Sessions []*Session
}

// DeleteRequest contains parameters for deleting a session.
type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// InMemoryService returns an in-memory session service.
// Useful for testing, development, and single-process deployments.
func InMemoryService() Service {
	return &inMemoryService{
		sessions: make(map[string]*Session),
	}
}

type inMemoryService struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

func sessionKey(appName, userID, sessionID string) string {
	return appName + ":" + userID + ":" + sessionID
}

func (s *inMemoryService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[sessionKey(req.AppName, req.UserID, req.SessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}

	sess := stored.clone()
	if n := req.NumRecentEvents; n > 0 && len(sess.Events) > n {
		sess.Events = sess.Events[len(sess.Events)-n:]
	}

	return &GetResponse{Session: sess}, nil
}

func (s *inMemoryService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := time.Now()
	sess := &Session{
		ID:        sessionID,
		AppName:   req.AppName,
		UserID:    req.UserID,
		State:     make(map[string]any, len(req.State)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for k, v := range req.State {
		sess.State[k] = v
	}

	s.sessions[sessionKey(req.AppName, req.UserID, sessionID)] = sess

	return &CreateResponse{Session: sess.clone()}, nil
}

func (s *inMemoryService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*Session
	for _, stored := range s.sessions {
		if stored.AppName != req.AppName {
			continue
		}
		if req.UserID != "" && stored.UserID != req.UserID {
			continue
		}
		sess := stored.clone()
		sess.Events = nil
		sessions = append(sessions, sess)
	}

	return &ListResponse{Sessions: sessions}, nil
}

func (s *inMemoryService) Delete(ctx context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionKey(req.AppName, req.UserID, req.SessionID))
	return nil
}

func (s *inMemoryService) AppendEvent(ctx context.Context, sess *Session, event *Event) error {
	if sess == nil || event == nil {
		return errors.New("session and event are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionKey(sess.AppName, sess.UserID, sess.ID)]
	if !ok {
		return ErrSessionNotFound
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	now := time.Now()
	stored.Events = append(stored.Events, *event)
	stored.UpdatedAt = now

	sess.Events = append(sess.Events, *event)
	sess.UpdatedAt = now

	return nil
}

func (s *inMemoryService) UpdateTurn(ctx context.Context, sess *Session, lastResponseID string) error {
	if sess == nil {
		return errors.New("session is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionKey(sess.AppName, sess.UserID, sess.ID)]
	if !ok {
		return ErrSessionNotFound
	}

	now := time.Now()
	stored.LastResponseID = lastResponseID
	stored.UpdatedAt = now

	sess.LastResponseID = lastResponseID
	sess.UpdatedAt = now

	return nil
}

var _ Service = (*inMemoryService)(nil)
