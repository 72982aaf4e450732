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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrStaleSession is returned when appending to a session that has been
// modified elsewhere since it was loaded.
var ErrStaleSession = errors.New("stale session: modified since it was loaded")

// SQLService implements Service on a SQL database.
// Concurrency is handled by database-level locking, not Go mutexes.
type SQLService struct {
	db      *sql.DB
	dialect string
}

const createSessionsSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    last_response_id VARCHAR(255),
    state_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, id)
)`

const createSessionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(app_name, user_id)`

const createEventsSQL = `
CREATE TABLE IF NOT EXISTS session_events (
    id VARCHAR(255) NOT NULL,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    author VARCHAR(255),
    items_json TEXT,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, id)
)`

const createEventsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(app_name, user_id, session_id, sequence_num)`

// Open opens a database connection and builds a SQL session service on it.
// Supported drivers: sqlite3, mysql, postgres.
func Open(driver, dsn string) (*SQLService, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	svc, err := NewSQLService(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

// NewSQLService creates a SQL session service on an existing connection.
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite", "sqlite3":
		if dialect == "sqlite3" {
			dialect = "sqlite"
		}
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the required tables if they don't exist.
// Statements execute one at a time for SQLite compatibility.
func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		createSessionsSQL,
		createSessionsIndexSQL,
		createEventsSQL,
		createEventsIndexSQL,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLService) Close() error {
	return s.db.Close()
}

func (s *SQLService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	sess, err := s.getSession(ctx, req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.getEvents(ctx, req.AppName, req.UserID, req.SessionID, req.NumRecentEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	sess.Events = events

	return &GetResponse{Session: sess}, nil
}

func (s *SQLService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	state := req.State
	if state == nil {
		state = make(map[string]any)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	now := time.Now()
	query := s.placeholders(`INSERT INTO sessions (app_name, user_id, id, last_response_id, state_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		req.AppName, req.UserID, sessionID, "", string(stateJSON), now, now); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sess := &Session{
		ID:        sessionID,
		AppName:   req.AppName,
		UserID:    req.UserID,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return &CreateResponse{Session: sess}, nil
}

func (s *SQLService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	query := `SELECT app_name, user_id, id, last_response_id, state_json, created_at, updated_at
        FROM sessions WHERE app_name = ?`
	args := []any{req.AppName}

	if req.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, req.UserID)
	}

	rows, err := s.db.QueryContext(ctx, s.placeholders(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return &ListResponse{Sessions: sessions}, nil
}

func (s *SQLService) Delete(ctx context.Context, req *DeleteRequest) error {
	eventQuery := s.placeholders(`DELETE FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`)
	if _, err := s.db.ExecContext(ctx, eventQuery, req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	query := s.placeholders(`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)
	if _, err := s.db.ExecContext(ctx, query, req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// AppendEvent persists an event atomically and mirrors it onto the passed
// session. A staleness check detects sessions modified by another process
// since they were loaded.
func (s *SQLService) AppendEvent(ctx context.Context, sess *Session, event *Event) error {
	if sess == nil || event == nil {
		return errors.New("session and event are required")
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	itemsJSON, err := json.Marshal(event.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal event items: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Staleness check at second precision. SQLite stores timestamps as text
	// and can lose sub-second precision, so exact comparison would produce
	// false positives.
	dbUpdatedAt, err := s.getUpdatedAtTx(ctx, tx, sess.AppName, sess.UserID, sess.ID)
	if err != nil {
		return err
	}
	if dbUpdatedAt.Unix() > sess.UpdatedAt.Unix()+1 {
		return fmt.Errorf("%w: db=%s, local=%s", ErrStaleSession,
			dbUpdatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339))
	}

	seqNum, err := s.nextSequenceNumTx(ctx, tx, sess.AppName, sess.UserID, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	insertQuery := s.placeholders(`INSERT INTO session_events (id, app_name, user_id, session_id, author, items_json, sequence_num, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQuery,
		event.ID, sess.AppName, sess.UserID, sess.ID,
		event.Author, string(itemsJSON), seqNum, event.Timestamp); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	now := time.Now()
	touchQuery := s.placeholders(`UPDATE sessions SET updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`)
	if _, err := tx.ExecContext(ctx, touchQuery, now, sess.AppName, sess.UserID, sess.ID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	sess.Events = append(sess.Events, *event)
	sess.UpdatedAt = now

	return nil
}

func (s *SQLService) UpdateTurn(ctx context.Context, sess *Session, lastResponseID string) error {
	if sess == nil {
		return errors.New("session is required")
	}

	now := time.Now()
	query := s.placeholders(`UPDATE sessions SET last_response_id = ?, updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`)
	res, err := s.db.ExecContext(ctx, query, lastResponseID, now, sess.AppName, sess.UserID, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update turn: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}

	sess.LastResponseID = lastResponseID
	sess.UpdatedAt = now

	return nil
}

func (s *SQLService) getSession(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	query := s.placeholders(`SELECT app_name, user_id, id, last_response_id, state_json, created_at, updated_at
        FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)

	row := s.db.QueryRowContext(ctx, query, appName, userID, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// getEvents loads events in chronological order. With numRecent > 0 a subquery
// picks the N most recent rows without loading the rest.
func (s *SQLService) getEvents(ctx context.Context, appName, userID, sessionID string, numRecent int) ([]Event, error) {
	const cols = `id, author, items_json, created_at`

	var query string
	args := []any{appName, userID, sessionID}

	if numRecent > 0 {
		query = `SELECT ` + cols + ` FROM (
            SELECT ` + cols + `, sequence_num FROM session_events
            WHERE app_name = ? AND user_id = ? AND session_id = ?
            ORDER BY sequence_num DESC LIMIT ?
        ) sub ORDER BY sequence_num ASC`
		args = append(args, numRecent)
	} else {
		query = `SELECT ` + cols + ` FROM session_events
            WHERE app_name = ? AND user_id = ? AND session_id = ?
            ORDER BY sequence_num ASC`
	}

	rows, err := s.db.QueryContext(ctx, s.placeholders(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var itemsJSON string
		if err := rows.Scan(&ev.ID, &ev.Author, &itemsJSON, &ev.Timestamp); err != nil {
			return nil, err
		}
		if itemsJSON != "" {
			if err := json.Unmarshal([]byte(itemsJSON), &ev.Items); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event items: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLService) getUpdatedAtTx(ctx context.Context, tx *sql.Tx, appName, userID, sessionID string) (time.Time, error) {
	query := s.placeholders(`SELECT updated_at FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)

	var updatedAt time.Time
	err := tx.QueryRowContext(ctx, query, appName, userID, sessionID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrSessionNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to check session staleness: %w", err)
	}
	return updatedAt, nil
}

func (s *SQLService) nextSequenceNumTx(ctx context.Context, tx *sql.Tx, appName, userID, sessionID string) (int, error) {
	query := s.placeholders(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_events
        WHERE app_name = ? AND user_id = ? AND session_id = ?`)

	var seqNum int
	if err := tx.QueryRowContext(ctx, query, appName, userID, sessionID).Scan(&seqNum); err != nil {
		return 0, err
	}
	return seqNum, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var lastResponseID sql.NullString
	var stateJSON string

	if err := row.Scan(&sess.AppName, &sess.UserID, &sess.ID,
		&lastResponseID, &stateJSON, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}

	sess.LastResponseID = lastResponseID.String
	sess.State = make(map[string]any)
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &sess.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
	}

	return &sess, nil
}

// placeholders rewrites ? markers to $1, $2, ... for postgres.
func (s *SQLService) placeholders(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 20)
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", paramNum)
			paramNum++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

var _ Service = (*SQLService)(nil)
