package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "proctor/pkg/database"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// Manager implements interfaces.SessionStore on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine. Schema
// migrations are applied separately through pkg/database.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	// ARCHITECTURAL DISCOVERY: Import SQLite driver through connection string options
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Dashboards read concurrently while the frame
	// loop and archiver write through the single writer
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   time.Second,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Only lock contention is worth a retry;
			// constraint violations fail the same way twice
			err := op.operation(m.db)
			if err != nil && isBusy(err) {
				log.Printf("Database busy, retrying in %v: %v", m.retryDelay, err)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	timeout := m.config.WriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(timeout):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// RecordSessionStart inserts a new exam session
func (m *Manager) RecordSessionStart(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO exam_sessions (id, username, start_time, budget_seconds, status)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			session.ID,
			session.Username,
			session.StartTime,
			session.BudgetSeconds(),
			session.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// RecordSessionEnd stores the terminal fields of a session
func (m *Manager) RecordSessionEnd(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE exam_sessions
			SET end_time = ?, status = ?, end_reason = ?
			WHERE id = ?
		`
		res, err := db.ExecContext(ctx, query,
			session.EndTime,
			session.Status,
			session.EndReason,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

const sessionColumns = `id, username, start_time, budget_seconds, end_time, status, end_reason`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var budget int64
	var endTime sql.NullTime
	var endReason sql.NullString

	err := row.Scan(
		&session.ID,
		&session.Username,
		&session.StartTime,
		&budget,
		&endTime,
		&session.Status,
		&endReason,
	)
	if err != nil {
		return nil, err
	}

	session.Budget = time.Duration(budget) * time.Second
	if endTime.Valid {
		session.EndTime = &endTime.Time
	}
	session.EndReason = endReason.String
	return &session, nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM exam_sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// ListSessions returns the latest sessions of a user, newest first. An
// empty username lists every user.
func (m *Manager) ListSessions(ctx context.Context, username string, limit int) ([]*types.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + ` FROM exam_sessions
		WHERE (? = '' OR username = ?)
		ORDER BY start_time DESC
		LIMIT ?`

	rows, err := m.db.QueryContext(ctx, query, username, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// RecordClip stores metadata for a written clip
func (m *Manager) RecordClip(ctx context.Context, clip *types.ClipRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		// TECHNICAL DISCOVERY: JSON serialization for flags keeps the clip row flat
		flags := clip.Flags
		if flags == nil {
			flags = []types.Flag{}
		}
		flagsJSON, err := json.Marshal(flags)
		if err != nil {
			return fmt.Errorf("failed to marshal clip flags: %w", err)
		}

		query := `
			INSERT INTO clips (id, session_id, username, filename, path, duration_seconds, frames, flags, forced, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			clip.ID,
			nullString(clip.SessionID),
			clip.Username,
			clip.Filename,
			clip.Path,
			clip.DurationSeconds,
			clip.Frames,
			string(flagsJSON),
			clip.Forced,
			clip.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert clip: %w", err)
		}
		return nil
	})
}

// ListClips returns clip metadata, newest first, optionally for one user
func (m *Manager) ListClips(ctx context.Context, username string) ([]*types.ClipRecord, error) {
	query := `
		SELECT id, session_id, username, filename, path, duration_seconds, frames, flags, forced, created_at
		FROM clips
		WHERE (? = '' OR username = ?)
		ORDER BY created_at DESC
	`
	rows, err := m.db.QueryContext(ctx, query, username, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clips []*types.ClipRecord
	for rows.Next() {
		var clip types.ClipRecord
		var sessionID sql.NullString
		var flagsJSON string

		err := rows.Scan(
			&clip.ID,
			&sessionID,
			&clip.Username,
			&clip.Filename,
			&clip.Path,
			&clip.DurationSeconds,
			&clip.Frames,
			&flagsJSON,
			&clip.Forced,
			&clip.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip row: %w", err)
		}
		clip.SessionID = sessionID.String
		if err := json.Unmarshal([]byte(flagsJSON), &clip.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal clip flags: %w", err)
		}
		clips = append(clips, &clip)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clip rows: %w", err)
	}
	return clips, nil
}

// DeleteClip removes the metadata row of a clip file
func (m *Manager) DeleteClip(ctx context.Context, filename string) error {
	return m.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM clips WHERE filename = ?`, filename); err != nil {
			return fmt.Errorf("failed to delete clip: %w", err)
		}
		return nil
	})
}

// RecordEvent appends an audit event
func (m *Manager) RecordEvent(ctx context.Context, event *types.Event) error {
	return m.executeWrite(func(db *sql.DB) error {
		payload := event.Payload
		if payload == nil {
			payload = map[string]interface{}{}
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}

		query := `
			INSERT INTO proctor_events (id, session_id, type, username, payload, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			event.ID,
			nullString(event.SessionID),
			event.Type,
			event.Username,
			string(payloadJSON),
			event.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		return nil
	})
}

// ListEvents returns the latest events of a user in chronological order
func (m *Manager) ListEvents(ctx context.Context, username string, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	// FUNCTIONAL DISCOVERY: Select the newest rows, then present them oldest first
	query := `
		SELECT id, session_id, type, username, payload, timestamp
		FROM proctor_events
		WHERE (? = '' OR username = ?)
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, query, username, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var event types.Event
		var sessionID sql.NullString
		var payloadJSON string

		if err := rows.Scan(&event.ID, &sessionID, &event.Type, &event.Username, &payloadJSON, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		event.SessionID = sessionID.String
		if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		events = append(events, &event)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exam_sessions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000", // 16MB: one station, small tables
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
