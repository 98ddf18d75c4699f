package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Session is one finished translation session.
type Session struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	InputLang       string     `json:"input_lang"`
	OutputLang      string     `json:"output_lang"`
	Summary         string     `json:"summary"`
	RecordingPath   string     `json:"recording_path"`
}

// Line is one committed utterance with its translation.
type Line struct {
	Original    string    `json:"original"`
	Translation string    `json:"translation"`
	Trigger     string    `json:"trigger"`
	CommittedAt time.Time `json:"committed_at"`
}

// Store persists session results to a local sqlite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the history database.
func NewStore(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "translator.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			input_lang TEXT NOT NULL DEFAULT 'auto',
			output_lang TEXT NOT NULL DEFAULT 'ja',
			summary TEXT NOT NULL DEFAULT '',
			recording_path TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			original TEXT NOT NULL,
			translation TEXT NOT NULL DEFAULT '',
			trigger_kind TEXT NOT NULL DEFAULT '',
			committed_at TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create lines table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_lines_session_id ON lines(session_id, id)"); err != nil {
		return fmt.Errorf("create lines index: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes a finished session and its lines in one transaction.
func (s *Store) Save(sess Session, lines []Line) error {
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("session id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := tx.Exec(
		`INSERT INTO sessions(id, title, started_at, ended_at, duration_seconds, input_lang, output_lang, summary, recording_path)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.Title,
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		endedAt,
		sess.DurationSeconds,
		sess.InputLang,
		sess.OutputLang,
		sess.Summary,
		sess.RecordingPath,
	); err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}

	for _, line := range lines {
		if _, err := tx.Exec(
			`INSERT INTO lines(session_id, original, translation, trigger_kind, committed_at) VALUES(?, ?, ?, ?, ?)`,
			sess.ID,
			strings.TrimSpace(line.Original),
			line.Translation,
			line.Trigger,
			line.CommittedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert line for session %s: %w", sess.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save for session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateSummary replaces the summary of a saved session.
func (s *Store) UpdateSummary(sessionID, summary string) error {
	res, err := s.db.Exec(`UPDATE sessions SET summary = ? WHERE id = ?`, summary, sessionID)
	if err != nil {
		return fmt.Errorf("update summary for session %s: %w", sessionID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update summary rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns saved sessions, newest first.
func (s *Store) List(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, title, started_at, ended_at, duration_seconds, input_lang, output_lang, summary, recording_path
		 FROM sessions
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}
	return sessions, nil
}

// Get returns one session with its lines.
func (s *Store) Get(id string) (Session, []Line, error) {
	row := s.db.QueryRow(
		`SELECT id, title, started_at, ended_at, duration_seconds, input_lang, output_lang, summary, recording_path
		 FROM sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, nil, fmt.Errorf("query session %s: %w", id, err)
	}

	rows, err := s.db.Query(
		`SELECT original, translation, trigger_kind, committed_at FROM lines WHERE session_id = ? ORDER BY id ASC`,
		id,
	)
	if err != nil {
		return Session{}, nil, fmt.Errorf("query lines for session %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	lines := make([]Line, 0, 32)
	for rows.Next() {
		var line Line
		var ts string
		if err := rows.Scan(&line.Original, &line.Translation, &line.Trigger, &ts); err != nil {
			return Session{}, nil, fmt.Errorf("scan line for session %s: %w", id, err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Session{}, nil, fmt.Errorf("parse line timestamp for session %s: %w", id, err)
		}
		line.CommittedAt = parsed
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return Session{}, nil, fmt.Errorf("iterate line rows for session %s: %w", id, err)
	}
	return sess, lines, nil
}

// DeleteOlderThan removes sessions whose start predates the cutoff,
// cascading to their lines. Returns the number of sessions removed.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM sessions WHERE started_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old sessions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old sessions rows affected: %w", err)
	}
	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(
		&sess.ID, &sess.Title, &startedAt, &endedAt, &sess.DurationSeconds,
		&sess.InputLang, &sess.OutputLang, &sess.Summary, &sess.RecordingPath,
	); err != nil {
		return Session{}, err
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Session{}, fmt.Errorf("parse started_at: %w", err)
	}
	sess.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parse ended_at: %w", err)
		}
		sess.EndedAt = &parsedEnd
	}
	return sess, nil
}
