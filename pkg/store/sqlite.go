package store

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"github.com/voicebridge-ai/voicebridge/pkg/conversation"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary creates) the database at path and
// bootstraps the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) bootstrap() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS assistants (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			first_message TEXT NOT NULL DEFAULT '',
			voice_id      TEXT NOT NULL DEFAULT '',
			model         TEXT NOT NULL DEFAULT '',
			temperature   REAL NOT NULL DEFAULT 0,
			max_tokens    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS call_records (
			session_id        TEXT PRIMARY KEY,
			assistant_id      TEXT NOT NULL,
			user_id           TEXT NOT NULL DEFAULT '',
			external_call_ref TEXT NOT NULL DEFAULT '',
			started_at        TIMESTAMP NOT NULL,
			ended_at          TIMESTAMP NOT NULL,
			interruptions     INTEGER NOT NULL DEFAULT 0,
			end_reason        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			timestamp  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: bootstrap schema: %w", err)
		}
	}
	return nil
}

// SaveAssistant inserts or replaces an assistant configuration.
func (s *SQLiteStore) SaveAssistant(a conversation.AssistantConfig) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO assistants
			(id, name, system_prompt, first_message, voice_id, model, temperature, max_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.SystemPrompt, a.FirstMessage, a.VoiceID, a.Model, a.Temperature, a.MaxTokens,
	)
	if err != nil {
		return fmt.Errorf("store: save assistant: %w", err)
	}
	return nil
}

// LoadAssistant fetches an assistant by ID.
func (s *SQLiteStore) LoadAssistant(id string) (*conversation.AssistantConfig, error) {
	row := s.db.QueryRow(`
		SELECT id, name, system_prompt, first_message, voice_id, model, temperature, max_tokens
		FROM assistants WHERE id = ?`, id)

	var a conversation.AssistantConfig
	err := row.Scan(&a.ID, &a.Name, &a.SystemPrompt, &a.FirstMessage, &a.VoiceID, &a.Model, &a.Temperature, &a.MaxTokens)
	if err == sql.ErrNoRows {
		return nil, ErrAssistantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load assistant: %w", err)
	}
	return &a, nil
}

// AppendCallRecord writes the session audit row.
func (s *SQLiteStore) AppendCallRecord(record CallRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO call_records
			(session_id, assistant_id, user_id, external_call_ref, started_at, ended_at, interruptions, end_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID, record.AssistantID, record.UserID, record.ExternalCallRef,
		record.StartedAt, record.EndedAt, record.Interruptions, record.EndReason,
	)
	if err != nil {
		return fmt.Errorf("store: append call record: %w", err)
	}
	log.Printf("[Store] Recorded call %s (assistant: %s, interruptions: %d, reason: %s)",
		record.SessionID, record.AssistantID, record.Interruptions, record.EndReason)
	return nil
}

// AppendTranscript writes one transcript line.
func (s *SQLiteStore) AppendTranscript(record TranscriptRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO transcripts (session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?)`,
		record.SessionID, record.Role, record.Content, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("store: append transcript: %w", err)
	}
	return nil
}

// TranscriptsForSession returns a session's persisted transcript, oldest
// first.
func (s *SQLiteStore) TranscriptsForSession(sessionID string) ([]TranscriptRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, role, content, timestamp
		FROM transcripts WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: query transcripts: %w", err)
	}
	defer rows.Close()

	var out []TranscriptRecord
	for rows.Next() {
		var r TranscriptRecord
		if err := rows.Scan(&r.SessionID, &r.Role, &r.Content, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan transcript: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close shuts the database down.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
