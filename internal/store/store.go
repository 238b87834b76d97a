// Package store persists processed practice attempts in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound is returned when an attempt id is unknown.
var ErrNotFound = errors.New("attempt not found")

// Store wraps SQLite access for attempts.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite 只允许一个写连接
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			question_id TEXT NOT NULL,
			state TEXT NOT NULL,
			duration_s INTEGER NOT NULL,
			mime_type TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			overall_score REAL NOT NULL,
			transcription TEXT NOT NULL,
			analysis TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_question ON attempts(question_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON attempts(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertAttempt stores one processed attempt.
func (s *Store) InsertAttempt(ctx context.Context, a practice.Attempt) error {
	transcription, err := json.Marshal(a.Transcription)
	if err != nil {
		return fmt.Errorf("encode transcription: %w", err)
	}
	analysis, err := json.Marshal(a.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	succeeded := 0
	if a.Succeeded {
		succeeded = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, session_id, question_id, state, duration_s, mime_type, succeeded, overall_score, transcription, analysis, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.SessionID,
		a.QuestionID,
		string(a.State),
		a.Duration,
		a.MIMEType,
		succeeded,
		a.Analysis.OverallScore,
		string(transcription),
		string(analysis),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the most recent attempts first. An empty questionID
// lists every question; limit <= 0 means 50.
func (s *Store) ListAttempts(ctx context.Context, questionID string, limit int) ([]practice.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, session_id, question_id, state, duration_s, mime_type, succeeded, transcription, analysis, created_at
		FROM attempts`
	args := []any{}
	if questionID != "" {
		query += ` WHERE question_id = ?`
		args = append(args, questionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]practice.Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// GetAttempt loads one attempt by id.
func (s *Store) GetAttempt(ctx context.Context, id string) (practice.Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, question_id, state, duration_s, mime_type, succeeded, transcription, analysis, created_at
		 FROM attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return practice.Attempt{}, ErrNotFound
	}
	return a, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (practice.Attempt, error) {
	var (
		a             practice.Attempt
		state         string
		succeeded     int
		transcription string
		analysis      string
		createdAt     string
	)
	if err := row.Scan(&a.ID, &a.SessionID, &a.QuestionID, &state, &a.Duration, &a.MIMEType, &succeeded, &transcription, &analysis, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return practice.Attempt{}, err
		}
		return practice.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.State = practice.RecordingState(state)
	a.Succeeded = succeeded != 0
	if err := json.Unmarshal([]byte(transcription), &a.Transcription); err != nil {
		return practice.Attempt{}, fmt.Errorf("decode transcription of %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(analysis), &a.Analysis); err != nil {
		return practice.Attempt{}, fmt.Errorf("decode analysis of %s: %w", a.ID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return practice.Attempt{}, fmt.Errorf("parse created_at of %s: %w", a.ID, err)
	}
	a.CreatedAt = ts
	return a, nil
}
