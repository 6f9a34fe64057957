package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no script has the requested ID.
var ErrNotFound = errors.New("script not found")

const schema = `
CREATE TABLE IF NOT EXISTS scripts (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	repetitions INTEGER NOT NULL DEFAULT 1,
	intervalSeconds REAL NOT NULL DEFAULT 0,
	privacyMode INTEGER NOT NULL DEFAULT 0,
	audioPath TEXT,
	audioDuration REAL NOT NULL DEFAULT 0,
	transcribedText TEXT,
	transcriptionLanguage TEXT NOT NULL DEFAULT '',
	createdAt REAL NOT NULL,
	updatedAt REAL NOT NULL
);
`

const columns = `id, text, repetitions, intervalSeconds, privacyMode, audioPath,
	audioDuration, transcribedText, transcriptionLanguage, createdAt, updatedAt`

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path with WAL enabled.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc serializes writes anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts sc, assigning an ID when it has none.
func (s *Store) Create(sc Script) (Script, error) {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	if sc.Repetitions < 1 {
		sc.Repetitions = 1
	}
	now := s.now()
	sc.CreatedAt, sc.UpdatedAt = now, now

	_, err := s.db.Exec(`INSERT INTO scripts (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID.String(), sc.Text, sc.Repetitions, sc.IntervalSeconds, sc.PrivacyMode,
		nullString(sc.AudioPath), sc.AudioDuration, nullString(sc.TranscribedText),
		sc.TranscriptionLanguage, unixFromTime(now), unixFromTime(now))
	if err != nil {
		return Script{}, fmt.Errorf("insert script: %w", err)
	}
	return sc, nil
}

// Get returns the script with the given ID.
func (s *Store) Get(id uuid.UUID) (Script, error) {
	row := s.db.QueryRow(`SELECT `+columns+` FROM scripts WHERE id = ?`, id.String())
	sc, err := scanScript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Script{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sc, err
}

// List returns every script, oldest first.
func (s *Store) List() ([]Script, error) {
	rows, err := s.db.Query(`SELECT ` + columns + ` FROM scripts ORDER BY createdAt ASC`)
	if err != nil {
		return nil, fmt.Errorf("query scripts: %w", err)
	}
	defer rows.Close()

	var out []Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Update rewrites the user-editable fields of sc. Audio and transcript
// columns are owned by the engine and left alone.
func (s *Store) Update(sc Script) error {
	return s.exec(sc.ID, `UPDATE scripts
		SET text = ?, repetitions = ?, intervalSeconds = ?, privacyMode = ?,
			transcriptionLanguage = ?, updatedAt = ?
		WHERE id = ?`,
		sc.Text, max(sc.Repetitions, 1), max(sc.IntervalSeconds, 0), sc.PrivacyMode,
		sc.TranscriptionLanguage, unixFromTime(s.now()), sc.ID.String())
}

// Delete removes the script row.
func (s *Store) Delete(id uuid.UUID) error {
	return s.exec(id, `DELETE FROM scripts WHERE id = ?`, id.String())
}

// UpdateAudio records a new recording for id.
func (s *Store) UpdateAudio(id uuid.UUID, path string, duration float64) error {
	return s.exec(id, `UPDATE scripts SET audioPath = ?, audioDuration = ?, updatedAt = ? WHERE id = ?`,
		path, duration, unixFromTime(s.now()), id.String())
}

// UpdateTranscript stores the recognized text. A nil text clears it.
func (s *Store) UpdateTranscript(id uuid.UUID, text *string) error {
	return s.exec(id, `UPDATE scripts SET transcribedText = ?, updatedAt = ? WHERE id = ?`,
		nullString(text), unixFromTime(s.now()), id.String())
}

// ClearAudio forgets the recording: no path, zero duration, no transcript.
func (s *Store) ClearAudio(id uuid.UUID) error {
	return s.exec(id, `UPDATE scripts
		SET audioPath = NULL, audioDuration = 0, transcribedText = NULL, updatedAt = ?
		WHERE id = ?`,
		unixFromTime(s.now()), id.String())
}

func (s *Store) exec(id uuid.UUID, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update script %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update script %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScript(row scanner) (Script, error) {
	var sc Script
	var id string
	var audioPath, transcript sql.NullString
	var createdAt, updatedAt float64

	if err := row.Scan(&id, &sc.Text, &sc.Repetitions, &sc.IntervalSeconds, &sc.PrivacyMode,
		&audioPath, &sc.AudioDuration, &transcript, &sc.TranscriptionLanguage,
		&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Script{}, err
		}
		return Script{}, fmt.Errorf("scan script: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return Script{}, fmt.Errorf("scan script: bad id %q: %w", id, err)
	}
	sc.ID = parsed
	if audioPath.Valid {
		sc.AudioPath = &audioPath.String
	}
	if transcript.Valid {
		sc.TranscribedText = &transcript.String
	}
	sc.CreatedAt = timeFromUnix(createdAt)
	sc.UpdatedAt = timeFromUnix(updatedAt)
	return sc, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
