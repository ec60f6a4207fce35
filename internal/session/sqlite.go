package session

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// schema holds the turn log. One row per turn, ordered by rowid within a
// session.
const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	query TEXT NOT NULL,
	brain_used TEXT NOT NULL,
	response TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id DESC);
`

// SQLiteStore is the persistent Store for callers whose sessions must
// outlive the process. Same contract as MemoryStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the session database at path and runs the
// migration.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}

	log.Info().Str("path", path).Msg("session store opened")
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append records a turn.
func (s *SQLiteStore) Append(sessionID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO turns (session_id, query, brain_used, response, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, turn.Query, turn.BrainUsed, turn.Response, turn.Confidence, turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// History returns budget-bounded history, oldest first.
func (s *SQLiteStore) History(sessionID string, tokenBudget int) ([]Turn, error) {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}

	// MaxConsidered bounds the scan; the budget walk below bounds the result.
	rows, err := s.db.Query(
		`SELECT query, brain_used, response, confidence, created_at
		 FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, MaxConsidered,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var newestFirst []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Query, &t.BrainUsed, &t.Response, &t.Confidence, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		newestFirst = append(newestFirst, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	// Reverse into chronological order, then apply the budget walk.
	chronological := make([]Turn, len(newestFirst))
	for i, t := range newestFirst {
		chronological[len(newestFirst)-1-i] = t
	}
	return selectWithinBudget(chronological, tokenBudget), nil
}

// Trim drops all but the newest max turns of a session.
func (s *SQLiteStore) Trim(sessionID string, max int) error {
	_, err := s.db.Exec(
		`DELETE FROM turns WHERE session_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`,
		sessionID, sessionID, max,
	)
	if err != nil {
		return fmt.Errorf("trim session: %w", err)
	}
	return nil
}
