package remote

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #endregion imports

// #region store

// SQLStore is the relational form of the remote store: one table per
// category, rows queryable by session.
type SQLStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLStore opens a SQLite database at path and creates the tables.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	s, err := NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLStore creates the category tables on db if needed.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	for _, t := range Tables {
		// Table names come from the fixed Tables list, never from input.
		_, err := s.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL DEFAULT '',
			record_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`, t))
		if err != nil {
			return fmt.Errorf("create %s: %w", t, err)
		}
		_, err = s.db.Exec(fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s(session_id)`, t, t))
		if err != nil {
			return fmt.Errorf("index %s: %w", t, err)
		}
	}
	return nil
}

// Close closes the database if OpenSQLStore opened it.
func (s *SQLStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Insert stores one record.
func (s *SQLStore) Insert(ctx context.Context, table Table, record json.RawMessage) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table %q", table)
	}
	if !json.Valid(record) {
		return fmt.Errorf("record for %s is not valid JSON", table)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (session_id, record_json, created_at) VALUES (?, ?, ?)`, table),
		sessionOf(record), string(record), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// Records returns a session's records from one table in insertion order.
func (s *SQLStore) Records(ctx context.Context, table Table, sessionID string) ([]json.RawMessage, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT record_json FROM %s WHERE session_id = ? ORDER BY id`, table),
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, json.RawMessage(rec))
	}
	return out, rows.Err()
}

// #endregion store
