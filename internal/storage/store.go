package storage

import (
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no blob exists for a key.
var ErrNotFound = errors.New("storage: not found")

// Store is a durable key-value blob store addressed by a store name plus a
// key. It backs the analysis ledger, workshop history and workshop working
// state.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		store TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (store, key)
	);

	CREATE INDEX IF NOT EXISTS idx_blobs_store ON blobs(store);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Get(store, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM blobs WHERE store = ? AND key = ?`, store, key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Set(store, key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO blobs (store, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(store, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		store, key, value,
	)
	return err
}

func (s *Store) Delete(store, key string) error {
	result, err := s.db.Exec(`DELETE FROM blobs WHERE store = ? AND key = ?`, store, key)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Blob is one key-value pair returned by List.
type Blob struct {
	Key   string
	Value []byte
}

// List returns all blobs in a store whose key starts with prefix, ordered
// by key ascending.
func (s *Store) List(store, prefix string) ([]Blob, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM blobs WHERE store = ? AND key LIKE ? || '%' ORDER BY key`,
		store, prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blobs []Blob
	for rows.Next() {
		var b Blob
		if err := rows.Scan(&b.Key, &b.Value); err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}

	return blobs, rows.Err()
}
