package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mkessler/caseboard/internal/models"
	"github.com/mkessler/caseboard/internal/storage"
)

const storeName = "ledger"

// ErrNotFound means the task never ran. Callers must not treat it as a
// failure.
var ErrNotFound = errors.New("ledger: not found")

// Key builds the ledger key for an (engagement, task) pair.
func Key(engagementID, taskID string) string {
	return engagementID + ":" + taskID
}

// Store is the durable record of each task's primary result and chained
// follow-ups, shared across surfaces and isolated per key.
type Store struct {
	blobs *storage.Store
	log   zerolog.Logger
}

func New(blobs *storage.Store, log zerolog.Logger) *Store {
	return &Store{blobs: blobs, log: log}
}

// Get returns the ledger entry for key, or ErrNotFound if the task never
// ran.
func (s *Store) Get(key string) (models.LedgerEntry, error) {
	data, err := s.blobs.Get(storeName, key)
	if errors.Is(err, storage.ErrNotFound) {
		return models.LedgerEntry{}, ErrNotFound
	}
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("ledger: get %s: %w", key, err)
	}

	var entry models.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("unreadable ledger entry")
		return models.LedgerEntry{}, ErrNotFound
	}
	return entry, nil
}

// SavePrimary unconditionally replaces the entry for key with the given
// primary result and an empty follow-up chain.
func (s *Store) SavePrimary(key string, entry models.ResultEntry) error {
	return s.put(key, models.LedgerEntry{Primary: &entry, FollowUps: []models.ResultEntry{}})
}

// AppendFollowUp appends a follow-up result. It is a no-op when no primary
// entry exists: an agent cannot answer a follow-up about a task that never
// ran.
func (s *Store) AppendFollowUp(key string, entry models.ResultEntry) error {
	existing, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		s.log.Debug().Str("key", key).Msg("follow-up without primary ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Primary == nil {
		return nil
	}

	existing.FollowUps = append(existing.FollowUps, entry)
	return s.put(key, existing)
}

// Clear removes the entire entry, primary and follow-ups atomically. Used
// before a full re-run.
func (s *Store) Clear(key string) error {
	err := s.blobs.Delete(storeName, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) put(key string, entry models.LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ledger: encode %s: %w", key, err)
	}
	return s.blobs.Set(storeName, key, data)
}
