package workshop

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkessler/caseboard/internal/models"
	"github.com/mkessler/caseboard/internal/storage"
)

const (
	stateStore   = "workshop_state"
	historyStore = "workshop_history"
)

// StartOptions controls how a session opens.
type StartOptions struct {
	EngagementID string
	// Resume reloads the last persisted working state for the topic
	// unchanged. When false, any prior working state is archived to
	// history and cleared first.
	Resume bool
}

// Manager owns the workshop sessions: at most one active session per
// engagement, with working state and an append-only summary history
// persisted in the blob store.
type Manager struct {
	blobs  *storage.Store
	active map[string]*models.WorkshopSession
	log    zerolog.Logger
	now    func() time.Time
}

func NewManager(blobs *storage.Store, log zerolog.Logger) *Manager {
	return &Manager{
		blobs:  blobs,
		active: make(map[string]*models.WorkshopSession),
		log:    log,
		now:    time.Now,
	}
}

func stateKey(engagementID, topicID string) string {
	return engagementID + ":" + topicID
}

func historyKey(engagementID string, at time.Time, sessionID string) string {
	return fmt.Sprintf("%s:%020d:%s", engagementID, at.UnixNano(), sessionID)
}

// Active returns the engagement's active session, or nil.
func (m *Manager) Active(engagementID string) *models.WorkshopSession {
	return m.active[engagementID]
}

// Start opens a session for (engagement, topic). An active session for the
// same engagement is ended first; two sessions are never active at once.
// Unreadable persisted state on resume falls back to a fresh session with
// Recovered set, never an error.
func (m *Manager) Start(topicID, topicName string, opts StartOptions) (*models.WorkshopSession, error) {
	eng := opts.EngagementID

	if m.active[eng] != nil {
		if err := m.End(eng); err != nil {
			return nil, err
		}
	}

	key := stateKey(eng, topicID)

	if opts.Resume {
		if sess, ok := m.loadState(key); ok {
			sess.Status = models.WorkshopActive
			sess.EndedAt = nil
			if err := m.persistState(sess); err != nil {
				return nil, err
			}
			m.active[eng] = sess
			m.log.Info().Str("topic", topicID).Msg("workshop session resumed")
			return sess, nil
		}
		// Missing state starts fresh silently; unreadable state starts
		// fresh and surfaces as recovered.
		recovered := m.stateExists(key)
		if recovered {
			m.log.Warn().Str("topic", topicID).Msg("persisted workshop state unreadable, starting fresh")
			m.blobs.Delete(stateStore, key)
		}
		return m.startFresh(eng, topicID, topicName, recovered)
	}

	if sess, ok := m.loadState(key); ok {
		if err := m.archive(sess); err != nil {
			return nil, err
		}
	}
	if err := m.blobs.Delete(stateStore, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return m.startFresh(eng, topicID, topicName, false)
}

func (m *Manager) startFresh(engagementID, topicID, topicName string, recovered bool) (*models.WorkshopSession, error) {
	sess := &models.WorkshopSession{
		ID:           uuid.New().String(),
		EngagementID: engagementID,
		TopicID:      topicID,
		TopicName:    topicName,
		Status:       models.WorkshopActive,
		StartedAt:    m.now(),
		Recovered:    recovered,
	}
	if err := m.persistState(sess); err != nil {
		return nil, err
	}
	m.active[engagementID] = sess
	m.log.Info().Str("topic", topicID).Msg("workshop session started")
	return sess, nil
}

// End closes the engagement's active session: stamps EndedAt, appends an
// immutable summary to history, and keeps the working state persisted for
// a later resume. Ending with no active session is a no-op.
func (m *Manager) End(engagementID string) error {
	sess := m.active[engagementID]
	if sess == nil {
		return nil
	}

	now := m.now()
	sess.EndedAt = &now
	sess.Status = models.WorkshopEnded

	if err := m.persistState(sess); err != nil {
		return err
	}
	if err := m.appendSummary(sess, now); err != nil {
		return err
	}

	delete(m.active, engagementID)
	m.log.Info().Str("topic", sess.TopicID).Msg("workshop session ended")
	return nil
}

// RecordStat bumps one counter on the engagement's active session. Ignored
// when no session is active; counters never decrease.
func (m *Manager) RecordStat(engagementID string, kind models.StatKind, delta int) {
	sess := m.active[engagementID]
	if sess == nil {
		return
	}
	sess.Stats.Add(kind, delta)
	if err := m.persistState(sess); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist workshop stats")
	}
}

// History returns the engagement's persisted session summaries, most
// recent first. Unreadable records are skipped.
func (m *Manager) History(engagementID string) ([]models.SessionSummary, error) {
	blobs, err := m.blobs.List(historyStore, engagementID+":")
	if err != nil {
		return nil, err
	}

	summaries := make([]models.SessionSummary, 0, len(blobs))
	// Keys embed the end timestamp, so listing order is oldest-first.
	for i := len(blobs) - 1; i >= 0; i-- {
		var s models.SessionSummary
		if err := json.Unmarshal(blobs[i].Value, &s); err != nil {
			m.log.Warn().Str("key", blobs[i].Key).Err(err).Msg("unreadable history record")
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (m *Manager) loadState(key string) (*models.WorkshopSession, bool) {
	data, err := m.blobs.Get(stateStore, key)
	if err != nil {
		return nil, false
	}
	var sess models.WorkshopSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false
	}
	if sess.ID == "" {
		return nil, false
	}
	return &sess, true
}

func (m *Manager) stateExists(key string) bool {
	_, err := m.blobs.Get(stateStore, key)
	return err == nil
}

func (m *Manager) persistState(sess *models.WorkshopSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("workshop: encode state: %w", err)
	}
	return m.blobs.Set(stateStore, stateKey(sess.EngagementID, sess.TopicID), data)
}

// archive writes a summary for working state that is being displaced by a
// fresh start.
func (m *Manager) archive(sess *models.WorkshopSession) error {
	endedAt := m.now()
	if sess.EndedAt != nil {
		endedAt = *sess.EndedAt
	}
	return m.appendSummary(sess, endedAt)
}

func (m *Manager) appendSummary(sess *models.WorkshopSession, endedAt time.Time) error {
	summary := models.SessionSummary{
		SessionID: sess.ID,
		TopicID:   sess.TopicID,
		TopicName: sess.TopicName,
		StartedAt: sess.StartedAt,
		EndedAt:   endedAt,
		Stats:     sess.Stats,
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("workshop: encode summary: %w", err)
	}
	return m.blobs.Set(historyStore, historyKey(sess.EngagementID, m.now(), sess.ID), data)
}
