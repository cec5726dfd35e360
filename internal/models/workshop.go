package models

import "time"

type WorkshopStatus string

const (
	WorkshopActive WorkshopStatus = "active"
	WorkshopEnded  WorkshopStatus = "ended"
)

// StatKind names one workshop counter.
type StatKind string

const (
	StatNewItems      StatKind = "new_items"
	StatModifiedItems StatKind = "modified_items"
	StatNewNodes      StatKind = "new_nodes"
	StatPlacedNodes   StatKind = "placed_nodes"
	StatGapsFlagged   StatKind = "gaps_flagged"
	StatDeletedNodes  StatKind = "deleted_nodes"
)

// WorkshopStats holds the cumulative counters for one session. Counters
// never decrease while the session is active.
type WorkshopStats struct {
	NewItems      int `json:"new_items"`
	ModifiedItems int `json:"modified_items"`
	NewNodes      int `json:"new_nodes"`
	PlacedNodes   int `json:"placed_nodes"`
	GapsFlagged   int `json:"gaps_flagged"`
	DeletedNodes  int `json:"deleted_nodes"`
}

// Add bumps the counter named by kind. Unknown kinds and non-positive
// deltas are ignored.
func (s *WorkshopStats) Add(kind StatKind, delta int) {
	if delta <= 0 {
		return
	}
	switch kind {
	case StatNewItems:
		s.NewItems += delta
	case StatModifiedItems:
		s.ModifiedItems += delta
	case StatNewNodes:
		s.NewNodes += delta
	case StatPlacedNodes:
		s.PlacedNodes += delta
	case StatGapsFlagged:
		s.GapsFlagged += delta
	case StatDeletedNodes:
		s.DeletedNodes += delta
	}
}

// WorkshopSession is a resumable working session scoped to
// (engagement, topic).
type WorkshopSession struct {
	ID           string         `json:"id"`
	EngagementID string         `json:"engagement_id"`
	TopicID      string         `json:"topic_id"`
	TopicName    string         `json:"topic_name"`
	Status       WorkshopStatus `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Stats        WorkshopStats  `json:"stats"`

	// Recovered is set when persisted state was unreadable and the session
	// fell back to a fresh start. Not persisted.
	Recovered bool `json:"-"`
}

// SessionSummary is the immutable history record written when a session
// ends or is archived.
type SessionSummary struct {
	SessionID string        `json:"session_id"`
	TopicID   string        `json:"topic_id"`
	TopicName string        `json:"topic_name"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Stats     WorkshopStats `json:"stats"`
}
