package models

import "time"

// ResultEntry is one committed agent result: the primary run's output or a
// follow-up answer.
type ResultEntry struct {
	Output      string    `json:"output"`
	ToolBadges  []string  `json:"tool_badges"`
	CompletedAt time.Time `json:"completed_at"`
}

// LedgerEntry is the durable record for one (engagement, task) pair.
// FollowUps is only ever non-empty when Primary is set.
type LedgerEntry struct {
	Primary   *ResultEntry  `json:"primary"`
	FollowUps []ResultEntry `json:"follow_ups"`
}
