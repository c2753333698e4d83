package models

import (
	"time"
)

// Session lifecycle states. A session is created active and transitions
// exactly once to completed (explicit release) or expired (timeout sweep).
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionExpired   = "expired"
)

// Session is one user's timed occupancy of a slot. The partial unique index
// on username backs the one-active-session-per-user rule at the store level,
// so two racing claims by the same user cannot both insert an active row.
type Session struct {
	SessionID  string     `gorm:"primaryKey" json:"session_id"`
	Username   string     `gorm:"not null;index;index:idx_sessions_user_active,unique,where:status = 'active'" json:"username"`
	Slot       int        `gorm:"not null;index:idx_sessions_active,where:status = 'active'" json:"slot"`
	StartedAt  time.Time  `gorm:"autoCreateTime" json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	FinalScore *float64   `json:"final_score,omitempty"`
	Status     string     `gorm:"default:active;index" json:"status"`
	SaveLoaded *string    `json:"save_loaded,omitempty"`
	SaveCreated *string   `json:"save_created,omitempty"`
}
