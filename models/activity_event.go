package models

import (
	"time"
)

// ActivityEvent is one agent activity line reported by the session's sidecar
// (tool use, code execution, errors, commits). Ingest is best-effort; rows
// exist for later inspection and live replay to stream subscribers.
type ActivityEvent struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"index" json:"session_id"`
	Type      string    `gorm:"not null" json:"type"`
	Summary   string    `json:"summary"`
	Detail    *string   `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}
