package models

import (
	"time"

	"gorm.io/datatypes"
)

// ScoreSample is an append-only score history row, written by the score
// collector for active sessions only.
type ScoreSample struct {
	ID            uint           `gorm:"primaryKey" json:"-"`
	Username      string         `gorm:"index" json:"username"`
	SessionID     string         `gorm:"index:idx_score_samples_session" json:"session_id"`
	RecordedAt    time.Time      `gorm:"autoCreateTime" json:"recorded_at"`
	Score         float64        `json:"score"`
	ItemsProduced datatypes.JSON `json:"items_produced,omitempty"`
}
