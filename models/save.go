package models

import (
	"time"
)

// Save is keyed by (username, save_name); saving again under the same name
// refreshes last_played and score and accumulates playtime.
type Save struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	Username        string    `gorm:"uniqueIndex:idx_user_save;not null" json:"username"`
	SaveName        string    `gorm:"uniqueIndex:idx_user_save;not null" json:"save_name"`
	FilePath        string    `gorm:"not null" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	LastPlayed      time.Time `json:"last_played"`
	ScoreAtSave     float64   `gorm:"default:0" json:"score_at_save"`
	PlaytimeSeconds int64     `gorm:"default:0" json:"playtime_seconds"`
}
