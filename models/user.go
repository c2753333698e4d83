package models

import (
	"time"
)

// User is created lazily on a player's first claim. BestScore only ever
// moves up; playtime accumulates across sessions.
type User struct {
	Username             string    `gorm:"primaryKey" json:"username"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	BestScore            float64   `gorm:"default:0;index:idx_users_score,sort:desc" json:"best_score"`
	TotalPlaytimeSeconds int64     `gorm:"default:0" json:"total_playtime_seconds"`
}
