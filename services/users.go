package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"game-session-broker/config"
	"game-session-broker/models"
)

// UserService serves the read-only aggregates: leaderboard, user profiles,
// save listings and overall system status.
type UserService struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewUserService(db *gorm.DB, cfg *config.Config) *UserService {
	return &UserService{DB: db, Cfg: cfg}
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank               int        `json:"rank" gorm:"-"`
	Username           string     `json:"username"`
	BestScore          float64    `json:"best_score"`
	TotalPlaytimeHours float64    `json:"total_playtime_hours" gorm:"-"`
	SessionsPlayed     int64      `json:"sessions_played" gorm:"column:sessions_played"`
	LastPlayed         *time.Time `json:"last_played,omitempty" gorm:"column:last_played"`
	BestSessionID      *string    `json:"best_session_id,omitempty" gorm:"column:best_session_id"`

	TotalPlaytimeSeconds int64 `json:"-" gorm:"column:total_playtime_seconds"`
}

// Leaderboard returns the top players by best score.
func (s *UserService) Leaderboard(limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var entries []LeaderboardEntry
	err := s.DB.Raw(`
		SELECT
			u.username,
			u.best_score,
			u.total_playtime_seconds,
			COUNT(s.session_id) AS sessions_played,
			MAX(s.started_at) AS last_played,
			(SELECT session_id FROM sessions
			 WHERE username = u.username AND final_score = u.best_score
			 ORDER BY ended_at DESC LIMIT 1) AS best_session_id
		FROM users u
		LEFT JOIN sessions s ON s.username = u.username
		WHERE u.best_score > 0
		GROUP BY u.username, u.best_score, u.total_playtime_seconds
		ORDER BY u.best_score DESC
		LIMIT ?
	`, limit).Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("leaderboard query failed: %w", err)
	}

	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].TotalPlaytimeHours = float64(entries[i].TotalPlaytimeSeconds) / 3600
	}
	return entries, nil
}

// UserProfile is a user's stats page.
type UserProfile struct {
	Username           string     `json:"username"`
	CreatedAt          time.Time  `json:"created_at"`
	BestScore          float64    `json:"best_score"`
	TotalPlaytimeHours float64    `json:"total_playtime_hours"`
	TotalSessions      int64      `json:"total_sessions"`
	LastSession        *time.Time `json:"last_session,omitempty"`
	Rank               *int64     `json:"rank,omitempty"`
}

// Profile returns one user's aggregates and rank.
func (s *UserService) Profile(username string) (*UserProfile, error) {
	var user models.User
	err := s.DB.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	profile := &UserProfile{
		Username:           user.Username,
		CreatedAt:          user.CreatedAt,
		BestScore:          user.BestScore,
		TotalPlaytimeHours: float64(user.TotalPlaytimeSeconds) / 3600,
	}

	s.DB.Model(&models.Session{}).Where("username = ?", username).Count(&profile.TotalSessions)

	var last models.Session
	if err := s.DB.Where("username = ?", username).Order("started_at DESC").First(&last).Error; err == nil {
		profile.LastSession = &last.StartedAt
	}

	if user.BestScore > 0 {
		var ahead int64
		s.DB.Model(&models.User{}).Where("best_score > ?", user.BestScore).Count(&ahead)
		rank := ahead + 1
		profile.Rank = &rank
	}
	return profile, nil
}

// UserSaveView is one row of a user's save listing.
type UserSaveView struct {
	SaveName      string    `json:"save_name"`
	CreatedAt     time.Time `json:"created_at"`
	LastPlayed    time.Time `json:"last_played"`
	ScoreAtSave   float64   `json:"score_at_save"`
	PlaytimeHours float64   `json:"playtime_hours"`
}

// Saves lists a user's saves, most recently played first.
func (s *UserService) Saves(username string) ([]UserSaveView, error) {
	var user models.User
	err := s.DB.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var saves []models.Save
	if err := s.DB.Where("username = ?", username).Order("last_played DESC").Find(&saves).Error; err != nil {
		return nil, err
	}

	views := make([]UserSaveView, 0, len(saves))
	for _, save := range saves {
		views = append(views, UserSaveView{
			SaveName:      save.SaveName,
			CreatedAt:     save.CreatedAt,
			LastPlayed:    save.LastPlayed,
			ScoreAtSave:   save.ScoreAtSave,
			PlaytimeHours: float64(save.PlaytimeSeconds) / 3600,
		})
	}
	return views, nil
}

// SystemStatus is the monitoring view of the pool.
type SystemStatus struct {
	TotalSlots     int                      `json:"total_slots"`
	AvailableSlots int                      `json:"available_slots"`
	ActiveSessions []map[string]interface{} `json:"active_sessions"`
	TotalUsers     int64                    `json:"total_users"`
	TotalSessions  int64                    `json:"total_sessions_all_time"`
}

// Status reports slot availability and active sessions.
func (s *UserService) Status() (*SystemStatus, error) {
	var active []models.Session
	if err := s.DB.Where("status = ?", models.SessionActive).Find(&active).Error; err != nil {
		return nil, err
	}

	status := &SystemStatus{
		TotalSlots:     s.Cfg.TotalSlots,
		AvailableSlots: s.Cfg.TotalSlots - len(active),
		ActiveSessions: make([]map[string]interface{}, 0, len(active)),
	}
	for _, session := range active {
		status.ActiveSessions = append(status.ActiveSessions, map[string]interface{}{
			"session_id": session.SessionID,
			"username":   session.Username,
			"slot":       session.Slot,
			"started_at": session.StartedAt,
			"stream_url": s.Cfg.StreamURL(session.Slot),
		})
	}

	s.DB.Model(&models.User{}).Count(&status.TotalUsers)
	s.DB.Model(&models.Session{}).Count(&status.TotalSessions)
	return status, nil
}
