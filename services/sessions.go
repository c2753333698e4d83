package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"game-session-broker/config"
	"game-session-broker/models"
	"game-session-broker/utils"
)

// SessionService owns the session state machine: claim a slot, run the
// session, terminate it (release or expiry) and reclaim the slot. The
// persisted session status plus the slot lock are the only source of truth
// for occupancy; nothing here caches it.
type SessionService struct {
	DB     *gorm.DB
	Locker SlotLocker
	Game   GameController
	Saves  *utils.SaveStore
	Hub    *Hub
	Snaps  *SnapshotService
	Cfg    *config.Config
}

func NewSessionService(db *gorm.DB, locker SlotLocker, game GameController, saves *utils.SaveStore, hub *Hub, snaps *SnapshotService, cfg *config.Config) *SessionService {
	return &SessionService{DB: db, Locker: locker, Game: game, Saves: saves, Hub: hub, Snaps: snaps, Cfg: cfg}
}

// ClaimResult is everything a client needs to drive its claimed slot.
type ClaimResult struct {
	SessionID       string                 `json:"session_id"`
	Username        string                 `json:"username"`
	Slot            int                    `json:"slot"`
	RconPort        int                    `json:"rcon_port"`
	UDPPort         int                    `json:"udp_port"`
	MCPConfig       map[string]interface{} `json:"mcp_config"`
	SpectateAddress string                 `json:"spectate_address"`
	StreamURL       string                 `json:"stream_url"`
	ExpiresAt       time.Time              `json:"expires_at"`
}

// ReleaseResult summarizes a terminated session.
type ReleaseResult struct {
	Status          string  `json:"status"`
	FinalScore      float64 `json:"final_score"`
	PlaytimeSeconds int64   `json:"playtime_seconds"`
	SavedAs         string  `json:"saved_as,omitempty"`
}

// Claim reserves a free slot for a user and opens an active session on it.
// One active session per user; the slot lock is the gate against concurrent
// claimants. Everything done after the lock is acquired is rolled back if a
// later step fails, so a lock never outlives a failed claim.
func (s *SessionService) Claim(ctx context.Context, rawUsername, saveName string) (*ClaimResult, error) {
	username, err := utils.NormalizeUsername(rawUsername)
	if err != nil {
		return nil, err
	}

	var existing models.Session
	err = s.DB.Where("username = ? AND status = ?", username, models.SessionActive).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("user %q already has active session %s on slot %d: %w",
			username, existing.SessionID, existing.Slot, ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check active sessions: %w", err)
	}

	slot, err := freeSlot(s.DB, s.Cfg.TotalSlots)
	if err != nil {
		return nil, err
	}
	if slot < 0 {
		return nil, fmt.Errorf("no slots free, wait for a session to end: %w", ErrUnavailable)
	}

	acquired, err := s.Locker.Acquire(ctx, slot, username, s.Cfg.SessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("lock service failed for slot %d: %w", slot, err)
	}
	if !acquired {
		return nil, fmt.Errorf("slot %d was claimed concurrently, retry: %w", slot, ErrUnavailable)
	}

	// Lock held from here on. Any failure before the claim completes must
	// release it so the reservation cannot leak.
	err = s.DB.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.User{Username: username}).Error
	if err != nil {
		releaseLock(ctx, s.Locker, slot)
		return nil, fmt.Errorf("failed to ensure user %q: %w", username, err)
	}

	session := models.Session{
		SessionID: uuid.NewString()[:8],
		Username:  username,
		Slot:      slot,
		Status:    models.SessionActive,
	}
	if saveName != "" {
		session.SaveLoaded = &saveName
	}
	if err := s.DB.Create(&session).Error; err != nil {
		releaseLock(ctx, s.Locker, slot)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if saveName != "" {
		if !s.saveKnown(username, saveName) {
			s.DB.Delete(&models.Session{}, "session_id = ?", session.SessionID)
			releaseLock(ctx, s.Locker, slot)
			return nil, fmt.Errorf("save %q: %w", saveName, ErrNotFound)
		}
		go s.loadSaveToSlot(username, saveName, slot)
	} else {
		go s.resetSlot(slot)
	}

	log.Printf("[Sessions] %s claimed slot %d (session %s)", username, slot, session.SessionID)

	rconPort := s.Cfg.BaseRconPort + slot
	return &ClaimResult{
		SessionID: session.SessionID,
		Username:  username,
		Slot:      slot,
		RconPort:  rconPort,
		UDPPort:   s.Cfg.UDPPort(slot),
		MCPConfig: map[string]interface{}{
			"mcpServers": map[string]interface{}{
				"factorio-fle": map[string]interface{}{
					"command": "python",
					"args":    []string{"-m", "fle.env.protocols._mcp"},
					"env": map[string]string{
						"FLE_SERVER_HOST":   s.Cfg.ServerHost,
						"FLE_RCON_PORT":     fmt.Sprintf("%d", rconPort),
						"FLE_RCON_PASSWORD": s.Cfg.RconPassword,
					},
				},
			},
		},
		SpectateAddress: fmt.Sprintf("%s:%d", s.Cfg.ServerHost, s.Cfg.UDPPort(slot)),
		StreamURL:       s.Cfg.StreamURL(slot),
		ExpiresAt:       time.Now().UTC().Add(s.Cfg.SessionTimeout),
	}, nil
}

// Release completes an active session, optionally persisting its state under
// saveName. Unknown or already-terminal sessions yield NotFound.
func (s *SessionService) Release(ctx context.Context, sessionID, saveName string) (*ReleaseResult, error) {
	var session models.Session
	err := s.DB.Where("session_id = ? AND status = ?", sessionID, models.SessionActive).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %q not found or already ended: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}

	return s.terminate(ctx, &session, models.SessionCompleted, saveName)
}

// Expire force-terminates a session that exceeded its time budget. Unlike
// release, the save always happens, under a timestamp-derived autosave name.
func (s *SessionService) Expire(ctx context.Context, session *models.Session) error {
	autosave := "autosave_" + time.Now().UTC().Format("20060102_150405")
	_, err := s.terminate(ctx, session, models.SessionExpired, autosave)
	return err
}

// terminate runs the shared transition into a terminal state. Upstream
// failures along the way (score read, snapshot, save) degrade to defaults;
// the slot is reclaimed no matter what. The status row update is guarded by
// status='active' so the transition happens exactly once.
func (s *SessionService) terminate(ctx context.Context, session *models.Session, status, saveName string) (*ReleaseResult, error) {
	finalScore := FetchScore(ctx, s.Game, session.Slot).Score
	playtime := int64(time.Since(session.StartedAt).Seconds())

	if s.Snaps != nil {
		if err := s.Snaps.Capture(ctx, session.SessionID, session.Slot, finalScore, playtime); err != nil {
			log.Printf("[Sessions] snapshot capture failed for session %s: %v", session.SessionID, err)
		}
	}

	savedAs := ""
	if saveName != "" {
		if err := s.saveSlotState(ctx, session, saveName, finalScore, playtime); err != nil {
			log.Printf("[Sessions] save %q failed for session %s: %v", saveName, session.SessionID, err)
		} else {
			savedAs = saveName
		}
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      status,
		"ended_at":    now,
		"final_score": finalScore,
	}
	if savedAs != "" {
		updates["save_created"] = savedAs
	}

	res := s.DB.Model(&models.Session{}).
		Where("session_id = ? AND status = ?", session.SessionID, models.SessionActive).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to end session %s: %w", session.SessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("session %s was terminated concurrently: %w", session.SessionID, ErrConflict)
	}

	if err := s.updateUserStats(session.Username, finalScore, playtime); err != nil {
		log.Printf("[Sessions] failed to update stats for %s: %v", session.Username, err)
	}

	releaseLock(ctx, s.Locker, session.Slot)
	s.Hub.InvalidateSession(session.SessionID)

	log.Printf("[Sessions] session %s %s (score %.0f, %ds played)",
		session.SessionID, status, finalScore, playtime)

	return &ReleaseResult{
		Status:          status,
		FinalScore:      finalScore,
		PlaytimeSeconds: playtime,
		SavedAs:         savedAs,
	}, nil
}

func (s *SessionService) updateUserStats(username string, score float64, playtime int64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("username = ?", username).First(&user).Error; err != nil {
			return err
		}
		if score > user.BestScore {
			user.BestScore = score
		}
		user.TotalPlaytimeSeconds += playtime
		return tx.Save(&user).Error
	})
}

// saveKnown checks both the save row and the file on disk.
func (s *SessionService) saveKnown(username, saveName string) bool {
	var save models.Save
	err := s.DB.Where("username = ? AND save_name = ?", username, saveName).First(&save).Error
	if err != nil {
		return false
	}
	return s.Saves.Exists(username, saveName)
}

// saveSlotState tells the slot to write its state, collects the file into
// the user's saves dir and upserts the save row. Saving again under an
// existing name refreshes score and last-played and accumulates playtime.
func (s *SessionService) saveSlotState(ctx context.Context, session *models.Session, saveName string, score float64, playtime int64) error {
	serverSave := s.Saves.ServerSaveName(session.Slot)
	if _, err := s.Game.Execute(ctx, session.Slot, cmdSave(serverSave)); err != nil {
		return err
	}
	time.Sleep(s.Cfg.SaveSettle) // give the server time to flush the file

	path, err := s.Saves.CollectFromSlot(session.Slot, session.Username, saveName)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	save := models.Save{
		Username:        session.Username,
		SaveName:        saveName,
		FilePath:        path,
		LastPlayed:      now,
		ScoreAtSave:     score,
		PlaytimeSeconds: playtime,
	}
	err = s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "username"}, {Name: "save_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_played":      now,
			"score_at_save":    score,
			"file_path":        path,
			"playtime_seconds": gorm.Expr("playtime_seconds + ?", playtime),
		}),
	}).Create(&save).Error
	if err != nil {
		return err
	}

	go s.Saves.Archive(context.Background(), session.Username, saveName)
	return nil
}

func (s *SessionService) loadSaveToSlot(username, saveName string, slot int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.Saves.StageForSlot(username, saveName, slot); err != nil {
		log.Printf("[Sessions] failed to stage save %q onto slot %d: %v", saveName, slot, err)
		return
	}
	if _, err := s.Game.Execute(ctx, slot, cmdSave(fmt.Sprintf("slot_%d", slot))); err != nil {
		log.Printf("[Sessions] failed to load save on slot %d: %v", slot, err)
	}
}

func (s *SessionService) resetSlot(slot int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.Game.Execute(ctx, slot, cmdReset); err != nil {
		log.Printf("[Sessions] failed to reset slot %d: %v", slot, err)
	}
}

// ListActive returns every active session.
func (s *SessionService) ListActive() ([]models.Session, error) {
	var sessions []models.Session
	err := s.DB.Where("status = ?", models.SessionActive).Find(&sessions).Error
	return sessions, err
}

// ListOverdue returns active sessions past the session time budget.
func (s *SessionService) ListOverdue() ([]models.Session, error) {
	cutoff := time.Now().UTC().Add(-s.Cfg.SessionTimeout)
	var sessions []models.Session
	err := s.DB.Where("status = ? AND started_at < ?", models.SessionActive, cutoff).
		Find(&sessions).Error
	return sessions, err
}

// IsActive reports whether a session exists and is live. Used by the stream
// endpoint to reject subscriptions up front.
func (s *SessionService) IsActive(sessionID string) bool {
	var count int64
	s.DB.Model(&models.Session{}).
		Where("session_id = ? AND status = ?", sessionID, models.SessionActive).
		Count(&count)
	return count > 0
}

func (s *SessionService) getSession(sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.DB.Where("session_id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// SessionInfo is the status view of one session.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Username     string    `json:"username"`
	Slot         int       `json:"slot"`
	StartedAt    time.Time `json:"started_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	CurrentScore float64   `json:"current_score"`
	Status       string    `json:"status"`
}

// Info returns session status with a live score for active sessions and the
// recorded final score otherwise.
func (s *SessionService) Info(ctx context.Context, sessionID string) (*SessionInfo, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}

	score := 0.0
	if session.Status == models.SessionActive {
		score = FetchScore(ctx, s.Game, session.Slot).Score
	} else if session.FinalScore != nil {
		score = *session.FinalScore
	}

	return &SessionInfo{
		SessionID:    session.SessionID,
		Username:     session.Username,
		Slot:         session.Slot,
		StartedAt:    session.StartedAt,
		ExpiresAt:    session.StartedAt.Add(s.Cfg.SessionTimeout),
		CurrentScore: score,
		Status:       session.Status,
	}, nil
}

// ScoreReport is the detailed score view of one session.
type ScoreReport struct {
	SessionID         string  `json:"session_id"`
	Username          string  `json:"username"`
	Status            string  `json:"status"`
	Score             float64 `json:"score"`
	PlaytimeSeconds   int64   `json:"playtime_seconds"`
	PlaytimeFormatted string  `json:"playtime_formatted"`
}

// Score returns the live score and running playtime for active sessions, and
// the recorded values for terminated ones.
func (s *SessionService) Score(ctx context.Context, sessionID string) (*ScoreReport, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}

	var score float64
	var playtime int64
	if session.Status == models.SessionActive {
		score = FetchScore(ctx, s.Game, session.Slot).Score
		playtime = int64(time.Since(session.StartedAt).Seconds())
	} else {
		if session.FinalScore != nil {
			score = *session.FinalScore
		}
		if session.EndedAt != nil {
			playtime = int64(session.EndedAt.Sub(session.StartedAt).Seconds())
		}
	}

	return &ScoreReport{
		SessionID:         session.SessionID,
		Username:          session.Username,
		Status:            session.Status,
		Score:             score,
		PlaytimeSeconds:   playtime,
		PlaytimeFormatted: fmt.Sprintf("%dh %dm", playtime/3600, (playtime%3600)/60),
	}, nil
}

// Inventory returns the live inventory for active sessions, snapshot data
// otherwise.
func (s *SessionService) Inventory(ctx context.Context, sessionID string) (interface{}, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return s.Snaps.Section(sessionID, SnapshotInventory)
	}

	resp, err := s.Game.Execute(ctx, session.Slot, cmdInventory)
	if err != nil {
		return InventoryData{Items: map[string]int64{}, Err: err.Error()}, nil
	}
	return ParseInventory(resp), nil
}

// Research returns the live research state for active sessions, snapshot
// data otherwise.
func (s *SessionService) Research(ctx context.Context, sessionID string) (interface{}, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return s.Snaps.Section(sessionID, SnapshotResearch)
	}
	return s.fetchResearch(ctx, session.Slot), nil
}

func (s *SessionService) fetchResearch(ctx context.Context, slot int) ResearchData {
	current, err := s.Game.Execute(ctx, slot, cmdResearch)
	if err != nil {
		return ResearchData{Researched: []string{}, Err: err.Error()}
	}
	progress, _ := s.Game.Execute(ctx, slot, cmdProgress)
	researched, _ := s.Game.Execute(ctx, slot, cmdResearched)
	return ParseResearch(current, progress, researched)
}

// Production returns live production counters for active sessions, snapshot
// data otherwise.
func (s *SessionService) Production(ctx context.Context, sessionID string) (interface{}, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return s.Snaps.Section(sessionID, SnapshotProduction)
	}
	return s.fetchProduction(ctx, session.Slot), nil
}

func (s *SessionService) fetchProduction(ctx context.Context, slot int) ProductionData {
	produced, err := s.Game.Execute(ctx, slot, cmdProduced)
	if err != nil {
		return ProductionData{
			Produced: map[string]float64{}, Consumed: map[string]float64{},
			Net: map[string]float64{}, Err: err.Error(),
		}
	}
	consumed, _ := s.Game.Execute(ctx, slot, cmdConsumed)
	return ParseProduction(produced, consumed)
}

// Factory returns the aggregated entity view within radius for active
// sessions, snapshot data otherwise.
func (s *SessionService) Factory(ctx context.Context, sessionID string, radius int) (interface{}, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return s.Snaps.Section(sessionID, SnapshotFactory)
	}

	resp, err := s.Game.Execute(ctx, session.Slot, cmdRender(radius))
	if err != nil {
		return FactoryData{EntityCounts: map[string]int{}, Err: err.Error()}, nil
	}
	return ParseFactory(resp), nil
}

// entityListLimit bounds entity list replies; full lists are too large to
// serve or store.
const entityListLimit = 200

// Entities returns the detailed entity list. Live sessions only; the list is
// never snapshotted.
func (s *SessionService) Entities(ctx context.Context, sessionID string, radius int) (interface{}, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return map[string]interface{}{
			"entities": []EntitySummary{},
			"total":    0,
			"note":     "entity list only available for active sessions",
		}, nil
	}

	resp, err := s.Game.Execute(ctx, session.Slot, cmdRender(radius))
	if err != nil {
		return EntityList{Entities: []EntitySummary{}, Err: err.Error()}, nil
	}
	return ParseEntities(resp, entityListLimit), nil
}

// Download writes the current slot state to a fixed per-slot export file and
// returns its path. The file is overwritten on every download so repeated
// requests never pile up in the temp dir. Active sessions only.
func (s *SessionService) Download(ctx context.Context, sessionID string) (path, filename string, err error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return "", "", err
	}
	if session.Status != models.SessionActive {
		return "", "", fmt.Errorf("session %q is not active: %w", sessionID, ErrConflict)
	}

	if _, err := s.Game.Execute(ctx, session.Slot, cmdSave(s.Saves.ServerSaveName(session.Slot))); err != nil {
		return "", "", fmt.Errorf("failed to trigger save on slot %d: %w", session.Slot, err)
	}
	time.Sleep(s.Cfg.SaveSettle)

	filename = fmt.Sprintf("%s_%s.zip", session.Username, session.SessionID)
	path = filepath.Join(os.TempDir(), fmt.Sprintf("session_export_%d.zip", session.Slot))
	if err := s.Saves.ExportSlot(session.Slot, path); err != nil {
		return "", "", err
	}
	return path, filename, nil
}
