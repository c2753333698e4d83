package workers

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"game-session-broker/models"
	"game-session-broker/services"
)

// ScoreCollector polls every active session's score on a fixed interval,
// appends a history sample and fans the update out to stream subscribers.
// Each session is polled in its own goroutine so one slow or dead slot never
// delays the others; a failed poll records a zero sample, not a gap.
type ScoreCollector struct {
	DB       *gorm.DB
	Game     services.GameController
	Hub      *services.Hub
	Interval time.Duration
}

func NewScoreCollector(db *gorm.DB, game services.GameController, hub *services.Hub, interval time.Duration) *ScoreCollector {
	return &ScoreCollector{DB: db, Game: game, Hub: hub, Interval: interval}
}

// Run polls until ctx is canceled.
func (c *ScoreCollector) Run(ctx context.Context) {
	log.Printf("[ScoreCollector] polling every %s", c.Interval)

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ScoreCollector] stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one collection pass over all active sessions.
func (c *ScoreCollector) Tick(ctx context.Context) {
	var sessions []models.Session
	err := c.DB.Where("status = ?", models.SessionActive).Find(&sessions).Error
	if err != nil {
		log.Printf("[ScoreCollector] failed to list active sessions: %v", err)
		return
	}

	var wg sync.WaitGroup
	for i := range sessions {
		session := sessions[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.pollSession(ctx, session)
		}()
	}
	wg.Wait()
}

func (c *ScoreCollector) pollSession(ctx context.Context, session models.Session) {
	result := services.FetchScore(ctx, c.Game, session.Slot)

	items, err := json.Marshal(result.Items)
	if err != nil {
		items = []byte("{}")
	}

	sample := models.ScoreSample{
		Username:      session.Username,
		SessionID:     session.SessionID,
		Score:         result.Score,
		ItemsProduced: datatypes.JSON(items),
	}
	if err := c.DB.Create(&sample).Error; err != nil {
		log.Printf("[ScoreCollector] failed to record sample for session %s: %v", session.SessionID, err)
	}

	c.Hub.Publish(session.SessionID, map[string]interface{}{
		"type":      "score_update",
		"score":     result.Score,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
