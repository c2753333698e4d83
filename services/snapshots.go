package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"game-session-broker/models"
)

// Snapshot sections readable after termination.
const (
	SnapshotResearch   = "research"
	SnapshotProduction = "production"
	SnapshotInventory  = "inventory"
	SnapshotFactory    = "factory"
)

// snapshotRadius bounds the entity summary captured at termination.
const snapshotRadius = 50

// SnapshotService captures a rich end-of-session state bundle for later
// inspection. Capture is best-effort throughout: each section is queried
// independently and a failed section stores an error marker instead of
// aborting the rest.
type SnapshotService struct {
	DB   *gorm.DB
	Game GameController
}

func NewSnapshotService(db *gorm.DB, game GameController) *SnapshotService {
	return &SnapshotService{DB: db, Game: game}
}

// Capture queries the slot for research, production, inventory and factory
// state and upserts the session's snapshot row with whatever succeeded.
func (s *SnapshotService) Capture(ctx context.Context, sessionID string, slot int, finalScore float64, playtime int64) error {
	snapshot := models.SessionSnapshot{
		SessionID:       sessionID,
		FinalScore:      finalScore,
		PlaytimeSeconds: playtime,
		ResearchData:    s.captureResearch(ctx, slot),
		ProductionData:  s.captureProduction(ctx, slot),
		InventoryData:   s.captureInventory(ctx, slot),
		FactoryData:     s.captureFactory(ctx, slot),
	}

	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"final_score", "playtime_seconds",
			"research_data", "production_data", "inventory_data", "factory_data",
		}),
	}).Create(&snapshot).Error
}

func (s *SnapshotService) captureResearch(ctx context.Context, slot int) datatypes.JSON {
	current, err := s.Game.Execute(ctx, slot, cmdResearch)
	if err != nil {
		return sectionError(err)
	}
	progress, _ := s.Game.Execute(ctx, slot, cmdProgress)
	researched, _ := s.Game.Execute(ctx, slot, cmdResearched)
	return mustJSON(ParseResearch(current, progress, researched))
}

func (s *SnapshotService) captureProduction(ctx context.Context, slot int) datatypes.JSON {
	produced, err := s.Game.Execute(ctx, slot, cmdProduced)
	if err != nil {
		return sectionError(err)
	}
	consumed, _ := s.Game.Execute(ctx, slot, cmdConsumed)
	return mustJSON(ParseProduction(produced, consumed))
}

func (s *SnapshotService) captureInventory(ctx context.Context, slot int) datatypes.JSON {
	resp, err := s.Game.Execute(ctx, slot, cmdInventory)
	if err != nil {
		return sectionError(err)
	}
	return mustJSON(ParseInventory(resp))
}

func (s *SnapshotService) captureFactory(ctx context.Context, slot int) datatypes.JSON {
	resp, err := s.Game.Execute(ctx, slot, cmdRender(snapshotRadius))
	if err != nil {
		return sectionError(err)
	}
	return mustJSON(ParseFactory(resp))
}

// Section reads one captured section for a terminated session. A missing
// snapshot yields an explicit unavailable marker, never fabricated data.
func (s *SnapshotService) Section(sessionID, section string) (interface{}, error) {
	var snapshot models.SessionSnapshot
	err := s.DB.Where("session_id = ?", sessionID).First(&snapshot).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load snapshot for %q: %w", sessionID, err)
	}

	var data datatypes.JSON
	switch section {
	case SnapshotResearch:
		data = snapshot.ResearchData
	case SnapshotProduction:
		data = snapshot.ProductionData
	case SnapshotInventory:
		data = snapshot.InventoryData
	case SnapshotFactory:
		data = snapshot.FactoryData
	}

	if len(data) == 0 {
		return map[string]string{"note": "no snapshot available"}, nil
	}
	return json.RawMessage(data), nil
}

func sectionError(err error) datatypes.JSON {
	return mustJSON(map[string]string{"error": err.Error()})
}

func mustJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON(`{"error":"marshal failed"}`)
	}
	return datatypes.JSON(data)
}
