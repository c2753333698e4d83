package models

import (
	"time"

	"gorm.io/datatypes"
)

// SessionSnapshot holds the one-time end-of-session state capture. One row
// per session, upserted on conflict. Sections that failed to capture hold an
// error marker instead of data.
type SessionSnapshot struct {
	SessionID       string         `gorm:"primaryKey" json:"session_id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	FinalScore      float64        `json:"final_score"`
	PlaytimeSeconds int64          `json:"playtime_seconds"`
	ResearchData    datatypes.JSON `json:"research_data,omitempty"`
	ProductionData  datatypes.JSON `json:"production_data,omitempty"`
	InventoryData   datatypes.JSON `json:"inventory_data,omitempty"`
	FactoryData     datatypes.JSON `json:"factory_data,omitempty"`
}
