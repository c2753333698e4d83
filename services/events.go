package services

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"game-session-broker/models"
)

// ActivityEventInput is one reported agent activity line.
type ActivityEventInput struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	Detail    *string   `json:"detail,omitempty"`
}

type eventBatch struct {
	sessionID string
	events    []ActivityEventInput
}

// EventService ingests activity event batches from session sidecars. The
// channel is at-most-once and never applies backpressure to the request
// path: a full queue drops the batch.
type EventService struct {
	DB    *gorm.DB
	Hub   *Hub
	queue chan eventBatch
}

func NewEventService(db *gorm.DB, hub *Hub) *EventService {
	return &EventService{
		DB:    db,
		Hub:   hub,
		queue: make(chan eventBatch, 256),
	}
}

// Ingest enqueues a batch without blocking. Returns false when the batch was
// dropped because the queue is full.
func (s *EventService) Ingest(sessionID string, events []ActivityEventInput) bool {
	if len(events) == 0 {
		return true
	}
	select {
	case s.queue <- eventBatch{sessionID: sessionID, events: events}:
		return true
	default:
		log.Printf("[Events] queue full, dropping %d event(s) for session %s", len(events), sessionID)
		return false
	}
}

// Run drains the queue until ctx is canceled. Storage failures are logged
// and swallowed; the stream publish still happens.
func (s *EventService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.queue:
			s.store(batch)
		}
	}
}

func (s *EventService) store(batch eventBatch) {
	rows := make([]models.ActivityEvent, 0, len(batch.events))
	for _, event := range batch.events {
		ts := event.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		rows = append(rows, models.ActivityEvent{
			SessionID: batch.sessionID,
			Type:      event.Type,
			Summary:   event.Summary,
			Detail:    event.Detail,
			Timestamp: ts,
		})
	}

	if err := s.DB.Create(&rows).Error; err != nil {
		log.Printf("[Events] failed to store %d event(s) for session %s: %v", len(rows), batch.sessionID, err)
	}

	s.Hub.Publish(batch.sessionID, map[string]interface{}{
		"type":   "activity",
		"events": batch.events,
	})
}

// Pending reports the number of queued batches. Used by tests and the status
// endpoint.
func (s *EventService) Pending() int {
	return len(s.queue)
}
