package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"game-session-broker/config"
	"game-session-broker/models"
	"game-session-broker/utils"
)

// Shared fixtures for the service tests: a throwaway sqlite database, an
// in-memory slot locker and a scripted game controller.

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "broker.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Save{},
		&models.ScoreSample{},
		&models.SessionSnapshot{},
		&models.ActivityEvent{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[int]string
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: make(map[int]string)}
}

func (l *memoryLocker) Acquire(ctx context.Context, slot int, username string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[slot]; taken {
		return false, nil
	}
	l.held[slot] = username
	return true, nil
}

func (l *memoryLocker) Release(ctx context.Context, slot int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, slot)
	return nil
}

func (l *memoryLocker) holds(slot int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[slot]
	return taken
}

// fakeGame answers commands through respond; nil respond means every command
// succeeds with an empty reply.
type fakeGame struct {
	mu      sync.Mutex
	calls   []string
	respond func(slot int, command string) (string, error)
}

func (g *fakeGame) Execute(ctx context.Context, slot int, command string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, command)
	respond := g.respond
	g.mu.Unlock()

	if respond != nil {
		return respond(slot, command)
	}
	return "", nil
}

// cannedResponses scripts a healthy slot reporting the given score.
func cannedResponses(score int) func(slot int, command string) (string, error) {
	return func(slot int, command string) (string, error) {
		switch {
		case strings.Contains(command, "actions.score"):
			return fmt.Sprintf(`{ ["player"] = %d, }`, score), nil
		case strings.Contains(command, "research_progress"):
			return "0.5", nil
		case strings.Contains(command, "current_research"):
			return "automation", nil
		case strings.Contains(command, "technologies"):
			return `["automation"]`, nil
		case strings.Contains(command, "input_counts"):
			return `{"iron-plate": 100}`, nil
		case strings.Contains(command, "output_counts"):
			return `{"iron-plate": 40}`, nil
		case strings.Contains(command, "get_main_inventory"):
			return `{"iron-plate": 8}`, nil
		case strings.Contains(command, "actions.render"):
			return `{"entities": [{"name": "stone-furnace", "direction": 0}], "water_runs": []}`, nil
		}
		return "", nil
	}
}

type testBroker struct {
	svc    *SessionService
	db     *gorm.DB
	game   *fakeGame
	locker *memoryLocker
	hub    *Hub
	store  *utils.SaveStore
	cfg    *config.Config
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()

	db := newTestDB(t)
	game := &fakeGame{}
	locker := newMemoryLocker()
	hub := NewHub()
	store := utils.NewSaveStore(t.TempDir(), t.TempDir())

	cfg := &config.Config{
		TotalSlots:     3,
		BaseRconPort:   27000,
		BaseUDPPort:    34197,
		RconPassword:   "factorio",
		ServerHost:     "localhost",
		SessionTimeout: 2 * time.Hour,
		SaveSettle:     0,
		StreamBaseURL:  "https://watch.test",
		StreamBasePort: 3003,
	}

	snaps := NewSnapshotService(db, game)
	svc := NewSessionService(db, locker, game, store, hub, snaps, cfg)
	return &testBroker{svc: svc, db: db, game: game, locker: locker, hub: hub, store: store, cfg: cfg}
}

// writeSlotSave plants the file the game server would have written for a
// slot, so save collection succeeds.
func writeSlotSave(t *testing.T, store *utils.SaveStore, slot int) {
	t.Helper()
	path := store.SlotSavePath(slot)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		t.Fatalf("failed to create slot saves dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("zipdata"), 0o644); err != nil {
		t.Fatalf("failed to write slot save: %v", err)
	}
}

// writeUserSave plants a user's named save on disk and its row in the DB.
func writeUserSave(t *testing.T, b *testBroker, username, saveName string) {
	t.Helper()
	path := b.store.SavePath(username, saveName)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		t.Fatalf("failed to create user saves dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("zipdata"), 0o644); err != nil {
		t.Fatalf("failed to write user save: %v", err)
	}
	save := models.Save{Username: username, SaveName: saveName, FilePath: path, LastPlayed: time.Now().UTC()}
	if err := b.db.Create(&save).Error; err != nil {
		t.Fatalf("failed to create save row: %v", err)
	}
}
