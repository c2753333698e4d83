package workers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"game-session-broker/config"
	"game-session-broker/models"
	"game-session-broker/services"
	"game-session-broker/utils"
)

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

// scriptedGame answers score queries with a fixed per-slot score and succeeds
// silently on everything else. A slot listed in down fails every command.
type scriptedGame struct {
	mu     sync.Mutex
	scores map[int]int
	down   map[int]bool
}

func (g *scriptedGame) Execute(ctx context.Context, slot int, command string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.down[slot] {
		return "", fmt.Errorf("slot %d unreachable", slot)
	}
	if strings.Contains(command, "actions.score") {
		return fmt.Sprintf(`{ ["player"] = %d, }`, g.scores[slot]), nil
	}
	return "", nil
}

type stubLocker struct {
	mu   sync.Mutex
	held map[int]bool
}

func newStubLocker() *stubLocker {
	return &stubLocker{held: make(map[int]bool)}
}

func (l *stubLocker) Acquire(ctx context.Context, slot int, username string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[slot] {
		return false, nil
	}
	l.held[slot] = true
	return true, nil
}

func (l *stubLocker) Release(ctx context.Context, slot int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, slot)
	return nil
}

type memorySub struct {
	mu       sync.Mutex
	messages []string
}

func (s *memorySub) Send(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, string(message))
	return nil
}

func (s *memorySub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// activeSession inserts an active session row directly, together with its
// user.
func activeSession(t *testing.T, db *gorm.DB, id, username string, slot int, startedAt time.Time) {
	t.Helper()

	if err := db.Where("username = ?", username).FirstOrCreate(&models.User{Username: username}).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	session := models.Session{
		SessionID: id,
		Username:  username,
		Slot:      slot,
		StartedAt: startedAt,
		Status:    models.SessionActive,
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
}

func newSessionService(t *testing.T, db *gorm.DB, game services.GameController, locker services.SlotLocker, hub *services.Hub) *services.SessionService {
	t.Helper()

	cfg := &config.Config{
		TotalSlots:     4,
		BaseRconPort:   27000,
		BaseUDPPort:    34197,
		ServerHost:     "localhost",
		SessionTimeout: 2 * time.Hour,
		SaveSettle:     0,
		StreamBaseURL:  "https://watch.test",
		StreamBasePort: 3003,
	}
	store := utils.NewSaveStore(t.TempDir(), t.TempDir())
	snaps := services.NewSnapshotService(db, game)
	return services.NewSessionService(db, locker, game, store, hub, snaps, cfg)
}
