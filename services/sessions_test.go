package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"game-session-broker/models"
	"game-session-broker/utils"
)

func TestClaim(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	result, err := b.svc.Claim(ctx, "Alice_01", "")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if result.Username != "alice_01" {
		t.Errorf("expected normalized username, got %q", result.Username)
	}
	if result.Slot != 0 {
		t.Errorf("expected first free slot 0, got %d", result.Slot)
	}
	if result.RconPort != 27000 || result.UDPPort != 34197 {
		t.Errorf("unexpected ports: rcon %d udp %d", result.RconPort, result.UDPPort)
	}
	if result.StreamURL != "https://watch.test:3003/" {
		t.Errorf("unexpected stream url: %s", result.StreamURL)
	}
	if result.MCPConfig["mcpServers"] == nil {
		t.Error("expected mcp_config to carry the mcpServers block")
	}
	if !b.locker.holds(0) {
		t.Error("expected slot 0 lock to be held after claim")
	}

	var user models.User
	if err := b.db.Where("username = ?", "alice_01").First(&user).Error; err != nil {
		t.Errorf("expected user row to be created: %v", err)
	}
	if !b.svc.IsActive(result.SessionID) {
		t.Error("expected session to be active")
	}
}

func TestClaimRejectsSecondActiveSession(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if _, err := b.svc.Claim(ctx, "alice", ""); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	_, err := b.svc.Claim(ctx, "ALICE", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate claim, got %v", err)
	}
}

func TestClaimPoolExhausted(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	for i := 0; i < b.cfg.TotalSlots; i++ {
		result, err := b.svc.Claim(ctx, fmt.Sprintf("user_%d", i), "")
		if err != nil {
			t.Fatalf("claim %d failed: %v", i, err)
		}
		if result.Slot != i {
			t.Errorf("expected slot %d, got %d", i, result.Slot)
		}
	}

	_, err := b.svc.Claim(ctx, "latecomer", "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable when pool is full, got %v", err)
	}
}

func TestClaimInvalidUsername(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.svc.Claim(context.Background(), "no spaces!", "")
	if !errors.Is(err, utils.ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestClaimUnknownSaveRollsBack(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.svc.Claim(context.Background(), "alice", "no_such_save")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown save, got %v", err)
	}

	var count int64
	b.db.Model(&models.Session{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no session rows after rollback, got %d", count)
	}
	if b.locker.holds(0) {
		t.Error("expected slot lock released after failed claim")
	}
}

func TestClaimWithKnownSave(t *testing.T) {
	b := newTestBroker(t)
	writeUserSave(t, b, "alice", "main base")

	result, err := b.svc.Claim(context.Background(), "alice", "main base")
	if err != nil {
		t.Fatalf("claim with save failed: %v", err)
	}

	var session models.Session
	if err := b.db.Where("session_id = ?", result.SessionID).First(&session).Error; err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if session.SaveLoaded == nil || *session.SaveLoaded != "main base" {
		t.Errorf("expected save_loaded 'main base', got %v", session.SaveLoaded)
	}
}

func TestActiveSessionUniquePerUser(t *testing.T) {
	b := newTestBroker(t)

	first := models.Session{SessionID: "sess0001", Username: "alice", Slot: 0, Status: models.SessionActive}
	if err := b.db.Create(&first).Error; err != nil {
		t.Fatalf("first active session rejected: %v", err)
	}

	// The store itself must refuse a second active row for the same user,
	// even when the service-level duplicate check is raced past.
	second := models.Session{SessionID: "sess0002", Username: "alice", Slot: 1, Status: models.SessionActive}
	if err := b.db.Create(&second).Error; err == nil {
		t.Fatal("expected a second active session for the same user to be rejected")
	}

	t.Run("terminated rows do not block a new claim", func(t *testing.T) {
		err := b.db.Model(&models.Session{}).
			Where("session_id = ?", "sess0001").
			Update("status", models.SessionCompleted).Error
		if err != nil {
			t.Fatalf("failed to end session: %v", err)
		}

		next := models.Session{SessionID: "sess0003", Username: "alice", Slot: 0, Status: models.SessionActive}
		if err := b.db.Create(&next).Error; err != nil {
			t.Errorf("expected a fresh active session after termination: %v", err)
		}
	})
}

func TestConcurrentClaims(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	type outcome struct {
		slot int
		err  error
	}
	results := make(chan outcome, 8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r, err := b.svc.Claim(ctx, fmt.Sprintf("racer_%d", n), "")
			if err != nil {
				results <- outcome{err: err}
				return
			}
			results <- outcome{slot: r.Slot}
		}(i)
	}
	wg.Wait()
	close(results)

	slots := make(map[int]bool)
	successes := 0
	for r := range results {
		if r.err != nil {
			continue
		}
		successes++
		if slots[r.slot] {
			t.Errorf("slot %d handed out twice", r.slot)
		}
		slots[r.slot] = true
		if !b.locker.holds(r.slot) {
			t.Errorf("winner of slot %d does not hold the lock", r.slot)
		}
	}

	if successes == 0 || successes > b.cfg.TotalSlots {
		t.Errorf("expected between 1 and %d successful claims, got %d", b.cfg.TotalSlots, successes)
	}
}

func TestRelease(t *testing.T) {
	b := newTestBroker(t)
	b.game.respond = cannedResponses(500)
	ctx := context.Background()

	claim, err := b.svc.Claim(ctx, "bob", "")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	writeSlotSave(t, b.store, claim.Slot)

	result, err := b.svc.Release(ctx, claim.SessionID, "evening_run")
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if result.Status != models.SessionCompleted {
		t.Errorf("expected status completed, got %s", result.Status)
	}
	if result.FinalScore != 500 {
		t.Errorf("expected final score 500, got %v", result.FinalScore)
	}
	if result.SavedAs != "evening_run" {
		t.Errorf("expected saved_as 'evening_run', got %q", result.SavedAs)
	}
	if b.locker.holds(claim.Slot) {
		t.Error("expected slot lock released after release")
	}

	var save models.Save
	if err := b.db.Where("username = ? AND save_name = ?", "bob", "evening_run").First(&save).Error; err != nil {
		t.Errorf("expected save row: %v", err)
	}

	var user models.User
	if err := b.db.Where("username = ?", "bob").First(&user).Error; err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if user.BestScore != 500 {
		t.Errorf("expected best score 500, got %v", user.BestScore)
	}

	t.Run("second release yields not found", func(t *testing.T) {
		_, err := b.svc.Release(ctx, claim.SessionID, "")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestReleaseWithoutSave(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	claim, err := b.svc.Claim(ctx, "bob", "")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	result, err := b.svc.Release(ctx, claim.SessionID, "")
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if result.SavedAs != "" {
		t.Errorf("expected no save, got %q", result.SavedAs)
	}

	var session models.Session
	b.db.Where("session_id = ?", claim.SessionID).First(&session)
	if session.SaveCreated != nil {
		t.Errorf("expected nil save_created, got %v", *session.SaveCreated)
	}
}

func TestReleaseUnknownSession(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.svc.Release(context.Background(), "nope1234", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpire(t *testing.T) {
	b := newTestBroker(t)
	b.game.respond = cannedResponses(250)
	ctx := context.Background()

	claim, err := b.svc.Claim(ctx, "carol", "")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	writeSlotSave(t, b.store, claim.Slot)

	// Backdate the session past the time budget.
	err = b.db.Model(&models.Session{}).
		Where("session_id = ?", claim.SessionID).
		Update("started_at", time.Now().UTC().Add(-3*time.Hour)).Error
	if err != nil {
		t.Fatalf("failed to backdate session: %v", err)
	}

	overdue, err := b.svc.ListOverdue()
	if err != nil {
		t.Fatalf("list overdue failed: %v", err)
	}
	if len(overdue) != 1 || overdue[0].SessionID != claim.SessionID {
		t.Fatalf("expected the backdated session to be overdue, got %+v", overdue)
	}

	if err := b.svc.Expire(ctx, &overdue[0]); err != nil {
		t.Fatalf("expire failed: %v", err)
	}

	var session models.Session
	if err := b.db.Where("session_id = ?", claim.SessionID).First(&session).Error; err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if session.Status != models.SessionExpired {
		t.Errorf("expected status expired, got %s", session.Status)
	}
	if session.SaveCreated == nil || !strings.HasPrefix(*session.SaveCreated, "autosave_") {
		t.Errorf("expected autosave name, got %v", session.SaveCreated)
	}
	if b.locker.holds(claim.Slot) {
		t.Error("expected slot lock released after expiry")
	}
}

func TestSaveUpsertAccumulatesPlaytime(t *testing.T) {
	b := newTestBroker(t)
	writeSlotSave(t, b.store, 1)
	ctx := context.Background()

	session := &models.Session{SessionID: "sess0001", Username: "dave", Slot: 1, StartedAt: time.Now().UTC()}

	if err := b.svc.saveSlotState(ctx, session, "main", 100, 30); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := b.svc.saveSlotState(ctx, session, "main", 200, 45); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	var saves []models.Save
	if err := b.db.Where("username = ?", "dave").Find(&saves).Error; err != nil {
		t.Fatalf("failed to list saves: %v", err)
	}
	if len(saves) != 1 {
		t.Fatalf("expected a single upserted row, got %d", len(saves))
	}
	if saves[0].PlaytimeSeconds != 75 {
		t.Errorf("expected accumulated playtime 75, got %d", saves[0].PlaytimeSeconds)
	}
	if saves[0].ScoreAtSave != 200 {
		t.Errorf("expected refreshed score 200, got %v", saves[0].ScoreAtSave)
	}
}

func TestScoreAndInfoAfterRelease(t *testing.T) {
	b := newTestBroker(t)
	b.game.respond = cannedResponses(800)
	ctx := context.Background()

	claim, err := b.svc.Claim(ctx, "erin", "")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := b.svc.Release(ctx, claim.SessionID, ""); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	// Break the controller afterwards; terminated sessions must answer from
	// recorded state, not live queries.
	b.game.respond = func(slot int, command string) (string, error) {
		return "", errors.New("slot gone")
	}

	report, err := b.svc.Score(ctx, claim.SessionID)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if report.Score != 800 {
		t.Errorf("expected recorded final score 800, got %v", report.Score)
	}
	if report.Status != models.SessionCompleted {
		t.Errorf("expected status completed, got %s", report.Status)
	}

	info, err := b.svc.Info(ctx, claim.SessionID)
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if info.CurrentScore != 800 {
		t.Errorf("expected info score 800, got %v", info.CurrentScore)
	}
}

func TestEntitiesForInactiveSession(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	claim, err := b.svc.Claim(ctx, "frank", "")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := b.svc.Release(ctx, claim.SessionID, ""); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	got, err := b.svc.Entities(ctx, claim.SessionID, 50)
	if err != nil {
		t.Fatalf("entities failed: %v", err)
	}
	view, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected note map for inactive session, got %T", got)
	}
	if view["note"] == nil {
		t.Error("expected explanatory note for inactive session")
	}
}

func TestDownloadRequiresActiveSession(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	claim, err := b.svc.Claim(ctx, "gina", "")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	writeSlotSave(t, b.store, claim.Slot)

	path, filename, err := b.svc.Download(ctx, claim.SessionID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if path == "" || !strings.HasSuffix(filename, ".zip") {
		t.Errorf("unexpected download result: %q %q", path, filename)
	}

	t.Run("repeated downloads reuse the export file", func(t *testing.T) {
		again, _, err := b.svc.Download(ctx, claim.SessionID)
		if err != nil {
			t.Fatalf("second download failed: %v", err)
		}
		if again != path {
			t.Errorf("expected the per-slot export path %q to be reused, got %q", path, again)
		}
	})

	if _, err := b.svc.Release(ctx, claim.SessionID, ""); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, _, err := b.svc.Download(ctx, claim.SessionID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after release, got %v", err)
	}
}
