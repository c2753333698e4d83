package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"game-session-broker/models"
)

// SlotLocker is the distributed mutual-exclusion gate on slot occupancy.
// Acquire is set-if-absent with an expiry; only the claim that won it, or the
// lifecycle transition ending that session, releases it.
type SlotLocker interface {
	Acquire(ctx context.Context, slot int, username string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, slot int) error
}

// RedisSlotLocker backs the lock with redis SET NX EX keyed by slot.
type RedisSlotLocker struct {
	Client *redis.Client
}

func NewRedisSlotLocker(client *redis.Client) *RedisSlotLocker {
	return &RedisSlotLocker{Client: client}
}

func slotLockKey(slot int) string {
	return fmt.Sprintf("slot_lock:%d", slot)
}

func (l *RedisSlotLocker) Acquire(ctx context.Context, slot int, username string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, slotLockKey(slot), username, ttl).Result()
}

func (l *RedisSlotLocker) Release(ctx context.Context, slot int) error {
	return l.Client.Del(ctx, slotLockKey(slot)).Err()
}

// freeSlot scans slots 0..total-1 and returns the first one not referenced
// by an active session. Occupancy is always derived from the session table,
// never tracked separately. Returns -1 when the pool is full.
func freeSlot(db *gorm.DB, total int) (int, error) {
	var taken []int
	err := db.Model(&models.Session{}).
		Where("status = ?", models.SessionActive).
		Pluck("slot", &taken).Error
	if err != nil {
		return -1, fmt.Errorf("failed to list active slots: %w", err)
	}

	active := make(map[int]bool, len(taken))
	for _, slot := range taken {
		active[slot] = true
	}
	for slot := 0; slot < total; slot++ {
		if !active[slot] {
			return slot, nil
		}
	}
	return -1, nil
}

// releaseLock releases a slot lock and logs on failure. Used both on normal
// termination and as the compensating action after a failed claim; there is
// no further retry, the expiry is the backstop.
func releaseLock(ctx context.Context, locker SlotLocker, slot int) {
	if err := locker.Release(ctx, slot); err != nil {
		log.Printf("[Slots] failed to release lock for slot %d: %v", slot, err)
	}
}
