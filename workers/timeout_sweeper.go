package workers

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"game-session-broker/services"
)

// TimeoutSweeper reclaims sessions that exceeded the session time budget.
// Sweeps are per-session independent: an autosave or snapshot failure on one
// session is logged and the sweep moves on, so a slot is never left locked
// because something downstream failed.
type TimeoutSweeper struct {
	Sessions *services.SessionService
	Interval time.Duration

	sched gocron.Scheduler
}

func NewTimeoutSweeper(sessions *services.SessionService, interval time.Duration) *TimeoutSweeper {
	return &TimeoutSweeper{Sessions: sessions, Interval: interval}
}

// Start schedules the sweep loop.
func (w *TimeoutSweeper) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	w.sched = sched

	_, err = sched.NewJob(
		gocron.DurationJob(w.Interval),
		gocron.NewTask(func() {
			w.Sweep(context.Background())
		}),
	)
	if err != nil {
		return err
	}

	sched.Start()
	log.Printf("[Sweeper] checking for expired sessions every %s", w.Interval)
	return nil
}

// Stop shuts the scheduler down.
func (w *TimeoutSweeper) Stop() {
	if w.sched != nil {
		if err := w.sched.Shutdown(); err != nil {
			log.Printf("[Sweeper] shutdown error: %v", err)
		}
	}
}

// Sweep expires every overdue session.
func (w *TimeoutSweeper) Sweep(ctx context.Context) {
	overdue, err := w.Sessions.ListOverdue()
	if err != nil {
		log.Printf("[Sweeper] failed to list overdue sessions: %v", err)
		return
	}

	for i := range overdue {
		session := overdue[i]
		log.Printf("[Sweeper] expiring session %s for %s (slot %d)",
			session.SessionID, session.Username, session.Slot)
		if err := w.Sessions.Expire(ctx, &session); err != nil {
			log.Printf("[Sweeper] failed to expire session %s: %v", session.SessionID, err)
		}
	}
}
