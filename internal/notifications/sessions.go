package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatterbox/internal/observability"
)

const defaultOfflineGrace = 5 * time.Second

// sessionTracker forwards session lifecycles to presence. Releasing a session
// waits for an offline grace window, so a quick reconnect never shows the
// user offline.
type sessionTracker struct {
	presence Presence

	mu      sync.Mutex
	grace   time.Duration
	pending map[string]pendingRelease
	stopped bool
}

type pendingRelease struct {
	userID uint
	timer  *time.Timer
}

func newSessionTracker(presence Presence, grace time.Duration) *sessionTracker {
	if grace < 0 {
		grace = 0
	}
	return &sessionTracker{
		presence: presence,
		grace:    grace,
		pending:  make(map[string]pendingRelease),
	}
}

func (t *sessionTracker) connect(ctx context.Context, userID uint, sessionID string) {
	if t.presence == nil {
		return
	}
	if err := t.presence.Connect(ctx, userID, sessionID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence connect failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
}

func (t *sessionTracker) heartbeat(ctx context.Context, userID uint) {
	if t.presence == nil {
		return
	}
	if err := t.presence.Heartbeat(ctx, userID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence heartbeat failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
}

// release schedules the session's removal after the grace window.
func (t *sessionTracker) release(userID uint, sessionID string) {
	if t.presence == nil {
		return
	}
	t.mu.Lock()
	if t.stopped || t.grace == 0 {
		t.mu.Unlock()
		t.disconnect(userID, sessionID)
		return
	}
	if p, ok := t.pending[sessionID]; ok {
		p.timer.Stop()
	}
	t.pending[sessionID] = pendingRelease{
		userID: userID,
		timer: time.AfterFunc(t.grace, func() {
			t.mu.Lock()
			delete(t.pending, sessionID)
			t.mu.Unlock()
			t.disconnect(userID, sessionID)
		}),
	}
	t.mu.Unlock()
}

// stop releases every pending session right away.
func (t *sessionTracker) stop() {
	t.mu.Lock()
	t.stopped = true
	pending := t.pending
	t.pending = make(map[string]pendingRelease)
	t.mu.Unlock()

	for sessionID, p := range pending {
		if p.timer.Stop() {
			t.disconnect(p.userID, sessionID)
		}
	}
}

func (t *sessionTracker) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *sessionTracker) disconnect(userID uint, sessionID string) {
	ctx := context.Background()
	if err := t.presence.Disconnect(ctx, userID, sessionID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence disconnect failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
}
