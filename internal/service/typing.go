package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"tripchat/internal/constants"
	"tripchat/internal/metrics"
	"tripchat/internal/models"
)

// typingSession turns a stream of keystroke notifications into at most one
// start_typing and one stop_typing per burst. The idle timer is reset on
// every keystroke; teardown closes an open session before the room is left.
type typingSession struct {
	rc   *RoomController
	idle time.Duration

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

func newTypingSession(rc *RoomController, idle time.Duration) *typingSession {
	return &typingSession{rc: rc, idle: idle}
}

// keystroke records composing activity. The first call of a burst emits
// start_typing; subsequent calls only push the idle deadline out.
func (ts *typingSession) keystroke(ctx context.Context) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.active {
		ts.timer.Reset(ts.idle)
		return
	}
	ts.active = true
	ts.timer = time.AfterFunc(ts.idle, ts.expire)

	ts.emit(ctx, models.EventStartTyping)
}

func (ts *typingSession) expire() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.active {
		return
	}
	ts.active = false
	ts.emit(context.Background(), models.EventStopTyping)
}

// stopNow ends an open session immediately, used when a message send proves
// the burst is over.
func (ts *typingSession) stopNow(ctx context.Context) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.active {
		return
	}
	ts.active = false
	ts.timer.Stop()
	ts.emit(ctx, models.EventStopTyping)
}

func (ts *typingSession) teardown() {
	ts.stopNow(context.Background())
}

func (ts *typingSession) emit(ctx context.Context, event string) {
	signal := models.TypingSignal{
		RoomID: ts.rc.room.RoomID,
		UserID: ts.rc.deps.Identity.UserID(),
	}
	if err := ts.rc.deps.Transport.Emit(ctx, event, signal); err != nil {
		ts.rc.log.WithError(err).WithField("event", event).Warn("Typing signal emit failed")
		return
	}
	metrics.IncrementCounter("typing_signals_sent_total",
		map[string]string{"event": event}, "Typing start/stop signals emitted")
}

// remoteTypist tracks one counterpart currently composing. The expiry timer
// guards against a lost user_stopped_typing leaving a stuck indicator.
type remoteTypist struct {
	user   models.TypingUser
	expiry *time.Timer
}

// NotifyComposing reports local keystroke activity in the composer.
func (rc *RoomController) NotifyComposing(ctx context.Context) {
	rc.mu.Lock()
	closed := rc.closed
	rc.mu.Unlock()
	if closed {
		return
	}
	rc.typing.keystroke(ctx)
}

// NotifyComposerCleared reports that the composer text was deleted down to
// empty, which ends the typing burst without waiting for the idle timer.
func (rc *RoomController) NotifyComposerCleared(ctx context.Context) {
	rc.mu.Lock()
	closed := rc.closed
	rc.mu.Unlock()
	if closed {
		return
	}
	rc.typing.stopNow(ctx)
}

// TypingUsers returns the counterparts currently composing, ordered by user id.
func (rc *RoomController) TypingUsers() []models.TypingUser {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.typingSnapshotLocked()
}

func (rc *RoomController) typingSnapshotLocked() []models.TypingUser {
	out := make([]models.TypingUser, 0, len(rc.remoteTyping))
	for _, t := range rc.remoteTyping {
		out = append(out, t.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (rc *RoomController) onUserTyping(ev models.TypingEvent) {
	if ev.UserID == rc.deps.Identity.UserID() {
		return
	}
	expiry := time.Duration(constants.DefaultRemoteTypingExpirySec) * time.Second
	var snapshot []models.TypingUser
	applied := rc.apply(func() {
		if existing, ok := rc.remoteTyping[ev.UserID]; ok {
			existing.user.LastSignalAt = time.Now()
			existing.expiry.Reset(expiry)
		} else {
			userID := ev.UserID
			rc.remoteTyping[userID] = &remoteTypist{
				user:   models.TypingUser{UserID: userID, RoomID: ev.RoomID, LastSignalAt: time.Now()},
				expiry: time.AfterFunc(expiry, func() { rc.expireTypist(userID) }),
			}
		}
		snapshot = rc.typingSnapshotLocked()
	})
	if applied {
		rc.notifyTyping(snapshot)
	}
}

func (rc *RoomController) onUserStoppedTyping(ev models.TypingEvent) {
	var snapshot []models.TypingUser
	applied := rc.apply(func() {
		if existing, ok := rc.remoteTyping[ev.UserID]; ok {
			existing.expiry.Stop()
			delete(rc.remoteTyping, ev.UserID)
		}
		snapshot = rc.typingSnapshotLocked()
	})
	if applied {
		rc.notifyTyping(snapshot)
	}
}

// clearTypist removes a counterpart from the typing set without waiting for
// their stop signal, used when their message arrives.
func (rc *RoomController) clearTypistLocked(userID string) bool {
	existing, ok := rc.remoteTyping[userID]
	if !ok {
		return false
	}
	existing.expiry.Stop()
	delete(rc.remoteTyping, userID)
	return true
}

func (rc *RoomController) expireTypist(userID string) {
	var snapshot []models.TypingUser
	applied := rc.apply(func() {
		if _, ok := rc.remoteTyping[userID]; !ok {
			return
		}
		delete(rc.remoteTyping, userID)
		snapshot = rc.typingSnapshotLocked()
	})
	if applied && snapshot != nil {
		rc.notifyTyping(snapshot)
	}
}
