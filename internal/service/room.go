package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tripchat/internal/channel"
	"tripchat/internal/errors"
	"tripchat/internal/features"
	"tripchat/internal/metrics"
	"tripchat/internal/models"
	"tripchat/internal/privacy"

	"github.com/sirupsen/logrus"
)

// HistoryCache is the optional local mirror of room history.
type HistoryCache interface {
	SaveMessages(ctx context.Context, messages []models.ChatMessage) error
	MessagesBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]models.ChatMessage, error)
	UpdateStatus(ctx context.Context, id string, status models.MessageStatus, readAt *time.Time) error
}

// Viewport is the narrow scroll surface the UI lends to the engine so history
// prepends stay visually anchored. The engine never renders.
type Viewport interface {
	ScrollExtent() int
	AdjustScrollBy(px int)
}

// Listener receives room change notifications. All callbacks fire outside the
// room lock.
type Listener interface {
	TimelineChanged(roomID string, atTail bool)
	TypingChanged(roomID string, typing []models.TypingUser)
	OnlineMembersChanged(roomID string, members []string)
}

// RoomConfig identifies the conversation scope being activated.
type RoomConfig struct {
	RoomID      string
	ReceiverID  string // counterpart in a 1:1 room, empty for group chat
	ContextType string // booking context the conversation is attached to
	ContextID   string
}

// Deps are the collaborators shared by all room activations.
type Deps struct {
	Transport channel.Transport
	Identity  channel.Identity
	Logger    *logrus.Logger
	Flags     *features.FlagManager
	Cache     HistoryCache
	Viewport  Viewport
	Listener  Listener
	Config    models.ChatConfig
}

// RoomController owns one room activation: its timeline, session latches,
// typing state and subscriptions. Acknowledgment callbacks and broadcast
// events are logically concurrent; every mutation is serialized through the
// controller's mutex, and events arriving after Leave are silently dropped.
type RoomController struct {
	deps Deps
	room RoomConfig

	mu      sync.Mutex
	closed  bool
	session *models.RoomSession

	timeline      *Timeline
	typing        *typingSession
	remoteTyping  map[string]*remoteTypist
	onlineMembers []string

	loadingMore      bool
	deliveredPending bool
	readPending      bool
	disposers        []func()
	leaveOnce        sync.Once

	log *logrus.Entry
}

func newRoomController(deps Deps, room RoomConfig) *RoomController {
	window := time.Duration(deps.Config.CorrelationWindowSec) * time.Second
	rc := &RoomController{
		deps:         deps,
		room:         room,
		session:      models.NewRoomSession(room.RoomID),
		timeline:     NewTimeline(deps.Identity.UserID(), window),
		remoteTyping: make(map[string]*remoteTypist),
		log: deps.Logger.WithFields(logrus.Fields{
			"room_id": privacy.MaskRoomID(room.RoomID),
			"user_id": privacy.MaskUserID(deps.Identity.UserID()),
		}),
	}
	rc.typing = newTypingSession(rc, time.Duration(deps.Config.TypingIdleSec)*time.Second)
	return rc
}

// activate joins the room, seeds the timeline from the join acknowledgment,
// wires the inbound subscriptions and runs the initial receipt pass.
func (rc *RoomController) activate(ctx context.Context) error {
	ackCh := make(chan models.JoinRoomAck, 1)

	err := rc.deps.Transport.EmitWithAck(ctx, models.EventJoinRoom,
		models.JoinRoomRequest{RoomID: rc.room.RoomID},
		func(data json.RawMessage) {
			var ack models.JoinRoomAck
			if err := json.Unmarshal(data, &ack); err != nil {
				rc.log.WithError(err).Warn("Malformed join_room acknowledgment")
				ack = models.JoinRoomAck{}
			}
			ackCh <- ack
		})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConnection, "join_room emit failed")
	}

	var ack models.JoinRoomAck
	select {
	case ack = <-ackCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !ack.Success {
		return errors.New(errors.ErrCodeConnection, "join_room rejected").
			WithContext("room_id", rc.room.RoomID)
	}

	atTail := false
	rc.apply(func() {
		for _, msg := range ack.History {
			rc.timeline.Append(msg)
		}
		if oldest, ok := rc.timeline.OldestCreatedAt(); ok {
			rc.session.OldestLoaded = oldest
		}
		atTail = rc.timeline.Len() > 0
	})
	rc.notifyTimeline(atTail)
	rc.cacheMessages(ctx, ack.History)

	rc.subscribe()
	rc.requestOnlineMembers(ctx)

	// Initial receipt pass: the activation itself counts as both landing in
	// the room and being at the bottom of it.
	rc.markDelivered(ctx)
	rc.markRead(ctx)

	rc.log.WithField("history_len", len(ack.History)).Info("Room activated")
	return nil
}

// Leave tears the activation down exactly once: stop_typing if a session is
// open, leave_room, dispose every subscription, discard the session.
func (rc *RoomController) Leave(ctx context.Context) {
	rc.leaveOnce.Do(func() {
		rc.typing.teardown()

		rc.mu.Lock()
		rc.closed = true
		disposers := rc.disposers
		rc.disposers = nil
		for _, typist := range rc.remoteTyping {
			typist.expiry.Stop()
		}
		rc.remoteTyping = make(map[string]*remoteTypist)
		rc.mu.Unlock()

		for _, dispose := range disposers {
			dispose()
		}

		if err := rc.deps.Transport.Emit(ctx, models.EventLeaveRoom,
			models.LeaveRoomRequest{RoomID: rc.room.RoomID}); err != nil {
			rc.log.WithError(err).Warn("leave_room emit failed")
		}

		rc.log.Info("Room deactivated")
	})
}

// apply serializes a mutation against the room state. Mutations arriving
// after disposal are ignored rather than touching a stale timeline.
func (rc *RoomController) apply(fn func()) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}
	fn()
	return true
}

// Messages returns a snapshot of the timeline in presentation order.
func (rc *RoomController) Messages() []models.ChatMessage {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.timeline.Messages()
}

// Session returns a copy of the activation state.
func (rc *RoomController) Session() models.RoomSession {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return *rc.session
}

// OnlineMembers returns the members reported online at activation.
func (rc *RoomController) OnlineMembers() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, len(rc.onlineMembers))
	copy(out, rc.onlineMembers)
	return out
}

func (rc *RoomController) requestOnlineMembers(ctx context.Context) {
	err := rc.deps.Transport.EmitWithAck(ctx, models.EventGetOnlineMembers,
		models.OnlineMembersRequest{RoomID: rc.room.RoomID},
		func(data json.RawMessage) {
			var ack models.OnlineMembersAck
			if err := json.Unmarshal(data, &ack); err != nil || !ack.Success {
				rc.log.Warn("get_online_members failed")
				return
			}
			if rc.apply(func() { rc.onlineMembers = ack.OnlineMembers }) {
				rc.notifyOnlineMembers(ack.OnlineMembers)
			}
		})
	if err != nil {
		rc.log.WithError(err).Warn("get_online_members emit failed")
	}
}

func (rc *RoomController) cacheMessages(ctx context.Context, messages []models.ChatMessage) {
	if rc.deps.Cache == nil || len(messages) == 0 {
		return
	}
	if err := rc.deps.Cache.SaveMessages(ctx, messages); err != nil {
		rc.log.WithError(err).Warn("Failed to cache messages")
	}
}

func (rc *RoomController) notifyTimeline(atTail bool) {
	if rc.deps.Listener != nil {
		rc.deps.Listener.TimelineChanged(rc.room.RoomID, atTail)
	}
}

func (rc *RoomController) notifyTyping(typing []models.TypingUser) {
	if rc.deps.Listener != nil {
		rc.deps.Listener.TypingChanged(rc.room.RoomID, typing)
	}
}

func (rc *RoomController) notifyOnlineMembers(members []string) {
	if rc.deps.Listener != nil {
		rc.deps.Listener.OnlineMembersChanged(rc.room.RoomID, members)
	}
}

func (rc *RoomController) orphanGauge() {
	count := rc.timeline.OrphanedTempCount(time.Now())
	metrics.SetGauge("timeline_orphaned_temp_entries", float64(count),
		map[string]string{"room": rc.room.RoomID},
		"Optimistic entries past the correlation window without authoritative data")
}

func (rc *RoomController) String() string {
	return fmt.Sprintf("room(%s)", rc.room.RoomID)
}
