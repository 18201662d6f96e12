package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tripchat/internal/channel"
	"tripchat/internal/errors"
	"tripchat/internal/features"
	"tripchat/internal/models"

	"github.com/sirupsen/logrus"
)

// fakeTransport is an in-memory channel.Transport. Requests with acks can be
// answered automatically (autoAcks) or held for the test to answer later.
type fakeTransport struct {
	mu       sync.Mutex
	state    channel.State
	emits    []fakeFrame
	requests []*fakeRequest
	handlers map[string][]channel.EventHandler
	autoAcks map[string]interface{}
	failNext map[string]bool
}

type fakeFrame struct {
	event   string
	payload interface{}
}

type fakeRequest struct {
	event   string
	payload interface{}
	ack     channel.AckFunc
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:    channel.StateConnected,
		handlers: make(map[string][]channel.EventHandler),
		autoAcks: make(map[string]interface{}),
		failNext: make(map[string]bool),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error                      { return nil }

func (f *fakeTransport) Emit(ctx context.Context, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext[event] {
		delete(f.failNext, event)
		return errors.NewConnectionError(event)
	}
	f.emits = append(f.emits, fakeFrame{event: event, payload: payload})
	return nil
}

func (f *fakeTransport) EmitWithAck(ctx context.Context, event string, payload interface{}, ack channel.AckFunc) error {
	f.mu.Lock()
	if f.failNext[event] {
		delete(f.failNext, event)
		f.mu.Unlock()
		return errors.NewConnectionError(event)
	}
	f.requests = append(f.requests, &fakeRequest{event: event, payload: payload, ack: ack})
	reply, ok := f.autoAcks[event]
	f.mu.Unlock()

	if ok {
		data, _ := json.Marshal(reply)
		ack(data)
	}
	return nil
}

func (f *fakeTransport) On(event string, handler channel.EventHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], handler)
	idx := len(f.handlers[event]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if idx < len(f.handlers[event]) {
			f.handlers[event][idx] = nil
		}
	}
}

func (f *fakeTransport) State() channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnStateChange(fn func(channel.State)) func() {
	return func() {}
}

// push delivers a server event to every subscribed handler.
func (f *fakeTransport) push(event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	f.mu.Lock()
	handlers := make([]channel.EventHandler, len(f.handlers[event]))
	copy(handlers, f.handlers[event])
	f.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(data)
		}
	}
}

func (f *fakeTransport) requestsFor(event string) []*fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeRequest
	for _, r := range f.requests {
		if r.event == event {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeTransport) emitsFor(event string) []fakeFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeFrame
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// recordingListener captures notifications for assertions.
type recordingListener struct {
	mu              sync.Mutex
	timelineChanges int
	atTailChanges   int
	typing          []models.TypingUser
	onlineMembers   []string
}

func (l *recordingListener) TimelineChanged(roomID string, atTail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timelineChanges++
	if atTail {
		l.atTailChanges++
	}
}

func (l *recordingListener) TypingChanged(roomID string, typing []models.TypingUser) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typing = typing
}

func (l *recordingListener) OnlineMembersChanged(roomID string, members []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onlineMembers = members
}

func (l *recordingListener) currentTyping() []models.TypingUser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.typing
}

func testDeps(transport *fakeTransport, listener Listener) Deps {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return Deps{
		Transport: transport,
		Identity:  channel.StaticIdentity{ID: selfID, Type: "traveler"},
		Logger:    logger,
		Flags:     features.NewFlagManager(),
		Listener:  listener,
		Config: models.ChatConfig{
			CorrelationWindowSec: 30,
			TypingIdleSec:        3,
			ReadProximityPx:      100,
			HistoryPageSize:      3,
			AckTimeoutSec:        5,
		},
	}
}

// activatedRoom builds a controller and runs the activation handshake with a
// canned join acknowledgment.
func activatedRoom(transport *fakeTransport, listener Listener, history []models.ChatMessage) (*RoomController, error) {
	transport.autoAcks[models.EventJoinRoom] = models.JoinRoomAck{Success: true, History: history}
	transport.autoAcks[models.EventMarkDelivered] = models.BasicAck{Success: true}
	transport.autoAcks[models.EventMarkRead] = models.BasicAck{Success: true}
	transport.autoAcks[models.EventGetOnlineMembers] = models.OnlineMembersAck{
		Success:       true,
		OnlineMembers: []string{selfID, otherID},
	}

	rc := newRoomController(testDeps(transport, listener), RoomConfig{RoomID: "room-1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.activate(ctx); err != nil {
		return nil, err
	}
	return rc, nil
}
