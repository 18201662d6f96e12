package service

import (
	"context"
	"testing"
	"time"

	"tripchat/internal/channel"
	"tripchat/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(transport *fakeTransport, listener Listener) *Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	manager := channel.NewManager(transport, channel.StaticIdentity{ID: selfID, Type: "traveler"}, logger)
	cfg := models.ChatConfig{
		CorrelationWindowSec: 30,
		TypingIdleSec:        3,
		ReadProximityPx:      100,
		HistoryPageSize:      3,
		AckTimeoutSec:        5,
	}
	return NewEngine(manager, cfg, logger, EngineOptions{Listener: listener})
}

func prepareJoinAcks(transport *fakeTransport) {
	transport.autoAcks[models.EventJoinRoom] = models.JoinRoomAck{Success: true}
	transport.autoAcks[models.EventMarkDelivered] = models.BasicAck{Success: true}
	transport.autoAcks[models.EventMarkRead] = models.BasicAck{Success: true}
	transport.autoAcks[models.EventGetOnlineMembers] = models.OnlineMembersAck{Success: true}
}

func TestActivateRoomRequiresConnection(t *testing.T) {
	transport := newFakeTransport()
	transport.state = channel.StateDisconnected
	engine := newTestEngine(transport, nil)

	_, err := engine.ActivateRoom(context.Background(), RoomConfig{RoomID: "room-1"})
	require.Error(t, err)
}

func TestActivateRoomSwitchLeavesPrevious(t *testing.T) {
	transport := newFakeTransport()
	engine := newTestEngine(transport, nil)
	prepareJoinAcks(transport)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Connect(ctx))

	first, err := engine.ActivateRoom(ctx, RoomConfig{RoomID: "room-1"})
	require.NoError(t, err)
	assert.Same(t, first, engine.ActiveRoom())

	second, err := engine.ActivateRoom(ctx, RoomConfig{RoomID: "room-2"})
	require.NoError(t, err)
	assert.Same(t, second, engine.ActiveRoom())

	leaves := transport.emitsFor(models.EventLeaveRoom)
	require.Len(t, leaves, 1)
	assert.Equal(t, "room-1", leaves[0].payload.(models.LeaveRoomRequest).RoomID)

	// The stale controller drops events for its old room.
	transport.push(models.EventNewMessage, serverMessage("msg-1", otherID, "tarde", time.Now()))
	assert.Empty(t, first.Messages())
}

func TestActivateRoomValidation(t *testing.T) {
	transport := newFakeTransport()
	engine := newTestEngine(transport, nil)

	_, err := engine.ActivateRoom(context.Background(), RoomConfig{})
	require.Error(t, err)
}

func TestLeaveActiveRoom(t *testing.T) {
	transport := newFakeTransport()
	engine := newTestEngine(transport, nil)
	prepareJoinAcks(transport)

	ctx := context.Background()
	require.NoError(t, engine.Connect(ctx))

	_, err := engine.ActivateRoom(ctx, RoomConfig{RoomID: "room-1"})
	require.NoError(t, err)

	engine.LeaveActiveRoom(ctx)
	assert.Nil(t, engine.ActiveRoom())
	assert.Len(t, transport.emitsFor(models.EventLeaveRoom), 1)

	// Idempotent.
	engine.LeaveActiveRoom(ctx)
	assert.Len(t, transport.emitsFor(models.EventLeaveRoom), 1)
}

func TestEngineClose(t *testing.T) {
	transport := newFakeTransport()
	engine := newTestEngine(transport, nil)
	prepareJoinAcks(transport)

	ctx := context.Background()
	require.NoError(t, engine.Connect(ctx))
	_, err := engine.ActivateRoom(ctx, RoomConfig{RoomID: "room-1"})
	require.NoError(t, err)

	require.NoError(t, engine.Close(ctx))
	assert.Nil(t, engine.ActiveRoom())
}
