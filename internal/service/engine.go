package service

import (
	"context"
	"sync"

	"tripchat/internal/channel"
	"tripchat/internal/errors"
	"tripchat/internal/features"
	"tripchat/internal/metrics"
	"tripchat/internal/models"
	"tripchat/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Engine is the top-level chat synchronization engine. It owns the channel
// connection and at most one active room at a time; switching rooms tears the
// previous activation down before the next one joins.
type Engine struct {
	manager *channel.Manager
	deps    Deps
	logger  *logrus.Logger

	mu     sync.Mutex
	active *RoomController
}

// EngineOptions collects the optional collaborators.
type EngineOptions struct {
	Cache    HistoryCache
	Viewport Viewport
	Listener Listener
	Flags    *features.FlagManager
}

func NewEngine(manager *channel.Manager, cfg models.ChatConfig, logger *logrus.Logger, opts EngineOptions) *Engine {
	flags := opts.Flags
	if flags == nil {
		flags = features.NewFlagManager()
	}
	return &Engine{
		manager: manager,
		logger:  logger,
		deps: Deps{
			Transport: manager.Transport(),
			Identity:  manager.Identity(),
			Logger:    logger,
			Flags:     flags,
			Cache:     opts.Cache,
			Viewport:  opts.Viewport,
			Listener:  opts.Listener,
			Config:    cfg,
		},
	}
}

// Connect establishes the underlying channel.
func (e *Engine) Connect(ctx context.Context) error {
	return e.manager.Connect(ctx)
}

// ActivateRoom joins a room and makes it the active one. Any previously
// active room is left first so its subscriptions cannot bleed into the new
// activation.
func (e *Engine) ActivateRoom(ctx context.Context, room RoomConfig) (*RoomController, error) {
	if room.RoomID == "" {
		return nil, errors.NewValidationError("roomId", "", "must not be empty")
	}
	if !e.manager.Connected() {
		return nil, errors.NewConnectionError("activate_room")
	}

	e.mu.Lock()
	previous := e.active
	e.active = nil
	e.mu.Unlock()
	if previous != nil {
		previous.Leave(ctx)
	}

	rc := newRoomController(e.deps, room)
	if err := rc.activate(ctx); err != nil {
		rc.Leave(ctx)
		return nil, err
	}

	e.mu.Lock()
	e.active = rc
	e.mu.Unlock()

	metrics.IncrementCounter("rooms_activated_total", nil, "Room activations")
	e.logger.WithField("room_id", privacy.MaskRoomID(room.RoomID)).Info("Active room switched")
	return rc, nil
}

// ActiveRoom returns the current activation, or nil when no room is active.
func (e *Engine) ActiveRoom() *RoomController {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// LeaveActiveRoom deactivates the current room, if any.
func (e *Engine) LeaveActiveRoom(ctx context.Context) {
	e.mu.Lock()
	rc := e.active
	e.active = nil
	e.mu.Unlock()
	if rc != nil {
		rc.Leave(ctx)
	}
}

// Close leaves the active room and shuts the channel down.
func (e *Engine) Close(ctx context.Context) error {
	e.LeaveActiveRoom(ctx)
	return e.manager.Disconnect()
}
