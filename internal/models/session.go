package models

import "time"

// RoomSession holds the per-activation state of an active room. It is created
// when a room is joined and discarded on leave or room switch, which keeps the
// one-shot receipt latches scoped to a single activation.
type RoomSession struct {
	RoomID         string
	DeliveredLatch bool
	ReadLatch      bool
	HasMore        bool
	OldestLoaded   time.Time
	ActivatedAt    time.Time
}

func NewRoomSession(roomID string) *RoomSession {
	return &RoomSession{
		RoomID:      roomID,
		HasMore:     true,
		ActivatedAt: time.Now(),
	}
}

// TypingUser is an ephemeral record of a remote participant composing a
// message. Entries expire on stop-signal or idle timeout; never persisted.
type TypingUser struct {
	UserID       string    `json:"userId"`
	RoomID       string    `json:"roomId"`
	LastSignalAt time.Time `json:"lastSignalAt"`
}
