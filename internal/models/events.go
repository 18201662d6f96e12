package models

import "time"

// Event names on the persistent channel. Outbound requests carry an
// ack callback; inbound events are broadcast by the server.
const (
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventSendMessage       = "send_message"
	EventNewMessage        = "new_message"
	EventStartTyping       = "start_typing"
	EventStopTyping        = "stop_typing"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMarkDelivered     = "mark_delivered"
	EventMarkRead          = "mark_read"
	EventMessagesDelivered = "messages_delivered"
	EventMessagesRead      = "messages_read"
	EventGetHistory        = "get_history"
	EventGetOnlineMembers  = "get_online_members"
)

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type JoinRoomAck struct {
	Success bool          `json:"success"`
	History []ChatMessage `json:"history,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

type SendMessageRequest struct {
	RoomID           string            `json:"roomId"`
	SenderID         string            `json:"senderId"`
	SenderType       string            `json:"senderType"`
	ReceiverID       string            `json:"receiverId,omitempty"`
	Text             string            `json:"text"`
	MediaAttachments []MediaAttachment `json:"mediaAttachments"`
	MessageType      MessageType       `json:"messageType"`
	ContextType      string            `json:"contextType,omitempty"`
	ContextID        string            `json:"contextId,omitempty"`
	ClientKey        string            `json:"clientKey,omitempty"`
}

type SendMessageAck struct {
	Success bool         `json:"success"`
	Message *ChatMessage `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// BasicAck is the response shape for requests that only report success.
type BasicAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type TypingSignal struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type TypingEvent struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type ReceiptRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ReceiptEvent carries messages_delivered and messages_read broadcasts.
// ReadAt is only set for read receipts.
type ReceiptEvent struct {
	RoomID     string     `json:"roomId"`
	UserID     string     `json:"userId"`
	MessageIDs []string   `json:"messageIds"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}

type HistoryRequest struct {
	RoomID string     `json:"roomId"`
	Limit  int        `json:"limit"`
	Before *time.Time `json:"before,omitempty"`
}

type HistoryAck struct {
	Success  bool          `json:"success"`
	Messages []ChatMessage `json:"messages"`
	Error    string        `json:"error,omitempty"`
}

type OnlineMembersRequest struct {
	RoomID string `json:"roomId"`
}

type OnlineMembersAck struct {
	Success       bool     `json:"success"`
	OnlineMembers []string `json:"onlineMembers"`
	Error         string   `json:"error,omitempty"`
}
