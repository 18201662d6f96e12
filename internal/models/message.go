package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// statusRank orders the non-terminal statuses for monotonic merging.
var statusRank = map[MessageStatus]int{
	MessageStatusSent:      0,
	MessageStatusDelivered: 1,
	MessageStatusRead:      2,
}

// MergeStatus applies next onto cur without ever regressing. failed is
// terminal and reachable only from sent.
func MergeStatus(cur, next MessageStatus) MessageStatus {
	if cur == MessageStatusFailed {
		return cur
	}
	if next == MessageStatusFailed {
		if cur == MessageStatusSent {
			return MessageStatusFailed
		}
		return cur
	}
	if statusRank[next] > statusRank[cur] {
		return next
	}
	return cur
}

type MessageType string

const (
	TextMessage  MessageType = "text"
	MediaMessage MessageType = "media"
	MixedMessage MessageType = "mixed"
)

// ClassifyMessage derives the message type from its content.
func ClassifyMessage(text string, attachments []MediaAttachment) MessageType {
	switch {
	case text != "" && len(attachments) > 0:
		return MixedMessage
	case len(attachments) > 0:
		return MediaMessage
	default:
		return TextMessage
	}
}

type AttachmentType string

const (
	ImageAttachment AttachmentType = "image"
	VideoAttachment AttachmentType = "video"
	VoiceAttachment AttachmentType = "voice"
	FileAttachment  AttachmentType = "file"
)

// MediaAttachment describes an already-uploaded media item. Attachments are
// created by the upload collaborator before the referencing message is sent
// and are immutable afterwards.
type MediaAttachment struct {
	Type         AttachmentType `json:"type"`
	URL          string         `json:"url"`
	ThumbnailURL string         `json:"thumbnailUrl,omitempty"`
	Duration     int            `json:"duration,omitempty"`
	FileName     string         `json:"fileName,omitempty"`
	FileSize     int64          `json:"fileSize,omitempty"`
	MimeType     string         `json:"mimeType,omitempty"`
}

// ChatMessage is a single timeline entry. Its ID is either a client-generated
// temporary id (see NewTempID) or the permanent id assigned by the server.
type ChatMessage struct {
	ID               string              `json:"id"`
	ClientKey        string              `json:"clientKey,omitempty"`
	RoomID           string              `json:"roomId"`
	SenderID         string              `json:"senderId"`
	SenderType       string              `json:"senderType"`
	Text             string              `json:"text"`
	MediaAttachments []MediaAttachment   `json:"mediaAttachments,omitempty"`
	MessageType      MessageType         `json:"messageType"`
	Status           MessageStatus       `json:"status"`
	CreatedAt        time.Time           `json:"createdAt"`
	ReadAt           *time.Time          `json:"readAt,omitempty"`
	DeliveredTo      map[string]struct{} `json:"-"`
}

const tempIDPrefix = "tmp-"

// NewTempID generates a process-unique, time-ordered temporary message id.
func NewTempID() string {
	return fmt.Sprintf("%s%d-%s", tempIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// IsTempID reports whether id is a client-generated temporary id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// MarkDeliveredTo records a participant acknowledgment. Idempotent.
func (m *ChatMessage) MarkDeliveredTo(participantID string) {
	if m.DeliveredTo == nil {
		m.DeliveredTo = make(map[string]struct{})
	}
	m.DeliveredTo[participantID] = struct{}{}
}
