package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"tripchat/internal/channel"
	"tripchat/internal/errors"
	"tripchat/internal/features"
	"tripchat/internal/metrics"
	"tripchat/internal/models"
	"tripchat/internal/privacy"
	"tripchat/internal/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Send runs the optimistic send pipeline: append a temporary entry for
// immediate display, emit send_message, and settle the entry when the
// acknowledgment or the broadcast echo arrives, whichever comes first.
// The returned id is the temporary id of the pending entry.
func (rc *RoomController) Send(ctx context.Context, text string, attachments []models.MediaAttachment) (string, error) {
	text = strings.TrimSpace(text)
	attachments = rc.validAttachments(attachments)
	if text == "" && len(attachments) == 0 {
		return "", errors.NewValidationError("message", "", "text or attachments required")
	}
	if rc.deps.Transport.State() != channel.StateConnected {
		return "", errors.New(errors.ErrCodeConnection, "channel not connected").
			WithUserMessage("You are offline. Reconnect to send messages.")
	}

	temp := models.ChatMessage{
		ID:               models.NewTempID(),
		RoomID:           rc.room.RoomID,
		SenderID:         rc.deps.Identity.UserID(),
		SenderType:       rc.deps.Identity.UserType(),
		Text:             text,
		MediaAttachments: attachments,
		MessageType:      models.ClassifyMessage(text, attachments),
		Status:           models.MessageStatusSent,
		CreatedAt:        time.Now(),
	}
	if rc.deps.Flags.IsEnabled(features.FlagIdempotencyKeys) {
		temp.ClientKey = uuid.NewString()
	}

	if !rc.apply(func() { rc.timeline.Append(temp) }) {
		return "", errors.New(errors.ErrCodeSendFailed, "room no longer active")
	}
	rc.notifyTimeline(true)

	// Sending is proof the composing burst ended.
	rc.typing.stopNow(ctx)

	rc.emitSend(ctx, temp)
	return temp.ID, nil
}

// validAttachments drops entries with no URL or no type. The rest of the
// message still sends; a broken attachment reference is not worth failing a
// composed message over.
func (rc *RoomController) validAttachments(attachments []models.MediaAttachment) []models.MediaAttachment {
	valid := make([]models.MediaAttachment, 0, len(attachments))
	for _, att := range attachments {
		if att.URL == "" || att.Type == "" {
			metrics.IncrementCounter("attachments_dropped_total", nil, "Malformed attachments dropped before send")
			rc.log.WithField("attachment_type", att.Type).
				Warn("Dropping malformed attachment")
			continue
		}
		valid = append(valid, att)
	}
	return valid
}

// RetrySend re-submits a failed entry under its original temporary id so the
// timeline slot and client key survive the retry.
func (rc *RoomController) RetrySend(ctx context.Context, tempID string) error {
	if !models.IsTempID(tempID) {
		return errors.NewValidationError("tempID", privacy.MaskMessageID(tempID), "not a temporary id")
	}
	if rc.deps.Transport.State() != channel.StateConnected {
		return errors.New(errors.ErrCodeConnection, "channel not connected").
			WithUserMessage("You are offline. Reconnect to send messages.")
	}

	var temp models.ChatMessage
	found := false
	applied := rc.apply(func() {
		if !rc.timeline.ResetFailed(tempID) {
			return
		}
		temp, found = rc.timeline.Get(tempID)
	})
	if !applied {
		return errors.New(errors.ErrCodeSendFailed, "room no longer active")
	}
	if !found {
		return errors.New(errors.ErrCodeNotFound, "no failed entry to retry").
			WithContext("message_id", privacy.MaskMessageID(tempID))
	}
	rc.notifyTimeline(false)

	rc.emitSend(ctx, temp)
	return nil
}

func (rc *RoomController) emitSend(ctx context.Context, temp models.ChatMessage) {
	req := models.SendMessageRequest{
		RoomID:           rc.room.RoomID,
		SenderID:         rc.deps.Identity.UserID(),
		SenderType:       rc.deps.Identity.UserType(),
		ReceiverID:       rc.room.ReceiverID,
		Text:             temp.Text,
		MediaAttachments: temp.MediaAttachments,
		MessageType:      temp.MessageType,
		ContextType:      rc.room.ContextType,
		ContextID:        rc.room.ContextID,
		ClientKey:        temp.ClientKey,
	}

	spanCtx, span := tracing.StartSpan(ctx, "send_message",
		attribute.String("room.id", privacy.MaskRoomID(rc.room.RoomID)))

	ackTimeout := time.Duration(rc.deps.Config.AckTimeoutSec) * time.Second
	start := time.Now()
	timer := time.AfterFunc(ackTimeout, func() {
		span.End()
		rc.failSend(temp.ID, errors.NewTimeoutError("send_message", ackTimeout.String()))
	})

	err := rc.deps.Transport.EmitWithAck(spanCtx, models.EventSendMessage, req,
		func(data json.RawMessage) {
			if !timer.Stop() {
				// Timeout already ran; a late ack must not resurrect the entry.
				return
			}
			defer span.End()
			metrics.RecordTimer("send_ack_rtt", time.Since(start), nil, "Round trip from emit to acknowledgment")
			var ack models.SendMessageAck
			if err := json.Unmarshal(data, &ack); err != nil || !ack.Success || ack.Message == nil {
				rc.failSend(temp.ID, errors.NewSendError(rc.room.RoomID, temp.ID, ack.Error))
				return
			}
			rc.settle(context.Background(), *ack.Message, temp.ID)
		})
	if err != nil {
		timer.Stop()
		span.End()
		rc.failSend(temp.ID, err)
	}
}

// settle reconciles an authoritative copy of a just-sent message into the
// timeline. The acknowledgment names its own temp entry, so an exact
// promotion is tried first; if the broadcast echo already consumed it the
// shared reconciliation path takes over.
func (rc *RoomController) settle(ctx context.Context, msg models.ChatMessage, ackTempID string) {
	var outcome ReconcileOutcome
	atTail := false
	applied := rc.apply(func() {
		if ackTempID != "" && rc.timeline.PromoteByID(ackTempID, msg) {
			outcome = OutcomeReplaced
		} else {
			byKey := rc.deps.Flags.IsEnabled(features.FlagIdempotencyKeys)
			outcome = rc.timeline.Reconcile(msg, byKey)
		}
		if last, ok := rc.timeline.Last(); ok && last.ID == msg.ID {
			atTail = true
		}
		rc.orphanGauge()
	})
	if !applied {
		return
	}
	rc.recordReconcile(outcome, msg)
	rc.notifyTimeline(atTail)
	rc.cacheMessages(ctx, []models.ChatMessage{msg})
}

func (rc *RoomController) failSend(tempID string, cause error) {
	marked := false
	applied := rc.apply(func() {
		marked = rc.timeline.MarkFailed(tempID)
	})
	if !applied || !marked {
		return
	}
	metrics.IncrementCounter("messages_send_failed_total", nil, "Sends that failed or timed out")
	rc.log.WithError(cause).
		WithField("message_id", privacy.MaskMessageID(tempID)).
		Warn("Send failed")
	rc.notifyTimeline(false)
}

func (rc *RoomController) recordReconcile(outcome ReconcileOutcome, msg models.ChatMessage) {
	labels := map[string]string{"outcome": string(outcome)}
	metrics.IncrementCounter("timeline_reconcile_total", labels, "Reconciliation outcomes by kind")

	if outcome == OutcomeAppended && msg.SenderID == rc.deps.Identity.UserID() {
		metrics.IncrementCounter("timeline_reconcile_miss_total", nil,
			"Self-authored messages appended without consuming a pending entry")
		rc.log.WithField("message_id", privacy.MaskMessageID(msg.ID)).
			Warn("Own message arrived with no matching pending entry")
	}
}
