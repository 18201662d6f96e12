package service

import (
	"context"
	"encoding/json"

	"tripchat/internal/features"
	"tripchat/internal/metrics"
	"tripchat/internal/models"
	"tripchat/internal/privacy"
)

// subscribe wires the room's inbound event handlers. Every disposer is kept
// so Leave can unhook them in one pass.
func (rc *RoomController) subscribe() {
	on := func(event string, handler func(json.RawMessage)) {
		dispose := rc.deps.Transport.On(event, handler)
		rc.mu.Lock()
		rc.disposers = append(rc.disposers, dispose)
		rc.mu.Unlock()
	}

	on(models.EventNewMessage, rc.handleNewMessage)
	on(models.EventUserTyping, rc.typingHandler(rc.onUserTyping))
	on(models.EventUserStoppedTyping, rc.typingHandler(rc.onUserStoppedTyping))
	on(models.EventMessagesDelivered, rc.receiptHandler(rc.onMessagesDelivered))
	on(models.EventMessagesRead, rc.receiptHandler(rc.onMessagesRead))
}

func (rc *RoomController) typingHandler(handler func(models.TypingEvent)) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var ev models.TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			rc.droppedEvent(err)
			return
		}
		if ev.RoomID != rc.room.RoomID {
			return
		}
		handler(ev)
	}
}

func (rc *RoomController) receiptHandler(handler func(models.ReceiptEvent)) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var ev models.ReceiptEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			rc.droppedEvent(err)
			return
		}
		if ev.RoomID != rc.room.RoomID {
			return
		}
		handler(ev)
	}
}

func (rc *RoomController) droppedEvent(err error) {
	rc.log.WithError(err).Warn("Malformed event payload")
	metrics.IncrementCounter("events_malformed_total", nil, "Inbound events that failed to decode")
}

// handleNewMessage is the broadcast half of the dual-channel settlement. The
// same reconciliation runs here as for send acknowledgments, so the two
// arrivals commute.
func (rc *RoomController) handleNewMessage(data json.RawMessage) {
	var msg models.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		rc.log.WithError(err).Warn("Malformed new_message payload")
		metrics.IncrementCounter("events_malformed_total", nil, "Inbound events that failed to decode")
		return
	}
	if msg.RoomID != rc.room.RoomID {
		return
	}

	var outcome ReconcileOutcome
	atTail := false
	typingChanged := false
	var typingSnapshot []models.TypingUser
	applied := rc.apply(func() {
		byKey := rc.deps.Flags.IsEnabled(features.FlagIdempotencyKeys)
		outcome = rc.timeline.Reconcile(msg, byKey)
		if last, ok := rc.timeline.Last(); ok && last.ID == msg.ID {
			atTail = true
		}
		// A message from a composing counterpart closes their indicator even
		// if the stop signal is lost.
		if typingChanged = rc.clearTypistLocked(msg.SenderID); typingChanged {
			typingSnapshot = rc.typingSnapshotLocked()
		}
		rc.orphanGauge()
	})
	if !applied {
		rc.log.WithField("message_id", privacy.MaskMessageID(msg.ID)).
			Debug("Dropping broadcast for disposed room")
		return
	}

	rc.recordReconcile(outcome, msg)
	rc.notifyTimeline(atTail)
	if typingChanged {
		rc.notifyTyping(typingSnapshot)
	}
	rc.cacheMessages(context.Background(), []models.ChatMessage{msg})

	// The first counterpart message after an empty activation still needs its
	// receipts, and a receipt whose activation-time acknowledgment failed
	// gets another chance here. The latches make both no-ops otherwise.
	if msg.SenderID != rc.deps.Identity.UserID() {
		rc.markDelivered(context.Background())
		rc.markRead(context.Background())
	}
}
