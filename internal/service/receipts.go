package service

import (
	"context"
	"encoding/json"
	"time"

	"tripchat/internal/errors"
	"tripchat/internal/metrics"
	"tripchat/internal/models"
	"tripchat/internal/privacy"
)

// markDelivered tells the server every message in the room reached this
// client. Latched per activation: the first successful acknowledgment closes
// the latch, and a failed attempt leaves it open for the next trigger.
func (rc *RoomController) markDelivered(ctx context.Context) {
	shouldEmit := false
	rc.apply(func() {
		if rc.session.DeliveredLatch || rc.deliveredPending || rc.timeline.Len() == 0 {
			return
		}
		rc.deliveredPending = true
		shouldEmit = true
	})
	if !shouldEmit {
		return
	}

	req := models.ReceiptRequest{RoomID: rc.room.RoomID, UserID: rc.deps.Identity.UserID()}
	err := rc.deps.Transport.EmitWithAck(ctx, models.EventMarkDelivered, req,
		func(data json.RawMessage) {
			var ack models.BasicAck
			ok := json.Unmarshal(data, &ack) == nil && ack.Success
			rc.apply(func() {
				rc.deliveredPending = false
				if ok {
					rc.session.DeliveredLatch = true
				}
			})
			if !ok {
				rc.logReceiptFailure("delivered", ack.Error)
			}
		})
	if err != nil {
		rc.apply(func() { rc.deliveredPending = false })
		rc.logReceiptFailure("delivered", err.Error())
	}
}

// markRead tells the server this client has seen the room. Same latch
// discipline as markDelivered; a successful acknowledgment additionally flips
// local incoming messages to read.
func (rc *RoomController) markRead(ctx context.Context) {
	shouldEmit := false
	rc.apply(func() {
		if rc.session.ReadLatch || rc.readPending {
			return
		}
		rc.readPending = true
		shouldEmit = true
	})
	if !shouldEmit {
		return
	}

	req := models.ReceiptRequest{RoomID: rc.room.RoomID, UserID: rc.deps.Identity.UserID()}
	err := rc.deps.Transport.EmitWithAck(ctx, models.EventMarkRead, req,
		func(data json.RawMessage) {
			var ack models.BasicAck
			ok := json.Unmarshal(data, &ack) == nil && ack.Success
			flipped := 0
			rc.apply(func() {
				rc.readPending = false
				if ok {
					rc.session.ReadLatch = true
					flipped = rc.timeline.MarkIncomingRead(time.Now())
				}
			})
			if !ok {
				rc.logReceiptFailure("read", ack.Error)
				return
			}
			if flipped > 0 {
				rc.notifyTimeline(false)
			}
		})
	if err != nil {
		rc.apply(func() { rc.readPending = false })
		rc.logReceiptFailure("read", err.Error())
	}
}

// NotifyNearBottom reports that the viewport sits within the read proximity
// of the newest message. Triggers the read receipt if it has not fired yet
// this activation.
func (rc *RoomController) NotifyNearBottom(ctx context.Context) {
	rc.markRead(ctx)
}

func (rc *RoomController) logReceiptFailure(kind, reason string) {
	appErr := errors.NewReceiptError(kind, rc.room.RoomID, reason)
	metrics.IncrementCounter("receipts_failed_total",
		map[string]string{"kind": kind}, "Receipt requests that were rejected or lost")
	rc.log.WithError(appErr).WithField("kind", kind).Warn("Receipt request failed")
}

// onMessagesDelivered applies a counterpart's delivery receipt to the local
// user's own messages.
func (rc *RoomController) onMessagesDelivered(ev models.ReceiptEvent) {
	updated := 0
	applied := rc.apply(func() {
		updated = rc.timeline.ApplyDelivered(ev.UserID, ev.MessageIDs)
	})
	if !applied || updated == 0 {
		return
	}
	rc.notifyTimeline(false)
	rc.persistStatuses(ev.MessageIDs, models.MessageStatusDelivered, nil)
}

// onMessagesRead applies a counterpart's read receipt. Read wins over
// delivered; both are idempotent on redelivery.
func (rc *RoomController) onMessagesRead(ev models.ReceiptEvent) {
	readAt := time.Now()
	if ev.ReadAt != nil {
		readAt = *ev.ReadAt
	}
	updated := 0
	applied := rc.apply(func() {
		updated = rc.timeline.ApplyRead(ev.UserID, ev.MessageIDs, readAt)
	})
	if !applied || updated == 0 {
		return
	}
	rc.notifyTimeline(false)
	rc.persistStatuses(ev.MessageIDs, models.MessageStatusRead, &readAt)
}

func (rc *RoomController) persistStatuses(ids []string, status models.MessageStatus, readAt *time.Time) {
	if rc.deps.Cache == nil {
		return
	}
	ctx := context.Background()
	for _, id := range ids {
		if models.IsTempID(id) {
			continue
		}
		if err := rc.deps.Cache.UpdateStatus(ctx, id, status, readAt); err != nil {
			rc.log.WithError(err).
				WithField("message_id", privacy.MaskMessageID(id)).
				Debug("Cache status update failed")
			return
		}
	}
}
