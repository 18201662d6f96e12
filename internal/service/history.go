package service

import (
	"context"
	"encoding/json"
	"time"

	"tripchat/internal/errors"
	"tripchat/internal/features"
	"tripchat/internal/metrics"
	"tripchat/internal/models"
	"tripchat/internal/privacy"
	"tripchat/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// LoadMore fetches the page of messages older than the oldest one loaded and
// prepends it to the timeline. Re-entrant calls while a page is in flight are
// ignored, and once the server returns a short page the room is marked
// exhausted and further calls are no-ops.
func (rc *RoomController) LoadMore(ctx context.Context) error {
	limit := rc.deps.Config.HistoryPageSize
	var before time.Time

	start := false
	applied := rc.apply(func() {
		if rc.loadingMore || !rc.session.HasMore {
			return
		}
		rc.loadingMore = true
		before = rc.session.OldestLoaded
		start = true
	})
	if !applied {
		return errors.New(errors.ErrCodeHistoryLoad, "room no longer active")
	}
	if !start {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "load_history",
		attribute.String("room.id", privacy.MaskRoomID(rc.room.RoomID)),
		attribute.Int("page.limit", limit))
	defer span.End()

	req := models.HistoryRequest{RoomID: rc.room.RoomID, Limit: limit}
	if !before.IsZero() {
		req.Before = &before
	}
	ackCh := make(chan models.HistoryAck, 1)
	err := rc.deps.Transport.EmitWithAck(ctx, models.EventGetHistory, req,
		func(data json.RawMessage) {
			var ack models.HistoryAck
			if jsonErr := json.Unmarshal(data, &ack); jsonErr != nil {
				ack = models.HistoryAck{}
			}
			ackCh <- ack
		})
	if err != nil {
		return rc.finishLoad(ctx, nil, limit, errors.NewHistoryError(rc.room.RoomID, err), before)
	}

	select {
	case ack := <-ackCh:
		if !ack.Success {
			return rc.finishLoad(ctx, nil, limit,
				errors.NewHistoryError(rc.room.RoomID, errors.New(errors.ErrCodeHistoryLoad, ack.Error)), before)
		}
		return rc.finishLoad(ctx, ack.Messages, limit, nil, before)
	case <-ctx.Done():
		return rc.finishLoad(ctx, nil, limit, errors.NewHistoryError(rc.room.RoomID, ctx.Err()), before)
	}
}

// finishLoad settles one LoadMore attempt. A transport failure falls back to
// the local cache when enabled; the fallback page never flips HasMore so the
// server can be retried later.
func (rc *RoomController) finishLoad(ctx context.Context, page []models.ChatMessage, limit int, loadErr error, before time.Time) error {
	fromCache := false
	if loadErr != nil && rc.deps.Cache != nil && rc.deps.Flags.IsEnabled(features.FlagCacheFallback) {
		cached, cacheErr := rc.deps.Cache.MessagesBefore(ctx, rc.room.RoomID, before, limit)
		if cacheErr == nil && len(cached) > 0 {
			page = cached
			fromCache = true
			metrics.IncrementCounter("history_cache_fallback_total", nil,
				"History pages served from the local cache after a transport failure")
			rc.log.WithField("page_len", len(cached)).Info("History served from cache")
		}
	}

	var prevExtent int
	if rc.deps.Viewport != nil {
		prevExtent = rc.deps.Viewport.ScrollExtent()
	}

	added := 0
	applied := rc.apply(func() {
		rc.loadingMore = false
		if len(page) == 0 {
			if loadErr == nil {
				rc.session.HasMore = false
			}
			return
		}
		added = rc.timeline.Prepend(page)
		if oldest, ok := rc.timeline.OldestCreatedAt(); ok {
			rc.session.OldestLoaded = oldest
		}
		if !fromCache && len(page) < limit {
			rc.session.HasMore = false
		}
	})
	if !applied {
		return loadErr
	}

	if added > 0 {
		rc.notifyTimeline(false)
		// Keep what the user was looking at in place after the prepend.
		if rc.deps.Viewport != nil {
			newExtent := rc.deps.Viewport.ScrollExtent()
			if delta := newExtent - prevExtent; delta > 0 {
				rc.deps.Viewport.AdjustScrollBy(delta)
			}
		}
		if !fromCache {
			rc.cacheMessages(ctx, page)
		}
	}

	if loadErr != nil && !fromCache {
		rc.log.WithError(loadErr).Warn("History load failed")
		return loadErr
	}
	return nil
}
