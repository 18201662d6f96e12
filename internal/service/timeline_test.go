package service

import (
	"testing"
	"time"

	"tripchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	selfID  = "traveler-1"
	otherID = "agent-7"
)

func newTestTimeline() *Timeline {
	return NewTimeline(selfID, 30*time.Second)
}

func tempMessage(text string, createdAt time.Time) models.ChatMessage {
	return models.ChatMessage{
		ID:          models.NewTempID(),
		RoomID:      "room-1",
		SenderID:    selfID,
		SenderType:  "traveler",
		Text:        text,
		MessageType: models.TextMessage,
		Status:      models.MessageStatusSent,
		CreatedAt:   createdAt,
	}
}

func serverMessage(id, sender, text string, createdAt time.Time) models.ChatMessage {
	return models.ChatMessage{
		ID:          id,
		RoomID:      "room-1",
		SenderID:    sender,
		SenderType:  "traveler",
		Text:        text,
		MessageType: models.TextMessage,
		Status:      models.MessageStatusSent,
		CreatedAt:   createdAt,
	}
}

func TestReconcileReplacesOptimisticEntry(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	temp := tempMessage("hola", now)
	require.True(t, tl.Append(temp))

	authoritative := serverMessage("msg-1", selfID, "hola", now.Add(time.Second))
	outcome := tl.Reconcile(authoritative, false)

	assert.Equal(t, OutcomeReplaced, outcome)
	assert.Equal(t, 1, tl.Len())

	got, ok := tl.Get("msg-1")
	require.True(t, ok)
	assert.Equal(t, "hola", got.Text)

	_, ok = tl.Get(temp.ID)
	assert.False(t, ok, "temp id must be unreachable after promotion")
}

func TestReconcileIsCommutative(t *testing.T) {
	now := time.Now()
	temp := tempMessage("reserva confirmada?", now)
	authoritative := serverMessage("msg-9", selfID, "reserva confirmada?", now.Add(500*time.Millisecond))

	// Ack first, then broadcast.
	ackFirst := newTestTimeline()
	require.True(t, ackFirst.Append(temp))
	assert.Equal(t, OutcomeReplaced, ackFirst.Reconcile(authoritative, false))
	assert.Equal(t, OutcomeMerged, ackFirst.Reconcile(authoritative, false))

	// Broadcast first, then ack.
	broadcastFirst := newTestTimeline()
	require.True(t, broadcastFirst.Append(temp))
	assert.Equal(t, OutcomeReplaced, broadcastFirst.Reconcile(authoritative, false))
	assert.Equal(t, OutcomeMerged, broadcastFirst.Reconcile(authoritative, false))

	assert.Equal(t, ackFirst.Messages(), broadcastFirst.Messages())
	assert.Equal(t, 1, ackFirst.Len())
}

func TestReconcilePicksMostRecentCandidate(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	first := tempMessage("primero", now)
	second := tempMessage("segundo", now.Add(2*time.Second))
	require.True(t, tl.Append(first))
	require.True(t, tl.Append(second))

	// The echo of the second send arrives first; it must consume the entry
	// created last, not the oldest one.
	outcome := tl.Reconcile(serverMessage("msg-2", selfID, "segundo", now.Add(2*time.Second)), false)
	assert.Equal(t, OutcomeReplaced, outcome)

	_, ok := tl.Get(second.ID)
	assert.False(t, ok)
	_, ok = tl.Get(first.ID)
	assert.True(t, ok, "older pending entry must survive")

	outcome = tl.Reconcile(serverMessage("msg-1", selfID, "primero", now), false)
	assert.Equal(t, OutcomeReplaced, outcome)
	assert.Equal(t, 2, tl.Len())
}

func TestReconcileOutsideWindowAppends(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	stale := tempMessage("viejo", now.Add(-5*time.Minute))
	require.True(t, tl.Append(stale))

	outcome := tl.Reconcile(serverMessage("msg-3", selfID, "nuevo", now), false)
	assert.Equal(t, OutcomeAppended, outcome)
	assert.Equal(t, 2, tl.Len())

	_, ok := tl.Get(stale.ID)
	assert.True(t, ok, "stale entry is out of the window and must not be consumed")
}

func TestReconcileOtherSenderAppends(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	temp := tempMessage("mio", now)
	require.True(t, tl.Append(temp))

	outcome := tl.Reconcile(serverMessage("msg-4", otherID, "suyo", now), false)
	assert.Equal(t, OutcomeAppended, outcome)
	assert.Equal(t, 2, tl.Len())

	_, ok := tl.Get(temp.ID)
	assert.True(t, ok)
}

func TestReconcileByClientKey(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	temp := tempMessage("con clave", now)
	temp.ClientKey = "key-123"
	require.True(t, tl.Append(temp))

	// Decoy created later; the exact key match must win over recency.
	decoy := tempMessage("senuelo", now.Add(time.Second))
	require.True(t, tl.Append(decoy))

	authoritative := serverMessage("msg-5", selfID, "con clave", now)
	authoritative.ClientKey = "key-123"

	outcome := tl.Reconcile(authoritative, true)
	assert.Equal(t, OutcomeReplaced, outcome)

	_, ok := tl.Get(temp.ID)
	assert.False(t, ok)
	_, ok = tl.Get(decoy.ID)
	assert.True(t, ok)
}

func TestReconcileDuplicateRedelivery(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	msg := serverMessage("msg-6", otherID, "bienvenido", now)
	assert.Equal(t, OutcomeAppended, tl.Reconcile(msg, false))
	assert.Equal(t, OutcomeMerged, tl.Reconcile(msg, false))
	assert.Equal(t, OutcomeMerged, tl.Reconcile(msg, false))
	assert.Equal(t, 1, tl.Len())
}

func TestReconcileMergePreservesStatusMonotonicity(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	msg := serverMessage("msg-7", selfID, "estado", now)
	msg.Status = models.MessageStatusRead
	assert.Equal(t, OutcomeAppended, tl.Reconcile(msg, false))

	// A late redelivery carrying a stale status must not regress.
	stale := msg
	stale.Status = models.MessageStatusDelivered
	assert.Equal(t, OutcomeMerged, tl.Reconcile(stale, false))

	got, _ := tl.Get("msg-7")
	assert.Equal(t, models.MessageStatusRead, got.Status)
}

func TestReconcileKeepsCreatedAtOrder(t *testing.T) {
	tl := newTestTimeline()
	base := time.Now()

	tl.Reconcile(serverMessage("msg-c", otherID, "c", base.Add(2*time.Second)), false)
	tl.Reconcile(serverMessage("msg-a", otherID, "a", base), false)
	tl.Reconcile(serverMessage("msg-b", otherID, "b", base.Add(time.Second)), false)

	messages := tl.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "msg-a", messages[0].ID)
	assert.Equal(t, "msg-b", messages[1].ID)
	assert.Equal(t, "msg-c", messages[2].ID)
}

func TestPromotionReordersByServerTimestamp(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	temp := tempMessage("tarde", now)
	require.True(t, tl.Append(temp))
	tl.Reconcile(serverMessage("msg-8", otherID, "entre", now.Add(time.Second)), false)

	// Server assigns a later timestamp than the interleaved message.
	authoritative := serverMessage("msg-9", selfID, "tarde", now.Add(2*time.Second))
	assert.Equal(t, OutcomeReplaced, tl.Reconcile(authoritative, false))

	messages := tl.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "msg-8", messages[0].ID)
	assert.Equal(t, "msg-9", messages[1].ID)
}

func TestPromoteByID(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	temp := tempMessage("directo", now)
	require.True(t, tl.Append(temp))

	ok := tl.PromoteByID(temp.ID, serverMessage("msg-10", selfID, "directo", now))
	assert.True(t, ok)
	assert.Equal(t, 1, tl.Len())

	// Nothing left to promote under either id.
	assert.False(t, tl.PromoteByID(temp.ID, serverMessage("msg-11", selfID, "x", now)))
	assert.False(t, tl.PromoteByID("msg-10", serverMessage("msg-10", selfID, "x", now)))
}

func TestPromoteByIDRefusesSettledID(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	temp := tempMessage("doble", now)
	require.True(t, tl.Append(temp))

	broadcast := serverMessage("msg-12", selfID, "doble", now)
	tl.insertSorted(&broadcast)

	assert.False(t, tl.PromoteByID(temp.ID, broadcast), "must not create a duplicate id")
}

func TestMarkFailed(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	temp := tempMessage("fallido", now)
	require.True(t, tl.Append(temp))

	assert.True(t, tl.MarkFailed(temp.ID))
	got, _ := tl.Get(temp.ID)
	assert.Equal(t, models.MessageStatusFailed, got.Status)

	// Terminal: a second failure attempt and unknown ids are no-ops.
	assert.False(t, tl.MarkFailed(temp.ID))
	assert.False(t, tl.MarkFailed("msg-nope"))
}

func TestBroadcastAfterTimeoutClearsFailedEntry(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	temp := tempMessage("perdido", now)
	require.True(t, tl.Append(temp))
	require.True(t, tl.MarkFailed(temp.ID))

	// The broadcast arriving after the acknowledgment timed out proves the
	// send went through; the entry settles instead of staying failed.
	authoritative := serverMessage("msg-1", selfID, "perdido", now.Add(2*time.Second))
	outcome := tl.Reconcile(authoritative, false)

	assert.Equal(t, OutcomeReplaced, outcome)
	assert.Equal(t, 1, tl.Len())

	got, ok := tl.Get("msg-1")
	require.True(t, ok)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	_, ok = tl.Get(temp.ID)
	assert.False(t, ok)
}

func TestResetFailed(t *testing.T) {
	tl := newTestTimeline()
	temp := tempMessage("reintento", time.Now())
	require.True(t, tl.Append(temp))

	assert.False(t, tl.ResetFailed(temp.ID), "only failed entries can be reset")

	require.True(t, tl.MarkFailed(temp.ID))
	assert.True(t, tl.ResetFailed(temp.ID))

	got, _ := tl.Get(temp.ID)
	assert.Equal(t, models.MessageStatusSent, got.Status)
}

func TestApplyDelivered(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	mine := serverMessage("msg-20", selfID, "mio", now)
	theirs := serverMessage("msg-21", otherID, "suyo", now.Add(time.Second))
	tl.Reconcile(mine, false)
	tl.Reconcile(theirs, false)

	updated := tl.ApplyDelivered(otherID, []string{"msg-20", "msg-21", "msg-99"})
	assert.Equal(t, 1, updated, "only own settled messages are updated")

	got, _ := tl.Get("msg-20")
	assert.Equal(t, models.MessageStatusDelivered, got.Status)
	got, _ = tl.Get("msg-21")
	assert.Equal(t, models.MessageStatusSent, got.Status)

	// Redelivered receipt changes nothing.
	assert.Equal(t, 0, tl.ApplyDelivered(otherID, []string{"msg-20"}))
}

func TestApplyReadWinsOverDelivered(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()
	readAt := now.Add(time.Minute)

	mine := serverMessage("msg-22", selfID, "leido", now)
	tl.Reconcile(mine, false)

	assert.Equal(t, 1, tl.ApplyRead(otherID, []string{"msg-22"}, readAt))
	got, _ := tl.Get("msg-22")
	assert.Equal(t, models.MessageStatusRead, got.Status)
	require.NotNil(t, got.ReadAt)
	assert.Equal(t, readAt, *got.ReadAt)

	// A late delivered receipt must not regress the status.
	assert.Equal(t, 0, tl.ApplyDelivered(otherID, []string{"msg-22"}))
	got, _ = tl.Get("msg-22")
	assert.Equal(t, models.MessageStatusRead, got.Status)
}

func TestMarkIncomingRead(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	tl.Reconcile(serverMessage("msg-30", otherID, "uno", now), false)
	tl.Reconcile(serverMessage("msg-31", otherID, "dos", now.Add(time.Second)), false)
	tl.Reconcile(serverMessage("msg-32", selfID, "mio", now.Add(2*time.Second)), false)

	readAt := now.Add(time.Minute)
	assert.Equal(t, 2, tl.MarkIncomingRead(readAt))
	assert.Equal(t, 0, tl.MarkIncomingRead(readAt), "idempotent")

	got, _ := tl.Get("msg-32")
	assert.Equal(t, models.MessageStatusSent, got.Status, "own messages untouched")
}

func TestPrepend(t *testing.T) {
	tl := newTestTimeline()
	base := time.Now()

	tl.Reconcile(serverMessage("msg-40", otherID, "actual", base), false)

	page := []models.ChatMessage{
		serverMessage("msg-38", otherID, "antiguo", base.Add(-2*time.Minute)),
		serverMessage("msg-39", selfID, "menos antiguo", base.Add(-time.Minute)),
		serverMessage("msg-40", otherID, "actual", base), // overlap with loaded range
	}

	assert.Equal(t, 2, tl.Prepend(page))

	messages := tl.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "msg-38", messages[0].ID)
	assert.Equal(t, "msg-39", messages[1].ID)
	assert.Equal(t, "msg-40", messages[2].ID)

	oldest, ok := tl.OldestCreatedAt()
	require.True(t, ok)
	assert.Equal(t, page[0].CreatedAt, oldest)
}

func TestOrphanedTempCount(t *testing.T) {
	tl := newTestTimeline()
	now := time.Now()

	orphan := tempMessage("huerfano", now.Add(-2*time.Minute))
	fresh := tempMessage("fresco", now)
	require.True(t, tl.Append(orphan))
	require.True(t, tl.Append(fresh))

	assert.Equal(t, 1, tl.OrphanedTempCount(now))
}

func TestAppendDuplicateIgnored(t *testing.T) {
	tl := newTestTimeline()
	msg := serverMessage("msg-50", otherID, "uno", time.Now())

	assert.True(t, tl.Append(msg))
	assert.False(t, tl.Append(msg))
	assert.Equal(t, 1, tl.Len())
}
