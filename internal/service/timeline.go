package service

import (
	"sort"
	"time"

	"tripchat/internal/models"
)

// ReconcileOutcome describes how an incoming authoritative message landed in
// the timeline.
type ReconcileOutcome string

const (
	// OutcomeMerged: an entry with the incoming id already existed; fields
	// were merged. Covers the second of ack/broadcast to arrive, and
	// duplicate redelivery.
	OutcomeMerged ReconcileOutcome = "merged"
	// OutcomeReplaced: an optimistic temporary-id entry was converted in
	// place to the authoritative message.
	OutcomeReplaced ReconcileOutcome = "replaced"
	// OutcomeAppended: nothing correlated; the message was inserted as a new
	// entry. For self-authored messages this is a correlation miss.
	OutcomeAppended ReconcileOutcome = "appended"
)

// Timeline is the ordered, deduplicated message list for one room. It is the
// single mutation point for message state. Not safe for concurrent use: the
// room controller serializes every call.
type Timeline struct {
	selfID  string
	window  time.Duration
	entries []*models.ChatMessage
	index   map[string]*models.ChatMessage
	byKey   map[string]*models.ChatMessage
}

func NewTimeline(selfID string, correlationWindow time.Duration) *Timeline {
	return &Timeline{
		selfID: selfID,
		window: correlationWindow,
		index:  make(map[string]*models.ChatMessage),
		byKey:  make(map[string]*models.ChatMessage),
	}
}

func (t *Timeline) Len() int {
	return len(t.entries)
}

// Messages returns a snapshot of the timeline in presentation order.
func (t *Timeline) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Get returns a copy of the entry with the given id.
func (t *Timeline) Get(id string) (models.ChatMessage, bool) {
	if e, ok := t.index[id]; ok {
		return *e, true
	}
	return models.ChatMessage{}, false
}

// Last returns a copy of the tail entry.
func (t *Timeline) Last() (models.ChatMessage, bool) {
	if len(t.entries) == 0 {
		return models.ChatMessage{}, false
	}
	return *t.entries[len(t.entries)-1], true
}

// Append inserts an entry in createdAt order. Used for optimistic entries and
// history seeding; duplicates by id are ignored.
func (t *Timeline) Append(msg models.ChatMessage) bool {
	if _, exists := t.index[msg.ID]; exists {
		return false
	}
	t.insertSorted(&msg)
	return true
}

// Prepend merges an older history page into the head of the timeline,
// skipping ids already present. Returns the number of entries added.
func (t *Timeline) Prepend(page []models.ChatMessage) int {
	added := 0
	for i := range page {
		if t.Append(page[i]) {
			added++
		}
	}
	return added
}

// Reconcile applies one authoritative message to the timeline. It is invoked
// identically for the sender's own acknowledgment and for the room broadcast,
// and is commutative with respect to their arrival order.
func (t *Timeline) Reconcile(incoming models.ChatMessage, byClientKey bool) ReconcileOutcome {
	// Case 1: the message already settled; merge whatever the second arrival
	// carries.
	if existing, ok := t.index[incoming.ID]; ok {
		t.mergeInto(existing, &incoming)
		return OutcomeMerged
	}

	// Case 1a: exact idempotency-key lookup, when enabled and echoed.
	if byClientKey && incoming.ClientKey != "" {
		if entry, ok := t.byKey[incoming.ClientKey]; ok && models.IsTempID(entry.ID) {
			t.promote(entry, &incoming)
			return OutcomeReplaced
		}
	}

	// Case 2: correlate against the most recently created unmatched
	// optimistic entry from the same sender inside the window. Scanning from
	// the tail finds the latest first, so rapid consecutive sends reconcile
	// in send order.
	if candidate := t.findCandidate(&incoming); candidate != nil {
		t.promote(candidate, &incoming)
		return OutcomeReplaced
	}

	// Case 3: safety net for a broadcast that outran its optimistic insert,
	// or a message from another participant.
	t.insertSorted(&incoming)
	return OutcomeAppended
}

func (t *Timeline) findCandidate(incoming *models.ChatMessage) *models.ChatMessage {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if !models.IsTempID(e.ID) {
			continue
		}
		if e.SenderID != incoming.SenderID {
			continue
		}
		if absDuration(e.CreatedAt.Sub(incoming.CreatedAt)) <= t.window {
			return e
		}
	}
	return nil
}

// promote converts an optimistic entry to the authoritative message in place,
// preserving its timeline slot before re-establishing createdAt order.
func (t *Timeline) promote(entry *models.ChatMessage, incoming *models.ChatMessage) {
	delete(t.index, entry.ID)
	delete(t.byKey, entry.ClientKey)

	status := models.MergeStatus(entry.Status, incoming.Status)
	if entry.Status == models.MessageStatusFailed {
		// The authoritative copy proves the send reached the server; the
		// local failure was a lost acknowledgment.
		status = incoming.Status
	}

	*entry = *incoming
	entry.Status = status
	if entry.Status == "" {
		entry.Status = models.MessageStatusSent
	}

	t.index[entry.ID] = entry
	t.normalize()
}

// mergeInto folds the second arrival's fields into a settled entry.
func (t *Timeline) mergeInto(existing *models.ChatMessage, incoming *models.ChatMessage) {
	if incoming.Text != "" {
		existing.Text = incoming.Text
	}
	if len(incoming.MediaAttachments) > 0 {
		existing.MediaAttachments = incoming.MediaAttachments
	}
	if incoming.MessageType != "" {
		existing.MessageType = incoming.MessageType
	}
	existing.Status = models.MergeStatus(existing.Status, incoming.Status)
	if existing.ReadAt == nil && incoming.ReadAt != nil {
		existing.ReadAt = incoming.ReadAt
	}
	for participant := range incoming.DeliveredTo {
		existing.MarkDeliveredTo(participant)
	}
}

// PromoteByID converts the named temporary entry into the authoritative
// message without sender or window matching. Used when the acknowledgment
// names its own temp entry but reconciliation already consumed another.
func (t *Timeline) PromoteByID(tempID string, incoming models.ChatMessage) bool {
	if _, settled := t.index[incoming.ID]; settled {
		return false
	}
	entry, ok := t.index[tempID]
	if !ok || !models.IsTempID(entry.ID) {
		return false
	}
	t.promote(entry, &incoming)
	return true
}

// ResetFailed returns a failed entry to sent ahead of a retry.
func (t *Timeline) ResetFailed(tempID string) bool {
	entry, ok := t.index[tempID]
	if !ok || entry.Status != models.MessageStatusFailed {
		return false
	}
	entry.Status = models.MessageStatusSent
	return true
}

// MarkFailed transitions the optimistic entry with the given temporary id to
// failed. Terminal; reachable only from sent.
func (t *Timeline) MarkFailed(tempID string) bool {
	entry, ok := t.index[tempID]
	if !ok || entry.Status != models.MessageStatusSent {
		return false
	}
	entry.Status = models.MessageStatusFailed
	return true
}

// ApplyDelivered applies a messages_delivered receipt to the local user's own
// messages. Idempotent.
func (t *Timeline) ApplyDelivered(participantID string, messageIDs []string) int {
	updated := 0
	for _, id := range messageIDs {
		entry, ok := t.index[id]
		if !ok || entry.SenderID != t.selfID {
			continue
		}
		entry.MarkDeliveredTo(participantID)
		if entry.Status == models.MessageStatusSent {
			entry.Status = models.MessageStatusDelivered
			updated++
		}
	}
	return updated
}

// ApplyRead applies a messages_read receipt to the local user's own messages.
// Idempotent.
func (t *Timeline) ApplyRead(participantID string, messageIDs []string, readAt time.Time) int {
	updated := 0
	for _, id := range messageIDs {
		entry, ok := t.index[id]
		if !ok || entry.SenderID != t.selfID {
			continue
		}
		next := models.MergeStatus(entry.Status, models.MessageStatusRead)
		if next != entry.Status {
			entry.Status = next
			ts := readAt
			entry.ReadAt = &ts
			updated++
		}
		entry.MarkDeliveredTo(participantID)
	}
	return updated
}

// MarkIncomingRead flips every other-participant message not yet read to
// read. Invoked after a successful mark_read acknowledgment.
func (t *Timeline) MarkIncomingRead(readAt time.Time) int {
	updated := 0
	for _, entry := range t.entries {
		if entry.SenderID == t.selfID {
			continue
		}
		next := models.MergeStatus(entry.Status, models.MessageStatusRead)
		if next != entry.Status {
			entry.Status = next
			ts := readAt
			entry.ReadAt = &ts
			updated++
		}
	}
	return updated
}

// OrphanedTempCount counts optimistic entries past the correlation window
// that never received authoritative data. They stay in the timeline; this
// only makes them observable.
func (t *Timeline) OrphanedTempCount(now time.Time) int {
	orphans := 0
	for _, entry := range t.entries {
		if models.IsTempID(entry.ID) && entry.Status == models.MessageStatusSent && now.Sub(entry.CreatedAt) > t.window {
			orphans++
		}
	}
	return orphans
}

// OldestCreatedAt returns the createdAt cursor for backward pagination.
func (t *Timeline) OldestCreatedAt() (time.Time, bool) {
	if len(t.entries) == 0 {
		return time.Time{}, false
	}
	return t.entries[0].CreatedAt, true
}

func (t *Timeline) insertSorted(msg *models.ChatMessage) {
	if msg.Status == "" {
		msg.Status = models.MessageStatusSent
	}

	pos := len(t.entries)
	for pos > 0 && t.entries[pos-1].CreatedAt.After(msg.CreatedAt) {
		pos--
	}

	t.entries = append(t.entries, nil)
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = msg

	t.index[msg.ID] = msg
	if msg.ClientKey != "" {
		t.byKey[msg.ClientKey] = msg
	}
}

// normalize restores non-decreasing createdAt order after an in-place
// promotion changed an entry's timestamp.
func (t *Timeline) normalize() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].CreatedAt.Before(t.entries[j].CreatedAt)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
