package cache

// Local message cache schema and queries. The cache mirrors server history so
// the loader can fall back to it; the server stays authoritative.
const schema = `
CREATE TABLE IF NOT EXISTS cached_messages (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	sender_type TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	attachments TEXT NOT NULL DEFAULT '',
	message_type TEXT NOT NULL DEFAULT 'text',
	status TEXT NOT NULL DEFAULT 'sent',
	created_at TIMESTAMP NOT NULL,
	read_at TIMESTAMP,
	cached_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cached_messages_room_created
	ON cached_messages (room_id, created_at);
`

const (
	upsertMessageQuery = `
		INSERT INTO cached_messages (
			id, room_id, sender_id, sender_type, body, attachments,
			message_type, status, created_at, read_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			attachments = excluded.attachments,
			message_type = excluded.message_type,
			status = excluded.status,
			read_at = excluded.read_at
	`

	selectMessagesBeforeQuery = `
		SELECT id, room_id, sender_id, sender_type, body, attachments,
		       message_type, status, created_at, read_at
		FROM cached_messages
		WHERE room_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	updateStatusQuery = `
		UPDATE cached_messages
		SET status = ?, read_at = COALESCE(?, read_at)
		WHERE id = ?
	`

	deleteOlderThanQuery = `
		DELETE FROM cached_messages
		WHERE created_at < ?
	`
)
