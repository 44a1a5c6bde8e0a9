package store

import (
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/outbox"
)

// SaveOutboxEntry inserts or updates an outbox entry. The message itself
// lives in pending_messages.
func (db *DB) SaveOutboxEntry(e outbox.Entry) error {
	_, err := db.Exec(`
		INSERT INTO outbox (message_id, conversation_id, ord, enqueued_at, attempts, next_retry_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			attempts = excluded.attempts,
			next_retry_at = excluded.next_retry_at,
			last_error = excluded.last_error`,
		e.Message.ID, e.Message.ConversationID, e.Order, millis(e.EnqueuedAt), e.Attempts, millis(e.NextRetryAt), e.LastError)
	return err
}

// DeleteOutboxEntry removes an entry once its message is sent or failed.
func (db *DB) DeleteOutboxEntry(messageID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE message_id = ?`, messageID)
	return err
}

// ListOutbox returns entries in global enqueue order joined with their
// pending messages. Entries whose message is gone are skipped.
func (db *DB) ListOutbox() ([]outbox.Entry, error) {
	rows, err := db.Query(`
		SELECT o.ord, o.enqueued_at, o.attempts, o.next_retry_at, o.last_error,
			p.conversation_id, p.local_id, p.sender_id, p.content, p.media_ref, p.reply_to, p.type, p.status, p.created_at
		FROM outbox o
		JOIN pending_messages p ON p.local_id = o.message_id AND p.conversation_id = o.conversation_id
		ORDER BY o.ord ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []outbox.Entry
	for rows.Next() {
		var (
			e                            outbox.Entry
			m                            chat.Message
			enqueued, nextRetry, created int64
			typ, status                  string
		)
		if err := rows.Scan(&e.Order, &enqueued, &e.Attempts, &nextRetry, &e.LastError,
			&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &m.MediaRef, &m.ReplyTo, &typ, &status, &created); err != nil {
			return nil, err
		}
		m.Ref = chat.Pending()
		m.Type = chat.MessageType(typ)
		m.Status = chat.Status(status)
		m.CreatedAt = fromMillis(created)
		e.Message = m
		e.EnqueuedAt = fromMillis(enqueued)
		e.NextRetryAt = fromMillis(nextRetry)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
