package store

import (
	"database/sql"
	"fmt"
	"slices"

	"github.com/matheus3301/chatsync/internal/chat"
)

// SaveMessage writes m to the pending index or, once it has a seq, to the
// committed log, removing the pending row in the same transaction.
func (db *DB) SaveMessage(m *chat.Message) error {
	return db.withTx(func(tx *sql.Tx) error {
		seq, committed := m.Ref.Seq()
		if !committed {
			_, err := tx.Exec(`
				INSERT INTO pending_messages (conversation_id, local_id, sender_id, content, media_ref, reply_to, type, status, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(conversation_id, local_id) DO UPDATE SET
					status = excluded.status`,
				m.ConversationID, m.ID, m.SenderID, m.Content, m.MediaRef, m.ReplyTo, string(m.Type), string(m.Status), millis(m.CreatedAt))
			if err != nil {
				return fmt.Errorf("upsert pending message: %w", err)
			}
			return nil
		}

		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, seq, id, sender_id, content, media_ref, reply_to, type, status, created_at, ack_at, delivered_at, read_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, seq) DO UPDATE SET
				status = excluded.status,
				ack_at = excluded.ack_at,
				delivered_at = excluded.delivered_at,
				read_at = excluded.read_at`,
			m.ConversationID, seq, m.ID, m.SenderID, m.Content, m.MediaRef, m.ReplyTo, string(m.Type), string(m.Status),
			millis(m.CreatedAt), millis(m.AckAt), millis(m.DeliveredAt), millis(m.ReadAt)); err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM pending_messages WHERE conversation_id = ? AND local_id = ?`, m.ConversationID, m.ID); err != nil {
			return fmt.Errorf("drop pending message: %w", err)
		}
		for _, r := range []struct {
			kind  string
			users []string
		}{{"delivered", m.DeliveredTo}, {"read", m.ReadBy}} {
			for _, u := range r.users {
				if _, err := tx.Exec(`INSERT OR IGNORE INTO receipts (message_id, user_id, kind) VALUES (?, ?, ?)`, m.ID, u, r.kind); err != nil {
					return fmt.Errorf("insert receipt: %w", err)
				}
			}
		}
		return nil
	})
}

// DeleteMessage removes a pending message, used when a send is cancelled.
func (db *DB) DeleteMessage(conversationID, messageID string) error {
	_, err := db.Exec(`DELETE FROM pending_messages WHERE conversation_id = ? AND local_id = ?`, conversationID, messageID)
	return err
}

// ListMessages returns a conversation's log: committed messages by seq, then
// pending messages by creation time.
func (db *DB) ListMessages(conversationID string) ([]chat.Message, error) {
	msgs, err := db.committedMessages(conversationID)
	if err != nil {
		return nil, err
	}
	if err := db.attachReceipts(msgs); err != nil {
		return nil, err
	}
	pending, err := db.pendingMessages(conversationID)
	if err != nil {
		return nil, err
	}
	return append(msgs, pending...), nil
}

func (db *DB) committedMessages(conversationID string) ([]chat.Message, error) {
	rows, err := db.Query(`
		SELECT seq, id, sender_id, content, media_ref, reply_to, type, status, created_at, ack_at, delivered_at, read_at
		FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m                                 chat.Message
			seq                               int64
			typ, status                       string
			created, acked, delivered, readAt int64
		)
		if err := rows.Scan(&seq, &m.ID, &m.SenderID, &m.Content, &m.MediaRef, &m.ReplyTo, &typ, &status,
			&created, &acked, &delivered, &readAt); err != nil {
			return nil, err
		}
		m.ConversationID = conversationID
		m.Ref = chat.Committed(seq)
		m.Type = chat.MessageType(typ)
		m.Status = chat.Status(status)
		m.CreatedAt = fromMillis(created)
		m.AckAt = fromMillis(acked)
		m.DeliveredAt = fromMillis(delivered)
		m.ReadAt = fromMillis(readAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (db *DB) pendingMessages(conversationID string) ([]chat.Message, error) {
	rows, err := db.Query(`
		SELECT local_id, sender_id, content, media_ref, reply_to, type, status, created_at
		FROM pending_messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m           chat.Message
			typ, status string
			created     int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.MediaRef, &m.ReplyTo, &typ, &status, &created); err != nil {
			return nil, err
		}
		m.ConversationID = conversationID
		m.Ref = chat.Pending()
		m.Type = chat.MessageType(typ)
		m.Status = chat.Status(status)
		m.CreatedAt = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// attachReceipts fills DeliveredTo and ReadBy from the receipts table.
func (db *DB) attachReceipts(msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		index[m.ID] = i
	}
	rows, err := db.Query(`
		SELECT r.message_id, r.user_id, r.kind FROM receipts r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = ?
		ORDER BY r.user_id`, msgs[0].ConversationID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var msgID, userID, kind string
		if err := rows.Scan(&msgID, &userID, &kind); err != nil {
			return err
		}
		i, ok := index[msgID]
		if !ok {
			continue
		}
		if kind == "read" {
			msgs[i].ReadBy = append(msgs[i].ReadBy, userID)
		} else {
			msgs[i].DeliveredTo = append(msgs[i].DeliveredTo, userID)
		}
	}
	for i := range msgs {
		slices.Sort(msgs[i].DeliveredTo)
		slices.Sort(msgs[i].ReadBy)
	}
	return rows.Err()
}
