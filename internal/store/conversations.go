package store

import (
	"database/sql"
	"fmt"
	"slices"

	"github.com/matheus3301/chatsync/internal/chat"
)

// SaveConversation upserts a conversation header and replaces its roster.
func (db *DB) SaveConversation(c *chat.Conversation) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, kind, name, avatar_ref, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				avatar_ref = excluded.avatar_ref,
				updated_at = MAX(conversations.updated_at, excluded.updated_at)`,
			c.ID, string(c.Kind), c.Name, c.AvatarRef, millis(c.CreatedAt), millis(c.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM participants WHERE conversation_id = ?`, c.ID); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		for _, id := range c.Participants {
			if _, err := tx.Exec(`INSERT INTO participants (conversation_id, user_id) VALUES (?, ?)`, c.ID, id); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
}

// ListConversations loads every conversation with its roster and full log.
// Committed messages come first by seq, then pending ones by creation time.
func (db *DB) ListConversations() ([]chat.Conversation, error) {
	rows, err := db.Query(`
		SELECT id, kind, name, avatar_ref, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	var convs []chat.Conversation
	for rows.Next() {
		var (
			c                chat.Conversation
			kind             string
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &kind, &c.Name, &c.AvatarRef, &created, &updated); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.Kind = chat.ConversationKind(kind)
		c.CreatedAt = fromMillis(created)
		c.UpdatedAt = fromMillis(updated)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range convs {
		c := &convs[i]
		if c.Participants, err = db.participants(c.ID); err != nil {
			return nil, fmt.Errorf("participants of %s: %w", c.ID, err)
		}
		if c.Messages, err = db.ListMessages(c.ID); err != nil {
			return nil, fmt.Errorf("messages of %s: %w", c.ID, err)
		}
		if last := c.Last(); last != nil {
			c.LastMessage = last.ID
		}
	}
	return convs, nil
}

func (db *DB) participants(conversationID string) ([]string, error) {
	rows, err := db.Query(`SELECT user_id FROM participants WHERE conversation_id = ? ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, rows.Err()
}
