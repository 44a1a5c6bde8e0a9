package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// SaveStatus upserts a status update and its viewers.
func (db *DB) SaveStatus(s chat.StatusUpdate) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO statuses (id, user_id, content, media_ref, posted_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			s.ID, s.UserID, s.Content, s.MediaRef, millis(s.PostedAt), millis(s.ExpiresAt)); err != nil {
			return fmt.Errorf("insert status: %w", err)
		}
		for _, viewer := range s.ViewedBy {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO status_views (status_id, user_id) VALUES (?, ?)`, s.ID, viewer); err != nil {
				return fmt.Errorf("insert status view: %w", err)
			}
		}
		return nil
	})
}

// DeleteStatus removes a status and its views.
func (db *DB) DeleteStatus(id string) error {
	_, err := db.Exec(`DELETE FROM statuses WHERE id = ?`, id)
	return err
}

// ListStatuses returns statuses that have not expired at now, newest first.
func (db *DB) ListStatuses(now time.Time) ([]chat.StatusUpdate, error) {
	rows, err := db.Query(`
		SELECT s.id, s.user_id, s.content, s.media_ref, s.posted_at, s.expires_at, COALESCE(v.user_id, '')
		FROM statuses s
		LEFT JOIN status_views v ON v.status_id = s.id
		WHERE s.expires_at > ?
		ORDER BY s.posted_at DESC, s.id, v.user_id`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.StatusUpdate
	for rows.Next() {
		var (
			s               chat.StatusUpdate
			posted, expires int64
			viewer          string
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.Content, &s.MediaRef, &posted, &expires, &viewer); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].ID == s.ID {
			if viewer != "" {
				out[n-1].ViewedBy = append(out[n-1].ViewedBy, viewer)
			}
			continue
		}
		s.PostedAt = fromMillis(posted)
		s.ExpiresAt = fromMillis(expires)
		if viewer != "" {
			s.ViewedBy = []string{viewer}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveCall upserts a call record and its participants.
func (db *DB) SaveCall(c chat.Call) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO calls (id, kind, state, started_at, ended_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				ended_at = excluded.ended_at,
				duration_ms = excluded.duration_ms`,
			c.ID, string(c.Kind), string(c.State), millis(c.StartedAt), millis(c.EndedAt), c.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("upsert call: %w", err)
		}
		for _, p := range c.Participants {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO call_participants (call_id, user_id) VALUES (?, ?)`, c.ID, p); err != nil {
				return fmt.Errorf("insert call participant: %w", err)
			}
		}
		return nil
	})
}

// ListCalls returns the most recent calls, newest first.
func (db *DB) ListCalls(limit int) ([]chat.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT c.id, c.kind, c.state, c.started_at, c.ended_at, c.duration_ms, COALESCE(p.user_id, '')
		FROM (SELECT * FROM calls ORDER BY started_at DESC LIMIT ?) c
		LEFT JOIN call_participants p ON p.call_id = c.id
		ORDER BY c.started_at DESC, c.id, p.user_id`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Call
	for rows.Next() {
		var (
			c                   chat.Call
			kind, state, member string
			started, ended, dur int64
		)
		if err := rows.Scan(&c.ID, &kind, &state, &started, &ended, &dur, &member); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].ID == c.ID {
			if member != "" {
				out[n-1].Participants = append(out[n-1].Participants, member)
			}
			continue
		}
		c.Kind = chat.CallKind(kind)
		c.State = chat.CallState(state)
		c.StartedAt = fromMillis(started)
		c.EndedAt = fromMillis(ended)
		c.Duration = time.Duration(dur) * time.Millisecond
		if member != "" {
			c.Participants = []string{member}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
