package store

import (
	"database/sql"
	"errors"
	"time"
)

// SaveHighWaterMark records the highest applied seq of a conversation. The
// stored mark never moves backwards.
func (db *DB) SaveHighWaterMark(conversationID string, seq int64) error {
	_, err := db.Exec(`
		INSERT INTO high_water_marks (conversation_id, seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			seq = MAX(high_water_marks.seq, excluded.seq),
			updated_at = excluded.updated_at`,
		conversationID, seq, time.Now().UnixMilli())
	return err
}

// HighWaterMarks returns all stored marks keyed by conversation id.
func (db *DB) HighWaterMarks() (map[string]int64, error) {
	rows, err := db.Query(`SELECT conversation_id, seq FROM high_water_marks`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	marks := make(map[string]int64)
	for rows.Next() {
		var (
			id  string
			seq int64
		)
		if err := rows.Scan(&id, &seq); err != nil {
			return nil, err
		}
		marks[id] = seq
	}
	return marks, rows.Err()
}

// SetCheckpoint stores an opaque sync value such as a transport cursor.
func (db *DB) SetCheckpoint(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Checkpoint returns a stored sync value, or "" when absent.
func (db *DB) Checkpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
