package store

import "github.com/matheus3301/chatsync/internal/chat"

// StoredUser is a user row together with its last applied presence sequence.
type StoredUser struct {
	User        chat.User
	PresenceSeq uint64
}

// SaveUser inserts or updates a user.
func (db *DB) SaveUser(u chat.User, presenceSeq uint64) error {
	_, err := db.Exec(`
		INSERT INTO users (id, display_name, avatar_ref, presence, last_seen_at, presence_seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_ref = excluded.avatar_ref,
			presence = excluded.presence,
			last_seen_at = MAX(users.last_seen_at, excluded.last_seen_at),
			presence_seq = MAX(users.presence_seq, excluded.presence_seq)`,
		u.ID, u.DisplayName, u.AvatarRef, string(u.Presence), millis(u.LastSeenAt), presenceSeq)
	return err
}

// ListUsers returns every stored user ordered by display name.
func (db *DB) ListUsers() ([]StoredUser, error) {
	rows, err := db.Query(`
		SELECT id, display_name, avatar_ref, presence, last_seen_at, presence_seq
		FROM users ORDER BY display_name, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []StoredUser
	for rows.Next() {
		var (
			su       StoredUser
			presence string
			lastSeen int64
		)
		if err := rows.Scan(&su.User.ID, &su.User.DisplayName, &su.User.AvatarRef, &presence, &lastSeen, &su.PresenceSeq); err != nil {
			return nil, err
		}
		su.User.Presence = chat.Presence(presence)
		su.User.LastSeenAt = fromMillis(lastSeen)
		users = append(users, su)
	}
	return users, rows.Err()
}
