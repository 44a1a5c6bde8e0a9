package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/outbox"
)

// State is everything the engine restores at startup.
type State struct {
	Users          []StoredUser
	Conversations  []chat.Conversation
	Outbox         []outbox.Entry
	HighWaterMarks map[string]int64
	Statuses       []chat.StatusUpdate
	Calls          []chat.Call
}

// LoadState reads the persisted session state.
func (db *DB) LoadState(now time.Time) (*State, error) {
	var (
		st  State
		err error
	)
	if st.Users, err = db.ListUsers(); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if st.Conversations, err = db.ListConversations(); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if st.Outbox, err = db.ListOutbox(); err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	if st.HighWaterMarks, err = db.HighWaterMarks(); err != nil {
		return nil, fmt.Errorf("load high-water marks: %w", err)
	}
	if st.Statuses, err = db.ListStatuses(now); err != nil {
		return nil, fmt.Errorf("load statuses: %w", err)
	}
	if st.Calls, err = db.ListCalls(0); err != nil {
		return nil, fmt.Errorf("load calls: %w", err)
	}
	return &st, nil
}
