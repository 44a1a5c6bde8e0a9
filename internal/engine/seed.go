package engine

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/chatsync/internal/chat"
)

// Seed is initial data loaded into an empty session: known users and
// conversations with an already sequenced history.
type Seed struct {
	Users         []SeedUser         `toml:"users"`
	Conversations []SeedConversation `toml:"conversations"`
}

// SeedUser is one user entry of a seed file.
type SeedUser struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	AvatarRef   string `toml:"avatar_ref"`
	Presence    string `toml:"presence"`
}

// SeedConversation is one conversation entry of a seed file. Messages get
// sequences 1..n in file order.
type SeedConversation struct {
	ID           string        `toml:"id"`
	Kind         string        `toml:"kind"`
	Name         string        `toml:"name"`
	Participants []string      `toml:"participants"`
	Messages     []SeedMessage `toml:"messages"`
}

// SeedMessage is one message of a seeded conversation.
type SeedMessage struct {
	ID       string    `toml:"id"`
	SenderID string    `toml:"sender_id"`
	Content  string    `toml:"content"`
	Type     string    `toml:"type"`
	MediaRef string    `toml:"media_ref"`
	SentAt   time.Time `toml:"sent_at"`
}

// LoadSeed decodes a TOML seed file.
func LoadSeed(path string) (*Seed, error) {
	var s Seed
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return &s, nil
}

// Build converts the seed into domain values. Messages without a timestamp
// are spaced one minute apart ending at now.
func (s *Seed) Build(now time.Time) ([]chat.User, []chat.Conversation, error) {
	users := make([]chat.User, 0, len(s.Users))
	for _, u := range s.Users {
		if u.ID == "" {
			return nil, nil, fmt.Errorf("seed user without id")
		}
		p := chat.Presence(u.Presence)
		if !p.Valid() {
			p = chat.Offline
		}
		name := u.DisplayName
		if name == "" {
			name = u.ID
		}
		users = append(users, chat.User{ID: u.ID, DisplayName: name, AvatarRef: u.AvatarRef, Presence: p})
	}

	convs := make([]chat.Conversation, 0, len(s.Conversations))
	for _, sc := range s.Conversations {
		if sc.ID == "" {
			return nil, nil, fmt.Errorf("seed conversation without id")
		}
		kind := chat.ConversationKind(sc.Kind)
		if kind != chat.Direct {
			kind = chat.Group
		}
		c := chat.Conversation{
			ID:           sc.ID,
			Kind:         kind,
			Name:         sc.Name,
			Participants: sc.Participants,
			CreatedAt:    now.Add(-time.Duration(len(sc.Messages)+1) * time.Minute),
		}
		for i, sm := range sc.Messages {
			at := sm.SentAt
			if at.IsZero() {
				at = now.Add(-time.Duration(len(sc.Messages)-i) * time.Minute)
			}
			typ := chat.MessageType(sm.Type)
			if !typ.Valid() {
				typ = chat.Text
			}
			id := sm.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", sc.ID, i+1)
			}
			c.Messages = append(c.Messages, chat.Message{
				ID:             id,
				Ref:            chat.Committed(int64(i + 1)),
				ConversationID: sc.ID,
				SenderID:       sm.SenderID,
				Content:        sm.Content,
				MediaRef:       sm.MediaRef,
				Type:           typ,
				CreatedAt:      at,
				AckAt:          at,
			})
		}
		c.UpdatedAt = c.CreatedAt
		if last := c.Last(); last != nil {
			c.UpdatedAt = last.CreatedAt
		}
		convs = append(convs, c)
	}
	return users, convs, nil
}
