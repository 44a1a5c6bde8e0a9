package gateway

import (
	"context"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/stretchr/testify/mock"
)

type engineMock struct {
	mock.Mock
	watch chan engine.Snapshot
}

func (m *engineMock) Self() string { return "alice" }

func (m *engineMock) Snapshot() engine.Snapshot {
	return m.Called().Get(0).(engine.Snapshot)
}

func (m *engineMock) Watch(context.Context) <-chan engine.Snapshot { return m.watch }

func (m *engineMock) HighWaterMark(id string) int64 {
	return m.Called(id).Get(0).(int64)
}

func (m *engineMock) Outbox() []outbox.Entry {
	return m.Called().Get(0).([]outbox.Entry)
}

func (m *engineMock) SelectConversation(id string) error { return m.Called(id).Error(0) }

func (m *engineMock) SetSearchTerm(term string) { m.Called(term) }

func (m *engineMock) Conversation(id string) (chat.Conversation, error) {
	args := m.Called(id)
	return args.Get(0).(chat.Conversation), args.Error(1)
}

func (m *engineMock) Title(c chat.Conversation) string { return c.Name }

func (m *engineMock) CreateGroup(name string, ids []string) (chat.Conversation, error) {
	args := m.Called(name, ids)
	return args.Get(0).(chat.Conversation), args.Error(1)
}

func (m *engineMock) CreateDirect(peer string) (chat.Conversation, error) {
	args := m.Called(peer)
	return args.Get(0).(chat.Conversation), args.Error(1)
}

func (m *engineMock) AddParticipant(conv, user string) error { return m.Called(conv, user).Error(0) }

func (m *engineMock) RemoveParticipant(conv, user string) error { return m.Called(conv, user).Error(0) }

func (m *engineMock) MarkRead(conv string, upto int64) (int, error) {
	args := m.Called(conv, upto)
	return args.Int(0), args.Error(1)
}

func (m *engineMock) Send(d chat.Draft) (string, error) {
	args := m.Called(d)
	return args.String(0), args.Error(1)
}

func (m *engineMock) SendTo(conv string, d chat.Draft) (string, error) {
	args := m.Called(conv, d)
	return args.String(0), args.Error(1)
}

func (m *engineMock) Message(id string) (chat.Message, error) {
	args := m.Called(id)
	return args.Get(0).(chat.Message), args.Error(1)
}

func (m *engineMock) Resend(id string) error { return m.Called(id).Error(0) }

func (m *engineMock) Cancel(id string) error { return m.Called(id).Error(0) }

func (m *engineMock) SearchMessages(term, conv string, limit int) []chat.Message {
	return m.Called(term, conv, limit).Get(0).([]chat.Message)
}

func (m *engineMock) SetPresence(p chat.Presence) error { return m.Called(p).Error(0) }

func (m *engineMock) PostStatus(content, media string) (chat.StatusUpdate, error) {
	args := m.Called(content, media)
	return args.Get(0).(chat.StatusUpdate), args.Error(1)
}

func (m *engineMock) ViewStatus(id string) error { return m.Called(id).Error(0) }

func (m *engineMock) StartCall(conv string, kind chat.CallKind) (chat.Call, error) {
	args := m.Called(conv, kind)
	return args.Get(0).(chat.Call), args.Error(1)
}

func (m *engineMock) EndCall(id string, answered bool) (chat.Call, error) {
	args := m.Called(id, answered)
	return args.Get(0).(chat.Call), args.Error(1)
}
