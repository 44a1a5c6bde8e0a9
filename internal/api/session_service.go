package api

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"google.golang.org/grpc"
)

// SessionService reports daemon status and owns the local user's presence.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	engine      Engine
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, e Engine) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		engine:      e,
	}
}

// Register adds the service to a gRPC server.
func (s *SessionService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&grpc.ServiceDesc{
		ServiceName: SessionServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unary(SessionServiceName, "GetSessionStatus", s.GetSessionStatus),
			unary(SessionServiceName, "SetPresence", s.SetPresence),
		},
	}, s)
}

func (s *SessionService) GetSessionStatus(_ context.Context, _ *empty) (any, error) {
	snap := s.engine.Snapshot()
	resp := SessionStatus{
		Session:     s.sessionName,
		UserID:      s.engine.Self(),
		Link:        string(snap.Link),
		UptimeMs:    time.Since(s.startedAt).Milliseconds(),
		OutboxDepth: snap.OutboxDepth,
	}
	// Counts follow the current search term, like the list itself.
	for _, c := range snap.Conversations {
		resp.ConversationCount++
		resp.UnreadCount += c.UnreadCount
	}
	return resp, nil
}

func (s *SessionService) SetPresence(_ context.Context, req *PresenceRequest) (any, error) {
	p := chat.Presence(req.Presence)
	if !p.Valid() {
		return nil, fmt.Errorf("%w: presence %q", ErrInvalidArgument, req.Presence)
	}
	if err := s.engine.SetPresence(p); err != nil {
		return nil, err
	}
	return NewUserView(s.engine.Snapshot().Self), nil
}
