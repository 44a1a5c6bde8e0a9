package api

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/chat"
	"google.golang.org/grpc"
)

// MessageService sends, inspects and searches messages.
type MessageService struct {
	engine Engine
}

// NewMessageService creates a new message service.
func NewMessageService(e Engine) *MessageService {
	return &MessageService{engine: e}
}

// Register adds the service to a gRPC server.
func (s *MessageService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&grpc.ServiceDesc{
		ServiceName: MessageServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unary(MessageServiceName, "SendMessage", s.SendMessage),
			unary(MessageServiceName, "GetMessage", s.GetMessage),
			unary(MessageServiceName, "ResendMessage", s.ResendMessage),
			unary(MessageServiceName, "CancelMessage", s.CancelMessage),
			unary(MessageServiceName, "SearchMessages", s.SearchMessages),
			unary(MessageServiceName, "ListOutbox", s.ListOutbox),
		},
	}, s)
}

func (s *MessageService) SendMessage(_ context.Context, req *SendRequest) (any, error) {
	d := chat.Draft{
		Content:  req.Content,
		Type:     chat.MessageType(req.Type),
		MediaRef: req.MediaRef,
		ReplyTo:  req.ReplyTo,
	}
	if d.Type != "" && !d.Type.Valid() {
		return nil, fmt.Errorf("%w: message type %q", ErrInvalidArgument, req.Type)
	}
	var (
		id  string
		err error
	)
	if req.ConversationID == "" {
		id, err = s.engine.Send(d)
	} else {
		id, err = s.engine.SendTo(req.ConversationID, d)
	}
	if err != nil {
		return nil, err
	}
	return s.message(id)
}

func (s *MessageService) GetMessage(_ context.Context, req *MessageRequest) (any, error) {
	return s.message(req.MessageID)
}

func (s *MessageService) ResendMessage(_ context.Context, req *MessageRequest) (any, error) {
	if err := s.engine.Resend(req.MessageID); err != nil {
		return nil, err
	}
	return s.message(req.MessageID)
}

func (s *MessageService) CancelMessage(_ context.Context, req *MessageRequest) (any, error) {
	return nil, s.engine.Cancel(req.MessageID)
}

func (s *MessageService) SearchMessages(_ context.Context, req *SearchRequest) (any, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	return MessageList{Messages: NewMessageViews(s.engine.SearchMessages(req.Query, req.ConversationID, limit))}, nil
}

func (s *MessageService) ListOutbox(_ context.Context, _ *empty) (any, error) {
	return OutboxList{Entries: NewOutboxViews(s.engine.Outbox())}, nil
}

func (s *MessageService) message(id string) (any, error) {
	m, err := s.engine.Message(id)
	if err != nil {
		return nil, err
	}
	return NewMessageView(m), nil
}
