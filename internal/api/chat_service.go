package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// ChatService lists and manages conversations.
type ChatService struct {
	engine Engine
}

// NewChatService creates a new chat service.
func NewChatService(e Engine) *ChatService {
	return &ChatService{engine: e}
}

// Register adds the service to a gRPC server.
func (s *ChatService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&grpc.ServiceDesc{
		ServiceName: ChatServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unary(ChatServiceName, "ListConversations", s.ListConversations),
			unary(ChatServiceName, "GetConversation", s.GetConversation),
			unary(ChatServiceName, "SelectConversation", s.SelectConversation),
			unary(ChatServiceName, "CreateGroup", s.CreateGroup),
			unary(ChatServiceName, "CreateDirect", s.CreateDirect),
			unary(ChatServiceName, "AddParticipant", s.AddParticipant),
			unary(ChatServiceName, "RemoveParticipant", s.RemoveParticipant),
			unary(ChatServiceName, "MarkRead", s.MarkRead),
			unary(ChatServiceName, "SetSearchTerm", s.SetSearchTerm),
		},
	}, s)
}

func (s *ChatService) ListConversations(_ context.Context, _ *empty) (any, error) {
	snap := s.engine.Snapshot()
	resp := ConversationList{Conversations: make([]ConversationView, 0, len(snap.Conversations))}
	for _, c := range snap.Conversations {
		resp.Conversations = append(resp.Conversations, newRowView(c))
	}
	return resp, nil
}

func (s *ChatService) GetConversation(_ context.Context, req *ConversationRequest) (any, error) {
	c, err := s.engine.Conversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	return NewConversationView(c, s.engine.Title(c)), nil
}

func (s *ChatService) SelectConversation(_ context.Context, req *ConversationRequest) (any, error) {
	return nil, s.engine.SelectConversation(req.ConversationID)
}

func (s *ChatService) CreateGroup(_ context.Context, req *CreateGroupRequest) (any, error) {
	c, err := s.engine.CreateGroup(req.Name, req.Participants)
	if err != nil {
		return nil, err
	}
	return NewConversationView(c, s.engine.Title(c)), nil
}

func (s *ChatService) CreateDirect(_ context.Context, req *CreateDirectRequest) (any, error) {
	if req.PeerID == "" {
		return nil, fmt.Errorf("%w: peer_id is required", ErrInvalidArgument)
	}
	c, err := s.engine.CreateDirect(req.PeerID)
	if err != nil {
		return nil, err
	}
	return NewConversationView(c, s.engine.Title(c)), nil
}

func (s *ChatService) AddParticipant(_ context.Context, req *ParticipantRequest) (any, error) {
	return nil, s.engine.AddParticipant(req.ConversationID, req.UserID)
}

func (s *ChatService) RemoveParticipant(_ context.Context, req *ParticipantRequest) (any, error) {
	return nil, s.engine.RemoveParticipant(req.ConversationID, req.UserID)
}

func (s *ChatService) MarkRead(_ context.Context, req *MarkReadRequest) (any, error) {
	n, err := s.engine.MarkRead(req.ConversationID, req.UptoSeq)
	if err != nil {
		return nil, err
	}
	return MarkReadResponse{Changed: n}, nil
}

func (s *ChatService) SetSearchTerm(_ context.Context, req *SearchTermRequest) (any, error) {
	s.engine.SetSearchTerm(req.Term)
	return nil, nil
}
