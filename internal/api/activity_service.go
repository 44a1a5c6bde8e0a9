package api

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/chat"
	"google.golang.org/grpc"
)

// ActivityService serves status broadcasts and call records.
type ActivityService struct {
	engine Engine
}

// NewActivityService creates a new activity service.
func NewActivityService(e Engine) *ActivityService {
	return &ActivityService{engine: e}
}

// Register adds the service to a gRPC server.
func (s *ActivityService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&grpc.ServiceDesc{
		ServiceName: ActivityServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unary(ActivityServiceName, "ListStatuses", s.ListStatuses),
			unary(ActivityServiceName, "PostStatus", s.PostStatus),
			unary(ActivityServiceName, "ViewStatus", s.ViewStatus),
			unary(ActivityServiceName, "ListCalls", s.ListCalls),
			unary(ActivityServiceName, "StartCall", s.StartCall),
			unary(ActivityServiceName, "EndCall", s.EndCall),
		},
	}, s)
}

func (s *ActivityService) ListStatuses(_ context.Context, _ *empty) (any, error) {
	statuses := s.engine.Snapshot().Statuses
	resp := StatusList{Statuses: make([]StatusView, 0, len(statuses))}
	for _, st := range statuses {
		resp.Statuses = append(resp.Statuses, NewStatusView(st))
	}
	return resp, nil
}

func (s *ActivityService) PostStatus(_ context.Context, req *PostStatusRequest) (any, error) {
	st, err := s.engine.PostStatus(req.Content, req.MediaRef)
	if err != nil {
		return nil, err
	}
	return NewStatusView(st), nil
}

func (s *ActivityService) ViewStatus(_ context.Context, req *StatusRequest) (any, error) {
	return nil, s.engine.ViewStatus(req.StatusID)
}

func (s *ActivityService) ListCalls(_ context.Context, _ *empty) (any, error) {
	calls := s.engine.Snapshot().Calls
	resp := CallList{Calls: make([]CallView, 0, len(calls))}
	for _, c := range calls {
		resp.Calls = append(resp.Calls, NewCallView(c))
	}
	return resp, nil
}

func (s *ActivityService) StartCall(_ context.Context, req *StartCallRequest) (any, error) {
	kind := chat.CallKind(req.Kind)
	if kind == "" {
		kind = chat.AudioCall
	}
	if kind != chat.AudioCall && kind != chat.VideoCall {
		return nil, fmt.Errorf("%w: call kind %q", ErrInvalidArgument, req.Kind)
	}
	c, err := s.engine.StartCall(req.ConversationID, kind)
	if err != nil {
		return nil, err
	}
	return NewCallView(c), nil
}

func (s *ActivityService) EndCall(_ context.Context, req *EndCallRequest) (any, error) {
	c, err := s.engine.EndCall(req.CallID, req.Answered)
	if err != nil {
		return nil, err
	}
	return NewCallView(c), nil
}
