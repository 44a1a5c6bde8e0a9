package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the daemon services over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket. The connection is established lazily.
func Dial(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient("unix://"+socketPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, service, method string, req, resp any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return decode(out, resp)
}

// Stream is a server stream of T values.
type Stream[T any] struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// Recv blocks for the next value.
func (s *Stream[T]) Recv() (T, error) {
	var v T
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return v, err
	}
	err := decode(out, &v)
	return v, err
}

// Close ends the stream.
func (s *Stream[T]) Close() { s.cancel() }

func openStream[T any](ctx context.Context, c *Client, service, method string, req any) (*Stream[T], error) {
	in, err := encode(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	cs, err := c.conn.NewStream(ctx, desc, "/"+service+"/"+method)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cs.SendMsg(in); err != nil {
		cancel()
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, err
	}
	return &Stream[T]{stream: cs, cancel: cancel}, nil
}

func (c *Client) SessionStatus(ctx context.Context) (SessionStatus, error) {
	var resp SessionStatus
	err := c.invoke(ctx, SessionServiceName, "GetSessionStatus", empty{}, &resp)
	return resp, err
}

func (c *Client) SetPresence(ctx context.Context, presence string) (UserView, error) {
	var resp UserView
	err := c.invoke(ctx, SessionServiceName, "SetPresence", PresenceRequest{Presence: presence}, &resp)
	return resp, err
}

func (c *Client) ListConversations(ctx context.Context) ([]ConversationView, error) {
	var resp ConversationList
	err := c.invoke(ctx, ChatServiceName, "ListConversations", empty{}, &resp)
	return resp.Conversations, err
}

func (c *Client) GetConversation(ctx context.Context, id string) (ConversationView, error) {
	var resp ConversationView
	err := c.invoke(ctx, ChatServiceName, "GetConversation", ConversationRequest{ConversationID: id}, &resp)
	return resp, err
}

func (c *Client) SelectConversation(ctx context.Context, id string) error {
	return c.invoke(ctx, ChatServiceName, "SelectConversation", ConversationRequest{ConversationID: id}, nil)
}

func (c *Client) CreateGroup(ctx context.Context, name string, participants []string) (ConversationView, error) {
	var resp ConversationView
	err := c.invoke(ctx, ChatServiceName, "CreateGroup", CreateGroupRequest{Name: name, Participants: participants}, &resp)
	return resp, err
}

func (c *Client) CreateDirect(ctx context.Context, peerID string) (ConversationView, error) {
	var resp ConversationView
	err := c.invoke(ctx, ChatServiceName, "CreateDirect", CreateDirectRequest{PeerID: peerID}, &resp)
	return resp, err
}

func (c *Client) AddParticipant(ctx context.Context, conversationID, userID string) error {
	return c.invoke(ctx, ChatServiceName, "AddParticipant", ParticipantRequest{ConversationID: conversationID, UserID: userID}, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	return c.invoke(ctx, ChatServiceName, "RemoveParticipant", ParticipantRequest{ConversationID: conversationID, UserID: userID}, nil)
}

func (c *Client) MarkRead(ctx context.Context, conversationID string, uptoSeq int64) (int, error) {
	var resp MarkReadResponse
	err := c.invoke(ctx, ChatServiceName, "MarkRead", MarkReadRequest{ConversationID: conversationID, UptoSeq: uptoSeq}, &resp)
	return resp.Changed, err
}

func (c *Client) SetSearchTerm(ctx context.Context, term string) error {
	return c.invoke(ctx, ChatServiceName, "SetSearchTerm", SearchTermRequest{Term: term}, nil)
}

func (c *Client) Send(ctx context.Context, req SendRequest) (MessageView, error) {
	var resp MessageView
	err := c.invoke(ctx, MessageServiceName, "SendMessage", req, &resp)
	return resp, err
}

func (c *Client) GetMessage(ctx context.Context, id string) (MessageView, error) {
	var resp MessageView
	err := c.invoke(ctx, MessageServiceName, "GetMessage", MessageRequest{MessageID: id}, &resp)
	return resp, err
}

func (c *Client) Resend(ctx context.Context, id string) (MessageView, error) {
	var resp MessageView
	err := c.invoke(ctx, MessageServiceName, "ResendMessage", MessageRequest{MessageID: id}, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.invoke(ctx, MessageServiceName, "CancelMessage", MessageRequest{MessageID: id}, nil)
}

func (c *Client) Search(ctx context.Context, req SearchRequest) ([]MessageView, error) {
	var resp MessageList
	err := c.invoke(ctx, MessageServiceName, "SearchMessages", req, &resp)
	return resp.Messages, err
}

func (c *Client) Outbox(ctx context.Context) ([]OutboxEntryView, error) {
	var resp OutboxList
	err := c.invoke(ctx, MessageServiceName, "ListOutbox", empty{}, &resp)
	return resp.Entries, err
}

func (c *Client) SyncStatus(ctx context.Context) (SyncStatus, error) {
	var resp SyncStatus
	err := c.invoke(ctx, SyncServiceName, "GetSyncStatus", empty{}, &resp)
	return resp, err
}

// WatchSnapshots streams snapshots until ctx ends or the stream is closed.
func (c *Client) WatchSnapshots(ctx context.Context) (*Stream[SnapshotView], error) {
	return openStream[SnapshotView](ctx, c, SyncServiceName, "WatchSnapshots", empty{})
}

// WatchEvents streams bus events of a namespace ("" for all).
func (c *Client) WatchEvents(ctx context.Context, namespace string) (*Stream[EventView], error) {
	return openStream[EventView](ctx, c, SyncServiceName, "WatchEvents", WatchEventsRequest{Namespace: namespace})
}

func (c *Client) Statuses(ctx context.Context) ([]StatusView, error) {
	var resp StatusList
	err := c.invoke(ctx, ActivityServiceName, "ListStatuses", empty{}, &resp)
	return resp.Statuses, err
}

func (c *Client) PostStatus(ctx context.Context, content, mediaRef string) (StatusView, error) {
	var resp StatusView
	err := c.invoke(ctx, ActivityServiceName, "PostStatus", PostStatusRequest{Content: content, MediaRef: mediaRef}, &resp)
	return resp, err
}

func (c *Client) ViewStatus(ctx context.Context, id string) error {
	return c.invoke(ctx, ActivityServiceName, "ViewStatus", StatusRequest{StatusID: id}, nil)
}

func (c *Client) Calls(ctx context.Context) ([]CallView, error) {
	var resp CallList
	err := c.invoke(ctx, ActivityServiceName, "ListCalls", empty{}, &resp)
	return resp.Calls, err
}

func (c *Client) StartCall(ctx context.Context, conversationID, kind string) (CallView, error) {
	var resp CallView
	err := c.invoke(ctx, ActivityServiceName, "StartCall", StartCallRequest{ConversationID: conversationID, Kind: kind}, &resp)
	return resp, err
}

func (c *Client) EndCall(ctx context.Context, callID string, answered bool) (CallView, error) {
	var resp CallView
	err := c.invoke(ctx, ActivityServiceName, "EndCall", EndCallRequest{CallID: callID, Answered: answered}, &resp)
	return resp, err
}
