package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// SyncService reports sync progress and streams snapshots and bus events.
type SyncService struct {
	engine Engine
	bus    *bus.Bus
	logger *zap.Logger
}

// NewSyncService creates a new sync service.
func NewSyncService(e Engine, b *bus.Bus, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{engine: e, bus: b, logger: logger}
}

// Register adds the service to a gRPC server.
func (s *SyncService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&grpc.ServiceDesc{
		ServiceName: SyncServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unary(SyncServiceName, "GetSyncStatus", s.GetSyncStatus),
		},
		Streams: []grpc.StreamDesc{
			serverStream("WatchSnapshots", s.WatchSnapshots),
			serverStream("WatchEvents", s.WatchEvents),
		},
	}, s)
}

func (s *SyncService) GetSyncStatus(_ context.Context, _ *empty) (any, error) {
	snap := s.engine.Snapshot()
	resp := SyncStatus{
		Link:           string(snap.Link),
		OutboxDepth:    snap.OutboxDepth,
		HighWaterMarks: make(map[string]int64, len(snap.Conversations)),
	}
	for _, c := range snap.Conversations {
		resp.HighWaterMarks[c.ID] = s.engine.HighWaterMark(c.ID)
	}
	return resp, nil
}

// WatchSnapshots sends the current snapshot, then a new one after every
// change. A slow client skips intermediate versions.
func (s *SyncService) WatchSnapshots(_ *empty, stream grpc.ServerStream, send func(any) error) error {
	ctx := stream.Context()
	latest := s.engine.Watch(ctx)

	first := s.engine.Snapshot()
	if err := send(NewSnapshotView(first)); err != nil {
		return err
	}
	sent := first.Version
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-latest:
			if snap.Version <= sent {
				continue
			}
			if err := send(NewSnapshotView(snap)); err != nil {
				return err
			}
			sent = snap.Version
		}
	}
}

// WatchEvents streams bus events whose kind starts with the requested
// namespace.
func (s *SyncService) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStream, send func(any) error) error {
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if err := send(EventView{
				ID:             uuid.NewString(),
				Kind:           evt.Kind,
				ConversationID: evt.ConversationID,
				OccurredMs:     evt.Timestamp.UnixMilli(),
				Payload:        evt.Payload,
			}); err != nil {
				s.logger.Debug("event stream closed", zap.Error(err))
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
