package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvent is one websocket frame.
type streamEvent struct {
	Type     string            `json:"type"`
	Snapshot *api.SnapshotView `json:"snapshot,omitempty"`
}

// stream pushes a snapshot on connect and after every change. Frames from
// the client are ignored; reading only detects the close.
func (s *Server) stream(c *gin.Context) {
	_, span := otel.Tracer("chatsync/gateway").Start(c.Request.Context(), "ws.handshake")
	span.SetAttributes(attribute.String("remote", c.ClientIP()))
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	span.End()
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.IncWSActive()
	defer metrics.DecWSActive()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	latest := s.engine.Watch(ctx)
	first := s.engine.Snapshot()
	if err := s.write(conn, first); err != nil {
		return
	}
	sent := first.Version
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-latest:
			if snap.Version <= sent {
				continue
			}
			if err := s.write(conn, snap); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
			sent = snap.Version
		}
	}
}

func (s *Server) write(conn *websocket.Conn, snap engine.Snapshot) error {
	view := api.NewSnapshotView(snap)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(streamEvent{Type: "snapshot", Snapshot: &view})
}
